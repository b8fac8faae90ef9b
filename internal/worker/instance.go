// Package worker runs one upstream account: its tier queues and gates, the
// consumer loop draining them and the lifecycle of every task it executes.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/metrics"
	"github.com/bnema/drawq/internal/ports"
	"github.com/bnema/drawq/internal/quota"
	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
)

type Instance struct {
	id       domain.AccountID
	cfg      Config
	tasks    ports.TaskRepository
	quota    *quota.Tracker
	adapter  ports.ProtocolAdapter
	notifier ports.Notifier
	accounts AccountDisabler
	probe    ports.ConnectivityProbe
	locker   ports.Locker
	clock    ports.Clock
	logger   logr.Logger

	// account is swapped as a whole; readers load it once per decision.
	account atomic.Pointer[domain.Account]
	swapMu  sync.Mutex

	queues map[domain.Tier]ports.Queue
	gates  map[domain.Tier]ports.Gate
	global ports.Gate

	wake     chan struct{}
	running  *registry
	seeds    *waiters
	seedSem  *semaphore.Weighted
	inflight sync.WaitGroup
	closed   atomic.Bool
}

func New(account domain.Account, cfg Config, deps Deps) (*Instance, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("build instance %s: %w", account.ID, err)
	}
	account.Normalize()
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("build instance %s: %w", account.ID, err)
	}
	cfg.applyDefaults()

	inst := &Instance{
		id:       account.ID,
		cfg:      cfg,
		tasks:    deps.Tasks,
		quota:    deps.Quota,
		adapter:  deps.Adapter,
		notifier: deps.Notifier,
		accounts: deps.Accounts,
		probe:    deps.Probe,
		locker:   deps.Backend.Locker(),
		clock:    deps.Clock,
		logger:   deps.Logger.WithName("worker").WithValues("account", account.ID),
		queues:   make(map[domain.Tier]ports.Queue, len(domain.Tiers)),
		gates:    make(map[domain.Tier]ports.Gate, len(domain.Tiers)),
		wake:     make(chan struct{}, 1),
		running:  newRegistry(),
		seeds:    newWaiters(),
		seedSem:  semaphore.NewWeighted(int64(account.Policy.SeedParallelism)),
	}
	for _, tier := range domain.Tiers {
		inst.queues[tier] = deps.Backend.Queue(account.ID, tier)
		inst.gates[tier] = deps.Backend.Gate(account.ID, tier)
	}
	if cfg.GlobalConcurrency > 0 {
		inst.global = deps.Backend.GlobalGate()
	}
	inst.account.Store(&account)

	return inst, nil
}

func (i *Instance) ID() domain.AccountID {
	return i.id
}

// Account returns the current configuration version.
func (i *Instance) Account() domain.Account {
	return *i.account.Load()
}

// Reconfigure swaps in a newer configuration version. Versions not newer
// than the current one are ignored.
func (i *Instance) Reconfigure(account domain.Account) bool {
	if account.ID != i.id {
		return false
	}
	account.Normalize()

	i.swapMu.Lock()
	defer i.swapMu.Unlock()

	if account.Version <= i.account.Load().Version {
		return false
	}
	i.account.Store(&account)
	i.signal()
	return true
}

func (i *Instance) IsAlive() bool {
	if !i.Account().Enabled || i.closed.Load() {
		return false
	}
	return i.probe == nil || i.probe.Alive()
}

func (i *Instance) QueueDepth(ctx context.Context, tier domain.Tier) (int, error) {
	queue, ok := i.queues[tier]
	if !ok {
		return 0, fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, tier)
	}
	return queue.Count(ctx)
}

// Executing returns the number of outstanding gate tokens of a tier across
// every cooperating process.
func (i *Instance) Executing(ctx context.Context, tier domain.Tier) (int, error) {
	gate, ok := i.gates[tier]
	if !ok {
		return 0, fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, tier)
	}
	return gate.Count(ctx)
}

// FastRemaining is the cached fast-mode quota of the account; known is false
// until the upstream platform has reported one.
func (i *Instance) FastRemaining(ctx context.Context) (remaining int64, known bool, err error) {
	return i.quota.Remaining(ctx, i.id)
}

// RunningTasks returns the tasks this process is executing for the account.
func (i *Instance) RunningTasks() []domain.Task {
	return i.running.tasks()
}

// Enqueue places entry in the queue of its tier and wakes the consumer loop.
func (i *Instance) Enqueue(ctx context.Context, entry domain.QueueEntry) (int, error) {
	if i.closed.Load() {
		return 0, fmt.Errorf("%w: instance %s is closed", domain.ErrInstanceNotFound, i.id)
	}
	if entry.Task.Status.IsTerminal() {
		return 0, fmt.Errorf("%w: task %s is already %s", domain.ErrValidation, entry.Task.ID, entry.Task.Status)
	}
	if entry.TaskID == "" {
		entry.TaskID = entry.Task.ID
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = i.clock.Now()
	}

	policy := i.Account().Policy
	tier := domain.TierFor(entry.Function, entry.Task.Action, entry.Task.Mode)
	position, ok, err := i.queues[tier].Enqueue(ctx, entry, policy.Queue(tier), tier == domain.TierUpscale)
	if err != nil {
		return 0, fmt.Errorf("enqueue task %s: %w", entry.TaskID, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s queue of account %s is full", domain.ErrCapacity, tier.Label(), i.id)
	}

	metrics.SetQueueDepth(string(i.id), string(tier), position)
	i.signal()
	return position, nil
}

// ApplyUpdate delivers a pushed status update to the goroutine executing
// the task, or a seed to a waiting FetchSeed call. It reports whether
// anything in this instance consumed the update.
func (i *Instance) ApplyUpdate(update ports.StatusUpdate) bool {
	delivered := false
	if seed, ok := update.Properties[domain.PropSeed]; ok {
		delivered = i.seeds.deliver(update.TaskID, seed)
	}
	if exec := i.running.get(update.TaskID); exec != nil {
		exec.push(update)
		return true
	}
	return delivered
}

// Wait blocks until every detached execution has returned.
func (i *Instance) Wait() {
	i.inflight.Wait()
}

// Close stops accepting work and forgets this instance's running tasks.
func (i *Instance) Close() {
	i.closed.Store(true)
	i.running.clear()
	metrics.SetRunning(string(i.id), 0)
}

func (i *Instance) signal() {
	select {
	case i.wake <- struct{}{}:
	default:
	}
}
