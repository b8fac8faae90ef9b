package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
	"github.com/bnema/drawq/internal/metrics"
	"github.com/bnema/drawq/internal/ports"
	"github.com/bnema/drawq/internal/selection"
	"github.com/bnema/drawq/internal/worker"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

const DefaultSelectionBudget = 100 * time.Millisecond

// InstanceFactory builds the worker for an account that appeared in the
// account store.
type InstanceFactory func(account domain.Account) (*worker.Instance, error)

type DispatcherOptions struct {
	Rule            selection.Rule
	SelectionBudget time.Duration
	Tasks           ports.TaskRepository
	Factory         InstanceFactory
	Clock           ports.Clock
	Logger          logr.Logger
}

// Dispatcher owns the registered worker instances. It picks the instance a
// request lands on and is the producer entry point for enqueueing.
type Dispatcher struct {
	rule    selection.Rule
	budget  time.Duration
	tasks   ports.TaskRepository
	factory InstanceFactory
	clock   ports.Clock
	logger  logr.Logger

	mu        sync.RWMutex
	instances map[domain.AccountID]*registered
	// spawn starts a loop while Run is active; nil otherwise.
	spawn func(*registered)
}

type registered struct {
	instance *worker.Instance
	cancel   context.CancelFunc
}

func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Tasks == nil {
		return nil, errors.New("task repository is nil")
	}
	if opts.Rule == nil {
		opts.Rule = selection.NewUtilization()
	}
	if opts.SelectionBudget <= 0 {
		opts.SelectionBudget = DefaultSelectionBudget
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}

	return &Dispatcher{
		rule:      opts.Rule,
		budget:    opts.SelectionBudget,
		tasks:     opts.Tasks,
		factory:   opts.Factory,
		clock:     opts.Clock,
		logger:    opts.Logger.WithName("dispatcher"),
		instances: make(map[domain.AccountID]*registered),
	}, nil
}

func (d *Dispatcher) Register(instance *worker.Instance) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.instances[instance.ID()]; ok {
		return fmt.Errorf("%w: account %s is already registered", domain.ErrValidation, instance.ID())
	}
	entry := &registered{instance: instance}
	d.instances[instance.ID()] = entry
	if d.spawn != nil {
		d.spawn(entry)
	}
	return nil
}

// Remove stops the instance's loop and forgets it. Its queued entries stay in
// the shared queues.
func (d *Dispatcher) Remove(id domain.AccountID) bool {
	d.mu.Lock()
	entry, ok := d.instances[id]
	delete(d.instances, id)
	d.mu.Unlock()

	if !ok {
		return false
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	entry.instance.Close()
	return true
}

func (d *Dispatcher) Get(id domain.AccountID) (*worker.Instance, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}
	return entry.instance, nil
}

// Instances returns the registered instances ordered by account id.
func (d *Dispatcher) Instances() []*worker.Instance {
	d.mu.RLock()
	out := make([]*worker.Instance, 0, len(d.instances))
	for _, entry := range d.instances {
		out = append(out, entry.instance)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b *worker.Instance) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})
	return out
}

type candidate struct {
	instance *worker.Instance
	mode     domain.SpeedMode
	queued   int
	capacity int
	weight   int
}

func (c *candidate) Load() (int, int) { return c.queued, c.capacity }
func (c *candidate) Weight() int      { return c.weight }

// Choose picks the instance a new request should run on, trying each mode of
// the constraints in order. The returned mode is the one the instance
// confirmed, which is its forced mode when it forces one.
func (d *Dispatcher) Choose(ctx context.Context, constraints Constraints) (*worker.Instance, domain.SpeedMode, error) {
	if err := constraints.Validate(); err != nil {
		return nil, "", err
	}

	start := d.clock.Now()
	defer func() {
		elapsed := d.clock.Now().Sub(start)
		metrics.RecordSelectionDuration(elapsed)
		if elapsed > d.budget {
			d.logger.Info("Account selection exceeded its budget", "elapsed", elapsed, "budget", d.budget)
		}
	}()

	instances := d.Instances()
	for _, mode := range constraints.modes() {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		candidates := d.candidates(ctx, instances, constraints, mode)
		if len(candidates) == 0 {
			continue
		}
		picked, ok := d.rule.Choose(candidates)
		if !ok {
			continue
		}
		chosen := picked.(*candidate)
		d.logger.V(logging.DEBUG).Info("Selected account",
			"account", chosen.instance.ID(), "mode", chosen.mode, "rule", d.rule.Name(), "candidates", len(candidates))
		return chosen.instance, chosen.mode, nil
	}

	return nil, "", fmt.Errorf("%w: no account can take the request", domain.ErrCapacity)
}

func (d *Dispatcher) candidates(ctx context.Context, instances []*worker.Instance, constraints Constraints, mode domain.SpeedMode) []selection.Candidate {
	out := make([]selection.Candidate, 0, len(instances))
	for _, instance := range instances {
		account := instance.Account()
		if !constraints.Matches(account) || !instance.IsAlive() {
			continue
		}

		confirmed, err := instance.Admit(ctx, mode)
		if err != nil {
			if !errors.Is(err, domain.ErrCapacity) {
				d.logger.Error(err, "Admission check failed", "account", instance.ID(), "mode", mode)
			}
			continue
		}

		tier := domain.TierForMode(confirmed)
		queued, err := instance.QueueDepth(ctx, tier)
		if err != nil {
			d.logger.Error(err, "Read queue depth", "account", instance.ID(), "tier", tier)
			continue
		}
		out = append(out, &candidate{
			instance: instance,
			mode:     confirmed,
			queued:   queued,
			capacity: account.Policy.Queue(tier),
			weight:   account.Weight,
		})
	}
	return out
}

// Enqueue persists task as NOT_STARTED on instance and queues it. A rejected
// new task is deleted again so nothing dangles in the task store.
func (d *Dispatcher) Enqueue(ctx context.Context, instance *worker.Instance, task domain.Task, fn domain.Function, params domain.EntryParams) (EnqueueResult, error) {
	if err := ctx.Err(); err != nil {
		return EnqueueResult{}, err
	}
	if instance == nil {
		return EnqueueResult{}, fmt.Errorf("%w: no instance given", domain.ErrValidation)
	}
	if _, err := domain.ParseFunction(string(fn)); err != nil {
		return EnqueueResult{}, err
	}

	now := d.clock.Now()
	if task.ID == "" {
		task.ID = domain.NewTaskID()
	}
	if task.Status == "" {
		task.Status = domain.StatusNotStarted
	}
	if task.SubmitTime.IsZero() {
		task.SubmitTime = now
	}
	task.AccountID = instance.ID()

	stored, err := d.tasks.GetByID(ctx, task.ID)
	existed := err == nil
	if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
		return EnqueueResult{}, fmt.Errorf("load task %s: %w", task.ID, err)
	}
	if existed {
		if stored.Status.IsTerminal() {
			return EnqueueResult{Task: stored}, fmt.Errorf("%w: task %s is already %s", domain.ErrValidation, task.ID, stored.Status)
		}
		carryProgress(&task, stored)
	}
	params.Record(&task)

	if err := d.tasks.Save(ctx, task); err != nil {
		return EnqueueResult{}, fmt.Errorf("save task %s: %w", task.ID, err)
	}

	entry := domain.QueueEntry{
		TaskID:     task.ID,
		Function:   fn,
		Params:     params,
		EnqueuedAt: now,
		Task:       task.Clone(),
	}
	position, err := instance.Enqueue(ctx, entry)
	if err != nil {
		if !existed {
			if deleteErr := d.tasks.Delete(context.WithoutCancel(ctx), task.ID); deleteErr != nil {
				return EnqueueResult{Task: task}, fmt.Errorf("enqueue task and delete rejected task: %w", errors.Join(err, deleteErr))
			}
		}
		return EnqueueResult{Task: task}, err
	}

	d.logger.V(logging.VERBOSE).Info("Enqueued task",
		"task", task.ID, "account", instance.ID(), "function", fn, "position", position)
	return EnqueueResult{Accepted: true, Position: position, Task: task}, nil
}

// carryProgress keeps the stored lifecycle state of a task that is further
// along than the copy being enqueued, so a status never moves backwards.
func carryProgress(task *domain.Task, stored domain.Task) {
	if stored.Status.Rank() <= task.Status.Rank() {
		return
	}
	task.Status = stored.Status
	task.SubmitTime = stored.SubmitTime
	task.StartTime = stored.StartTime
	task.Progress = stored.Progress
	for key, value := range stored.Properties {
		if task.Property(key) == "" {
			task.SetProperty(key, value)
		}
	}
}

// RunningTasks aggregates the executing tasks of every instance in this
// process.
func (d *Dispatcher) RunningTasks() []domain.Task {
	var out []domain.Task
	for _, instance := range d.Instances() {
		out = append(out, instance.RunningTasks()...)
	}
	return out
}

func (d *Dispatcher) QueueDepth(ctx context.Context, id domain.AccountID, tier domain.Tier) (int, error) {
	instance, err := d.Get(id)
	if err != nil {
		return 0, err
	}
	return instance.QueueDepth(ctx, tier)
}

// ApplyUpdate routes a pushed status update to the instance executing the
// task. It reports whether any instance consumed it.
func (d *Dispatcher) ApplyUpdate(update ports.StatusUpdate) bool {
	for _, instance := range d.Instances() {
		if instance.ApplyUpdate(update) {
			return true
		}
	}
	return false
}

// FetchSeed resolves the task's account and asks its instance for the seed.
func (d *Dispatcher) FetchSeed(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	task, err := d.tasks.GetByID(ctx, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	instance, err := d.Get(task.AccountID)
	if err != nil {
		return domain.Task{}, err
	}
	return instance.FetchSeed(ctx, id)
}

func (d *Dispatcher) Status(ctx context.Context) ([]InstanceStatus, error) {
	instances := d.Instances()
	statuses := make([]InstanceStatus, 0, len(instances))
	var errs []error
	for _, instance := range instances {
		account := instance.Account()
		status := InstanceStatus{
			Account: account,
			Alive:   instance.IsAlive(),
			Running: len(instance.RunningTasks()),
		}
		remaining, known, err := instance.FastRemaining(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		status.FastRemaining, status.QuotaKnown = remaining, known && err == nil
		for _, tier := range domain.Tiers {
			if tier == domain.TierRelax && !account.Policy.SupportsRelax() {
				continue
			}
			queued, err := instance.QueueDepth(ctx, tier)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			executing, err := instance.Executing(ctx, tier)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			status.Tiers = append(status.Tiers, TierStatus{
				Tier:          tier,
				Queued:        queued,
				QueueCapacity: account.Policy.Queue(tier),
				Executing:     executing,
				Core:          account.Policy.Core(tier),
			})
		}
		statuses = append(statuses, status)
	}
	if err := errors.Join(errs...); err != nil {
		return statuses, fmt.Errorf("read pool status: %w", err)
	}
	return statuses, nil
}

// Sync reconciles the registered instances with accounts: new accounts get
// an instance, newer versions are swapped in and vanished accounts are
// removed.
func (d *Dispatcher) Sync(accounts []domain.Account) (SyncResult, error) {
	var result SyncResult
	var errs []error

	seen := make(map[domain.AccountID]struct{}, len(accounts))
	for _, account := range accounts {
		seen[account.ID] = struct{}{}

		instance, err := d.Get(account.ID)
		if err == nil {
			if instance.Reconfigure(account) {
				result.Updated = append(result.Updated, account.ID)
			}
			continue
		}

		if d.factory == nil {
			errs = append(errs, fmt.Errorf("add account %s: no instance factory", account.ID))
			continue
		}
		instance, err = d.factory(account)
		if err != nil {
			errs = append(errs, fmt.Errorf("add account %s: %w", account.ID, err))
			continue
		}
		if err := d.Register(instance); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Added = append(result.Added, account.ID)
	}

	for _, instance := range d.Instances() {
		if _, ok := seen[instance.ID()]; ok {
			continue
		}
		if d.Remove(instance.ID()) {
			result.Removed = append(result.Removed, instance.ID())
		}
	}

	if result.Changed() {
		d.logger.Info("Synchronized accounts",
			"added", result.Added, "updated", result.Updated, "removed", result.Removed)
	}
	return result, errors.Join(errs...)
}

// Run drives the consumer loop of every instance, including instances
// registered while it runs, until ctx is done. It returns after every loop
// and detached execution has stopped.
func (d *Dispatcher) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	start := func(entry *registered) {
		loopCtx, cancel := context.WithCancel(groupCtx)
		entry.cancel = cancel
		instance := entry.instance
		group.Go(func() error {
			defer cancel()
			err := instance.Run(loopCtx)
			instance.Wait()
			if err != nil {
				return fmt.Errorf("run account %s: %w", instance.ID(), err)
			}
			return nil
		})
	}

	d.mu.Lock()
	if d.spawn != nil {
		d.mu.Unlock()
		return errors.New("dispatcher is already running")
	}
	d.spawn = start
	for _, entry := range d.instances {
		start(entry)
	}
	d.mu.Unlock()

	// Keeps the group open for late registrations until ctx is done.
	group.Go(func() error {
		<-groupCtx.Done()
		d.mu.Lock()
		d.spawn = nil
		d.mu.Unlock()
		return nil
	})

	return group.Wait()
}
