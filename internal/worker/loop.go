package worker

import (
	"context"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
	"github.com/bnema/drawq/internal/ports"
)

// gatedTiers are drained after upscales, in priority order.
var gatedTiers = []domain.Tier{domain.TierDescribe, domain.TierDefault, domain.TierRelax}

// Run recovers interrupted tasks and then drains the account's queues until
// ctx is done. Detached executions observe ctx too; use Wait to join them.
func (i *Instance) Run(ctx context.Context) error {
	recovered, err := i.Recover(ctx)
	if err != nil {
		i.logger.Error(err, "Crash recovery was incomplete", "recovered", recovered)
	} else if recovered > 0 {
		i.logger.Info("Recovered interrupted tasks", "count", recovered)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		wait := i.cfg.IdleWait
		if i.pass(ctx) {
			wait = i.cfg.BusyWait
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-i.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// pass runs one loop iteration and reports whether work is still pending.
func (i *Instance) pass(ctx context.Context) bool {
	account := i.Account()
	if !account.Enabled {
		return false
	}

	more := i.drainUpscales(ctx, account)
	for _, tier := range gatedTiers {
		if tier == domain.TierRelax && !account.Policy.SupportsRelax() {
			continue
		}

		pending, err := i.dispatchTier(ctx, account, tier)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			i.logger.Error(err, "Failed to dispatch tier", "tier", tier)
			continue
		}
		more = more || pending
	}
	return more
}

func (i *Instance) drainUpscales(ctx context.Context, account domain.Account) bool {
	queue := i.queues[domain.TierUpscale]
	for {
		entry, ok, err := queue.TryDequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				i.logger.Error(err, "Failed to dequeue upscale")
			}
			return false
		}
		if !ok {
			return false
		}

		i.detach(ctx, entry, nil)

		if !account.Kind.DrainsUpscalesGreedily() {
			remaining, err := queue.Count(ctx)
			return err == nil && remaining > 0
		}
	}
}

func (i *Instance) dispatchTier(ctx context.Context, account domain.Account, tier domain.Tier) (bool, error) {
	queue := i.queues[tier]
	queued, err := queue.Count(ctx)
	if err != nil || queued == 0 {
		return false, err
	}

	release, ok, err := i.acquire(ctx, account.Policy.Core(tier), tier)
	if err != nil || !ok {
		return false, err
	}

	entry, ok, err := queue.TryDequeue(ctx)
	if err != nil || !ok {
		release()
		return false, err
	}

	if !sleep(ctx, account.Policy.PreSubmitDelay) {
		if err := queue.PushFront(context.WithoutCancel(ctx), entry); err != nil {
			i.logger.Error(err, "Failed to return entry to its queue", "task", entry.TaskID)
		}
		release()
		return false, nil
	}

	i.detach(ctx, entry, release)

	if !sleep(ctx, account.Policy.PostSubmitDelay.Pick()) {
		return false, nil
	}

	queued, err = queue.Count(ctx)
	return queued > 0, err
}

// acquire takes the global gate, when configured, and then the tier gate.
// The returned func releases them in reverse order.
func (i *Instance) acquire(ctx context.Context, capacity int, tier domain.Tier) (func(), bool, error) {
	held := make([]ports.Token, 0, 2)
	release := func() {
		releaseCtx := context.WithoutCancel(ctx)
		for j := len(held) - 1; j >= 0; j-- {
			if err := held[j].Release(releaseCtx); err != nil {
				i.logger.Error(err, "Failed to release concurrency token", "tier", tier)
			}
		}
	}

	if i.global != nil {
		token, ok, err := i.global.TryAcquire(ctx, i.cfg.GlobalConcurrency)
		if err != nil || !ok {
			return nil, false, err
		}
		held = append(held, token)
	}

	token, ok, err := i.gates[tier].TryAcquire(ctx, capacity)
	if err != nil || !ok {
		release()
		return nil, false, err
	}
	held = append(held, token)

	i.logger.V(logging.TRACE).Info("Acquired concurrency token", "tier", tier, "capacity", capacity)
	return release, true, nil
}

func (i *Instance) detach(ctx context.Context, entry domain.QueueEntry, release func()) {
	i.inflight.Add(1)
	go func() {
		defer i.inflight.Done()
		defer i.signal()
		if release != nil {
			defer release()
		}
		i.execute(ctx, entry)
	}()
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
