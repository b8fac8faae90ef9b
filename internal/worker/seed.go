package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
)

// FetchSeed asks upstream for the seed of a finished image task and stores
// it on the task. Failures to obtain the seed are recorded on the task's
// seed_error property rather than returned.
func (i *Instance) FetchSeed(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	task, err := i.tasks.GetByID(ctx, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	if task.Property(domain.PropSeed) != "" {
		return task, nil
	}
	messageID := task.Property(domain.PropMessageID)
	if messageID == "" {
		return domain.Task{}, fmt.Errorf("%w: task %s has no message to read a seed from", domain.ErrValidation, id)
	}

	if err := i.seedSem.Acquire(ctx, 1); err != nil {
		return domain.Task{}, err
	}
	defer i.seedSem.Release(1)

	lock, ok, err := i.locker.TryLock(ctx, "seed:"+string(id), i.cfg.SeedLockTTL)
	if err != nil {
		return domain.Task{}, fmt.Errorf("lock seed fetch of %s: %w", id, err)
	}
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: seed fetch of task %s is in progress", domain.ErrCapacity, id)
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			i.logger.Error(err, "Failed to release seed lock", "task", id)
		}
	}()

	seeds := i.seeds.register(id)
	defer i.seeds.unregister(id)

	var seed, seedErr string
	_, err = i.adapter.Submit(ctx, ports.SubmitRequest{
		Function:  domain.FuncSeed,
		Action:    task.Action,
		Mode:      task.Mode,
		AccountID: i.id,
		TaskID:    id,
		MessageID: messageID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.Task{}, ctx.Err()
		}
		seedErr = err.Error()
	} else {
		timer := time.NewTimer(i.cfg.SeedTimeout)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return domain.Task{}, ctx.Err()
		case seed = <-seeds:
		case <-timer.C:
			seedErr = fmt.Sprintf("%s after %s", domain.ErrTimeout, i.cfg.SeedTimeout)
		}
	}

	// The task may have moved on while we waited.
	if latest, err := i.tasks.GetByID(ctx, id); err == nil {
		task = latest
	}
	if seed != "" {
		task.SetProperty(domain.PropSeed, seed)
		delete(task.Properties, domain.PropSeedError)
	} else {
		task.SetProperty(domain.PropSeedError, seedErr)
	}

	if err := i.tasks.Save(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("save seed of task %s: %w", id, err)
	}
	return task, nil
}
