package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
)

// Recover requeues the account's recent unfinished tasks that are neither
// queued nor executing, so a restarted process resumes them. Running it
// twice requeues nothing the second time.
func (i *Instance) Recover(ctx context.Context) (int, error) {
	since := i.clock.Now().Add(-i.cfg.RecoveryWindow)
	tasks, err := i.tasks.ListActive(ctx, i.id, domain.ActiveStatuses, since)
	if err != nil {
		return 0, fmt.Errorf("list active tasks of %s: %w", i.id, err)
	}

	recovered := 0
	var errs []error
	for _, task := range tasks {
		if ctx.Err() != nil {
			return recovered, errors.Join(append(errs, ctx.Err())...)
		}
		if i.running.has(task.ID) {
			continue
		}

		entry := domain.QueueEntry{
			TaskID:     task.ID,
			Function:   domain.FuncRefresh,
			Params:     domain.RecordedParams(task),
			EnqueuedAt: i.clock.Now(),
			Task:       task,
		}
		tier := domain.TierFor(domain.FunctionFor(task.Action), task.Action, task.Mode)
		queue := i.queues[tier]

		queued, err := queue.Contains(ctx, task.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("check queue for task %s: %w", task.ID, err))
			continue
		}
		if queued {
			continue
		}

		// Recovered work was admitted before the restart, so queue limits do
		// not apply to it.
		if _, _, err := queue.Enqueue(ctx, entry, 0, true); err != nil {
			errs = append(errs, fmt.Errorf("requeue task %s: %w", task.ID, err))
			continue
		}
		recovered++
		i.logger.V(logging.VERBOSE).Info("Requeued interrupted task", "task", task.ID, "status", task.Status, "tier", tier)
	}

	if recovered > 0 {
		i.signal()
	}
	return recovered, errors.Join(errs...)
}
