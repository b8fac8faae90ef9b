package worker

import (
	"context"
	"fmt"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
	"github.com/bnema/drawq/internal/metrics"
)

// Admit decides whether a new task in mode may enter this account. It returns
// the mode the task will run in, which differs from mode when the account
// forces one. A denial wraps domain.ErrCapacity; other errors come from the
// shared backends.
func (i *Instance) Admit(ctx context.Context, mode domain.SpeedMode) (domain.SpeedMode, error) {
	account := i.Account()
	policy := account.Policy

	deny := func(reason string) (domain.SpeedMode, error) {
		metrics.RecordAdmissionRejected(string(i.id), string(mode), reason)
		i.logger.V(logging.DEBUG).Info("Denied admission", "mode", mode, "reason", reason)
		return "", fmt.Errorf("%w: account %s denies %s: %s", domain.ErrCapacity, i.id, mode, reason)
	}

	if !account.Enabled {
		return deny("disabled")
	}

	if policy.ForcedMode != "" {
		mode = policy.ForcedMode
	} else if !policy.Allows(mode) {
		return deny("mode_not_allowed")
	}

	tier := domain.TierForMode(mode)
	if tier == domain.TierRelax && !policy.SupportsRelax() {
		return deny("relax_unsupported")
	}

	hasQuota, err := i.quota.HasQuota(ctx, i.id, mode)
	if err != nil {
		return "", err
	}
	if !hasQuota {
		return deny("quota_exhausted")
	}

	queue := i.queues[tier]
	capacity := policy.Queue(tier)
	queued, err := queue.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("count %s queue: %w", tier, err)
	}
	if capacity > 0 && queued >= capacity {
		return deny("queue_full")
	}

	if limit := policy.DayLimit(tier); limit != domain.Unlimited {
		draws, err := i.quota.DayDraws(ctx, i.id, tier)
		if err != nil {
			return "", err
		}
		if draws >= int64(limit) {
			return deny("daily_limit")
		}
	}

	// Live re-check against the shared backends. Gate holders past core show
	// up here after a capacity cut or from other processes, and the queue is
	// re-read because the day-limit lookup above may have let it fill.
	if capacity > 0 {
		executing, err := i.gates[tier].Count(ctx)
		if err != nil {
			return "", fmt.Errorf("count %s gate: %w", tier, err)
		}
		queued, err = queue.Count(ctx)
		if err != nil {
			return "", fmt.Errorf("count %s queue: %w", tier, err)
		}
		if executing+queued >= policy.Core(tier)+capacity {
			return deny("no_headroom")
		}
	}

	return mode, nil
}
