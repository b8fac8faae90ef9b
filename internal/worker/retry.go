package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/metrics"
	"github.com/bnema/drawq/internal/ports"
	"github.com/cenkalti/backoff/v4"
)

// uniformBackOff waits a uniformly random duration in [min, max] between
// attempts.
type uniformBackOff struct {
	min time.Duration
	max time.Duration
}

func (b *uniformBackOff) NextBackOff() time.Duration {
	if b.max <= b.min {
		return b.min
	}
	return b.min + rand.N(b.max-b.min+1)
}

func (b *uniformBackOff) Reset() {}

// submit calls the adapter with the protocol retry policy: rate limits are
// retried, a missing message is retried once against the parent's other
// message id, anything else ends the call.
func (i *Instance) submit(ctx context.Context, task *domain.Task, req ports.SubmitRequest) (ports.SubmitResult, error) {
	var result ports.SubmitResult
	substituted := false

	operation := func() error {
		res, err := i.adapter.Submit(ctx, req)
		if err == nil {
			result = res
			return nil
		}

		var upstream *domain.UpstreamError
		if !errors.As(err, &upstream) {
			return backoff.Permanent(fmt.Errorf("submit %s: %w", req.Function, err))
		}

		switch upstream.Code {
		case domain.CodeTooManyRequests:
			metrics.RecordUpstreamRetry(string(i.id), strconv.Itoa(upstream.Code))
			return err
		case domain.CodeNotFound:
			if substituted {
				break
			}
			if alternate := i.alternateMessageID(ctx, task, req.MessageID); alternate != "" {
				i.logger.Info("Retrying with the parent's other message id", "task", task.ID, "from", req.MessageID, "to", alternate)
				req.MessageID = alternate
				substituted = true
				metrics.RecordUpstreamRetry(string(i.id), strconv.Itoa(upstream.Code))
				return err
			}
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&uniformBackOff{min: i.cfg.Retry.MinBackoff, max: i.cfg.Retry.MaxBackoff}, uint64(i.cfg.Retry.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return ports.SubmitResult{}, err
	}
	return result, nil
}

// alternateMessageID returns the parent's other known message id when
// current is one of them. Upstream sometimes moves the output of a job
// between the progress message and the final message.
func (i *Instance) alternateMessageID(ctx context.Context, task *domain.Task, current string) string {
	if task.ParentID == "" || current == "" {
		return ""
	}

	parent, err := i.tasks.GetByID(ctx, task.ParentID)
	if err != nil {
		return ""
	}

	messageID := parent.Property(domain.PropMessageID)
	progressID := parent.Property(domain.PropProgressMessageID)
	switch current {
	case messageID:
		return progressID
	case progressID:
		return messageID
	default:
		return ""
	}
}
