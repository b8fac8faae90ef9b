// Package notify turns task transitions into outbound events.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	"github.com/jellydator/ttlcache/v3"
)

// Event is the wire form of a task transition.
type Event struct {
	TaskID     string            `json:"task_id"`
	AccountID  string            `json:"account_id,omitempty"`
	ParentID   string            `json:"parent_id,omitempty"`
	Action     string            `json:"action"`
	Status     string            `json:"status"`
	Mode       string            `json:"mode,omitempty"`
	Progress   string            `json:"progress,omitempty"`
	ImageURL   string            `json:"image_url,omitempty"`
	FailReason string            `json:"fail_reason,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	SubmitTime time.Time         `json:"submit_time"`
	StartTime  *time.Time        `json:"start_time,omitempty"`
	FinishTime *time.Time        `json:"finish_time,omitempty"`
}

func NewEvent(task domain.Task) Event {
	return Event{
		TaskID:     string(task.ID),
		AccountID:  string(task.AccountID),
		ParentID:   string(task.ParentID),
		Action:     string(task.Action),
		Status:     string(task.Status),
		Mode:       string(task.Mode),
		Progress:   task.Progress,
		ImageURL:   task.ImageURL,
		FailReason: task.FailReason,
		Properties: task.Clone().Properties,
		SubmitTime: task.SubmitTime,
		StartTime:  optionalTime(task.StartTime),
		FinishTime: optionalTime(task.FinishTime),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

const DefaultFilterTTL = 24 * time.Hour

// Filter drops notifications that would move a subscriber backwards: an
// update ranked below the last delivered one, or a terminal status that was
// already delivered.
type Filter struct {
	next ports.Notifier
	mu   sync.Mutex
	seen *ttlcache.Cache[domain.TaskID, domain.TaskStatus]
}

var _ ports.Notifier = (*Filter)(nil)

func NewFilter(next ports.Notifier, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultFilterTTL
	}
	return &Filter{
		next: next,
		seen: ttlcache.New[domain.TaskID, domain.TaskStatus](ttlcache.WithTTL[domain.TaskID, domain.TaskStatus](ttl)),
	}
}

func (f *Filter) Notify(ctx context.Context, task domain.Task) error {
	f.mu.Lock()
	if item := f.seen.Get(task.ID); item != nil {
		last := item.Value()
		if task.Status.Rank() < last.Rank() || last.IsTerminal() {
			f.mu.Unlock()
			return nil
		}
	}
	f.seen.Set(task.ID, task.Status, ttlcache.DefaultTTL)
	f.mu.Unlock()

	return f.next.Notify(ctx, task)
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []ports.Notifier

var _ ports.Notifier = Fanout(nil)

func (f Fanout) Notify(ctx context.Context, task domain.Task) error {
	var errs []error
	for _, notifier := range f {
		if err := notifier.Notify(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Notify(context.Context, domain.Task) error { return nil }
