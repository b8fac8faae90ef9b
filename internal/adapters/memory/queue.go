package memory

import (
	"context"
	"sync"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
)

type Queue struct {
	mu      sync.Mutex
	entries []domain.QueueEntry
	ready   chan struct{}
}

var _ ports.Queue = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

func (q *Queue) Enqueue(ctx context.Context, entry domain.QueueEntry, capacity int, allowOverflow bool) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !allowOverflow && capacity > 0 && len(q.entries) >= capacity {
		return 0, false, nil
	}

	q.entries = append(q.entries, cloneEntry(entry))
	q.signal()
	return len(q.entries), true, nil
}

func (q *Queue) Dequeue(ctx context.Context) (domain.QueueEntry, error) {
	for {
		entry, ok, err := q.TryDequeue(ctx)
		if err != nil {
			return domain.QueueEntry{}, err
		}
		if ok {
			return entry, nil
		}

		select {
		case <-ctx.Done():
			return domain.QueueEntry{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) TryDequeue(ctx context.Context) (domain.QueueEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.QueueEntry{}, false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return domain.QueueEntry{}, false, nil
	}

	entry := q.entries[0]
	q.entries = q.entries[1:]
	if len(q.entries) > 0 {
		q.signal()
	}
	return entry, true, nil
}

func (q *Queue) PushFront(ctx context.Context, entry domain.QueueEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append([]domain.QueueEntry{cloneEntry(entry)}, q.entries...)
	q.signal()
	return nil
}

func (q *Queue) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries), nil
}

func (q *Queue) Contains(ctx context.Context, id domain.TaskID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range q.entries {
		if entry.TaskID == id {
			return true, nil
		}
	}
	return false, nil
}

func (q *Queue) Remove(ctx context.Context, id domain.TaskID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.entries {
		if entry.TaskID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// signal must be called with q.mu held.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func cloneEntry(entry domain.QueueEntry) domain.QueueEntry {
	entry.Task = entry.Task.Clone()
	return entry
}
