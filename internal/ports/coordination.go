package ports

import (
	"context"
	"time"

	"github.com/bnema/drawq/internal/domain"
)

// Queue is a FIFO of entries for one (account, tier) pair, shared by every
// cooperating process.
type Queue interface {
	// Enqueue appends entry and returns its 1-based position. It reports
	// false when the queue holds capacity entries already, unless
	// allowOverflow is set. Capacity zero or less means unbounded.
	Enqueue(ctx context.Context, entry domain.QueueEntry, capacity int, allowOverflow bool) (int, bool, error)
	// Dequeue blocks until an entry is available or ctx is done.
	Dequeue(ctx context.Context) (domain.QueueEntry, error)
	TryDequeue(ctx context.Context) (domain.QueueEntry, bool, error)
	PushFront(ctx context.Context, entry domain.QueueEntry) error
	Count(ctx context.Context) (int, error)
	Contains(ctx context.Context, id domain.TaskID) (bool, error)
	Remove(ctx context.Context, id domain.TaskID) (bool, error)
}

// Gate bounds the number of simultaneous executions.
type Gate interface {
	// TryAcquire never blocks; it reports false when capacity tokens are
	// outstanding already.
	TryAcquire(ctx context.Context, capacity int) (Token, bool, error)
	Count(ctx context.Context) (int, error)
}

// Token is one acquired gate slot. Release is safe to call more than once;
// only the first call frees the slot.
type Token interface {
	Release(ctx context.Context) error
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error)
}

type Lock interface {
	Unlock(ctx context.Context) error
}

type CounterStore interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)
	DecrBy(ctx context.Context, key string, amount int64) (int64, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
}

// Backend hands out the shared primitives of one deployment.
type Backend interface {
	Queue(account domain.AccountID, tier domain.Tier) Queue
	Gate(account domain.AccountID, tier domain.Tier) Gate
	GlobalGate() Gate
	Counters() CounterStore
	Locker() Locker
}
