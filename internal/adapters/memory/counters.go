package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/drawq/internal/ports"
)

type counter struct {
	value     int64
	expiresAt time.Time
}

type Counters struct {
	mu     sync.Mutex
	clock  ports.Clock
	values map[string]counter
}

var _ ports.CounterStore = (*Counters)(nil)

func NewCounters(clock ports.Clock) *Counters {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Counters{clock: clock, values: map[string]counter{}}
}

func (c *Counters) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.load(key)
	return entry.value, ok, nil
}

func (c *Counters) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, _ := c.load(key)
	entry.value += amount
	if ttl > 0 {
		entry.expiresAt = c.clock.Now().Add(ttl)
	}
	c.values[key] = entry
	return entry.value, nil
}

func (c *Counters) DecrBy(ctx context.Context, key string, amount int64) (int64, error) {
	return c.IncrBy(ctx, key, -amount, 0)
}

func (c *Counters) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := counter{value: value}
	if ttl > 0 {
		entry.expiresAt = c.clock.Now().Add(ttl)
	}
	c.values[key] = entry
	return nil
}

// load must be called with c.mu held.
func (c *Counters) load(key string) (counter, bool) {
	entry, ok := c.values[key]
	if !ok {
		return counter{}, false
	}
	if !entry.expiresAt.IsZero() && !c.clock.Now().Before(entry.expiresAt) {
		delete(c.values, key)
		return counter{}, false
	}
	return entry, true
}
