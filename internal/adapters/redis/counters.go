package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/drawq/internal/ports"
	goredis "github.com/go-redis/redis/v8"
)

type Counters struct {
	client goredis.UniversalClient
	prefix string
}

var _ ports.CounterStore = (*Counters)(nil)

func (c *Counters) key(name string) string {
	return c.prefix + ":" + name
}

func (c *Counters) Get(ctx context.Context, key string) (int64, bool, error) {
	value, err := c.client.Get(ctx, c.key(key)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read counter %s: %w", key, err)
	}
	return value, true, nil
}

func (c *Counters) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, c.key(key), amount)
		if ttl > 0 {
			pipe.Expire(ctx, c.key(key), ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (c *Counters) DecrBy(ctx context.Context, key string, amount int64) (int64, error) {
	value, err := c.client.DecrBy(ctx, c.key(key), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("decrement counter %s: %w", key, err)
	}
	return value, nil
}

func (c *Counters) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set counter %s: %w", key, err)
	}
	return nil
}
