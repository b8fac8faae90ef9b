package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bnema/drawq/internal/ports"
	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// acquireScript keeps one sorted-set member per outstanding token, scored by
// its lease expiry. Expired leases are dropped before counting.
var acquireScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], now + tonumber(ARGV[3]), ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// renewScript pushes a held lease's expiry forward. It reports 0 once the
// member is gone, i.e. released or already expired.
var renewScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
if not redis.call('ZSCORE', KEYS[1], ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], 'XX', now + tonumber(ARGV[2]), ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

type Gate struct {
	client goredis.UniversalClient
	key    string
	lease  time.Duration
	clock  ports.Clock
}

var _ ports.Gate = (*Gate)(nil)

func (g *Gate) TryAcquire(ctx context.Context, capacity int) (ports.Token, bool, error) {
	if capacity <= 0 {
		return nil, false, nil
	}

	id := uuid.NewString()
	now := g.clock.Now().UnixMilli()
	ok, err := acquireScript.Run(ctx, g.client, []string{g.key}, now, capacity, g.lease.Milliseconds(), id).Int()
	if err != nil {
		return nil, false, fmt.Errorf("acquire gate %s: %w", g.key, err)
	}
	if ok == 0 {
		return nil, false, nil
	}
	t := &token{gate: g, id: id, stop: make(chan struct{})}
	go t.keepAlive(ctx)
	return t, true, nil
}

func (g *Gate) Count(ctx context.Context) (int, error) {
	min := strconv.FormatInt(g.clock.Now().UnixMilli(), 10)
	n, err := g.client.ZCount(ctx, g.key, "("+min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count gate %s: %w", g.key, err)
	}
	return int(n), nil
}

type token struct {
	gate *Gate
	id   string
	once sync.Once
	stop chan struct{}
}

// keepAlive renews the lease until the token is released or ctx ends. After
// ctx ends the lease runs out on its own, like a crashed holder's.
func (t *token) keepAlive(ctx context.Context) {
	interval := max(t.gate.lease/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			held, err := t.renew(ctx)
			if err == nil && !held {
				return
			}
		}
	}
}

func (t *token) renew(ctx context.Context) (bool, error) {
	now := t.gate.clock.Now().UnixMilli()
	held, err := renewScript.Run(ctx, t.gate.client, []string{t.gate.key}, now, t.gate.lease.Milliseconds(), t.id).Int()
	if err != nil {
		return false, fmt.Errorf("renew gate %s: %w", t.gate.key, err)
	}
	return held == 1, nil
}

func (t *token) Release(ctx context.Context) error {
	var err error
	t.once.Do(func() {
		close(t.stop)
		if zerr := t.gate.client.ZRem(ctx, t.gate.key, t.id).Err(); zerr != nil {
			err = fmt.Errorf("release gate %s: %w", t.gate.key, zerr)
		}
	})
	return err
}
