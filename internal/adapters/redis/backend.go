// Package redis implements the coordination ports on a shared Redis so that
// several processes can serve the same accounts.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	goredis "github.com/go-redis/redis/v8"
)

const (
	DefaultPrefix   = "drawq"
	DefaultLeaseTTL = 15 * time.Minute
)

type Options struct {
	Prefix string
	// LeaseTTL bounds how long a gate token outlives a crashed holder. A
	// live holder renews its lease every third of the TTL.
	LeaseTTL time.Duration
}

type Backend struct {
	client goredis.UniversalClient
	opts   Options
	clock  ports.Clock
}

var _ ports.Backend = (*Backend)(nil)

func NewBackend(client goredis.UniversalClient, opts Options, clock ports.Clock) *Backend {
	if strings.TrimSpace(opts.Prefix) == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &Backend{client: client, opts: opts, clock: clock}
}

func (b *Backend) key(parts ...string) string {
	return b.opts.Prefix + ":" + strings.Join(parts, ":")
}

func (b *Backend) Queue(account domain.AccountID, tier domain.Tier) ports.Queue {
	return &Queue{client: b.client, key: b.key("queue", string(account), string(tier))}
}

func (b *Backend) Gate(account domain.AccountID, tier domain.Tier) ports.Gate {
	return &Gate{client: b.client, key: b.key("gate", string(account), string(tier)), lease: b.opts.LeaseTTL, clock: b.clock}
}

func (b *Backend) GlobalGate() ports.Gate {
	return &Gate{client: b.client, key: b.key("gate", "global"), lease: b.opts.LeaseTTL, clock: b.clock}
}

func (b *Backend) Counters() ports.CounterStore {
	return &Counters{client: b.client, prefix: b.key("counter")}
}

func (b *Backend) Locker() ports.Locker {
	return &Locker{client: b.client, prefix: b.key("lock")}
}

// Ping checks that the server is reachable.
func Ping(ctx context.Context, client goredis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
