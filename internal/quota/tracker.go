// Package quota keeps the locally cached quota counters that gate admission.
// The upstream platform stays the source of truth; Sync overwrites the cache
// with what it reports.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
	"github.com/bnema/drawq/internal/ports"
	"github.com/go-logr/logr"
	"github.com/jellydator/ttlcache/v3"
)

const (
	drawCounterTTL = 48 * time.Hour
	dayLayout      = "20060102"
)

type Config struct {
	// FastMinRemaining and TurboMinRemaining are the cached remaining counts
	// a fast or turbo admission must exceed.
	FastMinRemaining  int64
	TurboMinRemaining int64
	// LowWater is the remaining count at or below which a resync is due.
	LowWater int64
	CacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		FastMinRemaining:  1,
		TurboMinRemaining: 10,
		LowWater:          20,
		CacheTTL:          10 * time.Second,
	}
}

type remaining struct {
	value int64
	known bool
}

type Tracker struct {
	counters ports.CounterStore
	cfg      Config
	clock    ports.Clock
	cache    *ttlcache.Cache[domain.AccountID, remaining]
	logger   logr.Logger
}

func NewTracker(counters ports.CounterStore, cfg Config, clock ports.Clock, logger logr.Logger) *Tracker {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	return &Tracker{
		counters: counters,
		cfg:      cfg,
		clock:    clock,
		cache: ttlcache.New[domain.AccountID, remaining](
			ttlcache.WithTTL[domain.AccountID, remaining](cfg.CacheTTL),
			ttlcache.WithDisableTouchOnHit[domain.AccountID, remaining](),
		),
		logger: logger.WithName("quota"),
	}
}

func remainingKey(account domain.AccountID) string {
	return fmt.Sprintf("quota:%s:fast_remaining", account)
}

func relaxPendingKey(account domain.AccountID) string {
	return fmt.Sprintf("quota:%s:relax_reset_pending", account)
}

func (t *Tracker) drawKey(account domain.AccountID, tier domain.Tier) string {
	return fmt.Sprintf("draws:%s:%s:%s", account, tier, t.clock.Now().UTC().Format(dayLayout))
}

// Remaining returns the cached fast-quota remaining count. known is false
// when the upstream never reported a value for the account.
func (t *Tracker) Remaining(ctx context.Context, account domain.AccountID) (int64, bool, error) {
	if item := t.cache.Get(account); item != nil {
		value := item.Value()
		return value.value, value.known, nil
	}

	value, known, err := t.counters.Get(ctx, remainingKey(account))
	if err != nil {
		return 0, false, fmt.Errorf("read remaining quota: %w", err)
	}
	t.cache.Set(account, remaining{value: value, known: known}, ttlcache.DefaultTTL)
	return value, known, nil
}

// HasQuota reports whether the account's quota state admits mode. An account
// whose remaining count was never reported is admitted.
func (t *Tracker) HasQuota(ctx context.Context, account domain.AccountID, mode domain.SpeedMode) (bool, error) {
	if mode == domain.ModeRelax {
		pending, err := t.RelaxResetPending(ctx, account)
		if err != nil {
			return false, err
		}
		return !pending, nil
	}

	value, known, err := t.Remaining(ctx, account)
	if err != nil {
		return false, err
	}
	if !known {
		return true, nil
	}

	threshold := t.cfg.FastMinRemaining
	if mode == domain.ModeTurbo {
		threshold = t.cfg.TurboMinRemaining
	}
	return value > threshold, nil
}

func (t *Tracker) RelaxResetPending(ctx context.Context, account domain.AccountID) (bool, error) {
	value, _, err := t.counters.Get(ctx, relaxPendingKey(account))
	if err != nil {
		return false, fmt.Errorf("read relax reset state: %w", err)
	}
	return value > 0, nil
}

func (t *Tracker) DayDraws(ctx context.Context, account domain.AccountID, tier domain.Tier) (int64, error) {
	value, _, err := t.counters.Get(ctx, t.drawKey(account, tier))
	if err != nil {
		return 0, fmt.Errorf("read daily draws: %w", err)
	}
	return value, nil
}

func (t *Tracker) RecordDraw(ctx context.Context, account domain.AccountID, tier domain.Tier) (int64, error) {
	value, err := t.counters.IncrBy(ctx, t.drawKey(account, tier), 1, drawCounterTTL)
	if err != nil {
		return 0, fmt.Errorf("record daily draw: %w", err)
	}
	return value, nil
}

// Consume takes units off the cached remaining count and returns the new
// value. Nothing is consumed when the count is unknown or units is zero.
func (t *Tracker) Consume(ctx context.Context, account domain.AccountID, units int64) (int64, bool, error) {
	current, known, err := t.counters.Get(ctx, remainingKey(account))
	if err != nil {
		return 0, false, fmt.Errorf("read remaining quota: %w", err)
	}
	if !known {
		return 0, false, nil
	}
	if units <= 0 {
		return current, true, nil
	}
	defer t.cache.Delete(account)

	value, err := t.counters.DecrBy(ctx, remainingKey(account), units)
	if err != nil {
		return 0, false, fmt.Errorf("consume quota: %w", err)
	}
	t.logger.V(logging.DEBUG).Info("Consumed quota", "account", account, "units", units, "remaining", value)
	return value, true, nil
}

func (t *Tracker) NeedsResync(remaining int64) bool {
	return remaining <= t.cfg.LowWater
}

// Sync replaces the cached state with an upstream snapshot.
func (t *Tracker) Sync(ctx context.Context, account domain.AccountID, snapshot domain.QuotaSnapshot) error {
	if err := t.counters.Set(ctx, remainingKey(account), snapshot.FastRemaining, 0); err != nil {
		return fmt.Errorf("store remaining quota: %w", err)
	}

	pending := int64(0)
	if snapshot.RelaxResetPending {
		pending = 1
	}
	if err := t.counters.Set(ctx, relaxPendingKey(account), pending, 0); err != nil {
		return fmt.Errorf("store relax reset state: %w", err)
	}

	t.cache.Delete(account)
	t.logger.V(logging.VERBOSE).Info("Synced quota", "account", account, "remaining", snapshot.FastRemaining, "relaxResetPending", snapshot.RelaxResetPending)
	return nil
}
