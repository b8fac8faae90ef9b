package quota

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/drawq/internal/adapters/memory"
	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newTracker(t *testing.T) (*Tracker, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)}
	cfg := Config{FastMinRemaining: 1, TurboMinRemaining: 10, LowWater: 20, CacheTTL: time.Nanosecond}
	return NewTracker(memory.NewCounters(clock), cfg, clock, logging.NewTestLogger()), clock
}

func TestHasQuotaAdmitsUnknownAccounts(t *testing.T) {
	tracker, _ := newTracker(t)

	for _, mode := range domain.DefaultModeOrder {
		ok, err := tracker.HasQuota(context.Background(), "acc-1", mode)
		require.NoError(t, err)
		assert.True(t, ok, mode)
	}
}

func TestHasQuotaUsesLargerThresholdForTurbo(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTracker(t)
	require.NoError(t, tracker.Sync(ctx, "acc-1", domain.QuotaSnapshot{FastRemaining: 5}))

	fast, err := tracker.HasQuota(ctx, "acc-1", domain.ModeFast)
	require.NoError(t, err)
	assert.True(t, fast)

	turbo, err := tracker.HasQuota(ctx, "acc-1", domain.ModeTurbo)
	require.NoError(t, err)
	assert.False(t, turbo)

	require.NoError(t, tracker.Sync(ctx, "acc-1", domain.QuotaSnapshot{FastRemaining: 1}))
	fast, err = tracker.HasQuota(ctx, "acc-1", domain.ModeFast)
	require.NoError(t, err)
	assert.False(t, fast)
}

func TestHasQuotaRelaxFollowsResetPending(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTracker(t)

	require.NoError(t, tracker.Sync(ctx, "acc-1", domain.QuotaSnapshot{FastRemaining: 0, RelaxResetPending: true}))
	relax, err := tracker.HasQuota(ctx, "acc-1", domain.ModeRelax)
	require.NoError(t, err)
	assert.False(t, relax)

	require.NoError(t, tracker.Sync(ctx, "acc-1", domain.QuotaSnapshot{FastRemaining: 0}))
	relax, err = tracker.HasQuota(ctx, "acc-1", domain.ModeRelax)
	require.NoError(t, err)
	assert.True(t, relax)
}

func TestConsumeAndResyncThreshold(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTracker(t)

	_, known, err := tracker.Consume(ctx, "acc-1", 3)
	require.NoError(t, err)
	assert.False(t, known, "unknown counters are not created by consumption")

	require.NoError(t, tracker.Sync(ctx, "acc-1", domain.QuotaSnapshot{FastRemaining: 22}))
	value, known, err := tracker.Consume(ctx, "acc-1", domain.Units(domain.ActionImagine, domain.ModeTurbo))
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, int64(20), value)
	assert.True(t, tracker.NeedsResync(value))

	value, known, err = tracker.Consume(ctx, "acc-1", 0)
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, int64(20), value)
}

func TestDayDrawsRollOverWithTheDate(t *testing.T) {
	ctx := context.Background()
	tracker, clock := newTracker(t)

	for range 3 {
		_, err := tracker.RecordDraw(ctx, "acc-1", domain.TierRelax)
		require.NoError(t, err)
	}

	draws, err := tracker.DayDraws(ctx, "acc-1", domain.TierRelax)
	require.NoError(t, err)
	assert.Equal(t, int64(3), draws)

	draws, err = tracker.DayDraws(ctx, "acc-1", domain.TierDefault)
	require.NoError(t, err)
	assert.Zero(t, draws)

	clock.now = clock.now.Add(24 * time.Hour)
	draws, err = tracker.DayDraws(ctx, "acc-1", domain.TierRelax)
	require.NoError(t, err)
	assert.Zero(t, draws)
}
