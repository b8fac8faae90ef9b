package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaSnapshotStaleDetection(t *testing.T) {
	asOf := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	s := QuotaSnapshot{AsOf: asOf}

	assert.False(t, s.IsStale(asOf.Add(5*time.Minute), 10*time.Minute))
	assert.True(t, s.IsStale(asOf.Add(11*time.Minute), 10*time.Minute))
	assert.False(t, s.IsStale(asOf.Add(24*time.Hour), 0))
	assert.True(t, QuotaSnapshot{}.IsStale(asOf, 10*time.Minute))
}

func TestTaskAdvanceIsMonotonic(t *testing.T) {
	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	task := Task{ID: "t-1", Status: StatusNotStarted}

	require.True(t, task.Advance(StatusSubmitted, now))
	assert.Equal(t, now, task.StartTime)
	require.True(t, task.Advance(StatusInProgress, now.Add(time.Second)))
	assert.Equal(t, now, task.StartTime)
	require.True(t, task.Advance(StatusInProgress, now.Add(2*time.Second)))

	assert.False(t, task.Advance(StatusSubmitted, now.Add(3*time.Second)))
	assert.Equal(t, StatusInProgress, task.Status)

	require.True(t, task.Advance(StatusSuccess, now.Add(4*time.Second)))
	assert.Equal(t, "100%", task.Progress)
	assert.Equal(t, now.Add(4*time.Second), task.FinishTime)
}

func TestTaskTerminalStatusIsPermanent(t *testing.T) {
	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

	for _, terminal := range []TaskStatus{StatusSuccess, StatusFailure} {
		t.Run(string(terminal), func(t *testing.T) {
			task := Task{ID: "t-1", Status: StatusSubmitted}
			require.True(t, task.Advance(terminal, now))

			for _, next := range []TaskStatus{StatusNotStarted, StatusSubmitted, StatusInProgress, StatusAwaitingModal, StatusSuccess, StatusFailure} {
				assert.False(t, task.Advance(next, now.Add(time.Minute)), "moved %s -> %s", terminal, next)
			}
			assert.False(t, task.Fail("late", now))
			assert.Equal(t, terminal, task.Status)
		})
	}
}

func TestTaskModalConfirmMovesForward(t *testing.T) {
	task := Task{Status: StatusNotStarted}
	now := time.Now()

	require.True(t, task.Advance(StatusAwaitingModal, now))
	require.True(t, task.Advance(StatusSubmitted, now))
	assert.False(t, task.Advance(StatusAwaitingModal, now))
}

func TestTaskCloneDetachesProperties(t *testing.T) {
	task := Task{ID: "t-1"}
	task.SetProperty(PropNonce, "n-1")

	clone := task.Clone()
	clone.SetProperty(PropNonce, "n-2")

	assert.Equal(t, "n-1", task.Property(PropNonce))
	assert.Equal(t, "n-2", clone.Property(PropNonce))
}

func TestParseCustomID(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		kind  ActionKind
		index int
		modal bool
	}{
		{name: "upscale", raw: "MJ::JOB::upsample::2::abc", kind: ActionUpscale, index: 2},
		{name: "versioned upscale", raw: "MJ::JOB::upsample_v6_2x_subtle::1::abc::SOLO", kind: ActionUpscale, index: 1},
		{name: "variation", raw: "MJ::JOB::variation::3::abc", kind: ActionVariation, index: 3},
		{name: "strong variation", raw: "MJ::JOB::high_variation::1::abc::SOLO", kind: ActionVariation, index: 1},
		{name: "reroll", raw: "MJ::JOB::reroll::0::abc::SOLO", kind: ActionReroll},
		{name: "animate", raw: "MJ::JOB::animate_high::1::abc", kind: ActionVideo, index: 1},
		{name: "zoom needs modal", raw: "MJ::CustomZoom::abc", kind: ActionModal, modal: true},
		{name: "inpaint needs modal", raw: "MJ::Inpaint::1::abc::SOLO", kind: ActionModal, modal: true},
		{name: "unknown job stays custom", raw: "MJ::JOB::bookmark::1::abc", kind: ActionCustom, index: 1},
		{name: "other custom", raw: "MJ::Outpaint::50::1::abc::SOLO", kind: ActionCustom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCustomID(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.index, got.Index)
			assert.Equal(t, tt.modal, got.Modal)
		})
	}

	_, err := ParseCustomID("not-a-custom-id")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpstreamErrorClassification(t *testing.T) {
	assert.ErrorIs(t, &UpstreamError{Code: CodeTooManyRequests}, ErrTransientUpstream)
	assert.ErrorIs(t, &UpstreamError{Code: CodeNotFound}, ErrTransientUpstream)
	assert.ErrorIs(t, &UpstreamError{Code: 502}, ErrTransientUpstream)
	assert.ErrorIs(t, &UpstreamError{Code: CodeForbidden}, ErrFatalUpstream)

	plain := &UpstreamError{Code: 400, Message: "bad prompt"}
	assert.False(t, errors.Is(plain, ErrTransientUpstream))
	assert.False(t, errors.Is(plain, ErrFatalUpstream))
	assert.Equal(t, "upstream returned 400: bad prompt", plain.Error())
}

func TestCapacityPolicyDefaultsAndTiers(t *testing.T) {
	policy := CapacityPolicy{RelaxCoreSize: 2, RelaxQueueSize: 4, DayDrawLimit: Unlimited, DayRelaxDrawLimit: 50}
	policy.ApplyDefaults()

	assert.Equal(t, DefaultCoreSize, policy.Core(TierDefault))
	assert.Equal(t, DefaultCoreSize, policy.Core(TierDescribe))
	assert.Equal(t, 2, policy.Core(TierRelax))
	assert.Equal(t, 0, policy.Core(TierUpscale))
	assert.Equal(t, DefaultQueueSize, policy.Queue(TierDefault))
	assert.Equal(t, 4, policy.Queue(TierRelax))
	assert.Equal(t, 0, policy.Queue(TierUpscale))
	assert.Equal(t, Unlimited, policy.DayLimit(TierDefault))
	assert.Equal(t, 50, policy.DayLimit(TierRelax))
	assert.True(t, policy.SupportsRelax())
	assert.Equal(t, DefaultSeedParallelism, policy.SeedParallelism)
	require.NoError(t, policy.Validate())
}

func TestCapacityPolicyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  CapacityPolicy
		wantErr string
	}{
		{name: "valid", policy: CapacityPolicy{CoreSize: 1, DayDrawLimit: -1, DayRelaxDrawLimit: -1}},
		{name: "negative core", policy: CapacityPolicy{CoreSize: -1}, wantErr: "core sizes must not be negative"},
		{name: "limit below unlimited", policy: CapacityPolicy{DayDrawLimit: -2}, wantErr: "daily draw limits"},
		{name: "inverted delay", policy: CapacityPolicy{PostSubmitDelay: DelayRange{Min: time.Second, Max: time.Millisecond}}, wantErr: "post-submit delay"},
		{name: "unknown forced mode", policy: CapacityPolicy{ForcedMode: "warp"}, wantErr: "unknown speed mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.policy.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestDelayRangePickStaysInBounds(t *testing.T) {
	r := DelayRange{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for range 1_000 {
		got := r.Pick()
		assert.GreaterOrEqual(t, got, r.Min)
		assert.LessOrEqual(t, got, r.Max)
	}
	assert.Equal(t, time.Duration(0), DelayRange{}.Pick())
	assert.Equal(t, time.Second, DelayRange{Min: time.Second}.Pick())
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierUpscale, TierFor(FuncAction, ActionUpscale, ModeRelax))
	assert.Equal(t, TierDescribe, TierFor(FuncDescribe, ActionDescribe, ModeFast))
	assert.Equal(t, TierRelax, TierFor(FuncSubmit, ActionImagine, ModeRelax))
	assert.Equal(t, TierDefault, TierFor(FuncSubmit, ActionImagine, ModeTurbo))
	assert.Equal(t, TierDefault, TierFor(FuncSubmit, ActionImagine, ""))
}

func TestUnitsAndCompactNumber(t *testing.T) {
	assert.Equal(t, int64(1), Units(ActionImagine, ModeFast))
	assert.Equal(t, int64(2), Units(ActionImagine, ModeTurbo))
	assert.Equal(t, int64(0), Units(ActionImagine, ModeRelax))
	assert.Equal(t, int64(16), Units(ActionVideo, ModeTurbo))
	assert.Equal(t, int64(0), Units(ActionDescribe, ModeFast))

	assert.Equal(t, "999", CompactNumber(999))
	assert.Equal(t, "1.0k", CompactNumber(1_000))
	assert.Equal(t, "1.0M", CompactNumber(1_000_000))
}

func TestParseAccountKind(t *testing.T) {
	kind, err := ParseAccountKind("")
	require.NoError(t, err)
	assert.Equal(t, AccountKindDirect, kind)

	kind, err = ParseAccountKind("Partner")
	require.NoError(t, err)
	assert.True(t, kind.DrainsUpscalesGreedily())
	assert.False(t, AccountKindDirect.DrainsUpscalesGreedily())

	_, err = ParseAccountKind("robot")
	assert.ErrorIs(t, err, ErrValidation)
}
