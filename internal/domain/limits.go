package domain

import "time"

// QuotaSnapshot is the quota state reported by the upstream platform.
type QuotaSnapshot struct {
	FastRemaining     int64
	RelaxResetPending bool
	AsOf              time.Time
}

func (s QuotaSnapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	if s.AsOf.IsZero() {
		return true
	}

	if maxAge <= 0 {
		return false
	}

	return now.Sub(s.AsOf) > maxAge
}
