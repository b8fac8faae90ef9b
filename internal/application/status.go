package application

import "github.com/bnema/drawq/internal/domain"

type TierStatus struct {
	Tier          domain.Tier
	Queued        int
	QueueCapacity int
	Executing     int
	Core          int
}

// InstanceStatus is a point-in-time view of one account. Queue and gate
// counts are shared across processes; Running only covers this process.
type InstanceStatus struct {
	Account domain.Account
	Alive   bool
	Running int
	// FastRemaining is only meaningful when QuotaKnown is set.
	FastRemaining int64
	QuotaKnown    bool
	Tiers         []TierStatus
}

type EnqueueResult struct {
	Accepted bool
	Position int
	Task     domain.Task
}

type SyncResult struct {
	Added   []domain.AccountID
	Updated []domain.AccountID
	Removed []domain.AccountID
}

func (r SyncResult) Changed() bool {
	return len(r.Added)+len(r.Updated)+len(r.Removed) > 0
}
