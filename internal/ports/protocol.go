package ports

import (
	"context"

	"github.com/bnema/drawq/internal/domain"
)

type SubmitRequest struct {
	Function  domain.Function
	Action    domain.ActionKind
	Mode      domain.SpeedMode
	AccountID domain.AccountID
	TaskID    domain.TaskID
	Prompt    string
	MessageID string
	CustomID  string
	Nonce     string
	Payload   map[string]string
}

type SubmitResult struct {
	MessageID  string
	Properties map[string]string
}

type StatusUpdate struct {
	TaskID     domain.TaskID
	Status     domain.TaskStatus
	Progress   string
	ImageURL   string
	FailReason string
	Properties map[string]string
}

type Asset struct {
	Name        string
	ContentType string
	Data        []byte
	URL         string
}

// ProtocolAdapter talks to the upstream bot platform for one account.
// Failures carry a *domain.UpstreamError when the platform answered.
type ProtocolAdapter interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	Poll(ctx context.Context, task domain.Task) (StatusUpdate, error)
	UploadAsset(ctx context.Context, asset Asset) (string, error)
}

// QuotaReporter is implemented by adapters able to fetch the upstream quota.
type QuotaReporter interface {
	FetchQuota(ctx context.Context) (domain.QuotaSnapshot, error)
}

// ConnectivityProbe reports whether the account's upstream link is usable.
type ConnectivityProbe interface {
	Alive() bool
}

type Notifier interface {
	Notify(ctx context.Context, task domain.Task) error
}
