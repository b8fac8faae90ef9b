package worker

import (
	"context"
	"errors"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	"github.com/bnema/drawq/internal/quota"
	"github.com/go-logr/logr"
)

type RetryConfig struct {
	// MaxRetries bounds the retries of one protocol call, not counting the
	// first attempt.
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type Config struct {
	IdleWait          time.Duration
	BusyWait          time.Duration
	PollInterval      time.Duration
	RecoveryWindow    time.Duration
	GlobalConcurrency int
	SeedTimeout       time.Duration
	SeedLockTTL       time.Duration
	Retry             RetryConfig
}

func DefaultConfig() Config {
	return Config{
		IdleWait:       10 * time.Second,
		BusyWait:       200 * time.Millisecond,
		PollInterval:   5 * time.Second,
		RecoveryWindow: 12 * time.Hour,
		SeedTimeout:    time.Minute,
		SeedLockTTL:    30 * time.Second,
		Retry: RetryConfig{
			MaxRetries: 3,
			MinBackoff: 2 * time.Second,
			MaxBackoff: 5 * time.Second,
		},
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.IdleWait <= 0 {
		c.IdleWait = defaults.IdleWait
	}
	if c.BusyWait <= 0 {
		c.BusyWait = defaults.BusyWait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = defaults.RecoveryWindow
	}
	if c.SeedTimeout <= 0 {
		c.SeedTimeout = defaults.SeedTimeout
	}
	if c.SeedLockTTL <= 0 {
		c.SeedLockTTL = defaults.SeedLockTTL
	}
	if c.Retry == (RetryConfig{}) {
		c.Retry = defaults.Retry
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.MaxBackoff < c.Retry.MinBackoff {
		c.Retry.MaxBackoff = c.Retry.MinBackoff
	}
}

// AccountDisabler persists the permanent disabling of an account.
type AccountDisabler interface {
	Disable(ctx context.Context, id domain.AccountID, reason string) (domain.Account, error)
}

type Deps struct {
	Backend  ports.Backend
	Tasks    ports.TaskRepository
	Quota    *quota.Tracker
	Adapter  ports.ProtocolAdapter
	Notifier ports.Notifier
	Accounts AccountDisabler
	Probe    ports.ConnectivityProbe
	Clock    ports.Clock
	Logger   logr.Logger
}

func (d *Deps) validate() error {
	var errs []error
	if d.Backend == nil {
		errs = append(errs, errors.New("coordination backend is nil"))
	}
	if d.Tasks == nil {
		errs = append(errs, errors.New("task repository is nil"))
	}
	if d.Quota == nil {
		errs = append(errs, errors.New("quota tracker is nil"))
	}
	if d.Adapter == nil {
		errs = append(errs, errors.New("protocol adapter is nil"))
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Clock == nil {
		d.Clock = ports.SystemClock{}
	}
	return errors.Join(errs...)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Task) error { return nil }
