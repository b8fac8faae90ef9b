// Package config loads the drawq configuration from ~/.drawq/config.toml (or
// an explicit file) and DRAWQ_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/logging"
	"github.com/bnema/drawq/internal/quota"
	"github.com/bnema/drawq/internal/selection"
	"github.com/bnema/drawq/internal/worker"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "DRAWQ"
	configDir  = ".drawq"
	configName = "config"
	configType = "toml"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Accounts Accounts `mapstructure:"accounts"`
	Backend  string   `mapstructure:"backend"`
	Redis    Redis    `mapstructure:"redis"`
	Tasks    Tasks    `mapstructure:"tasks"`
	Postgres Postgres `mapstructure:"postgres"`
	Notify   Notify   `mapstructure:"notify"`
	Relay    Relay    `mapstructure:"relay"`
	Secrets  Secrets  `mapstructure:"secrets"`
	Dispatch Dispatch `mapstructure:"dispatch"`
	Retry    Retry    `mapstructure:"retry"`
	Quota    Quota    `mapstructure:"quota"`
	Recovery Recovery `mapstructure:"recovery"`
	Seed     Seed     `mapstructure:"seed"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Log      Log      `mapstructure:"log"`

	v *viper.Viper
}

type Accounts struct {
	Path    string        `mapstructure:"path"`
	Refresh time.Duration `mapstructure:"refresh"`
}

type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

type Tasks struct {
	Store string        `mapstructure:"store"`
	TTL   time.Duration `mapstructure:"ttl"`
}

type Postgres struct {
	DSN        string `mapstructure:"dsn"`
	AutoCreate bool   `mapstructure:"autocreate"`
}

type Notify struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	AMQPURL      string        `mapstructure:"amqp_url"`
	AMQPExchange string        `mapstructure:"amqp_exchange"`
	DedupTTL     time.Duration `mapstructure:"dedup_ttl"`
}

type Relay struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Secrets struct {
	Dir string `mapstructure:"dir"`
}

type Dispatch struct {
	Rule              string        `mapstructure:"rule"`
	GlobalConcurrency int           `mapstructure:"global_concurrency"`
	SelectionBudget   time.Duration `mapstructure:"selection_budget"`
	IdleWait          time.Duration `mapstructure:"idle_wait"`
	BusyWait          time.Duration `mapstructure:"busy_wait"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

type Retry struct {
	MaxRetries int           `mapstructure:"max_retries"`
	MinBackoff time.Duration `mapstructure:"min_backoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

type Quota struct {
	FastMinRemaining  int64         `mapstructure:"fast_min_remaining"`
	TurboMinRemaining int64         `mapstructure:"turbo_min_remaining"`
	LowWater          int64         `mapstructure:"low_water"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

type Recovery struct {
	Window time.Duration `mapstructure:"window"`
}

type Seed struct {
	Timeout time.Duration `mapstructure:"timeout"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type Metrics struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level       int  `mapstructure:"level"`
	Development bool `mapstructure:"development"`
}

// Load reads path, or ~/.drawq/config.toml when path is empty. A missing
// default file is not an error; a missing explicit file is.
func Load(path string) (Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(filepath.Join(homeDir, configDir))
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, homeDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.v = v

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, homeDir string) {
	workerDefaults := worker.DefaultConfig()
	quotaDefaults := quota.DefaultConfig()

	v.SetDefault("accounts.path", filepath.Join(homeDir, configDir, "accounts.toml"))
	v.SetDefault("accounts.refresh", 30*time.Second)
	v.SetDefault("backend", BackendRedis)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "drawq")
	v.SetDefault("redis.lease_ttl", 15*time.Minute)
	v.SetDefault("tasks.store", BackendRedis)
	v.SetDefault("tasks.ttl", 7*24*time.Hour)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.autocreate", true)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.amqp_url", "")
	v.SetDefault("notify.amqp_exchange", "drawq.tasks")
	v.SetDefault("notify.dedup_ttl", time.Hour)
	v.SetDefault("relay.base_url", "http://127.0.0.1:8080")
	v.SetDefault("relay.timeout", 30*time.Second)
	v.SetDefault("secrets.dir", filepath.Join(homeDir, configDir, "secrets"))
	v.SetDefault("dispatch.rule", selection.NameUtilization)
	v.SetDefault("dispatch.global_concurrency", 0)
	v.SetDefault("dispatch.selection_budget", 100*time.Millisecond)
	v.SetDefault("dispatch.idle_wait", workerDefaults.IdleWait)
	v.SetDefault("dispatch.busy_wait", workerDefaults.BusyWait)
	v.SetDefault("dispatch.poll_interval", workerDefaults.PollInterval)
	v.SetDefault("retry.max_retries", workerDefaults.Retry.MaxRetries)
	v.SetDefault("retry.min_backoff", workerDefaults.Retry.MinBackoff)
	v.SetDefault("retry.max_backoff", workerDefaults.Retry.MaxBackoff)
	v.SetDefault("quota.fast_min_remaining", quotaDefaults.FastMinRemaining)
	v.SetDefault("quota.turbo_min_remaining", quotaDefaults.TurboMinRemaining)
	v.SetDefault("quota.low_water", quotaDefaults.LowWater)
	v.SetDefault("quota.cache_ttl", quotaDefaults.CacheTTL)
	v.SetDefault("recovery.window", workerDefaults.RecoveryWindow)
	v.SetDefault("seed.timeout", workerDefaults.SeedTimeout)
	v.SetDefault("seed.lock_ttl", workerDefaults.SeedLockTTL)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log.level", logging.DEFAULT)
	v.SetDefault("log.development", false)
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendRedis, BackendMemory, c.Backend))
	}
	switch c.Tasks.Store {
	case BackendRedis, BackendMemory:
	case StorePostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			errs = append(errs, errors.New("postgres.dsn is required when tasks.store is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("tasks.store must be redis, postgres or memory, got %q", c.Tasks.Store))
	}
	if _, err := selection.New(c.Dispatch.Rule); err != nil {
		errs = append(errs, err)
	}
	if c.Retry.MaxBackoff < c.Retry.MinBackoff {
		errs = append(errs, fmt.Errorf("retry.max_backoff %s is below retry.min_backoff %s", c.Retry.MaxBackoff, c.Retry.MinBackoff))
	}
	if c.Log.Level < 0 || c.Log.Level > logging.TRACE {
		errs = append(errs, fmt.Errorf("log.level must be between 0 and %d", logging.TRACE))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return nil
}

// Viper exposes the loaded settings to components that read their own keys,
// such as the account repository.
func (c Config) Viper() *viper.Viper {
	if c.v == nil {
		v := viper.New()
		v.Set("accounts.path", c.Accounts.Path)
		return v
	}
	return c.v
}

func (c Config) Worker() worker.Config {
	return worker.Config{
		IdleWait:          c.Dispatch.IdleWait,
		BusyWait:          c.Dispatch.BusyWait,
		PollInterval:      c.Dispatch.PollInterval,
		RecoveryWindow:    c.Recovery.Window,
		GlobalConcurrency: c.Dispatch.GlobalConcurrency,
		SeedTimeout:       c.Seed.Timeout,
		SeedLockTTL:       c.Seed.LockTTL,
		Retry: worker.RetryConfig{
			MaxRetries: c.Retry.MaxRetries,
			MinBackoff: c.Retry.MinBackoff,
			MaxBackoff: c.Retry.MaxBackoff,
		},
	}
}

func (c Config) QuotaConfig() quota.Config {
	return quota.Config{
		FastMinRemaining:  c.Quota.FastMinRemaining,
		TurboMinRemaining: c.Quota.TurboMinRemaining,
		LowWater:          c.Quota.LowWater,
		CacheTTL:          c.Quota.CacheTTL,
	}
}
