package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(homeDir, ".drawq", "accounts.toml"), cfg.Accounts.Path)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "drawq", cfg.Redis.Prefix)
	assert.Equal(t, 100*time.Millisecond, cfg.Dispatch.SelectionBudget)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 12*time.Hour, cfg.Recovery.Window)

	workerCfg := cfg.Worker()
	assert.Equal(t, 2*time.Second, workerCfg.Retry.MinBackoff)
	assert.Equal(t, 5*time.Second, workerCfg.Retry.MaxBackoff)
	assert.Equal(t, int64(10), cfg.QuotaConfig().TurboMinRemaining)
	assert.Equal(t, cfg.Accounts.Path, cfg.Viper().GetString("accounts.path"))
}

func TestLoadReadsFileAndEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DRAWQ_REDIS_ADDR", "redis.internal:6380")

	path := filepath.Join(t.TempDir(), "drawq.toml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		`backend = "memory"`,
		"",
		"[dispatch]",
		`rule = "round_robin"`,
		`idle_wait = "3s"`,
		"global_concurrency = 8",
		"",
		"[retry]",
		"max_retries = 5",
		"",
		"[accounts]",
		`refresh = "1m"`,
		"",
	}, "\n")), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "round_robin", cfg.Dispatch.Rule)
	assert.Equal(t, 3*time.Second, cfg.Dispatch.IdleWait)
	assert.Equal(t, 8, cfg.Worker().GlobalConcurrency)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Accounts.Refresh)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "read config file")
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Backend = "etcd"
	cfg.Tasks.Store = StorePostgres
	cfg.Dispatch.Rule = "fastest"

	err = cfg.Validate()
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorContains(t, err, "backend must be")
	assert.ErrorContains(t, err, "postgres.dsn is required")
	assert.ErrorContains(t, err, "unknown selection rule")
}
