package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionPrintsBuildVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestVersionIgnoresBrokenConfig(t *testing.T) {
	home := t.TempDir()
	_, _, err := executeCLI(t, home, "--config", filepath.Join(home, "missing.toml"), "version")
	require.NoError(t, err)
}

func TestExplicitMissingConfigFails(t *testing.T) {
	home := t.TempDir()
	_, _, err := executeCLI(t, home, "--config", filepath.Join(home, "missing.toml"), "account", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestAccountListShowsConfiguredAccounts(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	stdout, _, err := executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "acc-1\tPrimary\tDirect\tenabled\tcore 2\tqueue 5")
}

func TestAccountListJSONOutput(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	stdout, _, err := executeCLI(t, home, "account", "list", "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, "\"ID\": \"acc-1\"")
}

func TestAccountAddThenList(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	stdout, _, err := executeCLI(t, home,
		"account", "add",
		"--id", "acc-2",
		"--kind", "partner",
		"--core-size", "4",
		"--queue-size", "8",
		"--tag", "eu",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Added account acc-2 (Account acc-2)")

	stdout, _, err = executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "acc-2\tAccount acc-2\tPartner\tenabled\tcore 4\tqueue 8")
}

func TestAccountAddRequiresID(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	_, _, err := executeCLI(t, home, "account", "add", "--name", "Nameless")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag(s) \"id\" not set")
}

func TestAccountAddRejectsDuplicate(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	_, _, err := executeCLI(t, home, "account", "add", "--id", "acc-1")
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "already exists")
}

func TestAccountDisableShowsInPoolStatus(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	stdout, _, err := executeCLI(t, home, "account", "disable", "acc-1", "--reason", "banned upstream")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Disabled account acc-1 (version 2)")

	stdout, _, err = executeCLI(t, home, "pool", "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[disabled: banned upstream]")

	stdout, _, err = executeCLI(t, home, "account", "enable", "acc-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Enabled account acc-1 (version 3)")
}

func TestAccountSetCapacityRequiresAField(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	_, _, err := executeCLI(t, home, "account", "set-capacity", "acc-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAccountSetCapacityChangesPolicy(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	_, _, err := executeCLI(t, home, "account", "set-capacity", "acc-1", "--core-size", "6")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "core 6\tqueue 5")
}

func TestAccountSetTokenWritesSecretFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	_, _, err := executeCLI(t, home, "account", "set-token", "acc-1", "--token", "relay-token")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(home, ".drawq", "secrets", "relay", "acc-1", "token"))
	require.NoError(t, err)
	assert.Equal(t, "relay-token", string(data))

	stdout, _, err := executeCLI(t, home, "account", "list", "--json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "\"SecretRef\": \"relay/acc-1/token\"")
}

func TestAccountRemoveDeletesAccount(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	_, _, err := executeCLI(t, home, "account", "remove", "acc-1")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Empty(t, stdout)

	_, _, err = executeCLI(t, home, "account", "remove", "acc-1")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestPoolStatusRendersTiers(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	stdout, _, err := executeCLI(t, home, "pool", "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Account Pool")
	assert.Contains(t, stdout, "accounts: 1  alive: 1")
	assert.Contains(t, stdout, "Primary (acc-1, Direct)")
	assert.Contains(t, stdout, "(running 0/2, queued 0/5)")
}

func TestPoolStatusJSONOutput(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	stdout, _, err := executeCLI(t, home, "pool", "status", "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, "\"Alive\": true")
	assert.Contains(t, stdout, "\"ID\": \"acc-1\"")
}

func TestPoolStatusFiltersByAccount(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	stdout, _, err := executeCLI(t, home, "pool", "status", "--account", "ghost")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No accounts registered.")
}

func TestTaskSubmitQueuesOnAccount(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	stdout, _, err := executeCLI(t, home, "task", "submit", "--prompt", "a lighthouse at dusk")
	require.NoError(t, err)
	assert.Contains(t, stdout, "on account acc-1 (mode fast, position 1)")
}

func TestTaskSubmitJSONOutput(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	stdout, _, err := executeCLI(t, home, "task", "submit", "--prompt", "a lighthouse", "--mode", "turbo", "--json")
	require.NoError(t, err)

	var task domain.Task
	require.NoError(t, json.Unmarshal([]byte(stdout), &task))
	assert.Equal(t, domain.StatusNotStarted, task.Status)
	assert.Equal(t, domain.ModeTurbo, task.Mode)
	assert.Equal(t, domain.AccountID("acc-1"), task.AccountID)
	assert.NotEmpty(t, task.ID)
}

func TestTaskSubmitRejectsUnknownAction(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	_, _, err := executeCLI(t, home, "task", "submit", "--action", "paint", "--prompt", "x")
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestTaskSubmitWithoutEligibleAccountFails(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	_, _, err := executeCLI(t, home, "task", "submit", "--prompt", "x", "--deny", "acc-1")
	require.ErrorIs(t, err, domain.ErrCapacity)
}

func TestTaskGetUnknownTask(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))

	_, _, err := executeCLI(t, home, "task", "get", "missing")
	require.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestServeStopsWhenContextIsDone(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeFixtures(home))
	t.Setenv("HOME", home)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "--metrics-addr", "off"})

	require.NoError(t, root.ExecuteContext(ctx))
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// writeFixtures writes an in-memory config and a one-account store below
// home/.drawq.
func writeFixtures(home string) error {
	configDir := filepath.Join(home, ".drawq")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}

	config := `backend = "memory"

[tasks]
store = "memory"

[log]
level = 0
`
	if err := os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(config), 0o644); err != nil {
		return err
	}

	accounts := `version = 1

[[accounts]]
id = "acc-1"
name = "Primary"
version = 1

[accounts.policy]
core_size = 2
queue_size = 5
`

	return os.WriteFile(filepath.Join(configDir, "accounts.toml"), []byte(accounts), 0o600)
}
