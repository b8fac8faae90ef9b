package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configName         = "config"
	configType         = "toml"
	accountsPathKey    = "accounts.path"
	accountsFileMode   = 0o600
	accountsDirMode    = 0o700
	accountsConfigDir  = ".drawq"
	accountsConfigFile = "accounts.toml"
	tempFilePattern    = ".accounts-*.toml.tmp"
)

type Repository struct {
	accountsPath string
	mu           *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.AccountRepository = (*Repository)(nil)

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	defaultPath := filepath.Join(homeDir, accountsConfigDir, accountsConfigFile)

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(filepath.Join(homeDir, accountsConfigDir))
	cfg.SetDefault(accountsPathKey, defaultPath)

	if cfg.ConfigFileUsed() == "" {
		err = cfg.ReadInConfig()
		if err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	accountsPath := cfg.GetString(accountsPathKey)
	if accountsPath == "" {
		return nil, errors.New("accounts path is empty")
	}
	accountsPath, err = normalizeAccountsPath(accountsPath)
	if err != nil {
		return nil, err
	}

	return &Repository{accountsPath: accountsPath, mu: lockForPath(accountsPath)}, nil
}

// Path is the account file this repository reads and writes.
func (r *Repository) Path() string {
	return r.accountsPath
}

func (r *Repository) Save(ctx context.Context, account domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}
	file.applyDefaults()

	encoded := toSchema(account)
	updated := false
	for i := range file.Accounts {
		if file.Accounts[i].ID == encoded.ID {
			file.Accounts[i] = encoded
			updated = true
			break
		}
	}

	if !updated {
		file.Accounts = append(file.Accounts, encoded)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *Repository) GetByID(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.Account{}, err
	}

	for _, entry := range file.Accounts {
		if entry.ID == string(id) {
			return fromSchema(entry)
		}
	}

	return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
}

func (r *Repository) List(ctx context.Context) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(file.Accounts))
	for _, entry := range file.Accounts {
		account, err := fromSchema(entry)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, nil
}

func (r *Repository) Delete(ctx context.Context, id domain.AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	before := len(file.Accounts)
	file.Accounts = slices.DeleteFunc(file.Accounts, func(entry accountSchema) bool {
		return entry.ID == string(id)
	})
	if len(file.Accounts) == before {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}

	return r.writeSchema(file)
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.accountsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, nil
		}
		return fileSchema{}, fmt.Errorf("read accounts file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode accounts file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizeAccountsPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve accounts path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.accountsPath), accountsDirMode); err != nil {
		return fmt.Errorf("create accounts directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode accounts file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.accountsPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp accounts file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp accounts file: %w", err)
	}

	if err := tempFile.Chmod(accountsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp accounts file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp accounts file: %w", err)
	}

	if err := os.Rename(tempName, r.accountsPath); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}

	cleanup = false

	if err := os.Chmod(r.accountsPath, accountsFileMode); err != nil {
		return fmt.Errorf("chmod accounts file: %w", err)
	}

	return nil
}

func toSchema(account domain.Account) accountSchema {
	policy := account.Policy

	return accountSchema{
		ID:             string(account.ID),
		Name:           account.Name,
		Enabled:        &account.Enabled,
		DisabledReason: account.DisabledReason,
		Kind:           string(account.Kind),
		Variant:        account.Variant,
		Capabilities:   toStrings(account.Capabilities),
		Domains:        account.Domains,
		Remix:          account.Remix,
		Tags:           account.Tags,
		AcceptNew:      &account.AcceptNew,
		AcceptFollowUp: &account.AcceptFollowUp,
		Weight:         account.Weight,
		SecretRef:      account.SecretRef,
		Version:        account.Version,
		UpdatedAt:      formatTime(account.UpdatedAt),
		Policy: policySchema{
			CoreSize:           policy.CoreSize,
			QueueSize:          policy.QueueSize,
			RelaxCoreSize:      policy.RelaxCoreSize,
			RelaxQueueSize:     policy.RelaxQueueSize,
			DescribeCoreSize:   policy.DescribeCoreSize,
			DescribeQueueSize:  policy.DescribeQueueSize,
			AllowedModes:       toStrings(policy.AllowedModes),
			ForcedMode:         string(policy.ForcedMode),
			DayDrawLimit:       policy.DayDrawLimit,
			DayRelaxDrawLimit:  policy.DayRelaxDrawLimit,
			PreSubmitDelay:     formatDuration(policy.PreSubmitDelay),
			PostSubmitDelayMin: formatDuration(policy.PostSubmitDelay.Min),
			PostSubmitDelayMax: formatDuration(policy.PostSubmitDelay.Max),
			Timeout:            formatDuration(policy.Timeout),
			SeedParallelism:    policy.SeedParallelism,
		},
	}
}

func fromSchema(account accountSchema) (domain.Account, error) {
	var errs []error
	duration := func(field, raw string) time.Duration {
		value, err := parseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %s: %w", account.ID, field, err))
		}
		return value
	}

	policy := domain.CapacityPolicy{
		CoreSize:          account.Policy.CoreSize,
		QueueSize:         account.Policy.QueueSize,
		RelaxCoreSize:     account.Policy.RelaxCoreSize,
		RelaxQueueSize:    account.Policy.RelaxQueueSize,
		DescribeCoreSize:  account.Policy.DescribeCoreSize,
		DescribeQueueSize: account.Policy.DescribeQueueSize,
		AllowedModes:      fromStrings[domain.SpeedMode](account.Policy.AllowedModes),
		ForcedMode:        domain.SpeedMode(account.Policy.ForcedMode),
		DayDrawLimit:      account.Policy.DayDrawLimit,
		DayRelaxDrawLimit: account.Policy.DayRelaxDrawLimit,
		PreSubmitDelay:    duration("pre_submit_delay", account.Policy.PreSubmitDelay),
		PostSubmitDelay: domain.DelayRange{
			Min: duration("post_submit_delay_min", account.Policy.PostSubmitDelayMin),
			Max: duration("post_submit_delay_max", account.Policy.PostSubmitDelayMax),
		},
		Timeout:         duration("timeout", account.Policy.Timeout),
		SeedParallelism: account.Policy.SeedParallelism,
	}
	if err := errors.Join(errs...); err != nil {
		return domain.Account{}, fmt.Errorf("decode accounts file: %w", err)
	}

	return domain.Account{
		ID:             domain.AccountID(account.ID),
		Name:           account.Name,
		Enabled:        boolOrTrue(account.Enabled),
		DisabledReason: account.DisabledReason,
		Kind:           domain.AccountKind(account.Kind),
		Variant:        account.Variant,
		Capabilities:   fromStrings[domain.Capability](account.Capabilities),
		Domains:        account.Domains,
		Remix:          account.Remix,
		Tags:           account.Tags,
		AcceptNew:      boolOrTrue(account.AcceptNew),
		AcceptFollowUp: boolOrTrue(account.AcceptFollowUp),
		Weight:         account.Weight,
		SecretRef:      account.SecretRef,
		Policy:         policy,
		Version:        account.Version,
		UpdatedAt:      parseTime(account.UpdatedAt),
	}, nil
}

func boolOrTrue(value *bool) bool {
	return value == nil || *value
}

func toStrings[T ~string](values []T) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, string(value))
	}
	return out
}

func fromStrings[T ~string](values []string) []T {
	if values == nil {
		return nil
	}
	out := make([]T, 0, len(values))
	for _, value := range values {
		out = append(out, T(value))
	}
	return out
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func formatDuration(value time.Duration) string {
	if value == 0 {
		return ""
	}
	return value.String()
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}
