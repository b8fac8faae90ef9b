package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	"github.com/bnema/drawq/internal/worker"
)

// AccountService administers the account store. Every change bumps the
// account's version so running instances pick it up on their next sync.
type AccountService struct {
	repo  ports.AccountRepository
	store ports.SecretStore
	clock ports.Clock
}

var _ worker.AccountDisabler = (*AccountService)(nil)

func NewAccountService(repo ports.AccountRepository, store ports.SecretStore, clock ports.Clock) *AccountService {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &AccountService{
		repo:  repo,
		store: store,
		clock: clock,
	}
}

// CapacityUpdate holds the policy fields to change; nil fields are kept.
type CapacityUpdate struct {
	CoreSize          *int
	QueueSize         *int
	RelaxCoreSize     *int
	RelaxQueueSize    *int
	DescribeCoreSize  *int
	DescribeQueueSize *int
	DayDrawLimit      *int
	DayRelaxDrawLimit *int
	Timeout           *time.Duration
}

func (u CapacityUpdate) empty() bool {
	return u == CapacityUpdate{}
}

func (u CapacityUpdate) apply(policy *domain.CapacityPolicy) {
	set := func(target *int, value *int) {
		if value != nil {
			*target = *value
		}
	}
	set(&policy.CoreSize, u.CoreSize)
	set(&policy.QueueSize, u.QueueSize)
	set(&policy.RelaxCoreSize, u.RelaxCoreSize)
	set(&policy.RelaxQueueSize, u.RelaxQueueSize)
	set(&policy.DescribeCoreSize, u.DescribeCoreSize)
	set(&policy.DescribeQueueSize, u.DescribeQueueSize)
	set(&policy.DayDrawLimit, u.DayDrawLimit)
	set(&policy.DayRelaxDrawLimit, u.DayRelaxDrawLimit)
	if u.Timeout != nil {
		policy.Timeout = *u.Timeout
	}
}

func (s *AccountService) List(ctx context.Context) ([]domain.Account, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	slices.SortFunc(accounts, func(a, b domain.Account) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return accounts, nil
}

func (s *AccountService) Get(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account by id: %w", err)
	}
	return account, nil
}

// Add stores a new account with its policy defaults filled in.
func (s *AccountService) Add(ctx context.Context, account domain.Account) (domain.Account, error) {
	account.ID = domain.AccountID(strings.TrimSpace(string(account.ID)))
	account.Normalize()
	if err := account.Validate(); err != nil {
		return domain.Account{}, err
	}

	_, err := s.repo.GetByID(ctx, account.ID)
	if err == nil {
		return domain.Account{}, fmt.Errorf("%w: account %s already exists", domain.ErrValidation, account.ID)
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Account{}, fmt.Errorf("get account by id: %w", err)
	}

	if account.Name == "" {
		account.Name = fmt.Sprintf("Account %s", account.ID)
	}
	account.Version = max(account.Version, 1)
	account.UpdatedAt = s.clock.Now()

	if err := s.repo.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}
	return account, nil
}

func (s *AccountService) Enable(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	return s.update(ctx, id, "enable", func(account *domain.Account) error {
		account.Enabled = true
		account.DisabledReason = ""
		return nil
	})
}

// Disable switches the account off for good; instances stop admitting it
// once they see the new version.
func (s *AccountService) Disable(ctx context.Context, id domain.AccountID, reason string) (domain.Account, error) {
	return s.update(ctx, id, "disable", func(account *domain.Account) error {
		account.Enabled = false
		account.DisabledReason = strings.TrimSpace(reason)
		return nil
	})
}

func (s *AccountService) SetCapacity(ctx context.Context, id domain.AccountID, update CapacityUpdate) (domain.Account, error) {
	if update.empty() {
		return domain.Account{}, fmt.Errorf("%w: no capacity field given", domain.ErrValidation)
	}

	return s.update(ctx, id, "capacity", func(account *domain.Account) error {
		update.apply(&account.Policy)
		return account.Policy.Validate()
	})
}

// SetToken stores the relay token under secretKey and points the account at
// it. A token stored under a different key before is deleted afterwards.
func (s *AccountService) SetToken(ctx context.Context, id domain.AccountID, secretKey, token string) error {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get account by id: %w", err)
	}
	original := account
	previous := account.SecretRef

	if err := s.store.Put(ctx, secretKey, token); err != nil {
		return fmt.Errorf("store account token: %w", err)
	}

	account.SecretRef = secretKey
	account.Version++
	account.UpdatedAt = s.clock.Now()

	if err := s.repo.Save(ctx, account); err != nil {
		if rollbackErr := s.store.Delete(ctx, secretKey); rollbackErr != nil {
			return fmt.Errorf("save account token and rollback stored secret: %w", errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("save account token: %w", err)
	}

	if previous == "" || previous == secretKey {
		return nil
	}
	if err := s.store.Delete(ctx, previous); err != nil {
		var rollbackErr error
		if restoreErr := s.repo.Save(ctx, original); restoreErr != nil {
			rollbackErr = errors.Join(rollbackErr, restoreErr)
		}
		if newSecretDeleteErr := s.store.Delete(ctx, secretKey); newSecretDeleteErr != nil {
			rollbackErr = errors.Join(rollbackErr, newSecretDeleteErr)
		}
		if rollbackErr != nil {
			return fmt.Errorf("delete previous account token and rollback token update: %w", errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("delete previous account token: %w", err)
	}

	return nil
}

// Remove deletes the account and the token it references.
func (s *AccountService) Remove(ctx context.Context, id domain.AccountID) error {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get account by id: %w", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	if account.SecretRef == "" || s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, account.SecretRef); err != nil && !errors.Is(err, domain.ErrSecretNotFound) {
		return fmt.Errorf("delete account token: %w", err)
	}
	return nil
}

func (s *AccountService) update(ctx context.Context, id domain.AccountID, what string, mutate func(*domain.Account) error) (domain.Account, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account by id: %w", err)
	}

	if err := mutate(&account); err != nil {
		return domain.Account{}, err
	}
	account.Version++
	account.UpdatedAt = s.clock.Now()

	if err := s.repo.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account %s: %w", what, err)
	}
	return account, nil
}
