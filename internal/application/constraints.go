package application

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bnema/drawq/internal/domain"
)

// Constraints narrow the accounts a request may land on. The zero value
// matches every alive account and tries the default mode order.
type Constraints struct {
	InstanceID      domain.AccountID
	Allow           []domain.AccountID
	Deny            []domain.AccountID
	Variant         string
	Capabilities    []domain.Capability
	Domain          string
	Remix           bool
	Tag             string
	RequireNew      bool
	RequireFollowUp bool
	Modes           []domain.SpeedMode
}

func (c Constraints) Validate() error {
	for _, mode := range c.Modes {
		parsed, err := domain.ParseSpeedMode(string(mode))
		if err != nil {
			return err
		}
		if parsed == "" {
			return fmt.Errorf("%w: empty speed mode", domain.ErrValidation)
		}
	}
	for _, id := range c.Allow {
		if slices.Contains(c.Deny, id) {
			return fmt.Errorf("%w: account %s is both allowed and denied", domain.ErrValidation, id)
		}
	}
	if c.InstanceID != "" && slices.Contains(c.Deny, c.InstanceID) {
		return fmt.Errorf("%w: account %s is both requested and denied", domain.ErrValidation, c.InstanceID)
	}
	return nil
}

func (c Constraints) modes() []domain.SpeedMode {
	if len(c.Modes) == 0 {
		return domain.DefaultModeOrder
	}
	return c.Modes
}

// Matches reports whether account satisfies every static predicate.
// Liveness and admission are checked separately.
func (c Constraints) Matches(account domain.Account) bool {
	if c.InstanceID != "" && account.ID != c.InstanceID {
		return false
	}
	if len(c.Allow) > 0 && !slices.Contains(c.Allow, account.ID) {
		return false
	}
	if slices.Contains(c.Deny, account.ID) {
		return false
	}
	if c.Variant != "" && !strings.EqualFold(account.Variant, c.Variant) {
		return false
	}
	for _, capability := range c.Capabilities {
		if !account.Has(capability) {
			return false
		}
	}
	if c.Domain != "" && !account.InDomain(c.Domain) {
		return false
	}
	if c.Remix && !account.Remix {
		return false
	}
	if c.Tag != "" && !account.HasTag(c.Tag) {
		return false
	}
	if c.RequireNew && !account.AcceptNew {
		return false
	}
	if c.RequireFollowUp && !account.AcceptFollowUp {
		return false
	}
	return true
}
