// Package selection holds the strategies that pick one account out of an
// already filtered candidate list.
package selection

import (
	"fmt"
	"strings"

	"github.com/bnema/drawq/internal/domain"
)

// Candidate is anything a Rule can rank.
type Candidate interface {
	// Load returns the queued count and the queue capacity of the tier being
	// selected for.
	Load() (queued int, capacity int)
	Weight() int
}

// Rule picks one candidate. Implementations keep no state besides internal
// counters and are safe for concurrent use.
type Rule interface {
	Name() string
	Choose(candidates []Candidate) (Candidate, bool)
}

const (
	NameUtilization = "utilization"
	NameRoundRobin  = "round_robin"
	NameRandom      = "random"
	NameWeighted    = "weighted"
)

// New resolves a rule by its configured name. An empty name selects the
// utilization rule.
func New(name string) (Rule, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameUtilization:
		return NewUtilization(), nil
	case NameRoundRobin:
		return NewRoundRobin(), nil
	case NameRandom:
		return NewRandom(), nil
	case NameWeighted:
		return NewWeighted(), nil
	default:
		return nil, fmt.Errorf("%w: unknown selection rule %q", domain.ErrValidation, name)
	}
}
