package domain

import (
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

type AccountID string

type Capability string

const (
	CapabilityDescribe Capability = "describe"
	CapabilityBlend    Capability = "blend"
	CapabilityShorten  Capability = "shorten"
	CapabilityVideo    Capability = "video"
	CapabilityHDVideo  Capability = "hd_video"
)

type Account struct {
	ID             AccountID
	Name           string
	Enabled        bool
	DisabledReason string
	Kind           AccountKind
	Variant        string
	Capabilities   []Capability
	Domains        []string
	Remix          bool
	Tags           []string
	AcceptNew      bool
	AcceptFollowUp bool
	Weight         int
	SecretRef      string
	Policy         CapacityPolicy
	Version        int64
	UpdatedAt      time.Time
}

func (a Account) Has(capability Capability) bool {
	return slices.Contains(a.Capabilities, capability)
}

func (a Account) InDomain(domain string) bool {
	return slices.Contains(a.Domains, strings.TrimSpace(domain))
}

func (a Account) HasTag(tag string) bool {
	needle := strings.ToLower(strings.TrimSpace(tag))
	for _, candidate := range a.Tags {
		if strings.Contains(strings.ToLower(candidate), needle) {
			return true
		}
	}
	return false
}

func (a Account) Validate() error {
	if strings.TrimSpace(string(a.ID)) == "" {
		return validationError("account id is required")
	}
	if _, err := ParseAccountKind(string(a.Kind)); err != nil {
		return err
	}
	return a.Policy.Validate()
}

// Normalize trims and de-duplicates list fields.
func (a *Account) Normalize() {
	if a == nil {
		return
	}

	a.Domains = normalizeList(a.Domains)
	a.Tags = normalizeList(a.Tags)

	capabilities := make([]Capability, 0, len(a.Capabilities))
	seen := make(map[Capability]struct{}, len(a.Capabilities))
	for _, capability := range a.Capabilities {
		trimmed := Capability(strings.ToLower(strings.TrimSpace(string(capability))))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		capabilities = append(capabilities, trimmed)
	}
	a.Capabilities = capabilities
	a.Policy.ApplyDefaults()
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

const (
	DefaultCoreSize        = 3
	DefaultQueueSize       = 10
	DefaultTimeout         = 5 * time.Minute
	DefaultSeedParallelism = 12
	Unlimited              = -1
)

type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Pick returns a uniformly random duration in [Min, Max].
func (r DelayRange) Pick() time.Duration {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

type CapacityPolicy struct {
	CoreSize          int
	QueueSize         int
	RelaxCoreSize     int
	RelaxQueueSize    int
	DescribeCoreSize  int
	DescribeQueueSize int
	AllowedModes      []SpeedMode
	ForcedMode        SpeedMode
	DayDrawLimit      int
	DayRelaxDrawLimit int
	PreSubmitDelay    time.Duration
	PostSubmitDelay   DelayRange
	Timeout           time.Duration
	SeedParallelism   int
}

func (p *CapacityPolicy) ApplyDefaults() {
	if p.CoreSize == 0 {
		p.CoreSize = DefaultCoreSize
	}
	if p.QueueSize == 0 {
		p.QueueSize = DefaultQueueSize
	}
	if p.DescribeCoreSize == 0 {
		p.DescribeCoreSize = p.CoreSize
	}
	if p.DescribeQueueSize == 0 {
		p.DescribeQueueSize = p.QueueSize
	}
	if len(p.AllowedModes) == 0 {
		p.AllowedModes = []SpeedMode{ModeFast, ModeTurbo, ModeRelax}
	}
	// An unset daily limit is unlimited; a tier is closed through
	// AllowedModes instead.
	if p.DayDrawLimit == 0 {
		p.DayDrawLimit = Unlimited
	}
	if p.DayRelaxDrawLimit == 0 {
		p.DayRelaxDrawLimit = Unlimited
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.SeedParallelism <= 0 {
		p.SeedParallelism = DefaultSeedParallelism
	}
}

func (p CapacityPolicy) Validate() error {
	if p.CoreSize < 0 || p.RelaxCoreSize < 0 || p.DescribeCoreSize < 0 {
		return validationError("core sizes must not be negative")
	}
	if p.DayDrawLimit < Unlimited || p.DayRelaxDrawLimit < Unlimited {
		return validationError("daily draw limits must be -1 (unlimited) or greater")
	}
	if p.PostSubmitDelay.Max > 0 && p.PostSubmitDelay.Max < p.PostSubmitDelay.Min {
		return validationError("post-submit delay max %s is below min %s", p.PostSubmitDelay.Max, p.PostSubmitDelay.Min)
	}
	if p.ForcedMode != "" {
		if _, err := ParseSpeedMode(string(p.ForcedMode)); err != nil {
			return err
		}
	}
	for _, mode := range p.AllowedModes {
		if _, err := ParseSpeedMode(string(mode)); err != nil {
			return err
		}
	}
	return nil
}

func (p CapacityPolicy) Allows(mode SpeedMode) bool {
	return slices.Contains(p.AllowedModes, mode)
}

func (p CapacityPolicy) SupportsRelax() bool {
	return p.RelaxCoreSize > 0 && (p.Allows(ModeRelax) || p.ForcedMode == ModeRelax)
}

// Core is the concurrency capacity of a tier. Upscale has no gate.
func (p CapacityPolicy) Core(tier Tier) int {
	switch tier {
	case TierRelax:
		return p.RelaxCoreSize
	case TierDescribe:
		return p.DescribeCoreSize
	case TierUpscale:
		return 0
	default:
		return p.CoreSize
	}
}

// Queue is the queue capacity of a tier; zero or less means unbounded.
func (p CapacityPolicy) Queue(tier Tier) int {
	switch tier {
	case TierRelax:
		return p.RelaxQueueSize
	case TierDescribe:
		return p.DescribeQueueSize
	case TierUpscale:
		return 0
	default:
		return p.QueueSize
	}
}

func (p CapacityPolicy) DayLimit(tier Tier) int {
	if tier == TierRelax {
		return p.DayRelaxDrawLimit
	}
	return p.DayDrawLimit
}
