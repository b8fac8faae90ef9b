package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

// Flags that default to true are pointers so that an omitted key keeps the
// default.
type accountSchema struct {
	ID             string       `toml:"id"`
	Name           string       `toml:"name"`
	Enabled        *bool        `toml:"enabled,omitempty"`
	DisabledReason string       `toml:"disabled_reason,omitempty"`
	Kind           string       `toml:"kind,omitempty"`
	Variant        string       `toml:"variant,omitempty"`
	Capabilities   []string     `toml:"capabilities,omitempty"`
	Domains        []string     `toml:"domains,omitempty"`
	Remix          bool         `toml:"remix,omitempty"`
	Tags           []string     `toml:"tags,omitempty"`
	AcceptNew      *bool        `toml:"accept_new,omitempty"`
	AcceptFollowUp *bool        `toml:"accept_follow_up,omitempty"`
	Weight         int          `toml:"weight,omitempty"`
	SecretRef      string       `toml:"secret_ref,omitempty"`
	Version        int64        `toml:"version"`
	UpdatedAt      string       `toml:"updated_at,omitempty"`
	Policy         policySchema `toml:"policy"`
}

type policySchema struct {
	CoreSize           int      `toml:"core_size,omitempty"`
	QueueSize          int      `toml:"queue_size,omitempty"`
	RelaxCoreSize      int      `toml:"relax_core_size,omitempty"`
	RelaxQueueSize     int      `toml:"relax_queue_size,omitempty"`
	DescribeCoreSize   int      `toml:"describe_core_size,omitempty"`
	DescribeQueueSize  int      `toml:"describe_queue_size,omitempty"`
	AllowedModes       []string `toml:"allowed_modes,omitempty"`
	ForcedMode         string   `toml:"forced_mode,omitempty"`
	DayDrawLimit       int      `toml:"day_draw_limit,omitempty"`
	DayRelaxDrawLimit  int      `toml:"day_relax_draw_limit,omitempty"`
	PreSubmitDelay     string   `toml:"pre_submit_delay,omitempty"`
	PostSubmitDelayMin string   `toml:"post_submit_delay_min,omitempty"`
	PostSubmitDelayMax string   `toml:"post_submit_delay_max,omitempty"`
	Timeout            string   `toml:"timeout,omitempty"`
	SeedParallelism    int      `toml:"seed_parallelism,omitempty"`
}
