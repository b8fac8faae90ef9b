package domain

import "strings"

type SpeedMode string

const (
	ModeFast  SpeedMode = "fast"
	ModeTurbo SpeedMode = "turbo"
	ModeRelax SpeedMode = "relax"
)

// DefaultModeOrder is the degradation order used when a request names no modes.
var DefaultModeOrder = []SpeedMode{ModeFast, ModeTurbo, ModeRelax}

func ParseSpeedMode(raw string) (SpeedMode, error) {
	switch mode := SpeedMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeFast, ModeTurbo, ModeRelax:
		return mode, nil
	case "":
		return "", nil
	default:
		return "", validationError("unknown speed mode %q", raw)
	}
}

// Tier is an independent capacity class of an account.
type Tier string

const (
	TierUpscale  Tier = "upscale"
	TierDescribe Tier = "describe"
	TierDefault  Tier = "default"
	TierRelax    Tier = "relax"
)

// Tiers lists every tier in consumer priority order.
var Tiers = []Tier{TierUpscale, TierDescribe, TierDefault, TierRelax}

func (t Tier) Label() string {
	switch t {
	case TierDefault:
		return "fast"
	case "":
		return ""
	default:
		return string(t)
	}
}

// TierForMode maps a speed mode onto the tier that admits it.
func TierForMode(mode SpeedMode) Tier {
	if mode == ModeRelax {
		return TierRelax
	}
	return TierDefault
}

// TierFor picks the queue a task enters for the given follow-up function.
func TierFor(fn Function, action ActionKind, mode SpeedMode) Tier {
	switch {
	case action == ActionUpscale:
		return TierUpscale
	case fn == FuncDescribe || action == ActionDescribe:
		return TierDescribe
	default:
		return TierForMode(mode)
	}
}
