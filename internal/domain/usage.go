package domain

import "fmt"

// Units is the quota cost of one successful action in the given mode.
func Units(action ActionKind, mode SpeedMode) int64 {
	var base int64
	switch action {
	case ActionDescribe, ActionShorten:
		base = 0
	case ActionVideo:
		base = 8
	default:
		base = 1
	}

	switch mode {
	case ModeTurbo:
		return base * 2
	case ModeRelax:
		return 0
	default:
		return base
	}
}

// CompactNumber renders counters like 1.2k for status output.
func CompactNumber(v int64) string {
	if v < 1_000 {
		return fmt.Sprintf("%d", v)
	}

	if v < 1_000_000 {
		return fmt.Sprintf("%.1fk", float64(v)/1_000)
	}

	return fmt.Sprintf("%.1fM", float64(v)/1_000_000)
}
