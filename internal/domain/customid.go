package domain

import (
	"strconv"
	"strings"
)

const customIDPrefix = "MJ::"

// CustomAction is a decoded button identifier attached to an upstream message.
type CustomAction struct {
	Raw   string
	Kind  ActionKind
	Index int
	Hash  string
	// Modal actions need a second confirm-modal interaction.
	Modal bool
}

// ParseCustomID decodes a custom id once so the lifecycle only handles typed
// actions.
func ParseCustomID(raw string) (CustomAction, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, customIDPrefix) {
		return CustomAction{}, validationError("invalid custom id %q", raw)
	}

	parts := strings.Split(strings.TrimPrefix(trimmed, customIDPrefix), "::")
	action := CustomAction{Raw: trimmed, Kind: ActionCustom}

	switch parts[0] {
	case "JOB":
		if len(parts) < 2 {
			return CustomAction{}, validationError("custom id %q has no job name", raw)
		}
		action.Kind = jobAction(parts[1])
		if len(parts) > 2 {
			if index, err := strconv.Atoi(parts[2]); err == nil {
				action.Index = index
			}
		}
		if len(parts) > 3 {
			action.Hash = parts[3]
		}
	case "CustomZoom", "Inpaint", "RemixModal", "PanModal":
		action.Kind = ActionModal
		action.Modal = true
		action.Hash = parts[len(parts)-1]
	default:
		action.Hash = parts[len(parts)-1]
	}

	return action, nil
}

func jobAction(name string) ActionKind {
	switch {
	case strings.HasPrefix(name, "upsample"):
		return ActionUpscale
	case strings.HasSuffix(name, "variation"):
		return ActionVariation
	case name == "reroll":
		return ActionReroll
	case strings.HasPrefix(name, "animate"):
		return ActionVideo
	default:
		return ActionCustom
	}
}
