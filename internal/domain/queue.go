package domain

import (
	"maps"
	"strings"
	"time"
)

// Function is the follow-up a consumer runs for a dequeued entry.
type Function string

const (
	FuncSubmit    Function = "submit"
	FuncAction    Function = "action"
	FuncModal     Function = "modal"
	FuncDescribe  Function = "describe"
	FuncShorten   Function = "shorten"
	FuncBlend     Function = "blend"
	FuncRefresh   Function = "refresh"
	FuncEdit      Function = "edit"
	FuncRetexture Function = "retexture"
	FuncVideo     Function = "video"
	FuncSeed      Function = "seed"
)

func ParseFunction(raw string) (Function, error) {
	switch fn := Function(raw); fn {
	case FuncSubmit, FuncAction, FuncModal, FuncDescribe, FuncShorten, FuncBlend,
		FuncRefresh, FuncEdit, FuncRetexture, FuncVideo:
		return fn, nil
	default:
		return "", validationError("unknown function %q", raw)
	}
}

// FunctionFor is the function that submits a fresh task of the given action.
func FunctionFor(action ActionKind) Function {
	switch action {
	case ActionUpscale, ActionVariation, ActionReroll, ActionCustom:
		return FuncAction
	case ActionModal:
		return FuncModal
	case ActionDescribe:
		return FuncDescribe
	case ActionShorten:
		return FuncShorten
	case ActionBlend:
		return FuncBlend
	case ActionEdit:
		return FuncEdit
	case ActionRetexture:
		return FuncRetexture
	case ActionVideo:
		return FuncVideo
	default:
		return FuncSubmit
	}
}

type EntryParams struct {
	MessageID string
	CustomID  string
	Payload   map[string]string
}

// Record copies p onto the task's properties so a recovered entry, which
// carries no params of its own, can still build its request.
func (p EntryParams) Record(t *Task) {
	if p.MessageID != "" {
		t.SetProperty(PropSourceMessageID, p.MessageID)
	}
	if p.CustomID != "" {
		t.SetProperty(PropSourceCustomID, p.CustomID)
	}
	for key, value := range p.Payload {
		t.SetProperty(propPayloadPrefix+key, value)
	}
}

// RecordedParams reads back what Record stored on t.
func RecordedParams(t Task) EntryParams {
	params := EntryParams{
		MessageID: t.Property(PropSourceMessageID),
		CustomID:  t.Property(PropSourceCustomID),
	}
	for key, value := range t.Properties {
		if field, ok := strings.CutPrefix(key, propPayloadPrefix); ok {
			if params.Payload == nil {
				params.Payload = make(map[string]string)
			}
			params.Payload[field] = value
		}
	}
	return params
}

// Or fills the empty fields of p from fallback. Payload keys present in p win.
func (p EntryParams) Or(fallback EntryParams) EntryParams {
	if p.MessageID == "" {
		p.MessageID = fallback.MessageID
	}
	if p.CustomID == "" {
		p.CustomID = fallback.CustomID
	}
	if len(fallback.Payload) > 0 {
		merged := maps.Clone(fallback.Payload)
		maps.Copy(merged, p.Payload)
		p.Payload = merged
	}
	return p
}

type QueueEntry struct {
	TaskID     TaskID
	Function   Function
	Params     EntryParams
	EnqueuedAt time.Time
	Task       Task
}
