package domain

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

type TaskID string

func NewTaskID() TaskID {
	return TaskID(uuid.NewString())
}

type ActionKind string

const (
	ActionImagine   ActionKind = "imagine"
	ActionUpscale   ActionKind = "upscale"
	ActionVariation ActionKind = "variation"
	ActionReroll    ActionKind = "reroll"
	ActionDescribe  ActionKind = "describe"
	ActionShorten   ActionKind = "shorten"
	ActionBlend     ActionKind = "blend"
	ActionEdit      ActionKind = "edit"
	ActionRetexture ActionKind = "retexture"
	ActionVideo     ActionKind = "video"
	ActionCustom    ActionKind = "custom"
	ActionModal     ActionKind = "modal"
)

func ParseActionKind(raw string) (ActionKind, error) {
	switch kind := ActionKind(raw); kind {
	case ActionImagine, ActionUpscale, ActionVariation, ActionReroll, ActionDescribe, ActionShorten,
		ActionBlend, ActionEdit, ActionRetexture, ActionVideo, ActionCustom, ActionModal:
		return kind, nil
	default:
		return "", validationError("unknown action %q", raw)
	}
}

// IsFollowUp reports whether the action acts on an earlier task's output.
func (k ActionKind) IsFollowUp() bool {
	switch k {
	case ActionUpscale, ActionVariation, ActionReroll, ActionCustom, ActionModal:
		return true
	default:
		return false
	}
}

type TaskStatus string

const (
	StatusNotStarted    TaskStatus = "NOT_STARTED"
	StatusSubmitted     TaskStatus = "SUBMITTED"
	StatusInProgress    TaskStatus = "IN_PROGRESS"
	StatusAwaitingModal TaskStatus = "AWAITING_MODAL"
	StatusSuccess       TaskStatus = "SUCCESS"
	StatusFailure       TaskStatus = "FAILURE"
)

// ActiveStatuses are the statuses a crashed process may have left behind.
var ActiveStatuses = []TaskStatus{StatusNotStarted, StatusSubmitted, StatusInProgress}

func (s TaskStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Rank orders statuses along the lifecycle; a task never moves to a lower rank.
func (s TaskStatus) Rank() int {
	switch s {
	case StatusNotStarted:
		return 0
	case StatusAwaitingModal:
		return 1
	case StatusSubmitted:
		return 2
	case StatusInProgress:
		return 3
	case StatusSuccess, StatusFailure:
		return 4
	default:
		return -1
	}
}

const (
	PropNonce             = "nonce"
	PropMessageID         = "message_id"
	PropProgressMessageID = "progress_message_id"
	PropCustomID          = "custom_id"
	PropFinalPrompt       = "final_prompt"
	PropSeed              = "seed"
	PropSeedError         = "seed_error"
	PropQuotaRecorded     = "quota_recorded"
	PropSourceMessageID   = "source_message_id"
	PropSourceCustomID    = "source_custom_id"

	// Payload fields of the submitting entry are kept as payload.<key>.
	propPayloadPrefix = "payload."
)

type Task struct {
	ID         TaskID
	Action     ActionKind
	Status     TaskStatus
	Mode       SpeedMode
	AccountID  AccountID
	ParentID   TaskID
	Prompt     string
	SubmitTime time.Time
	StartTime  time.Time
	FinishTime time.Time
	Progress   string
	FailReason string
	ImageURL   string
	Properties map[string]string
}

func (t Task) Property(key string) string {
	return t.Properties[key]
}

func (t *Task) SetProperty(key, value string) {
	if t.Properties == nil {
		t.Properties = make(map[string]string)
	}
	t.Properties[key] = value
}

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	t.Properties = maps.Clone(t.Properties)
	return t
}

// Advance moves the task to status and stamps lifecycle times. Backward
// moves and any move out of a terminal status are refused.
func (t *Task) Advance(status TaskStatus, at time.Time) bool {
	if t.Status.IsTerminal() || status.Rank() < 0 || status.Rank() < t.Status.Rank() {
		return false
	}

	t.Status = status
	switch {
	case status == StatusSubmitted || status == StatusInProgress:
		if t.StartTime.IsZero() {
			t.StartTime = at
		}
	case status.IsTerminal():
		t.FinishTime = at
		if status == StatusSuccess {
			t.Progress = "100%"
		}
	}
	return true
}

func (t *Task) Fail(reason string, at time.Time) bool {
	if !t.Advance(StatusFailure, at) {
		return false
	}
	t.FailReason = reason
	return true
}
