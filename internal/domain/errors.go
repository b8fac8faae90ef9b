package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrSecretNotFound   = errors.New("secret not found")
)

// Error classes. Producers receive ErrValidation and ErrCapacity synchronously;
// the others end up in a task's terminal state.
var (
	ErrValidation         = errors.New("validation error")
	ErrCapacity           = errors.New("capacity exhausted")
	ErrTransientUpstream  = errors.New("transient upstream error")
	ErrFatalUpstream      = errors.New("fatal upstream error")
	ErrTimeout            = errors.New("timeout")
	ErrInvariantViolation = errors.New("invariant violation")
)

const (
	CodeForbidden       = 403
	CodeNotFound        = 404
	CodeTooManyRequests = 429
)

// UpstreamError is the failure reported by a protocol adapter call.
type UpstreamError struct {
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned %d", e.Code)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Code, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	switch {
	case e.Code == CodeForbidden:
		return ErrFatalUpstream
	case e.Code == CodeTooManyRequests, e.Code == CodeNotFound, e.Code >= 500:
		return ErrTransientUpstream
	default:
		return nil
	}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
