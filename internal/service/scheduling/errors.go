package scheduling

import "errors"

// Typed failures returned to callers. None are retried by the engine itself;
// the caller decides whether to re-query availability and retry.
var (
	ErrInvalidTime         = errors.New("slot is in the past or malformed")
	ErrSlotUnavailable     = errors.New("slot is not available")
	ErrInvalidTransition   = errors.New("status transition not permitted")
	ErrNotFound            = errors.New("not found")
	ErrAuthorizationDenied = errors.New("actor not permitted")
	ErrTransient           = errors.New("transient storage failure")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}
