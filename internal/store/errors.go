package store

import "errors"

var (
	ErrConflict            = errors.New("slot conflict")
	ErrNotFound            = errors.New("not found")
	ErrPreconditionFailed  = errors.New("status precondition failed")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
)
