package event

import "errors"

var (
	ErrNotFound               = errors.New("event not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrOptimisticLockConflict = errors.New("optimistic lock conflict")
	ErrDuplicateEvent         = errors.New("event with idempotency key already exists")
	ErrInvalidEventType       = errors.New("invalid event type")
	ErrMissingUserID          = errors.New("missing user id")
	ErrPayloadTooDeep         = errors.New("delivery payload too deeply nested")
)
