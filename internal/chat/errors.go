package chat

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input before any store call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PermissionError is returned when an operation is attempted by a
// non-participant. It is never downgraded to a no-op.
type PermissionError struct {
	ConversationID string
	ParticipantID  string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("participant %s is not allowed to access conversation %s", e.ParticipantID, e.ConversationID)
}

// NotFoundError is returned when an id does not resolve for the caller.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// StoreError wraps a transient store I/O failure. Already-applied local
// state is never rolled back because of one.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable store failure rather than
// a structural error.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
