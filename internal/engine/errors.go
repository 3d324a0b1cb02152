package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyEnrolled is returned when enrollment finds non-terminal jobs
	// for the (contact, campaign) pair. Callers treat it as a no-op, not a
	// failure.
	ErrAlreadyEnrolled = errors.New("contact already enrolled in campaign")

	// ErrDuplicateEvent is returned when a webhook event's provider event id
	// has already been persisted. The replay is an idempotent no-op.
	ErrDuplicateEvent = errors.New("duplicate webhook event")

	// ErrUnresolvedRecipient is returned when an event cannot be matched to
	// a known contact. The event row is kept and flagged for review.
	ErrUnresolvedRecipient = errors.New("event recipient not resolved to a contact")

	// ErrNotFound is returned by store lookups for missing rows.
	ErrNotFound = errors.New("not found")
)

// ValidationError marks bad enrollment input (zero steps, negative delay).
// It is terminal and surfaced to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
