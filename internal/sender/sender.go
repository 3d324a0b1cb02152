// Package sender abstracts the outbound email provider. The engine only
// depends on the Sender interface; provider adapters classify their
// failures as transient or permanent so the dispatcher can decide between
// retrying and giving up.
package sender

import (
	"context"
	"errors"
	"fmt"
)

// Message is one outbound email, fully rendered.
type Message struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
}

// Result is the provider's acknowledgement of an accepted message.
type Result struct {
	ProviderMessageID string
}

// Sender delivers a single message. Implementations must respect the
// context deadline.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Result, error)
}

// SendError wraps a provider failure with a retryability classification.
type SendError struct {
	Transient bool
	Err       error
}

func (e *SendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("send failed (%s): %v", kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Transientf builds a retryable send error.
func Transientf(format string, args ...interface{}) *SendError {
	return &SendError{Transient: true, Err: fmt.Errorf(format, args...)}
}

// Permanentf builds a non-retryable send error.
func Permanentf(format string, args ...interface{}) *SendError {
	return &SendError{Transient: false, Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err should be retried. Errors that carry no
// classification (network failures, timeouts) are treated as transient.
func IsTransient(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Transient
	}
	return true
}
