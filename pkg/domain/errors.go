package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ValidationError rejects a request before any destination is attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

const (
	ReasonChannelNotFound      = "channel_not_found"
	ReasonChannelListingFailed = "channel_listing_failed"
)

// ResolutionError means a reference could not be mapped to a channel ID.
// It is recorded against its destination and never aborts a batch.
type ResolutionError struct {
	Reference string
	Reason    string
	Retriable bool
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Reference, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Reference)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// TransientError is worth retrying. RetryAfter is a hint from upstream.
type TransientError struct {
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError cannot be fixed by retrying.
type TerminalError struct {
	Reason string
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TerminalError) Unwrap() error { return e.Err }

func Transient(reason string, err error) error {
	return &TransientError{Reason: reason, Err: err}
}

func Terminal(reason string, err error) error {
	return &TerminalError{Reason: reason, Err: err}
}

// IsRetriable reports whether err is worth another attempt. Unclassified
// errors are retried only when they are network errors or a per-attempt
// deadline; everything else is terminal.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var res *ResolutionError
	if errors.As(err, &res) {
		return res.Retriable
	}
	var term *TerminalError
	if errors.As(err, &term) {
		return false
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// RetryAfter returns the upstream retry hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var tr *TransientError
	if errors.As(err, &tr) {
		return tr.RetryAfter
	}
	return 0
}

// Reason returns the short machine-readable reason for err. A resolution
// failure reports its own reason, not that of the listing error it wraps.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var res *ResolutionError
	if errors.As(err, &res) {
		return res.Reason
	}
	var term *TerminalError
	if errors.As(err, &term) {
		return term.Reason
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return tr.Reason
	}
	return err.Error()
}
