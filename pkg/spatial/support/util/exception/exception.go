// Package exception provides the module-tagged error type shared by spatialpool
// packages, together with helpers that classify errors as temporary or fatal
// so callers can decide whether a failed pool operation is worth retrying.
package exception

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SpatialError is an error raised by one of the spatialpool modules.
// It records the module, a concise message, the wrapped cause and whether
// the failure is expected to go away on retry.
type SpatialError struct {
	// Module indicates where the error occurred (e.g., "pool", "config", "metadata").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error

	isRetryable bool
}

// New creates a non-retryable SpatialError.
func New(module, message string, originalErr error) *SpatialError {
	return &SpatialError{Module: module, Message: message, OriginalErr: originalErr}
}

// NewRetryable creates a SpatialError that callers may retry.
func NewRetryable(module, message string, originalErr error) *SpatialError {
	return &SpatialError{Module: module, Message: message, OriginalErr: originalErr, isRetryable: true}
}

// Newf creates a non-retryable SpatialError using a format string.
// If the last argument is an error it becomes the wrapped cause and is not
// consumed by the format.
func Newf(module, format string, a ...interface{}) *SpatialError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return New(module, fmt.Sprintf(format, args...), originalErr)
}

// Error implements the error interface.
func (e *SpatialError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *SpatialError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *SpatialError) IsRetryable() bool {
	return e.isRetryable
}

// temporary is implemented by errors that know whether they are transient.
type temporary interface {
	Temporary() bool
}

// IsTemporary reports whether err is worth retrying.
// SpatialError flags and Temporary() implementations anywhere in the chain
// take precedence; otherwise common transient messages are matched.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var se *SpatialError
	if errors.As(err, &se) && se.isRetryable {
		return true
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "too many connections") ||
		strings.Contains(errStr, "EOF")
}

// IsFatal reports whether err cannot be resolved by retrying.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if IsTemporary(err) {
		return false
	}
	var se *SpatialError
	if errors.As(err, &se) {
		return !se.isRetryable
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "authentication failed")
}
