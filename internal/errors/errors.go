// Package errors provides the closed set of error kinds raised by the terminal outbox.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error. The set is closed: callers switch on it to decide
// between retrying, rejecting input and reporting storage trouble.
type Kind string

const (
	// Transient execution failures, these drive the retry policy.
	KindNetwork Kind = "NETWORK_ERROR"
	KindHTTP    Kind = "HTTP_ERROR"
	KindTimeout Kind = "TIMEOUT"

	// Malformed input, rejected synchronously.
	KindValidation Kind = "VALIDATION_ERROR"

	// Snapshot load/save failures.
	KindPersistence Kind = "PERSISTENCE_ERROR"
)

// ErrRetriesExhausted marks an operation whose retry budget is spent.
var ErrRetriesExhausted = stderrors.New("retry budget exhausted")

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNetwork, KindHTTP, KindTimeout, KindValidation, KindPersistence:
		return true
	}
	return false
}

// Retryable reports whether errors of this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindHTTP || k == KindTimeout
}

// AppError represents a typed error with kind and message.
type AppError struct {
	Kind       Kind
	Message    string
	StatusCode int // HTTP status for KindHTTP, zero otherwise
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	prefix := string(e.Kind)
	if e.StatusCode != 0 {
		prefix = fmt.Sprintf("%s %d", e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(kind Kind, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
	}
}

// Wrap wraps an existing error with a kind.
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// HTTP creates an HTTP_ERROR carrying the response status.
func HTTP(statusCode int, message string) *AppError {
	return &AppError{
		Kind:       KindHTTP,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Is checks if any error in err's chain is an AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first AppError in err's chain.
// Untyped errors report KindNetwork: an unknown failure of a remote call is
// treated as transient.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindNetwork
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}
