package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures. Only Timeout, HTTP5xx, and
// Validation are eligible for instant fallback.
type ErrorKind string

const (
	ErrTimeout    ErrorKind = "TIMEOUT"
	ErrHTTP5xx    ErrorKind = "HTTP_5XX"
	ErrValidation ErrorKind = "VALIDATION"
	ErrDecline    ErrorKind = "PROVIDER_DECLINE"
	ErrUnknown    ErrorKind = "UNKNOWN"
)

// Retryable reports whether the kind is eligible for instant fallback.
func (k ErrorKind) Retryable() bool {
	return k == ErrTimeout || k == ErrHTTP5xx || k == ErrValidation
}

// Error is a classified adapter failure.
type Error struct {
	Provider Provider
	Kind     ErrorKind
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified adapter error.
func NewError(p Provider, kind ErrorKind, message string, err error) *Error {
	return &Error{Provider: p, Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification from err, or ErrUnknown when the
// error did not come from an adapter.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrUnknown
}
