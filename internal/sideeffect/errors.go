package sideeffect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent error"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

type transientError struct {
	cause error
}

func (e transientError) Error() string {
	if e.cause == nil {
		return "transient error"
	}
	return e.cause.Error()
}

func (e transientError) Unwrap() error {
	return e.cause
}

// Permanent marks an error as non-retryable (not-found, validation).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// Transient marks an error as retryable (network, timeout, 5xx).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{cause: err}
}

// IsPermanent reports whether err was explicitly marked as non-retryable.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}

// IsTransient reports whether err should be retried. Unmarked errors other
// than context cancellation count as transient.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// StatusError is a non-2xx response from an external port.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// HTTPStatusError classifies an HTTP failure by status code.
func HTTPStatusError(op string, status int, body string) error {
	err := &StatusError{Op: op, StatusCode: status, Body: body}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return Transient(err)
	default:
		return Permanent(err)
	}
}
