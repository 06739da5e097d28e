package api

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned when an item is enqueued after the queue was closed.
	ErrClosed = errors.New("bgwork: queue closed")

	// ErrAlreadyStarted is returned by Start on a running service.
	ErrAlreadyStarted = errors.New("bgwork: service already started")

	// ErrServiceStopped is returned by Start after Stop. Services cannot be
	// restarted; construct a new one instead.
	ErrServiceStopped = errors.New("bgwork: service stopped")
)

// ConfigError reports an invalid configuration value. It is returned
// synchronously from Start and is fatal to startup.
type ConfigError struct {
	Component string
	Field     string
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("bgwork: invalid configuration: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("bgwork: invalid %s configuration: %s %s", e.Component, e.Field, e.Reason)
}

// NewConfigError is a small helper for validators.
func NewConfigError(component, field, reason string) *ConfigError {
	return &ConfigError{Component: component, Field: field, Reason: reason}
}

// IsConfigError reports whether err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// TimeoutError is returned for an attempt that did not finish within its
// per-attempt timeout. It counts as an ordinary failed attempt.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bgwork: attempt timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// PanicError wraps a value recovered from a panicking handler or callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bgwork: handler panicked: %v", e.Value)
}

// ExhaustedError is passed to the error callback once every attempt for an
// item has failed. It unwraps to the last handler error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("bgwork: all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// CallbackError wraps a failure raised by the error callback. It is reported
// and swallowed; it never stops the worker loop.
type CallbackError struct {
	Err error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("bgwork: error callback failed: %v", e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// DrainTimeoutError is returned by Stop when draining did not finish before
// the stop deadline. Dropped is the number of items still buffered when the
// loop was cancelled.
type DrainTimeoutError struct {
	Dropped int
	Err     error
}

func (e *DrainTimeoutError) Error() string {
	return fmt.Sprintf("bgwork: drain did not finish, %d item(s) dropped: %v", e.Dropped, e.Err)
}

func (e *DrainTimeoutError) Unwrap() error { return e.Err }

// IsCancellation reports whether err stems from context cancellation rather
// than a handler failure or timeout.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
