// Provider failure classification.
//
// Every error surfaced by a Provider is an *Error tagged with a FailureClass.
// The orchestrator keys its fallback decision off the class: content-policy
// rejections would fail identically on any backend, whereas rate limits,
// timeouts, and outages are worth one attempt against the fallback.
package provider

import (
	"errors"
	"fmt"
)

// FailureClass tags a provider failure for the fallback decision.
type FailureClass string

const (
	ClassContentPolicy FailureClass = "content_policy"
	ClassRateLimited   FailureClass = "rate_limited"
	ClassTimeout       FailureClass = "timeout"
	ClassUnavailable   FailureClass = "unavailable"
	ClassUnknown       FailureClass = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Provider string
	Class    FailureClass
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Class, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Class)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a fallback attempt is worthwhile for this
// failure. Content-policy rejections are deterministic and never retried;
// everything else is treated as transient.
func (e *Error) Retryable() bool {
	return e.Class != ClassContentPolicy
}

// newError builds a classified provider error.
func newError(provider string, class FailureClass, msg string, cause error) *Error {
	return &Error{Provider: provider, Class: class, Message: msg, Err: cause}
}

// ClassOf extracts the failure class from err, or ClassUnknown when err is
// not a classified provider error.
func ClassOf(err error) FailureClass {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassUnknown
}

// IsRetryable reports whether err permits a fallback attempt. Unclassified
// errors are treated as retryable: an unknown failure on one backend says
// nothing about the other.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}
