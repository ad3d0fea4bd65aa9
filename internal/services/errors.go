// Package services defines the business logic for the credit ledger, the job
// orchestrator, and the job status reader. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientCredits is returned when a debit is attempted against a
	// zero balance. The request is rejected before any provider work.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrJobNotFound indicates that the requested job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnauthorised is returned when a job exists but does not belong to
	// the requesting owner.
	ErrUnauthorised = errors.New("job does not belong to requester")

	// ErrNoProvider is returned when no configured provider is available for
	// the requested job kind.
	ErrNoProvider = errors.New("no generation provider available")
)

// ValidationError collects the input problems that caused a request to be
// rejected before a job row was created.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// RateLimitError is returned when the sliding-window rate limit rejects a
// request. RetryAfterSeconds hints when the window frees up.
type RateLimitError struct {
	RetryAfterSeconds int
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// ConcurrencyLimitError is returned when the owner already has the maximum
// number of jobs in PROCESSING.
type ConcurrencyLimitError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConcurrencyLimitError) Error() string {
	return "concurrency limit exceeded: " + e.Reason
}
