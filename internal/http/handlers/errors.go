// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). These codes provide
// clients with a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, not_found) mirror common
//     HTTP status semantics to aid interoperability.
//   - Domain-specific codes (e.g., insufficient_credits, content_policy) are
//     reserved for business outcomes that a status code alone cannot convey.
//
// Usage:
//   - Handlers select the most specific matching code and pass it to `fail()`
//     along with the corresponding HTTP status and message.
//   - Clients are expected to branch on these codes for programmatic error handling.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeValidationFailed    = "validation_failed"
	ErrCodeConcurrencyLimited  = "concurrency_limited"
	ErrCodeInsufficientCredits = "insufficient_credits"
	ErrCodeContentPolicy       = "content_policy"
	ErrCodeProviderTimeout     = "provider_timeout"
	ErrCodeProviderUnavailable = "provider_unavailable"
	ErrCodeGenerationFailed    = "generation_failed"
	ErrCodeMethodNotAllowed    = "method_not_allowed"
)
