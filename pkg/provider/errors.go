package provider

import (
	"fmt"
)

// The engine's provider error taxonomy. The API client and OAuth
// components classify every provider-side failure into exactly one of
// these kinds and re-raise; nothing is swallowed below the orchestrator.

// UnsupportedProviderError means the provider string has no registry entry.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q", e.Provider)
}

// TokenMissingError means there is no stored credential for (user, provider).
type TokenMissingError struct {
	UserID   string
	Provider string
}

func (e *TokenMissingError) Error() string {
	return fmt.Sprintf("no %s connection for user %s", e.Provider, e.UserID)
}

// InvalidTokenError means the provider rejected the token (HTTP 401).
type InvalidTokenError struct {
	Provider string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("%s rejected the access token as invalid or expired", e.Provider)
}

// UnauthorizedError means the provider refused the request (HTTP 403).
type UnauthorizedError struct {
	Provider string
	Message  string
}

func (e *UnauthorizedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s forbade the request: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s forbade the request", e.Provider)
}

// RateLimitedError means the provider returned HTTP 429. RetryAfter is
// the parsed Retry-After header in seconds, nil when absent or
// non-numeric.
type RateLimitedError struct {
	Provider   string
	RetryAfter *int
	Message    string
}

func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("%s rate limit exceeded", e.Provider)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RetryAfter != nil {
		msg += fmt.Sprintf(" (retry after %ds)", *e.RetryAfter)
	}
	return msg
}

// RequestError is any other provider-side failure, including malformed
// response payloads on otherwise successful calls.
type RequestError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}
