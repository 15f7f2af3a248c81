package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a transport-level failure.
type Kind string

const (
	// KindNetwork represents connectivity, DNS, or single-request stall
	// failures. Retryable.
	KindNetwork Kind = "network"

	// KindRateLimited represents HTTP 429 responses.
	KindRateLimited Kind = "rate_limited"

	// KindAuth represents HTTP 401/403 responses. Surfaced distinctly so
	// callers know to refresh credentials rather than retry.
	KindAuth Kind = "auth"

	// KindHTTP represents any other non-2xx response.
	KindHTTP Kind = "http"

	// KindDecode represents a malformed (non-JSON) upstream body.
	KindDecode Kind = "decode"

	// KindTimeout represents an expired caller deadline, supplied directly
	// or imposed by the bundle orchestrator. A stall on one request that
	// trips the per-request HTTP timeout is KindNetwork instead.
	KindTimeout Kind = "timeout"
)

// ErrMissingCredential is returned when neither the call nor the process
// configuration supplies a Canvas credential.
var ErrMissingCredential = errors.New("canvas credential required (base URL and access token)")

// ErrThrottled is returned when the throttle tracker blocks a request
// before it is sent.
var ErrThrottled = errors.New("request blocked: rate limit bucket critical")

// APIError is the typed transport error for Canvas API calls.
type APIError struct {
	StatusCode int
	Kind       Kind
	Message    string

	// RetryAfter holds the server-directed delay from a 429 response's
	// Retry-After header, zero when absent.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface. Messages never contain credentials.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("canvas %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("canvas %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("canvas %s error: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from any error produced by this package.
// Context deadline and cancellation errors map to KindTimeout so that an
// orchestrator-imposed deadline stays distinguishable from a network fault.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindNetwork
}

// shouldRetry reports whether err is transient: network faults, 429s, and
// 5xx responses are retried; auth failures, other 4xx responses, decode
// failures, and deadline expiry are not.
func shouldRetry(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Kind {
	case KindNetwork, KindRateLimited:
		return true
	case KindHTTP:
		return apiErr.StatusCode >= 500
	default:
		return false
	}
}
