package scan

import (
	"errors"
	"time"
)

// Sentinel errors for every failure category the orchestrator recovers from.
// All of them resolve to a fail-open or fail-closed Result inside Evaluate;
// none escape to the caller.
var (
	// ErrPayloadTooLarge means the text exceeded the hard payload ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrCircuitOpen means the circuit breaker refused the call before dialing.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrRateLimitedBackoff means the tenant is inside its backoff window.
	ErrRateLimitedBackoff = errors.New("tenant backoff active")
	// ErrBackendTimeout means the backend call exceeded its deadline.
	ErrBackendTimeout = errors.New("scanner backend timeout")
	// ErrBackendUnauthorized means the backend rejected the credential (HTTP 401).
	ErrBackendUnauthorized = errors.New("scanner credential rejected")
	// ErrBackendRateLimited means the backend throttled the call (HTTP 429).
	ErrBackendRateLimited = errors.New("scanner backend rate limited")
	// ErrBackendHTTP means the backend returned an unexpected non-2xx status.
	ErrBackendHTTP = errors.New("scanner backend http error")
	// ErrNetwork means the backend was unreachable.
	ErrNetwork = errors.New("scanner backend unreachable")
)

// RateLimitedError wraps ErrBackendRateLimited with the backend's
// Retry-After hint, when one was provided.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return ErrBackendRateLimited.Error()
}

func (e *RateLimitedError) Unwrap() error {
	return ErrBackendRateLimited
}

// ErrorKind maps a scan failure to a stable label for metrics and audit rows.
// Unknown errors report as "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrRateLimitedBackoff):
		return "rate_limited_backoff"
	case errors.Is(err, ErrBackendTimeout):
		return "backend_timeout"
	case errors.Is(err, ErrBackendUnauthorized):
		return "backend_unauthorized"
	case errors.Is(err, ErrBackendRateLimited):
		return "backend_rate_limited"
	case errors.Is(err, ErrBackendHTTP):
		return "backend_http_error"
	case errors.Is(err, ErrNetwork):
		return "network_error"
	default:
		return "internal"
	}
}
