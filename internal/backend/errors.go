package backend

import (
	"context"
	"errors"
	"net"
)

// Common errors returned by backend implementations.
var (
	// ErrTimeout is returned when a downstream call exceeds its
	// configured deadline. Retriable.
	ErrTimeout = errors.New("backend call timed out")

	// ErrUnavailable is returned for transient downstream failures:
	// 5xx responses, connection resets, overload. Retriable.
	ErrUnavailable = errors.New("backend temporarily unavailable")

	// ErrRateLimited is returned when the downstream service itself
	// rejects the call for exceeding its rate limit. Retriable after
	// backoff.
	ErrRateLimited = errors.New("backend rate limit exceeded")

	// ErrInvalidInput is returned when the backend rejects the payload
	// as malformed. Not retriable; retrying the same input cannot
	// succeed.
	ErrInvalidInput = errors.New("backend rejected input as invalid")

	// ErrAuthFailed is returned when the backend rejects our
	// credentials. Not retriable on this endpoint.
	ErrAuthFailed = errors.New("backend authentication failed")
)

// Retriable reports whether err is worth retrying against the same
// endpoint. Timeouts, transient unavailability, downstream rate
// limits, and network-level failures are retriable; input and
// authentication rejections are not.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrAuthFailed) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
