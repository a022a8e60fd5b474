// Package resilience provides the failure taxonomy, retry, and circuit
// breaker patterns for calls to research backends.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (429, 5xx,
// network timeout). Everything else is treated as deterministic and is
// not retried.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP
// status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// DeterministicError wraps a failure that retrying cannot fix: malformed
// backend output, unsupported input, or a stage honestly reporting that
// it has no evidence to offer.
type DeterministicError struct {
	Err    error
	Reason string
}

func (e *DeterministicError) Error() string {
	if e.Reason != "" {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DeterministicError) Unwrap() error { return e.Err }

// NewDeterministicError marks an error as not worth retrying.
func NewDeterministicError(err error, reason string) *DeterministicError {
	return &DeterministicError{Err: err, Reason: reason}
}

// ContradictionError signals that verification invalidated a candidate a
// stage had already produced. It triggers fallback to the next stage,
// never a retry of the same one.
type ContradictionError struct {
	Stage string
	Delta int
}

func (e *ContradictionError) Error() string {
	return "candidate from " + e.Stage + " contradicted by verification"
}

// IsDeterministic reports whether the error chain contains a
// DeterministicError.
func IsDeterministic(err error) bool {
	var de *DeterministicError
	return errors.As(err, &de)
}

// IsTransient reports whether the error (or any error in its chain) is a
// TransientError, or matches common transient network patterns.
// Deterministic errors are never transient, regardless of what they wrap.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if IsDeterministic(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status code indicates a
// server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
