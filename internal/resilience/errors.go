package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// AuthError is an authentication or authorization failure against an
// external capability. Never retried; surfaced immediately.
type AuthError struct {
	Service string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Service, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError signals a 429 or quota response. Retried with backoff up
// to the attempt ceiling; RetryAfter carries the server hint when present.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %v", e.Service, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TimeoutError marks a call that exceeded its deadline. Retryable for
// idempotent reads; per-lead enrichment treats it as a terminal state instead.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// MalformedResponseError marks a response the caller could not parse. The
// affected record is skipped and the error logged; never retried.
type MalformedResponseError struct {
	Service string
	Detail  string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Service, e.Detail)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// StorageUnavailableError marks a persistence failure. The cache degrades
// to a miss on it; staging and vault treat it as fatal for the run.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// IsAuth reports whether the chain contains an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRateLimited reports whether the chain contains a RateLimitError.
func IsRateLimited(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// IsTimeout reports whether the chain contains a TimeoutError or a
// deadline-exceeded condition.
func IsTimeout(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsStorageUnavailable reports whether the chain contains a
// StorageUnavailableError.
func IsStorageUnavailable(err error) bool {
	var se *StorageUnavailableError
	return errors.As(err, &se)
}

// TransientError wraps an error that is safe to retry without carrying a
// more specific classification (e.g. a 5xx from a provider).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// Retryable reports whether a call that failed with err may be attempted
// again. Auth failures, malformed responses, and storage outages are
// terminal; rate limits, timeouts, explicit transient wraps, and common
// network-level failures are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuth(err) || IsStorageUnavailable(err) {
		return false
	}
	var me *MalformedResponseError
	if errors.As(err, &me) {
		return false
	}
	if IsRateLimited(err) || IsTimeout(err) {
		return true
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
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

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient issue that is safe to retry.
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
