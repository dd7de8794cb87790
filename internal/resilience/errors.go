package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err as retryable, recording the HTTP status that
// triggered it (0 when not status-driven).
func MarkTransient(err error, statusCode int) error {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// RetryableStatus reports whether an HTTP status indicates a failure
// the caller may retry: rate limiting or any server-side error.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// IsTransient reports whether err carries a TransientError, a network
// timeout, or one of the connection-level failures that resolve on
// their own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
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

	// HTTP clients flatten some of these into plain error strings.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
