package resilience

import (
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/rotisserie/eris"
)

// TransientError marks a failed attempt that may succeed if repeated: a
// network failure or an unexpected HTTP status from a lookup service.
type TransientError struct {
	Err        error
	StatusCode int // 0 for network failures
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// StatusError reports a non-200 response from service. Lookup services treat
// every status other than 200 as retryable.
func StatusError(service string, statusCode int) *TransientError {
	return NewTransientError(
		eris.Errorf("%s: unexpected status %d %s", service, statusCode, http.StatusText(statusCode)),
		statusCode,
	)
}

// NetworkError wraps a transport failure from service as transient.
func NetworkError(service string, err error) *TransientError {
	return NewTransientError(eris.Wrapf(err, "%s: request", service), 0)
}

// DecodeError wraps an unreadable 200 body from service as transient. Lookup
// services answer maintenance pages with 200, so the body is retried like a
// failed request.
func DecodeError(service string, err error) *TransientError {
	return NewTransientError(eris.Wrapf(err, "%s: decode response", service), http.StatusOK)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a network timeout, or a refused/reset connection.
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

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// StatusCode extracts the HTTP status carried by a TransientError, or 0.
func StatusCode(err error) int {
	var te *TransientError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}
