package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("server overloaded"), 503)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("rate limited"), 429)
	wrapped := fmt.Errorf("lookup failed: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_PlainError(t *testing.T) {
	err := errors.New("cep: cache lookup: database is locked")
	if IsTransient(err) {
		t.Error("plain error should not be transient")
	}
}

func TestDecodeError(t *testing.T) {
	err := DecodeError("geocode", errors.New("invalid character '<'"))
	if !IsTransient(err) {
		t.Error("decode error should be transient")
	}
	if got := StatusCode(err); got != 200 {
		t.Errorf("StatusCode = %d, want 200", got)
	}
	if !strings.Contains(err.Error(), "geocode: decode response") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIsTransient_ConnectionRefused(t *testing.T) {
	err := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	if !IsTransient(err) {
		t.Error("ECONNREFUSED should be transient")
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestStatusError(t *testing.T) {
	for _, code := range []int{301, 400, 404, 429, 500, 503} {
		err := StatusError("viacep", code)
		if !IsTransient(err) {
			t.Errorf("expected HTTP %d to be transient", code)
		}
		if got := StatusCode(err); got != code {
			t.Errorf("expected status %d, got %d", code, got)
		}
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset by peer")
	err := NetworkError("nominatim", inner)

	if !errors.Is(err, inner) {
		t.Error("NetworkError should unwrap to the transport error")
	}
	if StatusCode(err) != 0 {
		t.Errorf("expected status 0, got %d", StatusCode(err))
	}
}
