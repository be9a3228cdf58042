package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type classified struct{ retry bool }

func (c classified) Error() string     { return "classified" }
func (c classified) IsRetryable() bool { return c.retry }

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	assert.True(t, IsTransient(NewTransientError(errors.New("server overloaded"), 503)))
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("rate limited"), 429)
	assert.True(t, IsTransient(fmt.Errorf("oracle call failed: %w", inner)))
}

func TestIsTransient_NilAndRegular(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("invalid input: missing field")))
}

func TestIsTransient_TypedErrorWins(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("wrap: %w", classified{retry: true})))
	// A typed non-retryable error is final even if its message looks transient.
	assert.False(t, IsTransient(fmt.Errorf("i/o timeout: %w", classified{retry: false})))
}

func TestIsTransient_Network(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsTransient(&net.DNSError{IsTimeout: true, Err: "timeout"}))
}

func TestIsTransient_StringPatterns(t *testing.T) {
	for _, p := range []string{"connection reset by peer", "broken pipe", "TLS handshake timeout", "i/o timeout"} {
		assert.True(t, IsTransient(errors.New(p)), p)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "root cause", te.Error())
	assert.Equal(t, 500, te.StatusCode)
}
