package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("kling")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestAsError_Wrapped(t *testing.T) {
	t.Parallel()

	inner := NewHostNotAllowedError("evil.example")
	wrapped := fmt.Errorf("relocate: %w", inner)

	e, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ErrHostNotAllowed, e.Code)
	assert.Equal(t, http.StatusForbidden, e.HTTPStatus)
	assert.True(t, IsErrorCode(wrapped, ErrHostNotAllowed))
	assert.False(t, IsRetryable(wrapped))

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestNewUpstreamFetchFailedError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := NewUpstreamFetchFailedError("download failed", cause)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "UPSTREAM_FETCH_FAILED")
}
