package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := NewError(ErrProviderBusy, "provider qwen is busy")
	assert.Equal(t, "[PROVIDER_BUSY] provider qwen is busy", e.Error())

	cause := errors.New("boom")
	e = e.WithCause(cause)
	assert.Contains(t, e.Error(), "boom")
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestErrorBuilders(t *testing.T) {
	e := NewError(ErrSessionUnavailable, "session gone").
		WithHTTPStatus(503).
		WithRetryable(true).
		WithProvider("kimi")

	assert.Equal(t, 503, e.HTTPStatus)
	assert.True(t, e.Retryable)
	assert.Equal(t, "kimi", e.Provider)
	assert.Equal(t, ErrSessionUnavailable, GetErrorCode(e))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}
