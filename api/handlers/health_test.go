package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleHealthAllPass(t *testing.T) {
	h := NewHealthHandler("1.0.0", zap.NewNop())
	h.RegisterCheck(HealthCheckFunc{
		CheckName: "database",
		Fn:        func(ctx context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.0.0", status.Version)
	assert.Equal(t, "pass", status.Checks["database"].Status)
}

func TestHandleHealthDegraded(t *testing.T) {
	h := NewHealthHandler("1.0.0", zap.NewNop())
	h.RegisterCheck(HealthCheckFunc{
		CheckName: "browser",
		Fn:        func(ctx context.Context) error { return errors.New("engine down") },
	})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "fail", status.Checks["browser"].Status)
	assert.Contains(t, status.Checks["browser"].Message, "engine down")
}

func TestHandleHealthz(t *testing.T) {
	h := NewHealthHandler("", zap.NewNop())
	rec := httptest.NewRecorder()
	h.HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
