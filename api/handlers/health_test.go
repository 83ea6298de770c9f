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

func TestHandleHealthz(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
}

func TestHandleReadyz(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		h := NewHealthHandler(zap.NewNop())
		h.RegisterCheck(NewPingCheck("database", func(ctx context.Context) error { return nil }))
		h.RegisterCheck(NewPingCheck("redis", func(ctx context.Context) error { return nil }))

		rec := httptest.NewRecorder()
		h.HandleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "healthy", status.Status)
		assert.Equal(t, "pass", status.Checks["database"].Status)
		assert.Equal(t, "pass", status.Checks["redis"].Status)
	})

	t.Run("failing check reports 503", func(t *testing.T) {
		h := NewHealthHandler(zap.NewNop())
		h.RegisterCheck(NewPingCheck("database", func(ctx context.Context) error { return nil }))
		h.RegisterCheck(NewPingCheck("redis", func(ctx context.Context) error {
			return errors.New("connection refused")
		}))

		rec := httptest.NewRecorder()
		h.HandleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "unhealthy", status.Status)
		assert.Equal(t, "pass", status.Checks["database"].Status)
		assert.Equal(t, "fail", status.Checks["redis"].Status)
		assert.Contains(t, status.Checks["redis"].Message, "connection refused")
	})

	t.Run("no checks registered", func(t *testing.T) {
		h := NewHealthHandler(zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleVersion("1.2.3", "abc1234", "2026-03-14")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.True(t, resp.Success)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "abc1234", info["git_commit"])
	assert.NotEmpty(t, info["go_version"])
}
