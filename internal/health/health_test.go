package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, handler http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_AllHealthy(t *testing.T) {
	h := NewHandler("v1.2.3")
	h.Critical("database", func(context.Context) error { return nil })
	h.Optional("cache", func(context.Context) error { return nil })

	rec := serve(t, h.ServeHTTP, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, StatusHealthy, resp.Status)
	require.Equal(t, "v1.2.3", resp.Version)
	require.Len(t, resp.Checks, 2)
	require.True(t, resp.Checks["database"].Critical)
}

func TestHandler_OptionalFailureDegrades(t *testing.T) {
	h := NewHandler("v1")
	h.Critical("database", func(context.Context) error { return nil })
	h.Optional("cache", func(context.Context) error { return errors.New("redis down") })

	rec := serve(t, h.ServeHTTP, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, StatusDegraded, resp.Status)
	require.Equal(t, "redis down", resp.Checks["cache"].Message)

	require.Equal(t, http.StatusOK, serve(t, h.ReadinessHandler, "/readyz").Code)
}

func TestHandler_CriticalFailure(t *testing.T) {
	h := NewHandler("v1")
	h.Critical("database", func(context.Context) error { return errors.New("connection refused") })

	require.Equal(t, http.StatusServiceUnavailable, serve(t, h.ServeHTTP, "/healthz").Code)

	rec := serve(t, h.ReadinessHandler, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "not ready", rec.Body.String())
}

func TestHandler_ProbeTimeout(t *testing.T) {
	h := NewHandler("v1")
	h.timeout = 10 * time.Millisecond
	h.Critical("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	resp := h.Run(context.Background())
	require.Equal(t, StatusUnhealthy, resp.Status)
	require.Contains(t, resp.Checks["slow"].Message, "deadline")
}

func TestLivenessHandler(t *testing.T) {
	rec := serve(t, LivenessHandler, "/livez")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
