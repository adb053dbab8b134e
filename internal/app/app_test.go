package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
	"github.com/vladislavdragonenkov/backoffice/internal/health"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
	"github.com/vladislavdragonenkov/backoffice/internal/transport/httpapi"
)

func TestMetricsMux_Endpoints(t *testing.T) {
	handler := health.NewHandler("test")
	handler.Critical("storage", func(context.Context) error { return nil })
	mux := metricsMux(handler)

	for _, path := range []string{"/livez", "/readyz", "/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestMetricsMux_ReadinessFailsOnCriticalProbe(t *testing.T) {
	handler := health.NewHandler("test")
	handler.Critical("storage", func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	metricsMux(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestServicesRouter_Smoke(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	logger := quietLogger(t)

	storage, err := initStorage(ctx, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, seedCatalog(ctx, seedPath, storage.seedTarget, logger))

	services := NewServices(cfg, storage, cache.NewMemory(),
		metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry()), logger)
	router := services.Router(cfg, storage, logger)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	raw, err := httpapi.IssueToken(cfg.JWTSecret, "customer-1", "CUSTOMER")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRun_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, testConfig()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "sqlite"

	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestRun_InvalidSeedFile(t *testing.T) {
	cfg := testConfig()
	cfg.SeedFile = "missing-seed.yaml"

	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}
