package app

import (
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func quietLogger(t *testing.T) *log.Entry {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.JWTSecret = "test-secret"
	cfg.OutboxPollInterval = 10 * time.Millisecond
	return cfg
}
