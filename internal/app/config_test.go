package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, ":50051", cfg.GRPCAddr)
	require.Equal(t, ":9090", cfg.MetricsAddr)
	require.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	require.Equal(t, CacheDriverMemory, cfg.CacheDriver)
	require.True(t, cfg.PostgresAutoMigrate)
	require.Equal(t, 2, cfg.DeleteRetries)
	require.Positive(t, cfg.OutboxPollInterval)
	require.Positive(t, cfg.OutboxBatchSize)
	require.Positive(t, cfg.OutboxMaxAttempts)
	require.Positive(t, cfg.IdempotencyTTL)
	require.Positive(t, cfg.IdempotencyCleanupBatchSize)
	require.False(t, cfg.KafkaEnabled())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("BACKOFFICE_HTTP_ADDR", "127.0.0.1:8081")
	t.Setenv("BACKOFFICE_STORAGE_DRIVER", "postgres")
	t.Setenv("BACKOFFICE_POSTGRES_DSN", "postgres://u:p@localhost:5432/db")
	t.Setenv("BACKOFFICE_POSTGRES_AUTO_MIGRATE", "false")
	t.Setenv("BACKOFFICE_CACHE_DRIVER", "redis")
	t.Setenv("BACKOFFICE_REDIS_ADDR", "localhost:6379")
	t.Setenv("BACKOFFICE_CACHE_TTL", "30s")
	t.Setenv("BACKOFFICE_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("BACKOFFICE_JWT_SECRET", "secret")
	t.Setenv("BACKOFFICE_OUTBOX_BATCH_SIZE", "25")
	t.Setenv("BACKOFFICE_DELETE_RETRIES", "4")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:8081", cfg.HTTPAddr)
	require.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	require.False(t, cfg.PostgresAutoMigrate)
	require.Equal(t, CacheDriverRedis, cfg.CacheDriver)
	require.Equal(t, 30*time.Second, cfg.CacheTTL)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.KafkaEnabled())
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, 4, cfg.DeleteRetries)
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BACKOFFICE_JWT_SECRET=from-file\nBACKOFFICE_GRPC_ADDR=:6000\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("BACKOFFICE_JWT_SECRET")
		_ = os.Unsetenv("BACKOFFICE_GRPC_ADDR")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.JWTSecret)
	require.Equal(t, ":6000", cfg.GRPCAddr)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	t.Setenv("BACKOFFICE_JWT_SECRET", "secret")
	t.Setenv("BACKOFFICE_OUTBOX_BATCH_SIZE", "many")
	t.Setenv("BACKOFFICE_CACHE_TTL", "forever")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "BACKOFFICE_OUTBOX_BATCH_SIZE")
	require.Contains(t, err.Error(), "BACKOFFICE_CACHE_TTL")
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.JWTSecret = "secret"
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"missing secret":       func(c *Config) { c.JWTSecret = "" },
		"postgres without dsn": func(c *Config) { c.StorageDriver = StorageDriverPostgres },
		"unknown storage":      func(c *Config) { c.StorageDriver = "sqlite" },
		"redis without addr":   func(c *Config) { c.CacheDriver = CacheDriverRedis },
		"unknown cache":        func(c *Config) { c.CacheDriver = "memcached" },
		"bad log level":        func(c *Config) { c.LogLevel = "loud" },
		"negative retries":     func(c *Config) { c.DeleteRetries = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
