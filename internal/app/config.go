package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы кэша.
const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

const envPrefix = "BACKOFFICE_"

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SeedFile            string

	CacheDriver   string
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers       []string
	KafkaClientID      string
	KafkaOrderTopic    string
	KafkaDLQTopic      string
	KafkaConsumerGroup string

	JWTSecret string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	DeleteRetries int
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		CacheDriver: CacheDriverMemory,
		CacheTTL:    time.Minute,

		KafkaClientID:      "backoffice",
		KafkaOrderTopic:    "backoffice.order.events",
		KafkaDLQTopic:      "backoffice.dlq",
		KafkaConsumerGroup: "backoffice-cache",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		DeleteRetries: 2,
	}
}

// LoadConfig читает .env (если есть) и переменные BACKOFFICE_* поверх значений по умолчанию.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := DefaultConfig()
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("METRICS_ADDR", &cfg.MetricsAddr)
	str("LOG_LEVEL", &cfg.LogLevel)

	str("STORAGE_DRIVER", &cfg.StorageDriver)
	str("POSTGRES_DSN", &cfg.PostgresDSN)
	flag("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	str("SEED_FILE", &cfg.SeedFile)

	str("CACHE_DRIVER", &cfg.CacheDriver)
	dur("CACHE_TTL", &cfg.CacheTTL)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	num("REDIS_DB", &cfg.RedisDB)

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	str("KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	str("KAFKA_ORDER_TOPIC", &cfg.KafkaOrderTopic)
	str("KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	str("KAFKA_CONSUMER_GROUP", &cfg.KafkaConsumerGroup)

	str("JWT_SECRET", &cfg.JWTSecret)

	dur("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	num("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	num("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	dur("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	dur("IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	dur("IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	num("IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	num("DELETE_RETRIES", &cfg.DeleteRetries)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires BACKOFFICE_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.CacheDriver {
	case CacheDriverMemory:
	case CacheDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis cache requires BACKOFFICE_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported cache driver %q", c.CacheDriver))
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("BACKOFFICE_JWT_SECRET is required"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.DeleteRetries < 0 {
		errs = append(errs, errors.New("delete retries must be >= 0"))
	}
	return errors.Join(errs...)
}

// KafkaEnabled сообщает, заданы ли брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
