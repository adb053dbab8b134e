package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
)

const (
	cacheNamespace       = "backoffice"
	cacheBreakerFailures = 5
	cacheBreakerReset    = 30 * time.Second
)

type runtimeCache struct {
	cache cache.Cache
	ping  func(ctx context.Context) error
	close func() error
}

// initCache поднимает кэш; Redis оборачивается circuit breaker'ом.
func initCache(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeCache, error) {
	switch cfg.CacheDriver {
	case "", CacheDriverMemory:
		return &runtimeCache{
			cache: cache.NewMemory(),
			ping:  func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil

	case CacheDriverRedis:
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedis(client, cacheNamespace)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis is not reachable yet, cache calls go through the breaker")
		}
		breaker := cache.NewCircuitBreaker(cacheBreakerFailures, cacheBreakerReset, logger.WithField("component", "cache-breaker"))
		return &runtimeCache{
			cache: cache.NewGuarded(redisCache, breaker),
			ping:  redisCache.Ping,
			close: client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported cache driver %q", cfg.CacheDriver)
	}
}
