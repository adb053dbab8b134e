// Package cache реализует кэш read-путей заказов с инвалидацией после commit.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Ключи кэша заказов.
const (
	OrderKeyPrefix     = "orders:"
	OrderListKeyPrefix = "orders:all:"
)

// Cache: порт кэша. Ошибки кэша не должны ломать запрос: вызывающий логирует их и продолжает.
type Cache interface {
	// Get возвращает значение и признак попадания.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
	InvalidateAll(ctx context.Context) error
}

var logger = log.WithField("component", "cache")

// OrderKey возвращает ключ одиночного заказа.
func OrderKey(orderID string) string {
	return OrderKeyPrefix + orderID
}

// OrderListKey строит ключ списка заказов из канонического JSON фильтра.
func OrderListKey(filter any) (string, error) {
	raw, err := json.Marshal(filter)
	if err != nil {
		return "", fmt.Errorf("marshal list filter: %w", err)
	}
	return OrderListKeyPrefix + string(raw), nil
}

// GetOrCompute читает значение из кэша или вычисляет и кладёт его туда.
// Ошибки кэша логируются и не влияют на результат.
func GetOrCompute[T any](ctx context.Context, c Cache, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	if c == nil {
		return compute(ctx)
	}

	raw, ok, err := c.Get(ctx, key)
	switch {
	case err != nil:
		logger.WithError(err).WithField("key", key).Warn("cache read failed, computing value")
	case ok:
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		logger.WithField("key", key).Warn("cache entry is corrupted, recomputing")
	}

	value, err := compute(ctx)
	if err != nil {
		return value, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		logger.WithError(err).WithField("key", key).Warn("cache encode failed")
		return value, nil
	}
	if err := c.Set(ctx, key, encoded, ttl); err != nil {
		logger.WithError(err).WithField("key", key).Warn("cache write failed")
	}
	return value, nil
}

// InvalidateOrder сбрасывает заказ и все закэшированные списки.
func InvalidateOrder(ctx context.Context, c Cache, orderID string) {
	if c == nil {
		return
	}
	if err := c.Invalidate(ctx, OrderKey(orderID)); err != nil {
		logger.WithError(err).WithField("order_id", orderID).Warn("cache invalidate failed")
	}
	if err := c.InvalidatePrefix(ctx, OrderListKeyPrefix); err != nil {
		logger.WithError(err).WithField("order_id", orderID).Warn("cache list invalidate failed")
	}
}
