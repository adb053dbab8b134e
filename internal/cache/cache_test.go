package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type payload struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

// failingCache эмулирует недоступный backend.
type failingCache struct {
	err       error
	getCalls  int
	setCalls  int
	invalidAt []string
}

func (f *failingCache) Get(context.Context, string) ([]byte, bool, error) {
	f.getCalls++
	return nil, false, f.err
}

func (f *failingCache) Set(context.Context, string, []byte, time.Duration) error {
	f.setCalls++
	return f.err
}

func (f *failingCache) Invalidate(_ context.Context, key string) error {
	f.invalidAt = append(f.invalidAt, key)
	return f.err
}

func (f *failingCache) InvalidatePrefix(_ context.Context, prefix string) error {
	f.invalidAt = append(f.invalidAt, prefix)
	return f.err
}

func (f *failingCache) InvalidateAll(context.Context) error { return f.err }

func TestGetOrCompute_CachesValue(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (payload, error) {
		calls++
		return payload{ID: "order-1", Total: 25}, nil
	}

	first, err := GetOrCompute(ctx, c, OrderKey("order-1"), time.Minute, compute)
	require.NoError(t, err)
	second, err := GetOrCompute(ctx, c, OrderKey("order-1"), time.Minute, compute)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestGetOrCompute_DoesNotCacheErrors(t *testing.T) {
	c := NewMemory()
	boom := errors.New("boom")

	_, err := GetOrCompute(context.Background(), c, "k", time.Minute, func(context.Context) (payload, error) {
		return payload{}, boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, c.Len())
}

func TestGetOrCompute_FallsBackOnCacheErrors(t *testing.T) {
	backend := &failingCache{err: errors.New("redis down")}

	value, err := GetOrCompute(context.Background(), backend, "k", time.Minute, func(context.Context) (payload, error) {
		return payload{ID: "x"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "x", value.ID)
	require.Equal(t, 1, backend.getCalls)
	require.Equal(t, 1, backend.setCalls)
}

func TestMemory_TTLAndPrefix(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "orders:1", []byte("a"), time.Second))
	require.NoError(t, c.Set(ctx, "orders:all:{}", []byte("b"), 0))
	require.NoError(t, c.Set(ctx, "orders:all:{\"page\":2}", []byte("c"), 0))

	_, hit, err := c.Get(ctx, "orders:1")
	require.NoError(t, err)
	require.True(t, hit)

	now = now.Add(2 * time.Second)
	_, hit, err = c.Get(ctx, "orders:1")
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, c.InvalidatePrefix(ctx, OrderListKeyPrefix))
	require.Zero(t, c.Len())
}

func TestInvalidateOrder(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, OrderKey("o-1"), []byte("a"), 0))
	require.NoError(t, c.Set(ctx, OrderKey("o-2"), []byte("b"), 0))
	listKey, err := OrderListKey(map[string]any{"page": 1})
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, listKey, []byte("c"), 0))

	InvalidateOrder(ctx, c, "o-1")

	_, hit, _ := c.Get(ctx, OrderKey("o-1"))
	require.False(t, hit)
	_, hit, _ = c.Get(ctx, listKey)
	require.False(t, hit)
	_, hit, _ = c.Get(ctx, OrderKey("o-2"))
	require.True(t, hit)
}

func TestGuarded_OpensAfterFailuresButStillInvalidates(t *testing.T) {
	backend := &failingCache{err: errors.New("redis down")}
	breaker := NewCircuitBreaker(2, time.Hour, nil)
	guarded := NewGuarded(backend, breaker)
	ctx := context.Background()

	_, _, err := guarded.Get(ctx, "k")
	require.Error(t, err)
	_, _, err = guarded.Get(ctx, "k")
	require.Error(t, err)
	require.Equal(t, CircuitOpen, breaker.State())

	_, _, err = guarded.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 2, backend.getCalls)

	_ = guarded.InvalidatePrefix(ctx, OrderListKeyPrefix)
	require.Equal(t, []string{OrderListKeyPrefix}, backend.invalidAt)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	breaker := NewCircuitBreaker(1, time.Minute, nil)
	now := time.Now()
	breaker.now = func() time.Time { return now }

	require.Error(t, breaker.Execute("fail", func() error { return errors.New("boom") }))
	require.Equal(t, CircuitOpen, breaker.State())

	now = now.Add(2 * time.Minute)
	require.NoError(t, breaker.Execute("ok", func() error { return nil }))
	require.Equal(t, CircuitClosed, breaker.State())
}
