package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
)

func TestInitCache_Memory(t *testing.T) {
	rc, err := initCache(context.Background(), testConfig(), quietLogger(t))
	require.NoError(t, err)
	require.IsType(t, &cache.Memory{}, rc.cache)
	require.NoError(t, rc.ping(context.Background()))
	require.NoError(t, rc.close())
}

func TestInitCache_UnsupportedDriver(t *testing.T) {
	cfg := testConfig()
	cfg.CacheDriver = "memcached"

	_, err := initCache(context.Background(), cfg, quietLogger(t))
	require.ErrorContains(t, err, "unsupported cache driver")
}
