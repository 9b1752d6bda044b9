package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*PriceCache, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cache, err := New(ctx, Config{Addr: fmt.Sprintf("%s:%s", host, port.Port()), TTL: ttl})
	require.NoError(t, err)

	return cache, func() {
		cache.Close()
		_ = container.Terminate(ctx)
	}
}

func TestPriceCache_KeepsNewest(t *testing.T) {
	cache, cleanup := setupTestCache(t, time.Minute)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, cache.SavePriceUpdate(ctx, &domain.PriceUpdate{AssetKey: "mint1", Chain: "solana", Price: 1.5, Marketcap: 1e6, Timestamp: 200}))
	require.NoError(t, cache.SavePriceUpdate(ctx, &domain.PriceUpdate{AssetKey: "mint1", Chain: "solana", Price: 1.1, Timestamp: 100}))

	got, err := cache.Latest(ctx, "solana", "mint1")
	require.NoError(t, err)
	assert.Equal(t, &domain.PriceUpdate{AssetKey: "mint1", Chain: "solana", Price: 1.5, Marketcap: 1e6, Timestamp: 200}, got)

	require.NoError(t, cache.SavePriceUpdate(ctx, &domain.PriceUpdate{AssetKey: "mint1", Chain: "solana", Price: 0.00001234, Timestamp: 300}))
	got, err = cache.Latest(ctx, "solana", "mint1")
	require.NoError(t, err)
	assert.Equal(t, 0.00001234, got.Price)
	assert.Equal(t, int64(300), got.Timestamp)

	ttl, err := cache.Client().TTL(ctx, latestKey("solana", "mint1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestPriceCache_Missing(t *testing.T) {
	cache, cleanup := setupTestCache(t, 0)
	defer cleanup()

	_, err := cache.Latest(context.Background(), "solana", "nothing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, cache.SavePriceUpdate(context.Background(), nil), storage.ErrInvalidInput)
}
