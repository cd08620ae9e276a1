package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/pkg/config"
)

func TestNewClient_Disabled(t *testing.T) {
	client, err := New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(Disabled(), "test")
	cfg := GeneratorRateLimit(30)

	allowed, remaining, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 30, remaining)
	assert.NoError(t, limiter.Wait(context.Background(), cfg))
}

func TestGeneratorRateLimit_Floor(t *testing.T) {
	cfg := GeneratorRateLimit(0)
	assert.Equal(t, 1, cfg.Limit)
	assert.Equal(t, time.Minute, cfg.Window)
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(Disabled(), "test")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []string{"SPY"}, TTLShort))

	var out []string
	found, err := cache.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Delete(ctx, "k"))
}

func TestCacheKeys(t *testing.T) {
	from := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "universe:sp500", UniverseKey("sp500"))
	assert.Equal(t, "prices:AAPL:20240102:20240628", PriceHistoryKey("AAPL", from, to))
}
