package marketdata

import (
	"context"
	"time"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/pkg/logger"
	"github.com/wonny/forge/pkg/redis"
)

// CachedHistory is a read-through cache in front of a History.
// Cache failures degrade to the underlying source.
type CachedHistory struct {
	source History
	cache  *redis.Cache
	ttl    time.Duration
	logger *logger.Logger
}

var _ History = (*CachedHistory)(nil)

// NewCachedHistory wraps source.
func NewCachedHistory(source History, cache *redis.Cache, log *logger.Logger) *CachedHistory {
	return &CachedHistory{source: source, cache: cache, ttl: redis.TTLDaily, logger: log}
}

// GetBars implements History.
func (c *CachedHistory) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]contracts.Bar, error) {
	key := redis.PriceHistoryKey(symbol, from, to)

	var bars []contracts.Bar
	hit, err := c.cache.Get(ctx, key, &bars)
	if err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Price cache read failed")
	}
	if hit {
		return bars, nil
	}

	bars, err = c.source.GetBars(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		if err := c.cache.Set(ctx, key, bars, c.ttl); err != nil {
			c.logger.WithError(err).WithField("symbol", symbol).Warn("Price cache write failed")
		}
	}
	return bars, nil
}

// StaticHistory serves fixed series, for dry runs and tests.
type StaticHistory map[string][]contracts.Bar

// GetBars implements History.
func (s StaticHistory) GetBars(_ context.Context, symbol string, from, to time.Time) ([]contracts.Bar, error) {
	var out []contracts.Bar
	for _, b := range s[symbol] {
		if (from.IsZero() || !b.Date.Before(from)) && (to.IsZero() || !b.Date.After(to)) {
			out = append(out, b)
		}
	}
	return out, nil
}

// LatestPrice returns the last close of a series.
func (s StaticHistory) LatestPrice(_ context.Context, symbol string) (float64, error) {
	bars := s[symbol]
	if len(bars) == 0 {
		return 0, contracts.ErrNotFound
	}
	return bars[len(bars)-1].Close, nil
}
