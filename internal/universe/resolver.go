package universe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/pkg/logger"
	"github.com/wonny/forge/pkg/redis"
)

var (
	// ErrUnknownUniverse is returned for ids outside the supported set.
	ErrUnknownUniverse = errors.New("unknown universe")
	// ErrEmptyUniverse is returned when a universe resolves to no symbols.
	ErrEmptyUniverse = errors.New("empty universe")
)

// Fetcher downloads a scraped universe.
type Fetcher interface {
	Fetch(ctx context.Context) ([]string, error)
}

// Resolver implements contracts.UniverseResolver.
// ⭐ SSOT: universe id -> symbols resolution lives here only
type Resolver struct {
	scraped map[string]Fetcher
	cache   *redis.Cache
	ttl     time.Duration
	logger  *logger.Logger
}

var _ contracts.UniverseResolver = (*Resolver)(nil)

// NewResolver creates a resolver. sp500 may be nil, in which case resolving it fails.
func NewResolver(sp500 Fetcher, cache *redis.Cache, ttl time.Duration, log *logger.Logger) *Resolver {
	if ttl <= 0 {
		ttl = redis.TTLDaily
	}
	scraped := make(map[string]Fetcher)
	if sp500 != nil {
		scraped[SP500] = sp500
	}
	return &Resolver{scraped: scraped, cache: cache, ttl: ttl, logger: log}
}

// Resolve returns a non-empty symbol list or an error.
func (r *Resolver) Resolve(ctx context.Context, universeID string) ([]string, error) {
	def, ok := definitions[universeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUniverse, universeID)
	}
	if def.symbols != nil {
		return append([]string(nil), def.symbols...), nil
	}

	var symbols []string
	key := redis.UniverseKey(universeID)
	hit, err := r.cache.Get(ctx, key, &symbols)
	if err != nil {
		r.logger.WithError(err).WithField("universe", universeID).Warn("Universe cache read failed")
	}
	if hit && len(symbols) > 0 {
		return symbols, nil
	}

	fetcher, ok := r.scraped[universeID]
	if !ok {
		return nil, fmt.Errorf("universe %s: no source configured", universeID)
	}
	symbols, err = fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", universeID, err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("resolve %s: %w", universeID, ErrEmptyUniverse)
	}

	if err := r.cache.Set(ctx, key, symbols, r.ttl); err != nil {
		r.logger.WithError(err).WithField("universe", universeID).Warn("Universe cache write failed")
	}

	r.logger.WithFields(map[string]interface{}{
		"universe": universeID,
		"symbols":  len(symbols),
	}).Info("Universe resolved from source")

	return symbols, nil
}
