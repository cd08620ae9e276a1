// Package marketdata serves daily price history from PostgreSQL with a Redis read-through cache.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/forge/internal/contracts"
)

// History reads chronological daily bars.
type History interface {
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]contracts.Bar, error)
}

// Repository reads and writes market.daily_bars.
// ⭐ SSOT: price history storage lives here only
type Repository struct {
	pool *pgxpool.Pool
}

var _ History = (*Repository)(nil)

// NewRepository creates a price repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetBars returns bars in [from, to] oldest first.
func (r *Repository) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]contracts.Bar, error) {
	query := `
		SELECT trade_date, open, high, low, close, volume
		FROM market.daily_bars
		WHERE symbol = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date ASC
	`

	rows, err := r.pool.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []contracts.Bar
	for rows.Next() {
		var b contracts.Bar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar %s: %w", symbol, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LatestPrice returns the most recent close.
func (r *Repository) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	query := `
		SELECT close
		FROM market.daily_bars
		WHERE symbol = $1
		ORDER BY trade_date DESC
		LIMIT 1
	`

	var price float64
	err := r.pool.QueryRow(ctx, query, symbol).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("price %s: %w", symbol, contracts.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query latest price %s: %w", symbol, err)
	}
	return price, nil
}

// SaveBars upserts bars for one symbol in a single batch.
func (r *Repository) SaveBars(ctx context.Context, symbol string, bars []contracts.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	query := `
		INSERT INTO market.daily_bars (symbol, trade_date, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, trade_date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(query, symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range bars {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("save bars %s: %w", symbol, err)
		}
	}
	return nil
}
