// Package broker defines the order-execution contract and its paper and REST implementations.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/forge/internal/contracts"
)

// ErrNotConnected is returned by account and order calls before Connect.
var ErrNotConnected = errors.New("broker not connected")

// Broker is one deployment's account connection. Implementations are not shared between deployments.
// ⭐ SSOT: every order leaves the process through this interface
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	GetAccountSummary(ctx context.Context) (*contracts.AccountSummary, error)
	GetPositions(ctx context.Context) ([]contracts.Position, error)

	// PlaceOrder returns a nil trade without error when the order is rejected for a
	// non-fatal reason (insufficient cash or shares, no price).
	PlaceOrder(ctx context.Context, symbol string, side contracts.Side, qty int) (*contracts.TradeRecord, error)
	CancelAllOrders(ctx context.Context) (int, error)
	GetRecentTrades(ctx context.Context, since time.Time) ([]contracts.TradeRecord, error)
}

// Rehydrator is implemented by brokers whose state lives in process and must be
// restored from the last persisted snapshot after a restart.
type Rehydrator interface {
	Rehydrate(cash float64, positions []contracts.Position) error
}

// PriceFeed supplies the latest tradable price for a symbol.
type PriceFeed interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// StaticPrices is a fixed PriceFeed.
type StaticPrices map[string]float64

// LatestPrice implements PriceFeed.
func (p StaticPrices) LatestPrice(_ context.Context, symbol string) (float64, error) {
	price, ok := p[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

// Account is the state a rebalance works from.
type Account struct {
	Summary   contracts.AccountSummary
	Positions []contracts.Position
}

// Holdings maps symbol to share count.
func (a Account) Holdings() map[string]int {
	out := make(map[string]int, len(a.Positions))
	for _, p := range a.Positions {
		if p.Quantity != 0 {
			out[p.Symbol] = p.Quantity
		}
	}
	return out
}

// ReadAccount fetches summary and positions back to back. Callers hold the
// deployment lock so nothing trades in between.
func ReadAccount(ctx context.Context, b Broker) (*Account, error) {
	summary, err := b.GetAccountSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("account summary: %w", err)
	}
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	return &Account{Summary: *summary, Positions: positions}, nil
}
