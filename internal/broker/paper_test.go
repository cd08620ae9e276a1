package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/pkg/logger"
)

func connectedPaper(t *testing.T, cash float64, prices StaticPrices, commission float64) *PaperBroker {
	t.Helper()
	b := NewPaperBroker(cash, prices, commission, logger.NewNop())
	require.NoError(t, b.Connect(context.Background()))
	return b
}

func TestPaperBroker_RequiresConnect(t *testing.T) {
	ctx := context.Background()
	b := NewPaperBroker(1000, StaticPrices{}, 0, logger.NewNop())

	assert.False(t, b.IsConnected())
	_, err := b.GetAccountSummary(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = b.PlaceOrder(ctx, "SPY", contracts.SideBuy, 1)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, b.Connect(ctx))
	assert.True(t, b.IsConnected())
	require.NoError(t, b.Disconnect(ctx))
	assert.False(t, b.IsConnected())
}

func TestPaperBroker_BuySellLedger(t *testing.T) {
	ctx := context.Background()
	prices := StaticPrices{"AAPL": 100}
	b := connectedPaper(t, 10_000, prices, 0.01)

	trade, err := b.PlaceOrder(ctx, "AAPL", contracts.SideBuy, 50)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, 100.0, trade.Price)
	assert.InDelta(t, 0.5, trade.Commission, 1e-9)

	acct, err := b.GetAccountSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 4999.5, acct.Cash, 1e-9)
	assert.InDelta(t, 9999.5, acct.Equity, 1e-9)

	prices["AAPL"] = 110
	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 50, positions[0].Quantity)
	assert.InDelta(t, 500, positions[0].UnrealizedPnL, 1e-9)

	_, err = b.PlaceOrder(ctx, "AAPL", contracts.SideSell, 50)
	require.NoError(t, err)
	positions, _ = b.GetPositions(ctx)
	assert.Empty(t, positions)
	acct, _ = b.GetAccountSummary(ctx)
	assert.InDelta(t, 10_499.0, acct.Cash, 1e-9)
}

func TestPaperBroker_NonFatalRejections(t *testing.T) {
	ctx := context.Background()
	b := connectedPaper(t, 1_000, StaticPrices{"AAPL": 100}, 0)

	trade, err := b.PlaceOrder(ctx, "AAPL", contracts.SideBuy, 11)
	assert.NoError(t, err)
	assert.Nil(t, trade, "insufficient cash")

	trade, err = b.PlaceOrder(ctx, "AAPL", contracts.SideSell, 1)
	assert.NoError(t, err)
	assert.Nil(t, trade, "insufficient shares")

	trade, err = b.PlaceOrder(ctx, "MSFT", contracts.SideBuy, 1)
	assert.NoError(t, err)
	assert.Nil(t, trade, "no price")

	trade, err = b.PlaceOrder(ctx, "AAPL", contracts.SideBuy, 0)
	assert.NoError(t, err)
	assert.Nil(t, trade)
}

func TestPaperBroker_Rehydrate(t *testing.T) {
	ctx := context.Background()
	b := connectedPaper(t, 100_000, StaticPrices{"SPY": 500}, 0)

	require.NoError(t, b.Rehydrate(40_000, []contracts.Position{
		{Symbol: "SPY", Quantity: 120, AvgPrice: 480, CurrentPrice: 500},
	}))

	acct, err := b.GetAccountSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 40_000, acct.Cash, 1e-9)
	assert.InDelta(t, 100_000, acct.Equity, 1e-9)

	assert.Error(t, b.Rehydrate(0, []contracts.Position{{Symbol: "SPY", Quantity: -1}}))
}

func TestPaperBroker_MarkFallsBackToLastPrice(t *testing.T) {
	ctx := context.Background()
	prices := StaticPrices{"SPY": 500}
	b := connectedPaper(t, 10_000, prices, 0)

	_, err := b.PlaceOrder(ctx, "SPY", contracts.SideBuy, 10)
	require.NoError(t, err)
	delete(prices, "SPY")

	acct, err := b.GetAccountSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_000, acct.Equity, 1e-9)
}

func TestPaperBroker_RecentTrades(t *testing.T) {
	ctx := context.Background()
	b := connectedPaper(t, 10_000, StaticPrices{"SPY": 100}, 0)
	base := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }
	_, _ = b.PlaceOrder(ctx, "SPY", contracts.SideBuy, 1)
	b.now = func() time.Time { return base.Add(time.Hour) }
	_, _ = b.PlaceOrder(ctx, "SPY", contracts.SideBuy, 1)

	trades, err := b.GetRecentTrades(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "paper-2", trades[0].OrderID)

	n, err := b.CancelAllOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
