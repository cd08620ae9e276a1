package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/pkg/logger"
)

type paperPosition struct {
	qty      int
	avgPrice decimal.Decimal
	// lastPrice is the most recent price seen, used when the feed is unavailable.
	lastPrice decimal.Decimal
}

// PaperBroker simulates immediate market fills against a PriceFeed.
// The cash ledger is kept in decimal so repeated fills do not drift.
type PaperBroker struct {
	mu         sync.Mutex
	feed       PriceFeed
	commission decimal.Decimal // per share
	cash       decimal.Decimal
	positions  map[string]*paperPosition
	trades     []contracts.TradeRecord
	connected  bool
	orderSeq   int
	now        func() time.Time
	logger     *logger.Logger
}

var (
	_ Broker     = (*PaperBroker)(nil)
	_ Rehydrator = (*PaperBroker)(nil)
)

// NewPaperBroker creates a disconnected paper account holding initialCash.
func NewPaperBroker(initialCash float64, feed PriceFeed, commissionPerShare float64, log *logger.Logger) *PaperBroker {
	return &PaperBroker{
		feed:       feed,
		commission: decimal.NewFromFloat(commissionPerShare),
		cash:       decimal.NewFromFloat(initialCash),
		positions:  make(map[string]*paperPosition),
		now:        time.Now,
		logger:     log,
	}
}

func (b *PaperBroker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *PaperBroker) Disconnect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *PaperBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Rehydrate replaces the ledger with a persisted cash balance and positions.
func (b *PaperBroker) Rehydrate(cash float64, positions []contracts.Position) error {
	restored := make(map[string]*paperPosition, len(positions))
	for _, p := range positions {
		if p.Quantity < 0 {
			return fmt.Errorf("rehydrate %s: negative quantity %d", p.Symbol, p.Quantity)
		}
		if p.Quantity == 0 {
			continue
		}
		last := p.CurrentPrice
		if last <= 0 {
			last = p.AvgPrice
		}
		restored[p.Symbol] = &paperPosition{
			qty:       p.Quantity,
			avgPrice:  decimal.NewFromFloat(p.AvgPrice),
			lastPrice: decimal.NewFromFloat(last),
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash = decimal.NewFromFloat(cash)
	b.positions = restored
	return nil
}

func (b *PaperBroker) GetAccountSummary(ctx context.Context) (*contracts.AccountSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}

	b.markLocked(ctx)
	value := decimal.Zero
	for _, p := range b.positions {
		value = value.Add(p.lastPrice.Mul(decimal.NewFromInt(int64(p.qty))))
	}
	cash := b.cash.InexactFloat64()
	return &contracts.AccountSummary{
		Equity:         b.cash.Add(value).InexactFloat64(),
		Cash:           cash,
		BuyingPower:    cash,
		PositionsValue: value.InexactFloat64(),
	}, nil
}

func (b *PaperBroker) GetPositions(ctx context.Context) ([]contracts.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}

	b.markLocked(ctx)
	out := make([]contracts.Position, 0, len(b.positions))
	for symbol, p := range b.positions {
		qty := decimal.NewFromInt(int64(p.qty))
		out = append(out, contracts.Position{
			Symbol:        symbol,
			Quantity:      p.qty,
			AvgPrice:      p.avgPrice.InexactFloat64(),
			CurrentPrice:  p.lastPrice.InexactFloat64(),
			MarketValue:   p.lastPrice.Mul(qty).InexactFloat64(),
			UnrealizedPnL: p.lastPrice.Sub(p.avgPrice).Mul(qty).InexactFloat64(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// markLocked refreshes last prices; symbols the feed cannot price keep their previous mark.
func (b *PaperBroker) markLocked(ctx context.Context) {
	for symbol, p := range b.positions {
		price, err := b.feed.LatestPrice(ctx, symbol)
		if err != nil || price <= 0 {
			continue
		}
		p.lastPrice = decimal.NewFromFloat(price)
	}
}

func (b *PaperBroker) PlaceOrder(ctx context.Context, symbol string, side contracts.Side, qty int) (*contracts.TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}
	if qty <= 0 {
		return nil, nil
	}

	log := b.logger.WithFields(map[string]interface{}{"symbol": symbol, "side": side, "qty": qty})

	raw, err := b.feed.LatestPrice(ctx, symbol)
	if err != nil || raw <= 0 {
		log.Warn("Paper order rejected: no price")
		return nil, nil
	}
	price := decimal.NewFromFloat(raw)
	shares := decimal.NewFromInt(int64(qty))
	fee := b.commission.Mul(shares)
	notional := price.Mul(shares)

	pos := b.positions[symbol]
	switch side {
	case contracts.SideBuy:
		cost := notional.Add(fee)
		if cost.GreaterThan(b.cash) {
			log.WithField("cash", b.cash.InexactFloat64()).Warn("Paper order rejected: insufficient cash")
			return nil, nil
		}
		b.cash = b.cash.Sub(cost)
		if pos == nil {
			pos = &paperPosition{}
			b.positions[symbol] = pos
		}
		held := decimal.NewFromInt(int64(pos.qty))
		pos.avgPrice = pos.avgPrice.Mul(held).Add(notional).Div(held.Add(shares))
		pos.qty += qty
		pos.lastPrice = price

	case contracts.SideSell:
		if pos == nil || pos.qty < qty {
			log.Warn("Paper order rejected: insufficient shares")
			return nil, nil
		}
		b.cash = b.cash.Add(notional).Sub(fee)
		pos.qty -= qty
		pos.lastPrice = price
		if pos.qty == 0 {
			delete(b.positions, symbol)
		}

	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}

	b.orderSeq++
	trade := contracts.NewTradeRecord(symbol, side, qty, raw, fee.InexactFloat64(),
		fmt.Sprintf("paper-%d", b.orderSeq), b.now().UTC())
	b.trades = append(b.trades, *trade)

	log.WithField("price", raw).Debug("Paper order filled")
	return trade, nil
}

// CancelAllOrders is a no-op: paper orders fill immediately.
func (b *PaperBroker) CancelAllOrders(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return 0, ErrNotConnected
	}
	return 0, nil
}

func (b *PaperBroker) GetRecentTrades(_ context.Context, since time.Time) ([]contracts.TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrNotConnected
	}
	var out []contracts.TradeRecord
	for _, t := range b.trades {
		if !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}
