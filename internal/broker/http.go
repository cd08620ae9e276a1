package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/pkg/httputil"
	"github.com/wonny/forge/pkg/logger"
)

// HTTPConfig configures a REST brokerage account.
type HTTPConfig struct {
	BaseURL           string
	KeyID             string
	Secret            string
	RequestsPerSecond float64
	FillPollAttempts  int
	FillPollInterval  time.Duration
	Timeout           time.Duration
}

// HTTPBroker talks to an Alpaca-style trading REST API. Paper and live accounts differ only by BaseURL.
// Calls fail fast; pacing is enforced by a token bucket shared by all calls of this instance.
type HTTPBroker struct {
	cfg     HTTPConfig
	client  *httputil.Client
	limiter *rate.Limiter
	logger  *logger.Logger

	mu        sync.RWMutex
	connected bool
}

var _ Broker = (*HTTPBroker)(nil)

// NewHTTPBroker creates a disconnected REST broker.
func NewHTTPBroker(cfg HTTPConfig, log *logger.Logger) *HTTPBroker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.FillPollAttempts < 1 {
		cfg.FillPollAttempts = 1
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	client := httputil.New(log, cfg.Timeout).
		DisableRetry().
		WithHeader("APCA-API-KEY-ID", cfg.KeyID).
		WithHeader("APCA-API-SECRET-KEY", cfg.Secret)

	return &HTTPBroker{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  log,
	}
}

// WithTransport swaps the HTTP transport (tests).
func (b *HTTPBroker) WithTransport(rt http.RoundTripper) *HTTPBroker {
	b.client.WithTransport(rt)
	return b
}

// ============================================================================
// Wire types
// ============================================================================

type accountResponse struct {
	Equity          decimal.Decimal `json:"equity"`
	Cash            decimal.Decimal `json:"cash"`
	BuyingPower     decimal.Decimal `json:"buying_power"`
	LongMarketValue decimal.Decimal `json:"long_market_value"`
	Status          string          `json:"status"`
}

type positionResponse struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
}

type orderResponse struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Status         string          `json:"status"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	FilledAt       *time.Time      `json:"filled_at"`
}

type fillActivity struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Qty             decimal.Decimal `json:"qty"`
	Price           decimal.Decimal `json:"price"`
	OrderID         string          `json:"order_id"`
	TransactionTime time.Time       `json:"transaction_time"`
}

// ============================================================================
// Broker
// ============================================================================

func (b *HTTPBroker) call(ctx context.Context, method, path string, body, dest interface{}) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return b.client.DoJSON(ctx, method, strings.TrimRight(b.cfg.BaseURL, "/")+path, body, dest)
}

func (b *HTTPBroker) requireConnected() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.connected {
		return ErrNotConnected
	}
	return nil
}

// Connect probes the account endpoint.
func (b *HTTPBroker) Connect(ctx context.Context) error {
	var acct accountResponse
	if err := b.call(ctx, http.MethodGet, "/v2/account", nil, &acct); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if acct.Status != "" && acct.Status != "ACTIVE" {
		return fmt.Errorf("connect: account status %s", acct.Status)
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *HTTPBroker) Disconnect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *HTTPBroker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *HTTPBroker) GetAccountSummary(ctx context.Context) (*contracts.AccountSummary, error) {
	if err := b.requireConnected(); err != nil {
		return nil, err
	}
	var acct accountResponse
	if err := b.call(ctx, http.MethodGet, "/v2/account", nil, &acct); err != nil {
		return nil, err
	}
	return &contracts.AccountSummary{
		Equity:         acct.Equity.InexactFloat64(),
		Cash:           acct.Cash.InexactFloat64(),
		BuyingPower:    acct.BuyingPower.InexactFloat64(),
		PositionsValue: acct.LongMarketValue.InexactFloat64(),
	}, nil
}

func (b *HTTPBroker) GetPositions(ctx context.Context) ([]contracts.Position, error) {
	if err := b.requireConnected(); err != nil {
		return nil, err
	}
	var raw []positionResponse
	if err := b.call(ctx, http.MethodGet, "/v2/positions", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]contracts.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, contracts.Position{
			Symbol:        p.Symbol,
			Quantity:      int(p.Qty.IntPart()),
			AvgPrice:      p.AvgEntryPrice.InexactFloat64(),
			CurrentPrice:  p.CurrentPrice.InexactFloat64(),
			MarketValue:   p.MarketValue.InexactFloat64(),
			UnrealizedPnL: p.UnrealizedPL.InexactFloat64(),
		})
	}
	return out, nil
}

// PlaceOrder submits a market day order and polls until it fills.
// Client-side rejections (4xx) and orders that do not fill in time return a nil trade.
func (b *HTTPBroker) PlaceOrder(ctx context.Context, symbol string, side contracts.Side, qty int) (*contracts.TradeRecord, error) {
	if err := b.requireConnected(); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, nil
	}
	log := b.logger.WithFields(map[string]interface{}{"symbol": symbol, "side": side, "qty": qty})

	var order orderResponse
	err := b.call(ctx, http.MethodPost, "/v2/orders", orderRequest{
		Symbol:      symbol,
		Qty:         strconv.Itoa(qty),
		Side:        string(side),
		Type:        "market",
		TimeInForce: "day",
	}, &order)
	if err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 && statusErr.Code != http.StatusUnauthorized {
			log.WithField("status", statusErr.Code).Warn("Order rejected by broker")
			return nil, nil
		}
		return nil, fmt.Errorf("submit order: %w", err)
	}

	for attempt := 0; ; attempt++ {
		switch order.Status {
		case "filled":
			return b.tradeFromOrder(order, side), nil
		case "canceled", "expired", "rejected":
			log.WithField("status", order.Status).Warn("Order did not fill")
			return nil, nil
		}
		if attempt+1 >= b.cfg.FillPollAttempts {
			log.WithField("order_id", order.ID).Warn("Order still open after polling")
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.cfg.FillPollInterval):
		}

		if err := b.call(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(order.ID), nil, &order); err != nil {
			return nil, fmt.Errorf("poll order %s: %w", order.ID, err)
		}
	}
}

func (b *HTTPBroker) tradeFromOrder(o orderResponse, side contracts.Side) *contracts.TradeRecord {
	ts := time.Now().UTC()
	if o.FilledAt != nil {
		ts = o.FilledAt.UTC()
	}
	return contracts.NewTradeRecord(o.Symbol, side, int(o.FilledQty.IntPart()), o.FilledAvgPrice.InexactFloat64(), 0, o.ID, ts)
}

// CancelAllOrders cancels every open order and returns how many were cancelled.
func (b *HTTPBroker) CancelAllOrders(ctx context.Context) (int, error) {
	if err := b.requireConnected(); err != nil {
		return 0, err
	}
	var cancelled []struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
	}
	if err := b.call(ctx, http.MethodDelete, "/v2/orders", nil, &cancelled); err != nil {
		return 0, err
	}
	return len(cancelled), nil
}

func (b *HTTPBroker) GetRecentTrades(ctx context.Context, since time.Time) ([]contracts.TradeRecord, error) {
	if err := b.requireConnected(); err != nil {
		return nil, err
	}
	var fills []fillActivity
	path := "/v2/account/activities/FILL?after=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	if err := b.call(ctx, http.MethodGet, path, nil, &fills); err != nil {
		return nil, err
	}
	out := make([]contracts.TradeRecord, 0, len(fills))
	for _, f := range fills {
		t := contracts.NewTradeRecord(f.Symbol, contracts.Side(f.Side), int(f.Qty.IntPart()),
			f.Price.InexactFloat64(), 0, f.OrderID, f.TransactionTime)
		t.ID = f.ID
		out = append(out, *t)
	}
	return out, nil
}
