package contracts

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentMode selects where orders go.
type DeploymentMode string

const (
	ModePaper       DeploymentMode = "paper"        // in-process simulated broker
	ModePaperBroker DeploymentMode = "paper_broker" // broker-hosted paper account
	ModeLive        DeploymentMode = "live"
)

// Valid reports whether m is a known mode.
func (m DeploymentMode) Valid() bool {
	return m == ModePaper || m == ModePaperBroker || m == ModeLive
}

// DeploymentStatus is the lifecycle state: pending -> active -> stopped.
type DeploymentStatus string

const (
	StatusPending DeploymentStatus = "pending"
	StatusActive  DeploymentStatus = "active"
	StatusStopped DeploymentStatus = "stopped"
)

// Deployment is one paper or live execution of a spec.
// ⭐ SSOT: deployment header plus its append-only snapshot and trade history
type Deployment struct {
	ID          string           `json:"id"`
	SpecID      string           `json:"spec_id"`
	Mode        DeploymentMode   `json:"mode"`
	Status      DeploymentStatus `json:"status"`
	Symbols     []string         `json:"symbols"`
	InitialCash float64          `json:"initial_cash"`
	StartedAt   time.Time        `json:"started_at"`
	StoppedAt   *time.Time       `json:"stopped_at,omitempty"`
	StopReason  string           `json:"stop_reason,omitempty"`
	Snapshots   []LiveSnapshot   `json:"snapshots"`
	Trades      []TradeRecord    `json:"trades"`
}

// NewDeployment creates a pending deployment with a fresh id.
func NewDeployment(specID string, mode DeploymentMode, symbols []string, initialCash float64) *Deployment {
	return &Deployment{
		ID:          uuid.NewString(),
		SpecID:      specID,
		Mode:        mode,
		Status:      StatusPending,
		Symbols:     append([]string(nil), symbols...),
		InitialCash: initialCash,
	}
}

// IsActive reports whether the deployment accepts rebalances.
func (d *Deployment) IsActive() bool {
	return d.Status == StatusActive
}

// LastSnapshot returns the most recent snapshot, if any.
func (d *Deployment) LastSnapshot() (LiveSnapshot, bool) {
	if len(d.Snapshots) == 0 {
		return LiveSnapshot{}, false
	}
	return d.Snapshots[len(d.Snapshots)-1], true
}

// TotalFees sums commissions over the trade history.
func (d *Deployment) TotalFees() float64 {
	var fees float64
	for _, t := range d.Trades {
		fees += t.Commission
	}
	return fees
}

// Position is a holding as reported by a broker or captured in a snapshot.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      int     `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// LiveSnapshot is point-in-time account state. Immutable once appended.
type LiveSnapshot struct {
	DeploymentID string     `json:"deployment_id"`
	Timestamp    time.Time  `json:"timestamp"`
	Equity       float64    `json:"equity"`
	Cash         float64    `json:"cash"`
	Positions    []Position `json:"positions"`
	TotalTrades  int        `json:"total_trades"`
	TotalFees    float64    `json:"total_fees"`
}

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeRecord is one broker fill.
type TradeRecord struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Quantity     int       `json:"quantity"`
	Price        float64   `json:"price"`
	Commission   float64   `json:"commission"`
	OrderID      string    `json:"order_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewTradeRecord creates a fill record with a fresh id.
func NewTradeRecord(symbol string, side Side, qty int, price, commission float64, orderID string, ts time.Time) *TradeRecord {
	return &TradeRecord{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		OrderID:    orderID,
		Timestamp:  ts,
	}
}

// AccountSummary is a broker's account view.
type AccountSummary struct {
	Equity         float64 `json:"equity"`
	Cash           float64 `json:"cash"`
	BuyingPower    float64 `json:"buying_power"`
	PositionsValue float64 `json:"positions_value"`
}

// SymbolSignal is a long/flat decision for one symbol with the price it was taken at.
type SymbolSignal struct {
	Symbol string  `json:"symbol"`
	Long   bool    `json:"long"`
	Price  float64 `json:"price"`
}
