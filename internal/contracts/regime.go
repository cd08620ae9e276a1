package contracts

import "time"

// RegimeLabel classifies a stretch of market history.
type RegimeLabel string

const (
	RegimeBull     RegimeLabel = "bull"
	RegimeBear     RegimeLabel = "bear"
	RegimeHighVol  RegimeLabel = "high_vol"
	RegimeSideways RegimeLabel = "sideways"
)

// AllRegimes lists labels in reporting order.
var AllRegimes = []RegimeLabel{RegimeBull, RegimeBear, RegimeHighVol, RegimeSideways}

// RegimePeriod is one labeled segment of a price series.
// StartIndex/EndIndex are inclusive bar offsets into the detector input.
type RegimePeriod struct {
	Label        RegimeLabel `json:"label"`
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	StartIndex   int         `json:"start_index"`
	EndIndex     int         `json:"end_index"`
	AnnualReturn float64     `json:"annual_return"`
	Volatility   float64     `json:"volatility"`
	MaxDrawdown  float64     `json:"max_drawdown"`
}

// Bars is the number of bars covered.
func (p RegimePeriod) Bars() int {
	return p.EndIndex - p.StartIndex + 1
}

// RegimeResult is a strategy's performance inside one regime window.
type RegimeResult struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Sharpe      float64   `json:"sharpe"`
	TotalReturn float64   `json:"total_return"`
	MaxDrawdown float64   `json:"max_drawdown"`
	TotalTrades int       `json:"total_trades"`
	Passed      bool      `json:"passed"`
}
