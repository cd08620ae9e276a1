package contracts

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// SizingMethod selects how a strategy sizes its positions.
type SizingMethod string

const (
	SizingEqualWeight   SizingMethod = "equal_weight"
	SizingVolatilityAdj SizingMethod = "volatility_adjusted"
)

// RiskParams is a strategy's own risk posture.
// Values are replaced wholesale (RiskEngine.ClampSpec), never mutated in place.
type RiskParams struct {
	MaxPositionPct float64      `json:"max_position_pct"`
	MaxPositions   int          `json:"max_positions"`
	StopLossPct    float64      `json:"stop_loss_pct"`
	TakeProfitPct  float64      `json:"take_profit_pct"`
	SizingMethod   SizingMethod `json:"sizing_method"`
}

// DefaultRiskParams is the conservative posture generated specs start from.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		MaxPositionPct: 0.10,
		MaxPositions:   10,
		StopLossPct:    0.08,
		TakeProfitPct:  0.20,
		SizingMethod:   SizingEqualWeight,
	}
}

// StrategySpec is one candidate strategy.
// ⭐ SSOT: candidate identity and parameters; persisted once, read-only afterwards
type StrategySpec struct {
	ID         string             `json:"id"`
	TemplateID string             `json:"template_id"`
	Parameters map[string]float64 `json:"parameters"`
	UniverseID string             `json:"universe_id"`
	Risk       RiskParams         `json:"risk"`
	ParentID   string             `json:"parent_id,omitempty"`
	Generation int                `json:"generation"`
	CreatedBy  string             `json:"created_by"`
	CreatedAt  time.Time          `json:"created_at"`
}

// NewStrategySpec builds a spec with a fresh id.
func NewStrategySpec(templateID, universeID string, params map[string]float64, risk RiskParams) *StrategySpec {
	return &StrategySpec{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		Parameters: copyParams(params),
		UniverseID: universeID,
		Risk:       risk,
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy.
func (s StrategySpec) Clone() StrategySpec {
	s.Parameters = copyParams(s.Parameters)
	return s
}

func copyParams(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Phase is the evaluation stage a result belongs to.
type Phase string

const (
	PhaseScreen   Phase = "screen"
	PhaseValidate Phase = "validate"
	PhaseLive     Phase = "live"
)

// Failure reasons attached to results that could not be evaluated normally.
const (
	FailureNoData         = "no_data"
	FailureInsufficient   = "insufficient_bars"
	FailureRiskViolations = "risk_violations"
)

// StrategyResult is the outcome of one evaluation phase.
// MaxDrawdown is a negative fraction (peak-to-trough); compare with math.Abs.
type StrategyResult struct {
	ID               string                       `json:"id"`
	SpecID           string                       `json:"spec_id"`
	Phase            Phase                        `json:"phase"`
	Sharpe           float64                      `json:"sharpe"`
	AnnualReturn     float64                      `json:"annual_return"`
	TotalReturn      float64                      `json:"total_return"`
	MaxDrawdown      float64                      `json:"max_drawdown"`
	TotalTrades      int                          `json:"total_trades"`
	WinRate          float64                      `json:"win_rate"`
	ProfitFactor     float64                      `json:"profit_factor"`
	Passed           bool                         `json:"passed"`
	FailureReason    string                       `json:"failure_reason,omitempty"`
	RegimeResults    map[RegimeLabel]RegimeResult `json:"regime_results,omitempty"`
	InSampleSharpe   float64                      `json:"in_sample_sharpe,omitempty"`
	SymbolsRequested int                          `json:"symbols_requested"`
	SymbolsWithData  int                          `json:"symbols_with_data"`
	PeriodStart      time.Time                    `json:"period_start"`
	PeriodEnd        time.Time                    `json:"period_end"`
	CreatedAt        time.Time                    `json:"created_at"`
}

// NewStrategyResult creates an empty result with a fresh id.
func NewStrategyResult(specID string, phase Phase) *StrategyResult {
	return &StrategyResult{
		ID:        uuid.NewString(),
		SpecID:    specID,
		Phase:     phase,
		CreatedAt: time.Now().UTC(),
	}
}

// SortableSharpe maps NaN to -Inf so NaN results rank last.
func (r StrategyResult) SortableSharpe() float64 {
	if math.IsNaN(r.Sharpe) {
		return math.Inf(-1)
	}
	return r.Sharpe
}

// SpecResult pairs a spec with one of its results.
type SpecResult struct {
	Spec   StrategySpec   `json:"spec"`
	Result StrategyResult `json:"result"`
}

// Metric names a rankable result column.
type Metric string

const (
	MetricSharpe       Metric = "sharpe"
	MetricAnnualReturn Metric = "annual_return"
	MetricTotalReturn  Metric = "total_return"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricSharpe, MetricAnnualReturn, MetricTotalReturn:
		return true
	}
	return false
}

// Value reads the metric off a result.
func (m Metric) Value(r StrategyResult) float64 {
	switch m {
	case MetricAnnualReturn:
		return r.AnnualReturn
	case MetricTotalReturn:
		return r.TotalReturn
	default:
		return r.SortableSharpe()
	}
}
