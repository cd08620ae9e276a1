package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidLimits is wrapped by Limits.Validate failures.
var ErrInvalidLimits = errors.New("invalid risk limits")

// Rule names carried on violations.
const (
	RuleMaxPositionPct = "max_position_pct"
	RuleMaxPositions   = "max_positions"
	RuleMaxDrawdown    = "max_drawdown"
	RuleMaxDailyLoss   = "max_daily_loss"
	RuleMaxLeverage    = "max_leverage"
	RuleAssetClass     = "asset_class"
)

// Limits are the operator's hard limits.
// ⭐ SSOT: every position, drawdown and exposure limit comes from here
//
// Fractions are positive: MaxPortfolioDrawdown=0.20 means a 20% peak-to-trough loss.
type Limits struct {
	MaxPositionPct       float64  `json:"max_position_pct" yaml:"max_position_pct"`
	MaxPortfolioDrawdown float64  `json:"max_portfolio_drawdown" yaml:"max_portfolio_drawdown"`
	MaxDailyLoss         float64  `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxLeverage          float64  `json:"max_leverage" yaml:"max_leverage"`
	MaxPositions         int      `json:"max_positions" yaml:"max_positions"`
	MinCashReservePct    float64  `json:"min_cash_reserve_pct" yaml:"min_cash_reserve_pct"`
	AllowedAssetClasses  []string `json:"allowed_asset_classes" yaml:"allowed_asset_classes"`
}

// DefaultLimits are conservative limits for paper trading.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionPct:       0.10,
		MaxPortfolioDrawdown: 0.20,
		MaxDailyLoss:         0.05,
		MaxLeverage:          1.0,
		MaxPositions:         20,
		MinCashReservePct:    0.05,
		AllowedAssetClasses:  []string{"equity", "etf"},
	}
}

// Validate rejects limits that would make every check meaningless.
func (l Limits) Validate() error {
	switch {
	case !(l.MaxPositionPct > 0 && l.MaxPositionPct <= 1):
		return fmt.Errorf("%w: max_position_pct must be in (0, 1], got %v", ErrInvalidLimits, l.MaxPositionPct)
	case !(l.MaxPortfolioDrawdown > 0 && l.MaxPortfolioDrawdown <= 1):
		return fmt.Errorf("%w: max_portfolio_drawdown must be in (0, 1], got %v", ErrInvalidLimits, l.MaxPortfolioDrawdown)
	case !(l.MaxDailyLoss > 0 && l.MaxDailyLoss <= 1):
		return fmt.Errorf("%w: max_daily_loss must be in (0, 1], got %v", ErrInvalidLimits, l.MaxDailyLoss)
	case !(l.MaxLeverage > 0) || math.IsInf(l.MaxLeverage, 0):
		return fmt.Errorf("%w: max_leverage must be > 0, got %v", ErrInvalidLimits, l.MaxLeverage)
	case l.MaxPositions < 1:
		return fmt.Errorf("%w: max_positions must be >= 1, got %d", ErrInvalidLimits, l.MaxPositions)
	case !(l.MinCashReservePct >= 0 && l.MinCashReservePct < 1):
		return fmt.Errorf("%w: min_cash_reserve_pct must be in [0, 1), got %v", ErrInvalidLimits, l.MinCashReservePct)
	case len(l.AllowedAssetClasses) == 0:
		return fmt.Errorf("%w: allowed_asset_classes must not be empty", ErrInvalidLimits)
	}
	return nil
}
