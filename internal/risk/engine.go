package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/wonny/forge/internal/contracts"
)

// Engine enforces operator limits. Every method is pure.
// ⭐ SSOT: risk limit enforcement lives here only
type Engine struct {
	limits Limits
}

// NewEngine snapshots limits. Later changes to the caller's value are not observed.
func NewEngine(limits Limits) *Engine {
	limits.AllowedAssetClasses = append([]string(nil), limits.AllowedAssetClasses...)
	return &Engine{limits: limits}
}

// Limits returns a copy of the configured limits.
func (e *Engine) Limits() Limits {
	l := e.limits
	l.AllowedAssetClasses = append([]string(nil), e.limits.AllowedAssetClasses...)
	return l
}

// CheckSpec checks a spec's position size and position count.
func (e *Engine) CheckSpec(spec contracts.StrategySpec) []contracts.RiskViolation {
	var violations []contracts.RiskViolation

	pct := spec.Risk.MaxPositionPct
	if !(pct > 0) || pct > e.limits.MaxPositionPct {
		violations = append(violations, contracts.RiskViolation{
			Rule:    RuleMaxPositionPct,
			Limit:   e.limits.MaxPositionPct,
			Actual:  pct,
			Message: fmt.Sprintf("max position %.4f outside (0, %.4f]", pct, e.limits.MaxPositionPct),
		})
	}

	n := spec.Risk.MaxPositions
	if n < 1 || n > e.limits.MaxPositions {
		violations = append(violations, contracts.RiskViolation{
			Rule:    RuleMaxPositions,
			Limit:   float64(e.limits.MaxPositions),
			Actual:  float64(n),
			Message: fmt.Sprintf("max positions %d outside [1, %d]", n, e.limits.MaxPositions),
		})
	}

	return violations
}

// ClampSpec returns a new spec with risk fields capped to the limits.
// Out-of-range or unset values are replaced by the limit itself. The input is not modified.
func (e *Engine) ClampSpec(spec contracts.StrategySpec) contracts.StrategySpec {
	out := spec.Clone()

	if pct := out.Risk.MaxPositionPct; !(pct > 0) || pct > e.limits.MaxPositionPct {
		out.Risk.MaxPositionPct = e.limits.MaxPositionPct
	}
	if n := out.Risk.MaxPositions; n < 1 || n > e.limits.MaxPositions {
		out.Risk.MaxPositions = e.limits.MaxPositions
	}

	return out
}

// CheckResultDrawdown checks a drawdown of either sign convention against the portfolio limit.
func (e *Engine) CheckResultDrawdown(maxDD float64) []contracts.RiskViolation {
	dd := math.Abs(maxDD)
	if math.IsNaN(dd) || dd > e.limits.MaxPortfolioDrawdown {
		return []contracts.RiskViolation{{
			Rule:    RuleMaxDrawdown,
			Limit:   e.limits.MaxPortfolioDrawdown,
			Actual:  dd,
			Message: fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", dd*100, e.limits.MaxPortfolioDrawdown*100),
		}}
	}
	return nil
}

// CheckLeverage checks gross exposure relative to equity.
func (e *Engine) CheckLeverage(exposure, equity float64) []contracts.RiskViolation {
	if exposure <= 0 {
		return nil
	}
	if equity <= 0 {
		return []contracts.RiskViolation{{
			Rule:    RuleMaxLeverage,
			Limit:   e.limits.MaxLeverage,
			Actual:  math.Inf(1),
			Message: fmt.Sprintf("exposure %.2f with non-positive equity %.2f", exposure, equity),
		}}
	}

	leverage := exposure / equity
	if leverage > e.limits.MaxLeverage {
		return []contracts.RiskViolation{{
			Rule:    RuleMaxLeverage,
			Limit:   e.limits.MaxLeverage,
			Actual:  leverage,
			Message: fmt.Sprintf("leverage %.2fx exceeds limit %.2fx", leverage, e.limits.MaxLeverage),
		}}
	}
	return nil
}

// CheckAssetClass checks membership in the allowed set, case-insensitively.
func (e *Engine) CheckAssetClass(class string) []contracts.RiskViolation {
	for _, allowed := range e.limits.AllowedAssetClasses {
		if strings.EqualFold(allowed, class) {
			return nil
		}
	}
	return []contracts.RiskViolation{{
		Rule:    RuleAssetClass,
		Message: fmt.Sprintf("asset class %q not in %v", class, e.limits.AllowedAssetClasses),
	}}
}

// CheckDailyLoss checks a one-period loss, given as a positive fraction.
func (e *Engine) CheckDailyLoss(loss float64) []contracts.RiskViolation {
	if loss > e.limits.MaxDailyLoss {
		return []contracts.RiskViolation{{
			Rule:    RuleMaxDailyLoss,
			Limit:   e.limits.MaxDailyLoss,
			Actual:  loss,
			Message: fmt.Sprintf("daily loss %.2f%% exceeds limit %.2f%%", loss*100, e.limits.MaxDailyLoss*100),
		}}
	}
	return nil
}

// CheckPositionWeight checks one holding's share of equity.
func (e *Engine) CheckPositionWeight(symbol string, weight float64) []contracts.RiskViolation {
	return e.CheckPositionWeightDrift(symbol, weight, 0)
}

// CheckPositionWeightDrift checks a marked-to-market holding, allowing it to drift
// up to drift (in weight points) above the limit it was sized at.
func (e *Engine) CheckPositionWeightDrift(symbol string, weight, drift float64) []contracts.RiskViolation {
	limit := e.limits.MaxPositionPct + math.Max(drift, 0)
	if weight > limit {
		return []contracts.RiskViolation{{
			Rule:    RuleMaxPositionPct,
			Limit:   limit,
			Actual:  weight,
			Message: fmt.Sprintf("%s weight %.2f%% exceeds limit %.2f%%", symbol, weight*100, limit*100),
		}}
	}
	return nil
}

// CheckPositionCount checks the number of open holdings.
func (e *Engine) CheckPositionCount(n int) []contracts.RiskViolation {
	if n > e.limits.MaxPositions {
		return []contracts.RiskViolation{{
			Rule:    RuleMaxPositions,
			Limit:   float64(e.limits.MaxPositions),
			Actual:  float64(n),
			Message: fmt.Sprintf("%d positions exceed limit %d", n, e.limits.MaxPositions),
		}}
	}
	return nil
}
