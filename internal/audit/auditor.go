package audit

import (
	"math"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/risk"
)

// Check names, in the order they appear in a report.
const (
	CheckMinTrades            = "min_trades"
	CheckDrawdownLimit        = "drawdown_limit"
	CheckOverfittingDetection = "overfitting_detection"
	CheckProfitFactor         = "profit_factor"
	CheckValidationPassed     = "validation_passed"
	CheckWalkForwardGap       = "walk_forward_gap"
	CheckAnomalousPerformance = "anomalous_performance"
	CheckOverfit              = "overfit"
	CheckSurvivorshipBias     = "survivorship_bias"
	CheckConcentrationRisk    = "concentration_risk"
	CheckLookAheadBias        = "look_ahead_bias"
)

// Thresholds are the tunable audit constants.
type Thresholds struct {
	MinTrades          int     `json:"min_trades" yaml:"min_trades"`
	MinProfitFactor    float64 `json:"min_profit_factor" yaml:"min_profit_factor"`
	MaxSharpeGap       float64 `json:"max_sharpe_gap" yaml:"max_sharpe_gap"`             // screen - validation
	MaxWalkForwardGap  float64 `json:"max_walk_forward_gap" yaml:"max_walk_forward_gap"` // in-sample - out-of-sample
	MinOOSRatio        float64 `json:"min_oos_ratio" yaml:"min_oos_ratio"`
	MaxSharpe          float64 `json:"max_sharpe" yaml:"max_sharpe"`
	MaxWinRate         float64 `json:"max_win_rate" yaml:"max_win_rate"`
	AnomalyMinTrades   int     `json:"anomaly_min_trades" yaml:"anomaly_min_trades"`
	MinDataCoverage    float64 `json:"min_data_coverage" yaml:"min_data_coverage"`
	LookAheadRatio     float64 `json:"look_ahead_ratio" yaml:"look_ahead_ratio"`
	LookAheadMinSharpe float64 `json:"look_ahead_min_sharpe" yaml:"look_ahead_min_sharpe"`
	LookAheadMaxDD     float64 `json:"look_ahead_max_dd" yaml:"look_ahead_max_dd"`
}

// DefaultThresholds returns the standard gate.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTrades:          20,
		MinProfitFactor:    1.0,
		MaxSharpeGap:       1.0,
		MaxWalkForwardGap:  1.5,
		MinOOSRatio:        0.30,
		MaxSharpe:          5.0,
		MaxWinRate:         0.95,
		AnomalyMinTrades:   10,
		MinDataCoverage:    0.80,
		LookAheadRatio:     1.2,
		LookAheadMinSharpe: 3.0,
		LookAheadMaxDD:     0.02,
	}
}

// Auditor is the deterministic quality gate.
// ⭐ SSOT: pass/fail rules between screening and deployment live here only
type Auditor struct {
	thresholds Thresholds
	limits     risk.Limits
}

// NewAuditor binds thresholds to the risk engine's limits.
func NewAuditor(thresholds Thresholds, engine *risk.Engine) *Auditor {
	return &Auditor{thresholds: thresholds, limits: engine.Limits()}
}

// Thresholds returns the configured thresholds.
func (a *Auditor) Thresholds() Thresholds {
	return a.thresholds
}

// Audit runs every applicable check. validation and spec may be nil;
// checks that need them are then skipped, except validation_passed which needs a validation result.
func (a *Auditor) Audit(screen contracts.StrategyResult, validation *contracts.StrategyResult, spec *contracts.StrategySpec) *contracts.AuditReport {
	report := contracts.NewAuditReport(screen.SpecID)
	t := a.thresholds

	report.Add(CheckMinTrades, screen.TotalTrades >= t.MinTrades,
		"%d trades (min %d)", screen.TotalTrades, t.MinTrades)

	dd := math.Abs(screen.MaxDrawdown)
	report.Add(CheckDrawdownLimit, dd <= a.limits.MaxPortfolioDrawdown,
		"max drawdown %.2f%% (limit %.2f%%)", dd*100, a.limits.MaxPortfolioDrawdown*100)

	if validation != nil {
		a.checkOverfitting(report, screen, *validation)
	}

	report.Add(CheckProfitFactor, screen.ProfitFactor >= t.MinProfitFactor,
		"profit factor %.2f (min %.2f)", screen.ProfitFactor, t.MinProfitFactor)

	if validation != nil {
		report.Add(CheckValidationPassed, validation.Passed, "validation passed=%t", validation.Passed)
	}

	a.checkWalkForward(report, screen)
	a.checkAnomalous(report, screen)
	a.checkOverfit(report, screen)
	a.checkSurvivorship(report, screen)

	if spec != nil {
		pct := spec.Risk.MaxPositionPct
		report.Add(CheckConcentrationRisk, pct <= a.limits.MaxPositionPct,
			"max position %.2f%% (limit %.2f%%)", pct*100, a.limits.MaxPositionPct*100)
	}

	if validation != nil {
		a.checkLookAhead(report, screen, *validation)
	}

	return report
}

// ============================================================================
// Checks
// ============================================================================

func (a *Auditor) checkOverfitting(report *contracts.AuditReport, screen, validation contracts.StrategyResult) {
	if math.IsNaN(screen.Sharpe) || math.IsNaN(validation.Sharpe) {
		report.Add(CheckOverfittingDetection, true, "inconclusive: sharpe unavailable")
		return
	}
	gap := screen.Sharpe - validation.Sharpe
	report.Add(CheckOverfittingDetection, gap <= a.thresholds.MaxSharpeGap,
		"screen-validation sharpe gap %.2f (max %.2f)", gap, a.thresholds.MaxSharpeGap)
}

func (a *Auditor) checkWalkForward(report *contracts.AuditReport, r contracts.StrategyResult) {
	if !(r.InSampleSharpe > 0) {
		return
	}
	gap := r.InSampleSharpe - r.Sharpe
	report.Add(CheckWalkForwardGap, gap <= a.thresholds.MaxWalkForwardGap,
		"in-sample %.2f vs out-of-sample %.2f, gap %.2f (max %.2f)",
		r.InSampleSharpe, r.Sharpe, gap, a.thresholds.MaxWalkForwardGap)
}

func (a *Auditor) checkAnomalous(report *contracts.AuditReport, r contracts.StrategyResult) {
	t := a.thresholds
	switch {
	case r.Sharpe > t.MaxSharpe:
		report.Add(CheckAnomalousPerformance, false, "sharpe %.2f above %.2f", r.Sharpe, t.MaxSharpe)
	case r.WinRate > t.MaxWinRate && r.TotalTrades > t.AnomalyMinTrades:
		report.Add(CheckAnomalousPerformance, false, "win rate %.1f%% over %d trades", r.WinRate*100, r.TotalTrades)
	case r.MaxDrawdown == 0 && r.TotalTrades > t.AnomalyMinTrades:
		report.Add(CheckAnomalousPerformance, false, "zero drawdown over %d trades", r.TotalTrades)
	default:
		report.Add(CheckAnomalousPerformance, true, "no anomalies")
	}
}

func (a *Auditor) checkOverfit(report *contracts.AuditReport, r contracts.StrategyResult) {
	if !(r.InSampleSharpe > 0 && r.Sharpe > 0) {
		return
	}
	ratio := r.Sharpe / r.InSampleSharpe
	report.Add(CheckOverfit, ratio >= a.thresholds.MinOOSRatio,
		"oos/is sharpe ratio %.2f (min %.2f)", ratio, a.thresholds.MinOOSRatio)
}

func (a *Auditor) checkSurvivorship(report *contracts.AuditReport, r contracts.StrategyResult) {
	if r.SymbolsRequested == 0 {
		report.Add(CheckSurvivorshipBias, true, "inconclusive: no symbols requested")
		return
	}
	coverage := float64(r.SymbolsWithData) / float64(r.SymbolsRequested)
	report.Add(CheckSurvivorshipBias, coverage >= a.thresholds.MinDataCoverage,
		"%d/%d symbols with data (%.0f%%, min %.0f%%)",
		r.SymbolsWithData, r.SymbolsRequested, coverage*100, a.thresholds.MinDataCoverage*100)
}

// checkLookAhead is a heuristic: a temporal overlap is definite, an implausible improvement is only suspicious.
func (a *Auditor) checkLookAhead(report *contracts.AuditReport, screen, validation contracts.StrategyResult) {
	t := a.thresholds

	if !validation.PeriodStart.IsZero() && !screen.PeriodEnd.IsZero() && validation.PeriodStart.Before(screen.PeriodEnd) {
		report.Add(CheckLookAheadBias, false, "validation starts %s before screen ends %s",
			validation.PeriodStart.Format("2006-01-02"), screen.PeriodEnd.Format("2006-01-02"))
		return
	}

	if validation.Sharpe > t.LookAheadRatio*screen.Sharpe &&
		validation.Sharpe > t.LookAheadMinSharpe &&
		math.Abs(validation.MaxDrawdown) < t.LookAheadMaxDD &&
		validation.TotalTrades > t.AnomalyMinTrades {
		report.Add(CheckLookAheadBias, false, "validation sharpe %.2f implausibly above screen %.2f",
			validation.Sharpe, screen.Sharpe)
		return
	}

	report.Add(CheckLookAheadBias, true, "no look-ahead signature")
}
