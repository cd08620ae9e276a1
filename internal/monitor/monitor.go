// Package monitor compares live deployments with their validation baseline and checks live risk.
package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/perf"
	"github.com/wonny/forge/internal/risk"
)

// Alert messages raised by Compare.
const (
	AlertNoSnapshots   = "no snapshots"
	AlertNoBaseline    = "no validation baseline"
	alertReturnDrift   = "annualized return drift %.0f%% exceeds %.0f%% (live %.2f%%, expected %.2f%%)"
	alertSharpeDrift   = "sharpe drift %.2f exceeds %.2f (live %.2f, expected %.2f)"
	alertDrawdown      = "live drawdown %.2f%% exceeds %.2f%%"
	alertDrawdownVsExp = "live drawdown %.2f%% exceeds %.1fx expected %.2f%%"
)

// Config holds drift tolerances.
type Config struct {
	ReturnTolerance    float64 `json:"return_tolerance" yaml:"return_tolerance"` // relative annualized return drift
	MaxSharpeDrift     float64 `json:"max_sharpe_drift" yaml:"max_sharpe_drift"`
	DrawdownAlert      float64 `json:"drawdown_alert" yaml:"drawdown_alert"`
	DrawdownMultiplier float64 `json:"drawdown_multiplier" yaml:"drawdown_multiplier"`

	// PositionWeightDrift is how far (in weight points) a holding may grow past the
	// position limit it was sized at before CheckRisk reports it.
	PositionWeightDrift float64 `json:"position_weight_drift" yaml:"position_weight_drift"`
}

// DefaultConfig returns the standard tolerances.
func DefaultConfig() Config {
	return Config{
		ReturnTolerance:     0.30,
		MaxSharpeDrift:      1.0,
		DrawdownAlert:       0.15,
		DrawdownMultiplier:  1.5,
		PositionWeightDrift: 0.02,
	}
}

// Validate reports the first invalid tolerance.
func (c Config) Validate() error {
	switch {
	case c.ReturnTolerance <= 0:
		return fmt.Errorf("return_tolerance must be > 0, got %.2f", c.ReturnTolerance)
	case c.MaxSharpeDrift <= 0:
		return fmt.Errorf("max_sharpe_drift must be > 0, got %.2f", c.MaxSharpeDrift)
	case c.DrawdownAlert <= 0 || c.DrawdownAlert > 1:
		return fmt.Errorf("drawdown_alert must be in (0,1], got %.2f", c.DrawdownAlert)
	case c.DrawdownMultiplier < 1:
		return fmt.Errorf("drawdown_multiplier must be >= 1, got %.2f", c.DrawdownMultiplier)
	case c.PositionWeightDrift < 0 || c.PositionWeightDrift >= 1:
		return fmt.Errorf("position_weight_drift must be in [0,1), got %.2f", c.PositionWeightDrift)
	}
	return nil
}

// Monitor is stateless apart from its tolerances and the risk engine's limits.
type Monitor struct {
	cfg  Config
	risk *risk.Engine
	now  func() time.Time
}

// New creates a monitor.
func New(cfg Config, engine *risk.Engine) *Monitor {
	return &Monitor{cfg: cfg, risk: engine, now: time.Now}
}

// WithClock replaces the clock used for elapsed time when there are no snapshots.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Config returns the monitor's tolerances.
func (m *Monitor) Config() Config {
	return m.cfg
}

// ============================================================================
// Live series
// ============================================================================

// liveStats are the figures Compare and ComputeLiveResult share.
type liveStats struct {
	days        float64
	totalReturn float64
	annual      float64
	sharpe      float64
	maxDD       float64
}

// equitySeries is the initial cash followed by every snapshot's equity.
func equitySeries(d *contracts.Deployment) []float64 {
	series := make([]float64, 0, len(d.Snapshots)+1)
	series = append(series, d.InitialCash)
	for _, s := range d.Snapshots {
		series = append(series, s.Equity)
	}
	return series
}

// DaysElapsed is the time from start to the last snapshot (or now), in days.
func (m *Monitor) DaysElapsed(d *contracts.Deployment) float64 {
	end := m.now().UTC()
	if last, ok := d.LastSnapshot(); ok {
		end = last.Timestamp
	}
	if d.StartedAt.IsZero() || end.Before(d.StartedAt) {
		return 0
	}
	return end.Sub(d.StartedAt).Hours() / 24
}

func (m *Monitor) stats(d *contracts.Deployment) liveStats {
	series := equitySeries(d)
	last := series[len(series)-1]
	st := liveStats{days: m.DaysElapsed(d)}
	st.totalReturn = perf.TotalReturn(d.InitialCash, last)
	st.annual = perf.Annualize(st.totalReturn, st.days)
	st.sharpe = perf.Sharpe(perf.Returns(series))
	st.maxDD = perf.MaxDrawdown(series)
	return st
}

// ============================================================================
// Compare
// ============================================================================

// Compare measures live drift against the validation result. WithinTolerance means no alerts.
func (m *Monitor) Compare(d *contracts.Deployment, expected *contracts.StrategyResult) *contracts.ComparisonReport {
	report := &contracts.ComparisonReport{
		DeploymentID:  d.ID,
		SnapshotCount: len(d.Snapshots),
		DaysElapsed:   m.DaysElapsed(d),
		Alerts:        []string{},
		EvaluatedAt:   m.now().UTC(),
	}
	if len(d.Snapshots) == 0 {
		report.Alerts = append(report.Alerts, AlertNoSnapshots)
		return report
	}

	st := m.stats(d)
	report.LiveReturn = st.totalReturn
	report.LiveAnnualReturn = st.annual
	report.LiveSharpe = st.sharpe
	report.LiveMaxDrawdown = st.maxDD

	liveDD := math.Abs(st.maxDD)
	if liveDD > m.cfg.DrawdownAlert {
		report.Alerts = append(report.Alerts, fmt.Sprintf(alertDrawdown, liveDD*100, m.cfg.DrawdownAlert*100))
	}

	if expected == nil {
		report.Alerts = append(report.Alerts, AlertNoBaseline)
		return report
	}
	report.ExpectedAnnualReturn = expected.AnnualReturn
	report.ExpectedSharpe = expected.Sharpe
	report.ExpectedMaxDrawdown = expected.MaxDrawdown

	// zero expected return has no relative scale; drift is then the absolute live return
	report.ReturnDrift = math.Abs(st.annual - expected.AnnualReturn)
	if expected.AnnualReturn != 0 {
		report.ReturnDrift /= math.Abs(expected.AnnualReturn)
	}
	if report.ReturnDrift > m.cfg.ReturnTolerance {
		report.Alerts = append(report.Alerts, fmt.Sprintf(alertReturnDrift,
			report.ReturnDrift*100, m.cfg.ReturnTolerance*100, st.annual*100, expected.AnnualReturn*100))
	}

	report.SharpeDrift = math.Abs(st.sharpe - expected.Sharpe)
	if report.SharpeDrift > m.cfg.MaxSharpeDrift {
		report.Alerts = append(report.Alerts, fmt.Sprintf(alertSharpeDrift,
			report.SharpeDrift, m.cfg.MaxSharpeDrift, st.sharpe, expected.Sharpe))
	}

	expDD := math.Abs(expected.MaxDrawdown)
	if expDD > 0 && liveDD > m.cfg.DrawdownMultiplier*expDD {
		report.Alerts = append(report.Alerts, fmt.Sprintf(alertDrawdownVsExp,
			liveDD*100, m.cfg.DrawdownMultiplier, expDD*100))
	}

	report.WithinTolerance = len(report.Alerts) == 0
	return report
}

// ============================================================================
// CheckRisk
// ============================================================================

// CheckRisk applies the live limits to the snapshot history. No snapshots means no violations.
func (m *Monitor) CheckRisk(d *contracts.Deployment) []contracts.RiskViolation {
	if len(d.Snapshots) == 0 {
		return nil
	}
	var violations []contracts.RiskViolation

	violations = append(violations, m.risk.CheckResultDrawdown(perf.MaxDrawdown(equitySeries(d)))...)

	n := len(d.Snapshots)
	last := d.Snapshots[n-1]
	if n >= 2 {
		prev := d.Snapshots[n-2].Equity
		if prev > 0 && last.Equity < prev {
			violations = append(violations, m.risk.CheckDailyLoss((prev-last.Equity)/prev)...)
		}
	}

	held := 0
	var exposure float64
	for _, p := range last.Positions {
		if p.Quantity == 0 {
			continue
		}
		held++
		value := math.Abs(marketValue(p))
		exposure += value
		if last.Equity > 0 {
			violations = append(violations, m.risk.CheckPositionWeightDrift(p.Symbol, value/last.Equity, m.cfg.PositionWeightDrift)...)
		}
	}
	violations = append(violations, m.risk.CheckPositionCount(held)...)
	violations = append(violations, m.risk.CheckLeverage(exposure, last.Equity)...)

	return violations
}

func marketValue(p contracts.Position) float64 {
	if p.MarketValue != 0 {
		return p.MarketValue
	}
	price := p.CurrentPrice
	if price == 0 {
		price = p.AvgPrice
	}
	return float64(p.Quantity) * price
}
