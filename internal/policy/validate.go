package policy

import (
	"fmt"

	"github.com/wonny/forge/internal/contracts"
)

// ValidationError is an invalid policy field. Startup aborts on it.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks every section and returns the first failure.
func Validate(p *Policy) error {
	// === Meta ===
	if p.Meta.Name == "" {
		return ValidationError{"meta.name", "required"}
	}

	// === Risk ===
	if err := p.Risk.Validate(); err != nil {
		return ValidationError{"risk", err.Error()}
	}

	// === Audit ===
	a := p.Audit
	if a.MinTrades < 0 {
		return ValidationError{"audit.min_trades", "must be >= 0"}
	}
	if a.MinProfitFactor < 0 {
		return ValidationError{"audit.min_profit_factor", "must be >= 0"}
	}
	if a.MaxSharpeGap <= 0 {
		return ValidationError{"audit.max_sharpe_gap", "must be > 0"}
	}
	if a.MaxWalkForwardGap <= 0 {
		return ValidationError{"audit.max_walk_forward_gap", "must be > 0"}
	}
	if a.MinOOSRatio < 0 || a.MinOOSRatio > 1 {
		return ValidationError{"audit.min_oos_ratio", "must be in [0, 1]"}
	}
	if a.MaxSharpe <= 0 {
		return ValidationError{"audit.max_sharpe", "must be > 0"}
	}
	if a.MaxWinRate <= 0 || a.MaxWinRate > 1 {
		return ValidationError{"audit.max_win_rate", "must be in (0, 1]"}
	}
	if a.MinDataCoverage < 0 || a.MinDataCoverage > 1 {
		return ValidationError{"audit.min_data_coverage", "must be in [0, 1]"}
	}

	// === Regime ===
	r := p.Regime
	if r.Window < 2 {
		return ValidationError{"regime.window", "must be >= 2"}
	}
	if r.VolThreshold <= 0 {
		return ValidationError{"regime.vol_threshold", "must be > 0"}
	}
	if r.BearThreshold >= r.BullThreshold {
		return ValidationError{"regime.bear_threshold", "must be below bull_threshold"}
	}
	if r.SmoothWindow < 1 {
		return ValidationError{"regime.smooth_window", "must be >= 1"}
	}
	if r.MergeGap < 0 {
		return ValidationError{"regime.merge_gap", "must be >= 0"}
	}
	if r.MinPeriodBars < 1 {
		return ValidationError{"regime.min_period_bars", "must be >= 1"}
	}

	// === Evolution ===
	if err := p.Evolution.Validate(); err != nil {
		return ValidationError{"evolution", err.Error()}
	}

	// === Deployment ===
	d := p.Deployment
	if d.InitialCash <= 0 {
		return ValidationError{"deployment.initial_cash", "must be > 0"}
	}
	if !d.DefaultMode.Valid() {
		return ValidationError{"deployment.default_mode", fmt.Sprintf("unknown mode %q", d.DefaultMode)}
	}
	if d.DefaultMode == contracts.ModeLive && !d.AllowLive {
		return ValidationError{"deployment.default_mode", "live requires allow_live"}
	}
	if d.RebalanceBand < 0 || d.RebalanceBand >= 1 {
		return ValidationError{"deployment.rebalance_band", fmt.Sprintf("must be in [0,1), got %.4f", d.RebalanceBand)}
	}

	// === Monitoring / Promotion ===
	if err := p.Monitoring.Validate(); err != nil {
		return ValidationError{"monitoring", err.Error()}
	}
	if err := p.Promotion.Validate(); err != nil {
		return ValidationError{"promotion", err.Error()}
	}

	// === Orchestrator ===
	o := p.Orchestrator
	if o.Workers < 1 {
		return ValidationError{"orchestrator.workers", "must be >= 1"}
	}
	if o.DeployMode != "" && !o.DeployMode.Valid() {
		return ValidationError{"orchestrator.deploy_mode", fmt.Sprintf("unknown mode %q", o.DeployMode)}
	}
	if o.DeployMode == contracts.ModeLive && !d.AllowLive {
		return ValidationError{"orchestrator.deploy_mode", "live requires deployment.allow_live"}
	}

	return nil
}
