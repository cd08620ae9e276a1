// Package promoter decides whether a paper deployment has earned real capital.
package promoter

import (
	"fmt"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/monitor"
)

// Config holds promotion requirements.
type Config struct {
	MinPaperTradingDays float64 `json:"min_paper_trading_days" yaml:"min_paper_trading_days"`
	// MinRejectAlerts is how many drift alerts turn an out-of-tolerance comparison into a rejection.
	MinRejectAlerts int `json:"min_reject_alerts" yaml:"min_reject_alerts"`
}

// DefaultConfig requires twenty days of paper trading.
func DefaultConfig() Config {
	return Config{MinPaperTradingDays: 20, MinRejectAlerts: 2}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MinPaperTradingDays < 0 {
		return fmt.Errorf("min_paper_trading_days must be >= 0, got %.1f", c.MinPaperTradingDays)
	}
	if c.MinRejectAlerts < 1 {
		return fmt.Errorf("min_reject_alerts must be >= 1, got %d", c.MinRejectAlerts)
	}
	return nil
}

// Promoter turns monitor output into a decision.
type Promoter struct {
	cfg     Config
	monitor *monitor.Monitor
}

// New creates a promoter.
func New(cfg Config, mon *monitor.Monitor) *Promoter {
	return &Promoter{cfg: cfg, monitor: mon}
}

// Evaluate decides on a deployment against its validation result.
//
// approved: time requirement met, comparison within tolerance, no risk violations.
// rejected: any risk violation, or an out-of-tolerance comparison with MinRejectAlerts or more alerts.
// needs_review: everything else.
func (p *Promoter) Evaluate(d *contracts.Deployment, validation *contracts.StrategyResult) *contracts.PromotionReport {
	comparison := p.monitor.Compare(d, validation)
	violations := p.monitor.CheckRisk(d)
	days := p.monitor.DaysElapsed(d)

	report := &contracts.PromotionReport{
		DeploymentID:         d.ID,
		SpecID:               d.SpecID,
		DaysElapsed:          days,
		MeetsTimeRequirement: days >= p.cfg.MinPaperTradingDays,
		Comparison:           comparison,
		RiskViolations:       violations,
		EvaluatedAt:          comparison.EvaluatedAt,
	}
	if report.RiskViolations == nil {
		report.RiskViolations = []contracts.RiskViolation{}
	}

	var reasons []string
	if report.MeetsTimeRequirement {
		reasons = append(reasons, fmt.Sprintf("%.1f days of paper trading (min %.0f)", days, p.cfg.MinPaperTradingDays))
	} else {
		reasons = append(reasons, fmt.Sprintf("only %.1f days of paper trading (min %.0f)", days, p.cfg.MinPaperTradingDays))
	}
	if len(d.Snapshots) == 0 {
		reasons = append(reasons, "no snapshot data")
	}
	if comparison.WithinTolerance {
		reasons = append(reasons, "live performance within tolerance of validation")
	} else {
		for _, a := range comparison.Alerts {
			reasons = append(reasons, "drift: "+a)
		}
	}
	for _, v := range violations {
		reasons = append(reasons, "risk: "+v.String())
	}

	switch {
	case len(violations) > 0:
		report.Decision = contracts.DecisionRejected
	case !comparison.WithinTolerance && len(comparison.Alerts) >= p.cfg.MinRejectAlerts:
		report.Decision = contracts.DecisionRejected
	case report.MeetsTimeRequirement && comparison.WithinTolerance:
		report.Decision = contracts.DecisionApproved
	default:
		report.Decision = contracts.DecisionNeedsReview
	}
	report.Reasoning = reasons
	return report
}
