package deployer

import (
	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/universe"
)

// Readiness check names.
const (
	CheckRiskLimits       = "risk_limits"
	CheckAuditGate        = "audit_gate"
	CheckScreenPassed     = "screen_passed"
	CheckValidationPassed = "validation_passed"
	CheckDrawdownLimit    = "drawdown_limit"
	CheckAssetClass       = "asset_class"
)

// ValidateReadiness runs the pre-deploy gate. Every check must pass.
// A missing screen or validation result fails the checks that need it.
func (d *Deployer) ValidateReadiness(spec contracts.StrategySpec, screen, validation *contracts.StrategyResult) *contracts.AuditReport {
	report := contracts.NewAuditReport(spec.ID)

	violations := d.risk.CheckSpec(spec)
	report.Add(CheckRiskLimits, len(violations) == 0, "%d risk violations %v", len(violations), violations)

	if d.cfg.RequireAudit {
		switch {
		case screen == nil:
			report.Add(CheckAuditGate, false, "no screen result to audit")
		default:
			audit := d.auditor.Audit(*screen, validation, &spec)
			failed := audit.Failed()
			names := make([]string, len(failed))
			for i, c := range failed {
				names[i] = c.Name
			}
			report.Add(CheckAuditGate, audit.Passed, "audit failed checks %v", names)
		}
	}

	if screen == nil {
		report.Add(CheckScreenPassed, false, "no screen result")
	} else {
		report.Add(CheckScreenPassed, screen.Passed, "screen passed=%t", screen.Passed)
	}

	if validation == nil {
		report.Add(CheckValidationPassed, false, "validation result required")
	} else {
		report.Add(CheckValidationPassed, validation.Passed, "validation passed=%t", validation.Passed)
	}

	if screen == nil {
		report.Add(CheckDrawdownLimit, false, "no screen result")
	} else {
		dd := d.risk.CheckResultDrawdown(screen.MaxDrawdown)
		report.Add(CheckDrawdownLimit, len(dd) == 0, "screen max drawdown %.2f%%", screen.MaxDrawdown*100)
	}

	class := universe.AssetClass(spec.UniverseID)
	report.Add(CheckAssetClass, len(d.risk.CheckAssetClass(class)) == 0,
		"universe %q asset class %q", spec.UniverseID, class)

	return report
}
