package audit

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/risk"
)

func newAuditor() *Auditor {
	return NewAuditor(DefaultThresholds(), risk.NewEngine(risk.DefaultLimits()))
}

func healthyScreen() contracts.StrategyResult {
	return contracts.StrategyResult{
		SpecID:           "spec-1",
		Phase:            contracts.PhaseScreen,
		Sharpe:           1.2,
		MaxDrawdown:      -0.12,
		TotalTrades:      40,
		WinRate:          0.55,
		ProfitFactor:     1.4,
		Passed:           true,
		SymbolsRequested: 10,
		SymbolsWithData:  10,
		PeriodStart:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:        time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func healthyValidation() contracts.StrategyResult {
	r := healthyScreen()
	r.Phase = contracts.PhaseValidate
	r.Sharpe = 1.0
	r.PeriodStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	r.PeriodEnd = time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	return r
}

func checkPassed(t *testing.T, report *contracts.AuditReport, name string) bool {
	t.Helper()
	c, ok := report.Check(name)
	require.True(t, ok, "check %s missing", name)
	return c.Passed
}

func TestAudit_HealthyPasses(t *testing.T) {
	screen := healthyScreen()
	validation := healthyValidation()
	spec := contracts.NewStrategySpec("momentum", "dow30", nil, contracts.DefaultRiskParams())

	report := newAuditor().Audit(screen, &validation, spec)

	assert.True(t, report.Passed, "failed: %v", report.Failed())
	for _, name := range []string{
		CheckMinTrades, CheckDrawdownLimit, CheckOverfittingDetection, CheckProfitFactor,
		CheckValidationPassed, CheckAnomalousPerformance, CheckSurvivorshipBias,
		CheckConcentrationRisk, CheckLookAheadBias,
	} {
		_, ok := report.Check(name)
		assert.True(t, ok, name)
	}
}

func TestAudit_ScreenOnlySkipsValidationChecks(t *testing.T) {
	report := newAuditor().Audit(healthyScreen(), nil, nil)

	for _, name := range []string{CheckOverfittingDetection, CheckValidationPassed, CheckLookAheadBias, CheckConcentrationRisk} {
		_, ok := report.Check(name)
		assert.False(t, ok, name)
	}
	assert.True(t, report.Passed)
}

func TestAudit_MinTradesBoundary(t *testing.T) {
	a := newAuditor()

	r := healthyScreen()
	r.TotalTrades = 19
	assert.False(t, checkPassed(t, a.Audit(r, nil, nil), CheckMinTrades))

	r.TotalTrades = 20
	assert.True(t, checkPassed(t, a.Audit(r, nil, nil), CheckMinTrades))
}

func TestAudit_AnomalousPerformance(t *testing.T) {
	a := newAuditor()

	tests := []struct {
		name   string
		mutate func(*contracts.StrategyResult)
		passed bool
	}{
		{"everything too good", func(r *contracts.StrategyResult) {
			r.Sharpe, r.WinRate, r.TotalTrades, r.MaxDrawdown = 6.0, 0.97, 50, 0
		}, false},
		{"sharpe above max", func(r *contracts.StrategyResult) { r.Sharpe = 5.1 }, false},
		{"win rate with many trades", func(r *contracts.StrategyResult) { r.WinRate = 0.96 }, false},
		{"win rate with few trades", func(r *contracts.StrategyResult) { r.WinRate, r.TotalTrades = 0.96, 10 }, true},
		{"zero drawdown", func(r *contracts.StrategyResult) { r.MaxDrawdown = 0 }, false},
		{"normal", func(r *contracts.StrategyResult) {}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := healthyScreen()
			tt.mutate(&r)
			report := a.Audit(r, nil, nil)
			assert.Equal(t, tt.passed, checkPassed(t, report, CheckAnomalousPerformance))
			if !tt.passed {
				assert.False(t, report.Passed)
			}
		})
	}
}

func TestAudit_DrawdownSignConvention(t *testing.T) {
	a := newAuditor()

	r := healthyScreen()
	r.MaxDrawdown = -0.25
	assert.False(t, checkPassed(t, a.Audit(r, nil, nil), CheckDrawdownLimit))

	r.MaxDrawdown = 0.25
	assert.False(t, checkPassed(t, a.Audit(r, nil, nil), CheckDrawdownLimit))

	r.MaxDrawdown = -0.20
	assert.True(t, checkPassed(t, a.Audit(r, nil, nil), CheckDrawdownLimit))
}

func TestAudit_Overfitting(t *testing.T) {
	a := newAuditor()
	screen := healthyScreen()
	screen.Sharpe = 2.5

	validation := healthyValidation()
	validation.Sharpe = 1.2
	assert.False(t, checkPassed(t, a.Audit(screen, &validation, nil), CheckOverfittingDetection))

	validation.Sharpe = 1.5
	assert.True(t, checkPassed(t, a.Audit(screen, &validation, nil), CheckOverfittingDetection))

	validation.Sharpe = math.NaN()
	assert.True(t, checkPassed(t, a.Audit(screen, &validation, nil), CheckOverfittingDetection))
}

func TestAudit_ValidationPassedMirrorsFlag(t *testing.T) {
	validation := healthyValidation()
	validation.Passed = false

	report := newAuditor().Audit(healthyScreen(), &validation, nil)
	assert.False(t, checkPassed(t, report, CheckValidationPassed))
	assert.False(t, report.Passed)
}

func TestAudit_WalkForwardAndOverfit(t *testing.T) {
	a := newAuditor()

	r := healthyScreen()
	r.InSampleSharpe = 0
	report := a.Audit(r, nil, nil)
	_, ok := report.Check(CheckWalkForwardGap)
	assert.False(t, ok)
	_, ok = report.Check(CheckOverfit)
	assert.False(t, ok)

	r.InSampleSharpe = 3.0
	r.Sharpe = 1.2
	report = a.Audit(r, nil, nil)
	assert.False(t, checkPassed(t, report, CheckWalkForwardGap))
	assert.True(t, checkPassed(t, report, CheckOverfit))

	r.InSampleSharpe = 1.5
	r.Sharpe = 0.4
	report = a.Audit(r, nil, nil)
	assert.True(t, checkPassed(t, report, CheckWalkForwardGap))
	assert.False(t, checkPassed(t, report, CheckOverfit))

	r.Sharpe = -0.2
	report = a.Audit(r, nil, nil)
	_, ok = report.Check(CheckOverfit)
	assert.False(t, ok)
}

func TestAudit_Survivorship(t *testing.T) {
	a := newAuditor()

	r := healthyScreen()
	r.SymbolsRequested, r.SymbolsWithData = 10, 7
	assert.False(t, checkPassed(t, a.Audit(r, nil, nil), CheckSurvivorshipBias))

	r.SymbolsWithData = 8
	assert.True(t, checkPassed(t, a.Audit(r, nil, nil), CheckSurvivorshipBias))

	r.SymbolsRequested, r.SymbolsWithData = 0, 0
	assert.True(t, checkPassed(t, a.Audit(r, nil, nil), CheckSurvivorshipBias))
}

func TestAudit_Concentration(t *testing.T) {
	risky := contracts.DefaultRiskParams()
	risky.MaxPositionPct = 0.3
	spec := contracts.NewStrategySpec("momentum", "dow30", nil, risky)

	report := newAuditor().Audit(healthyScreen(), nil, spec)
	assert.False(t, checkPassed(t, report, CheckConcentrationRisk))
}

func TestAudit_LookAhead(t *testing.T) {
	a := newAuditor()
	screen := healthyScreen()

	t.Run("temporal overlap", func(t *testing.T) {
		v := healthyValidation()
		v.PeriodStart = screen.PeriodEnd.AddDate(0, -6, 0)
		assert.False(t, checkPassed(t, a.Audit(screen, &v, nil), CheckLookAheadBias))
	})

	t.Run("implausible improvement", func(t *testing.T) {
		v := healthyValidation()
		v.Sharpe, v.MaxDrawdown, v.TotalTrades = 3.5, -0.01, 30
		assert.False(t, checkPassed(t, a.Audit(screen, &v, nil), CheckLookAheadBias))
	})

	t.Run("strong but with real drawdown", func(t *testing.T) {
		v := healthyValidation()
		v.Sharpe, v.MaxDrawdown, v.TotalTrades = 3.5, -0.08, 30
		assert.True(t, checkPassed(t, a.Audit(screen, &v, nil), CheckLookAheadBias))
	})
}
