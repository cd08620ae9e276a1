package contracts

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStrategySpec_AssignsIDAndCopiesParams(t *testing.T) {
	params := map[string]float64{"lookback": 20}
	a := NewStrategySpec("momentum", "dow30", params, DefaultRiskParams())
	b := NewStrategySpec("momentum", "dow30", params, DefaultRiskParams())

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	params["lookback"] = 99
	assert.Equal(t, 20.0, a.Parameters["lookback"])
}

func TestStrategySpec_CloneIsDeep(t *testing.T) {
	spec := NewStrategySpec("momentum", "dow30", map[string]float64{"lookback": 20}, DefaultRiskParams())
	clone := spec.Clone()
	clone.Parameters["lookback"] = 5

	assert.Equal(t, 20.0, spec.Parameters["lookback"])
	assert.Equal(t, spec.ID, clone.ID)
}

func TestAuditReport_PassedIsConjunction(t *testing.T) {
	report := NewAuditReport("spec-1")
	assert.True(t, report.Passed)

	report.Add("a", true, "ok")
	report.Add("b", false, "value %d too low", 3)
	report.Add("c", true, "ok")

	assert.False(t, report.Passed)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "value 3 too low", report.Failed()[0].Message)

	check, ok := report.Check("c")
	assert.True(t, ok)
	assert.True(t, check.Passed)
}

func TestSortableSharpe_NaNRanksLast(t *testing.T) {
	assert.True(t, math.IsInf(StrategyResult{Sharpe: math.NaN()}.SortableSharpe(), -1))
	assert.Equal(t, 1.2, StrategyResult{Sharpe: 1.2}.SortableSharpe())
}

func TestMetric(t *testing.T) {
	r := StrategyResult{Sharpe: 1, AnnualReturn: 0.2, TotalReturn: 0.5}
	assert.Equal(t, 1.0, MetricSharpe.Value(r))
	assert.Equal(t, 0.2, MetricAnnualReturn.Value(r))
	assert.Equal(t, 0.5, MetricTotalReturn.Value(r))
	assert.False(t, Metric("sortino").Valid())
}

func TestLatestResult(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	results := []StrategyResult{
		{ID: "s", Phase: PhaseScreen, CreatedAt: t0.Add(3 * time.Hour)},
		{ID: "v1", Phase: PhaseValidate, CreatedAt: t0},
		{ID: "v2", Phase: PhaseValidate, CreatedAt: t0.Add(time.Hour)},
	}

	latest := LatestResult(results, PhaseValidate)
	require.NotNil(t, latest)
	assert.Equal(t, "v2", latest.ID)
	assert.Nil(t, LatestResult(results, PhaseLive))
}

func TestDeployment_Helpers(t *testing.T) {
	d := NewDeployment("spec-1", ModePaper, []string{"SPY"}, 100_000)
	assert.Equal(t, StatusPending, d.Status)
	assert.False(t, d.IsActive())

	_, ok := d.LastSnapshot()
	assert.False(t, ok)

	d.Snapshots = append(d.Snapshots, LiveSnapshot{Equity: 1}, LiveSnapshot{Equity: 2})
	d.Trades = append(d.Trades, TradeRecord{Commission: 1.5}, TradeRecord{Commission: 0.5})

	last, ok := d.LastSnapshot()
	assert.True(t, ok)
	assert.Equal(t, 2.0, last.Equity)
	assert.Equal(t, 2.0, d.TotalFees())
	assert.True(t, ModePaperBroker.Valid())
	assert.False(t, DeploymentMode("sim").Valid())
}
