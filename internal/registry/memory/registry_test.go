package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/internal/contracts"
)

func saveScreened(t *testing.T, r *Registry, sharpe float64, passed bool) *contracts.StrategySpec {
	t.Helper()
	ctx := context.Background()
	spec := contracts.NewStrategySpec("momentum", "dow30", map[string]float64{"lookback": 20}, contracts.DefaultRiskParams())
	require.NoError(t, r.SaveSpec(ctx, spec))

	res := contracts.NewStrategyResult(spec.ID, contracts.PhaseScreen)
	res.Sharpe = sharpe
	res.Passed = passed
	require.NoError(t, r.SaveResult(ctx, res))
	return spec
}

func TestSpecs_CopiedInAndOut(t *testing.T) {
	ctx := context.Background()
	r := New()
	spec := contracts.NewStrategySpec("momentum", "dow30", map[string]float64{"lookback": 20}, contracts.DefaultRiskParams())
	require.NoError(t, r.SaveSpec(ctx, spec))

	spec.Parameters["lookback"] = 99
	got, err := r.GetSpec(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.Parameters["lookback"])

	got.Parameters["lookback"] = 5
	again, _ := r.GetSpec(ctx, spec.ID)
	assert.Equal(t, 20.0, again.Parameters["lookback"])

	_, err = r.GetSpec(ctx, "missing")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestResults_UpsertKeepsOrder(t *testing.T) {
	ctx := context.Background()
	r := New()
	spec := saveScreened(t, r, 1.0, true)

	v := contracts.NewStrategyResult(spec.ID, contracts.PhaseValidate)
	require.NoError(t, r.SaveResult(ctx, v))
	v.Sharpe = 0.7
	require.NoError(t, r.SaveResult(ctx, v))

	results, err := r.GetResults(ctx, spec.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, contracts.PhaseScreen, results[0].Phase)
	assert.Equal(t, 0.7, results[1].Sharpe)
}

func TestGetBestSpecs(t *testing.T) {
	ctx := context.Background()
	r := New()
	low := saveScreened(t, r, 0.5, true)
	high := saveScreened(t, r, 1.5, false)
	nan := saveScreened(t, r, math.NaN(), true)
	mid := saveScreened(t, r, 1.0, true)

	best, err := r.GetBestSpecs(ctx, contracts.PhaseScreen, contracts.MetricSharpe, 0, false)
	require.NoError(t, err)
	require.Len(t, best, 4)
	assert.Equal(t, []string{high.ID, mid.ID, low.ID, nan.ID},
		[]string{best[0].Spec.ID, best[1].Spec.ID, best[2].Spec.ID, best[3].Spec.ID})

	passed, err := r.GetBestSpecs(ctx, contracts.PhaseScreen, contracts.MetricSharpe, 2, true)
	require.NoError(t, err)
	require.Len(t, passed, 2)
	assert.Equal(t, mid.ID, passed[0].Spec.ID)
	assert.Equal(t, low.ID, passed[1].Spec.ID)

	none, err := r.GetBestSpecs(ctx, contracts.PhaseValidate, contracts.MetricSharpe, 10, false)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = r.GetBestSpecs(ctx, contracts.PhaseScreen, contracts.Metric("sortino"), 10, false)
	assert.Error(t, err)
}

func TestGetBestSpecs_UsesLatestResultPerSpec(t *testing.T) {
	ctx := context.Background()
	r := New()
	spec := saveScreened(t, r, 3.0, true)

	newer := contracts.NewStrategyResult(spec.ID, contracts.PhaseScreen)
	newer.Sharpe = 0.2
	newer.CreatedAt = time.Now().Add(time.Hour)
	require.NoError(t, r.SaveResult(ctx, newer))

	best, err := r.GetBestSpecs(ctx, contracts.PhaseScreen, contracts.MetricSharpe, 0, false)
	require.NoError(t, err)
	require.Len(t, best, 1)
	assert.Equal(t, 0.2, best[0].Result.Sharpe)
}

func TestDeployments_HistoryAppendOnly(t *testing.T) {
	ctx := context.Background()
	r := New()
	d := contracts.NewDeployment("spec-1", contracts.ModePaper, []string{"SPY"}, 100_000)
	d.Status = contracts.StatusActive
	d.StartedAt = time.Now()
	require.NoError(t, r.SaveDeployment(ctx, d))

	t0 := time.Now()
	require.NoError(t, r.AppendSnapshot(ctx, contracts.LiveSnapshot{DeploymentID: d.ID, Timestamp: t0.Add(time.Minute), Equity: 101_000}))
	require.NoError(t, r.AppendSnapshot(ctx, contracts.LiveSnapshot{DeploymentID: d.ID, Timestamp: t0, Equity: 100_000}))
	require.NoError(t, r.AppendTrades(ctx, d.ID, []contracts.TradeRecord{
		*contracts.NewTradeRecord("SPY", contracts.SideBuy, 10, 500, 0, "o1", t0),
	}))

	d.Status = contracts.StatusStopped
	require.NoError(t, r.SaveDeployment(ctx, d))

	got, err := r.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusStopped, got.Status)
	require.Len(t, got.Snapshots, 2)
	assert.Equal(t, 100_000.0, got.Snapshots[0].Equity)
	require.Len(t, got.Trades, 1)
	assert.Equal(t, d.ID, got.Trades[0].DeploymentID)

	active, err := r.ListDeployments(ctx, contracts.StatusActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := r.ListDeployments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, r.AppendSnapshot(ctx, contracts.LiveSnapshot{DeploymentID: "nope"}), contracts.ErrNotFound)
	_, err = r.GetDeployment(ctx, "nope")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}
