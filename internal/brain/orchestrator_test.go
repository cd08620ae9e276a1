package brain

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/internal/audit"
	"github.com/wonny/forge/internal/broker"
	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/deployer"
	"github.com/wonny/forge/internal/evolver"
	"github.com/wonny/forge/internal/monitor"
	"github.com/wonny/forge/internal/notify"
	"github.com/wonny/forge/internal/observability"
	"github.com/wonny/forge/internal/promoter"
	"github.com/wonny/forge/internal/registry/memory"
	"github.com/wonny/forge/internal/risk"
	"github.com/wonny/forge/internal/testkit"
	"github.com/wonny/forge/pkg/config"
	"github.com/wonny/forge/pkg/logger"
)

type harness struct {
	reg     *memory.Registry
	prices  broker.StaticPrices
	signals *testkit.Signals
	events  *notify.Recorder
	metrics *observability.Metrics
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewNop()
	h := &harness{
		reg:     memory.New(),
		prices:  broker.StaticPrices{"X": 100},
		events:  &notify.Recorder{},
		metrics: observability.NewMetrics(),
	}
	h.signals = testkit.NewSignals(h.prices)

	engine := risk.NewEngine(risk.DefaultLimits())
	auditor := audit.NewAuditor(audit.DefaultThresholds(), engine)
	universes := testkit.Universes{"solo": {"X"}}
	bt := &testkit.Engine{ScreenFunc: testkit.FixedResults(1.2), ValidateFunc: testkit.FixedResults(1.1)}

	evo := evolver.New(evolver.DefaultConfig(), evolver.Collaborators{
		Generator: testkit.NewGenerator(),
		Screener:  bt,
		Validator: bt,
		Registry:  h.reg,
		Metrics:   h.metrics,
	}, engine, auditor, log)
	dep := deployer.New(deployer.DefaultConfig(), deployer.Collaborators{
		Registry:  h.reg,
		Brokers:   broker.NewFactory(config.BrokerConfig{}, h.prices, log),
		Signals:   h.signals,
		Universes: universes,
		Metrics:   h.metrics,
	}, engine, auditor, log)
	mon := monitor.New(monitor.DefaultConfig(), engine)

	h.orch = NewOrchestrator(DefaultConfig(), Components{
		Evolver:   evo,
		Deployer:  dep,
		Monitor:   mon,
		Promoter:  promoter.New(promoter.DefaultConfig(), mon),
		Registry:  h.reg,
		Universes: universes,
		Notifier:  h.events,
		Metrics:   h.metrics,
	}, log)
	return h
}

// deployed runs one evolution cycle with deployment and returns the live deployment.
func (h *harness) deployed(t *testing.T) *contracts.Deployment {
	t.Helper()
	deploy := true
	result, err := h.orch.RunFullCycle(context.Background(), FullCycleRequest{UniverseID: "solo", Deploy: &deploy})
	require.NoError(t, err)
	require.NotNil(t, result.Deployment, "readiness: %+v", result.Readiness)
	return result.Deployment
}

func countEvents(events []notify.Event, typ notify.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestGenerateRunID(t *testing.T) {
	a, b := GenerateRunID(), GenerateRunID()
	assert.True(t, strings.HasPrefix(a, "run_"))
	assert.NotEqual(t, a, b)
}

func TestRunFullCycle_DeploysBestCandidate(t *testing.T) {
	h := newHarness(t)
	deploy := true

	result, err := h.orch.RunFullCycle(context.Background(), FullCycleRequest{UniverseID: "solo", Deploy: &deploy})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Symbols)
	require.Len(t, result.Evolution.Cycles, 1)
	require.NotNil(t, result.Evolution.Best)
	require.NotNil(t, result.Readiness)
	assert.True(t, result.Readiness.Passed)
	require.NotNil(t, result.Deployment)
	assert.Equal(t, result.Evolution.Best.Spec.ID, result.Deployment.SpecID)
	assert.Equal(t, contracts.ModePaper, result.Deployment.Mode)

	require.NotNil(t, result.Rebalance)
	require.Len(t, result.Rebalance.Trades, 1)
	assert.Equal(t, contracts.SideBuy, result.Rebalance.Trades[0].Side)

	events := h.events.Events()
	assert.Equal(t, 1, countEvents(events, notify.EventCycleCompleted))
	assert.Equal(t, 1, countEvents(events, notify.EventDeployed))
	assert.Equal(t, 1, countEvents(events, notify.EventRebalanced))
	for _, e := range events {
		assert.Equal(t, result.RunID, e.RunID)
	}
}

func TestRunFullCycle_WithoutDeploy(t *testing.T) {
	h := newHarness(t)

	result, err := h.orch.RunFullCycle(context.Background(), FullCycleRequest{UniverseID: "solo", Cycles: 2})
	require.NoError(t, err)
	assert.Len(t, result.Evolution.Cycles, 2)
	assert.Nil(t, result.Deployment)

	active, err := h.reg.ListDeployments(context.Background(), contracts.StatusActive)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Equal(t, []notify.EventType{notify.EventCycleCompleted, notify.EventCycleCompleted}, h.events.Types())
}

func TestRunFullCycle_UnknownUniverse(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.RunFullCycle(context.Background(), FullCycleRequest{UniverseID: "nope"})
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestDeploySpec(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deploy := false
	full, err := h.orch.RunFullCycle(ctx, FullCycleRequest{UniverseID: "solo", Deploy: &deploy})
	require.NoError(t, err)
	require.NotNil(t, full.Evolution.Best)

	out, err := h.orch.DeploySpec(ctx, DeploySpecRequest{SpecID: full.Evolution.Best.Spec.ID, Symbols: []string{"X"}})
	require.NoError(t, err)
	require.NotNil(t, out.Deployment)
	assert.Equal(t, contracts.StatusActive, out.Deployment.Status)
	require.NotNil(t, out.Rebalance)
	assert.Len(t, out.Rebalance.Trades, 1)
	assert.Equal(t, 1, countEvents(h.events.Events(), notify.EventDeployed))

	_, err = h.orch.DeploySpec(ctx, DeploySpecRequest{SpecID: "missing"})
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestDeploySpec_NoResultsFailsReadiness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := contracts.NewStrategySpec("momentum", "solo", map[string]float64{"lookback": 20}, contracts.DefaultRiskParams())
	require.NoError(t, h.reg.SaveSpec(ctx, spec))

	out, err := h.orch.DeploySpec(ctx, DeploySpecRequest{SpecID: spec.ID, Symbols: []string{"X"}})
	assert.ErrorIs(t, err, deployer.ErrNotReady)
	require.NotNil(t, out)
	require.NotNil(t, out.Readiness)
	assert.False(t, out.Readiness.Passed)
	assert.Nil(t, out.Deployment)
}

func TestRunMonitoring_Steady(t *testing.T) {
	h := newHarness(t)
	dep := h.deployed(t)
	ctx := context.Background()

	result, err := h.orch.RunMonitoring(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Active)
	assert.Equal(t, 1, result.Visited)
	assert.Zero(t, result.AutoStopped)
	require.Len(t, result.Outcomes, 1)

	out := result.Outcomes[0]
	assert.Empty(t, out.Violations)
	require.NotNil(t, out.Comparison)
	assert.Equal(t, dep.ID, out.Comparison.DeploymentID)
	require.NotNil(t, out.LiveResult)

	results, err := h.reg.GetResults(ctx, dep.SpecID)
	require.NoError(t, err)
	assert.NotNil(t, contracts.LatestResult(results, contracts.PhaseLive))

	stored, err := h.reg.GetDeployment(ctx, dep.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive())
}

func TestRunMonitoring_PriceUptickKeepsDeployment(t *testing.T) {
	h := newHarness(t)
	dep := h.deployed(t)
	ctx := context.Background()

	// the initial rebalance sizes X at exactly the 10% cap; a 0.5% uptick lifts it just past
	h.prices["X"] = 100.5

	result, err := h.orch.RunMonitoring(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.AutoStopped)
	require.Len(t, result.Outcomes, 1)
	assert.False(t, result.Outcomes[0].AutoStopped)
	assert.Empty(t, result.Outcomes[0].Violations)

	stored, err := h.reg.GetDeployment(ctx, dep.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive())
	last, ok := stored.LastSnapshot()
	require.True(t, ok)
	require.Len(t, last.Positions, 1)
	assert.Equal(t, 100, last.Positions[0].Quantity)
}

func TestRunMonitoring_AutoStopsOnViolation(t *testing.T) {
	h := newHarness(t)
	dep := h.deployed(t)
	ctx := context.Background()

	// 100 shares doubling to 20k of 110k equity breaks the 10% position cap.
	h.prices["X"] = 200

	result, err := h.orch.RunMonitoring(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AutoStopped)
	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].AutoStopped)
	assert.NotEmpty(t, result.Outcomes[0].Violations)

	stored, err := h.reg.GetDeployment(ctx, dep.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusStopped, stored.Status)
	assert.True(t, strings.HasPrefix(stored.StopReason, AutoStopPrefix))
	last, ok := stored.LastSnapshot()
	require.True(t, ok)
	assert.Empty(t, last.Positions)

	assert.Equal(t, 1, countEvents(h.events.Events(), notify.EventAutoStopped))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AutoStopsTotal))

	again, err := h.orch.RunMonitoring(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Active)
}

func TestRunMonitoring_Cancelled(t *testing.T) {
	h := newHarness(t)
	dep := h.deployed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.orch.RunMonitoring(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, []string{dep.ID}, result.Skipped)
	assert.Zero(t, result.Visited)
}

func TestRunRebalance_FollowsSignals(t *testing.T) {
	h := newHarness(t)
	h.deployed(t)
	h.signals.Set("X", false)

	result, err := h.orch.RunRebalance(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Results, 1)
	require.Len(t, result.Results[0].Trades, 1)
	assert.Equal(t, contracts.SideSell, result.Results[0].Trades[0].Side)
	assert.Equal(t, 100, result.Results[0].Trades[0].Quantity)
}

func TestRunPromotion_TooEarly(t *testing.T) {
	h := newHarness(t)
	dep := h.deployed(t)

	result, err := h.orch.RunPromotion(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Reports, 1)
	report := result.Reports[0]
	assert.Equal(t, dep.ID, report.DeploymentID)
	assert.Equal(t, contracts.DecisionNeedsReview, report.Decision)
	assert.False(t, report.MeetsTimeRequirement)

	assert.Equal(t, 1, countEvents(h.events.Events(), notify.EventPromotionDecided))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PromotionsTotal.WithLabelValues("needs_review")))
}

func TestStopDeployment(t *testing.T) {
	h := newHarness(t)
	dep := h.deployed(t)
	ctx := context.Background()

	result, err := h.orch.StopDeployment(ctx, dep.ID, "")
	require.NoError(t, err)
	assert.False(t, result.AlreadyStopped)
	assert.Equal(t, "manual", result.Deployment.StopReason)

	again, err := h.orch.StopDeployment(ctx, dep.ID, "")
	require.NoError(t, err)
	assert.True(t, again.AlreadyStopped)
	assert.Equal(t, 1, countEvents(h.events.Events(), notify.EventStopped))

	_, err = h.orch.StopDeployment(ctx, "missing", "")
	assert.ErrorIs(t, err, deployer.ErrUnknownDeployment)
}
