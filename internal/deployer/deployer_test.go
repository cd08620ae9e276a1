package deployer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/internal/audit"
	"github.com/wonny/forge/internal/broker"
	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/registry/memory"
	"github.com/wonny/forge/internal/risk"
	"github.com/wonny/forge/internal/testkit"
	"github.com/wonny/forge/pkg/config"
	"github.com/wonny/forge/pkg/logger"
)

type fixture struct {
	reg     *memory.Registry
	prices  broker.StaticPrices
	signals *testkit.Signals
	spec    *contracts.StrategySpec
	screen  *contracts.StrategyResult
	valid   *contracts.StrategyResult
	brokers config.BrokerConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		reg:    memory.New(),
		prices: broker.StaticPrices{"X": 100},
	}
	f.signals = testkit.NewSignals(f.prices)

	f.spec = contracts.NewStrategySpec("momentum", "dow30", map[string]float64{"lookback": 60}, contracts.DefaultRiskParams())
	require.NoError(t, f.reg.SaveSpec(ctx, f.spec))

	screen := testkit.HealthyResult(1.2)
	screen.SpecID, screen.Phase, screen.SymbolsRequested, screen.SymbolsWithData = f.spec.ID, contracts.PhaseScreen, 1, 1
	valid := testkit.HealthyResult(1.1)
	valid.SpecID, valid.Phase = f.spec.ID, contracts.PhaseValidate
	f.screen, f.valid = &screen, &valid
	return f
}

// deployer builds a fresh Deployer over the fixture's registry, as a restarted process would.
func (f *fixture) deployer() *Deployer {
	log := logger.NewNop()
	engine := risk.NewEngine(risk.DefaultLimits())
	factory := broker.NewFactory(f.brokers, f.prices, log)
	return New(DefaultConfig(), Collaborators{
		Registry: f.reg,
		Brokers:  factory,
		Signals:  f.signals,
	}, engine, audit.NewAuditor(audit.DefaultThresholds(), engine), log)
}

func (f *fixture) deploy(t *testing.T, d *Deployer) *contracts.Deployment {
	t.Helper()
	dep, report, err := d.Deploy(context.Background(), DeployRequest{
		Spec:       *f.spec,
		Screen:     f.screen,
		Validation: f.valid,
		Symbols:    []string{"X"},
	})
	require.NoError(t, err)
	require.True(t, report.Passed)
	return dep
}

func TestValidateReadiness(t *testing.T) {
	f := newFixture(t)
	d := f.deployer()

	report := d.ValidateReadiness(*f.spec, f.screen, f.valid)
	assert.True(t, report.Passed, "%v", report.Failed())
	assert.Len(t, report.Checks, 6)

	t.Run("validation is required", func(t *testing.T) {
		report := d.ValidateReadiness(*f.spec, f.screen, nil)
		assert.False(t, report.Passed)
		check, ok := report.Check(CheckValidationPassed)
		require.True(t, ok)
		assert.False(t, check.Passed)
	})

	t.Run("spec over limits", func(t *testing.T) {
		spec := f.spec.Clone()
		spec.Risk.MaxPositionPct = 0.5
		report := d.ValidateReadiness(spec, f.screen, f.valid)
		check, _ := report.Check(CheckRiskLimits)
		assert.False(t, check.Passed)
	})

	t.Run("screen drawdown", func(t *testing.T) {
		screen := *f.screen
		screen.MaxDrawdown = -0.35
		report := d.ValidateReadiness(*f.spec, &screen, f.valid)
		check, _ := report.Check(CheckDrawdownLimit)
		assert.False(t, check.Passed)
	})

	t.Run("unknown universe asset class", func(t *testing.T) {
		spec := f.spec.Clone()
		spec.UniverseID = "crypto_majors"
		report := d.ValidateReadiness(spec, f.screen, f.valid)
		check, _ := report.Check(CheckAssetClass)
		assert.False(t, check.Passed)
	})
}

func TestDeploy_BlockedByGate(t *testing.T) {
	f := newFixture(t)
	d := f.deployer()

	dep, report, err := d.Deploy(context.Background(), DeployRequest{Spec: *f.spec, Screen: f.screen, Symbols: []string{"X"}})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Nil(t, dep)
	assert.False(t, report.Passed)

	all, err := f.reg.ListDeployments(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeploy_LiveDisabled(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.deployer().Deploy(context.Background(), DeployRequest{
		Spec: *f.spec, Screen: f.screen, Validation: f.valid, Mode: contracts.ModeLive, Symbols: []string{"X"},
	})
	assert.Error(t, err)
}

func TestRebalance_BuysTargetThenIsIdempotent(t *testing.T) {
	tests := []struct {
		name       string
		commission float64
	}{
		{"no commission", 0},
		{"commission per share", 0.005},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.brokers.PaperCommissionPerShare = tt.commission
			d := f.deployer()
			dep := f.deploy(t, d)
			ctx := context.Background()

			assert.Equal(t, contracts.StatusActive, dep.Status)

			first, err := d.Rebalance(ctx, dep.ID)
			require.NoError(t, err)
			require.Len(t, first.Trades, 1)
			assert.Equal(t, contracts.SideBuy, first.Trades[0].Side)
			assert.Equal(t, 100, first.Trades[0].Quantity)
			assert.Equal(t, 100.0, first.Trades[0].Price)
			fee := 100 * tt.commission
			require.NotNil(t, first.Snapshot)
			assert.InDelta(t, 100_000-fee, first.Snapshot.Equity, 1e-6)
			assert.InDelta(t, 90_000-fee, first.Snapshot.Cash, 1e-6)

			second, err := d.Rebalance(ctx, dep.ID)
			require.NoError(t, err)
			assert.Empty(t, second.Orders)
			assert.Empty(t, second.Trades)

			stored, err := f.reg.GetDeployment(ctx, dep.ID)
			require.NoError(t, err)
			assert.Len(t, stored.Trades, 1)
			assert.Len(t, stored.Snapshots, 2)
			assert.Equal(t, 1, stored.Snapshots[1].TotalTrades)
		})
	}
}

func TestRebalance_RestartRehydratesPaperBroker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.deployer()
	dep := f.deploy(t, before)
	_, err := before.Rebalance(ctx, dep.ID)
	require.NoError(t, err)

	after := f.deployer()
	restored, errs := after.Restore(ctx)
	assert.Empty(t, errs)
	assert.Equal(t, 1, restored)

	result, err := after.Rebalance(ctx, dep.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.InDelta(t, 90_000, result.Snapshot.Cash, 1e-6)

	stored, err := f.reg.GetDeployment(ctx, dep.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Trades, 1)
}

func TestRebalance_FlatSignalSellsHolding(t *testing.T) {
	f := newFixture(t)
	d := f.deployer()
	dep := f.deploy(t, d)
	ctx := context.Background()

	_, err := d.Rebalance(ctx, dep.ID)
	require.NoError(t, err)

	f.signals.Set("X", false)
	result, err := d.Rebalance(ctx, dep.ID)
	require.NoError(t, err)
	assert.Equal(t, []Order{{Symbol: "X", Side: contracts.SideSell, Quantity: 100}}, result.Orders)
	assert.Empty(t, result.Snapshot.Positions)
}

func TestRebalance_RejectedOrderDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	f.prices["Y"] = 50
	f.signals = testkit.NewSignals(broker.StaticPrices{"X": 100, "Y": 50})
	d := f.deployer()
	dep, _, err := d.Deploy(context.Background(), DeployRequest{
		Spec: *f.spec, Screen: f.screen, Validation: f.valid, Symbols: []string{"X", "Y"},
	})
	require.NoError(t, err)

	delete(f.prices, "X")
	result, err := d.Rebalance(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rejected)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, "Y", result.Trades[0].Symbol)
}

func TestStop_LiquidatesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	d := f.deployer()
	dep := f.deploy(t, d)
	ctx := context.Background()

	_, err := d.Rebalance(ctx, dep.ID)
	require.NoError(t, err)

	first, err := d.Stop(ctx, dep.ID, "manual")
	require.NoError(t, err)
	assert.False(t, first.AlreadyStopped)
	require.Len(t, first.Trades, 1)
	assert.Equal(t, contracts.SideSell, first.Trades[0].Side)
	assert.Equal(t, 100, first.Trades[0].Quantity)
	assert.Equal(t, contracts.StatusStopped, first.Deployment.Status)
	require.NotNil(t, first.Deployment.StoppedAt)
	assert.Equal(t, "manual", first.Deployment.StopReason)

	second, err := d.Stop(ctx, dep.ID, "again")
	require.NoError(t, err)
	assert.True(t, second.AlreadyStopped)
	assert.Empty(t, second.Trades)
	assert.Equal(t, "manual", second.Deployment.StopReason)

	stored, err := f.reg.GetDeployment(ctx, dep.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Trades, 2)
	last, ok := stored.LastSnapshot()
	require.True(t, ok)
	assert.Empty(t, last.Positions)

	_, err = d.Rebalance(ctx, dep.ID)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestRebalance_UnknownDeployment(t *testing.T) {
	f := newFixture(t)
	_, err := f.deployer().Rebalance(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownDeployment)
	assert.True(t, IsNotActive(err))
}

func TestModeFromString(t *testing.T) {
	m, err := ModeFromString(" Paper_Broker ")
	require.NoError(t, err)
	assert.Equal(t, contracts.ModePaperBroker, m)

	_, err = ModeFromString("margin")
	assert.Error(t, err)
}
