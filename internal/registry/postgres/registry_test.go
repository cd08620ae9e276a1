package postgres

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/pkg/database"
	"github.com/wonny/forge/pkg/logger"
)

// setupTestDB starts PostgreSQL in a container and applies the embedded migrations.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("forge"),
		tcpostgres.WithUsername("forge"),
		tcpostgres.WithPassword("forge"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := database.NewMigrator(dsn, Migrations, MigrationsDir, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		TRUNCATE registry.snapshots, registry.trades, registry.deployments,
			registry.strategy_results, registry.strategy_specs
	`)
	require.NoError(t, err)
}

func spec(id string) *contracts.StrategySpec {
	s := contracts.NewStrategySpec("momentum", "dow30", map[string]float64{"lookback": 20}, contracts.DefaultRiskParams())
	s.ID = id
	s.CreatedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	return s
}

func result(specID, id string, phase contracts.Phase, sharpe float64, passed bool, at time.Time) *contracts.StrategyResult {
	r := contracts.NewStrategyResult(specID, phase)
	r.ID = id
	r.Sharpe = sharpe
	r.Passed = passed
	r.CreatedAt = at
	return r
}

func TestRegistry(t *testing.T) {
	pool := setupTestDB(t)
	reg := New(pool)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("spec round trip and upsert", func(t *testing.T) {
		truncate(t, pool)
		s := spec("a")
		s.ParentID = "root"
		s.Generation = 2
		require.NoError(t, reg.SaveSpec(ctx, s))

		s.CreatedBy = "llm:exploit"
		require.NoError(t, reg.SaveSpec(ctx, s))

		got, err := reg.GetSpec(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "llm:exploit", got.CreatedBy)
		assert.Equal(t, 20.0, got.Parameters["lookback"])
		assert.Equal(t, s.Risk, got.Risk)
		assert.Equal(t, "root", got.ParentID)
		assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

		_, err = reg.GetSpec(ctx, "missing")
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})

	t.Run("results keep regimes and order", func(t *testing.T) {
		truncate(t, pool)
		require.NoError(t, reg.SaveSpec(ctx, spec("a")))

		v := result("a", "v1", contracts.PhaseValidate, 1.1, true, t0.Add(time.Hour))
		v.RegimeResults = map[contracts.RegimeLabel]contracts.RegimeResult{
			contracts.RegimeBull: {Sharpe: 1.5, TotalTrades: 12, Passed: true},
		}
		require.NoError(t, reg.SaveResult(ctx, v))
		require.NoError(t, reg.SaveResult(ctx, result("a", "s1", contracts.PhaseScreen, 1.2, true, t0)))

		got, err := reg.GetResults(ctx, "a")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "s1", got[0].ID)
		assert.Equal(t, 12, got[1].RegimeResults[contracts.RegimeBull].TotalTrades)

		err = reg.SaveResult(ctx, result("ghost", "x", contracts.PhaseScreen, 1, true, t0))
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})

	t.Run("best specs use latest result per spec", func(t *testing.T) {
		truncate(t, pool)
		for _, id := range []string{"a", "b", "c", "d"} {
			require.NoError(t, reg.SaveSpec(ctx, spec(id)))
		}
		require.NoError(t, reg.SaveResult(ctx, result("a", "a1", contracts.PhaseScreen, 3.0, true, t0)))
		require.NoError(t, reg.SaveResult(ctx, result("a", "a2", contracts.PhaseScreen, 0.5, true, t0.Add(time.Hour))))
		require.NoError(t, reg.SaveResult(ctx, result("b", "b1", contracts.PhaseScreen, 1.0, true, t0)))
		require.NoError(t, reg.SaveResult(ctx, result("c", "c1", contracts.PhaseScreen, math.NaN(), true, t0)))
		require.NoError(t, reg.SaveResult(ctx, result("d", "d1", contracts.PhaseScreen, 2.0, false, t0)))

		best, err := reg.GetBestSpecs(ctx, contracts.PhaseScreen, contracts.MetricSharpe, 10, false)
		require.NoError(t, err)
		ids := make([]string, len(best))
		for i, b := range best {
			ids[i] = b.Spec.ID
		}
		assert.Equal(t, []string{"d", "b", "a", "c"}, ids)
		assert.Equal(t, "a2", best[2].Result.ID)

		passed, err := reg.GetBestSpecs(ctx, contracts.PhaseScreen, contracts.MetricSharpe, 1, true)
		require.NoError(t, err)
		require.Len(t, passed, 1)
		assert.Equal(t, "b", passed[0].Spec.ID)

		_, err = reg.GetBestSpecs(ctx, contracts.PhaseScreen, contracts.Metric("alpha"), 1, false)
		assert.Error(t, err)
	})

	t.Run("deployment history", func(t *testing.T) {
		truncate(t, pool)
		require.NoError(t, reg.SaveSpec(ctx, spec("a")))

		d := contracts.NewDeployment("a", contracts.ModePaper, []string{"X", "Y"}, 100_000)
		d.Status = contracts.StatusActive
		d.StartedAt = t0
		require.NoError(t, reg.SaveDeployment(ctx, d))

		buy := contracts.NewTradeRecord("X", contracts.SideBuy, 10, 100, 1, "o1", t0.Add(time.Minute))
		sell := contracts.NewTradeRecord("X", contracts.SideSell, 10, 110, 1, "o2", t0.Add(2*time.Minute))
		require.NoError(t, reg.AppendTrades(ctx, d.ID, []contracts.TradeRecord{*sell, *buy}))
		require.NoError(t, reg.AppendTrades(ctx, d.ID, []contracts.TradeRecord{*buy}))

		require.NoError(t, reg.AppendSnapshot(ctx, contracts.LiveSnapshot{
			DeploymentID: d.ID, Timestamp: t0.Add(time.Hour), Equity: 100_098, Cash: 100_098, TotalTrades: 2, TotalFees: 2,
		}))
		require.NoError(t, reg.AppendSnapshot(ctx, contracts.LiveSnapshot{
			DeploymentID: d.ID, Timestamp: t0.Add(time.Minute), Equity: 99_999, Cash: 98_999,
			Positions: []contracts.Position{{Symbol: "X", Quantity: 10, AvgPrice: 100, CurrentPrice: 100, MarketValue: 1000}},
		}))

		got, err := reg.GetDeployment(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"X", "Y"}, got.Symbols)
		require.Len(t, got.Trades, 2)
		assert.Equal(t, contracts.SideBuy, got.Trades[0].Side)
		require.Len(t, got.Snapshots, 2)
		assert.Equal(t, 99_999.0, got.Snapshots[0].Equity)
		assert.Equal(t, "X", got.Snapshots[0].Positions[0].Symbol)
		assert.Empty(t, got.Snapshots[1].Positions)

		stopped := t0.Add(48 * time.Hour)
		got.Status = contracts.StatusStopped
		got.StoppedAt = &stopped
		got.StopReason = "manual"
		require.NoError(t, reg.SaveDeployment(ctx, got))

		active, err := reg.ListDeployments(ctx, contracts.StatusActive)
		require.NoError(t, err)
		assert.Empty(t, active)

		all, err := reg.ListDeployments(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.NotNil(t, all[0].StoppedAt)
		assert.True(t, stopped.Equal(*all[0].StoppedAt))
		assert.Len(t, all[0].Trades, 2)

		assert.ErrorIs(t, reg.AppendSnapshot(ctx, contracts.LiveSnapshot{DeploymentID: "ghost", Timestamp: t0}), contracts.ErrNotFound)
		_, err = reg.GetDeployment(ctx, "ghost")
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})
}
