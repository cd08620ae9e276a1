// Package postgres is the durable Registry on PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/registry"
)

// Migrations holds the schema for the registry and market history tables.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations.
const MigrationsDir = "migrations"

// PostgreSQL error codes
const (
	pgErrForeignKeyViolation = "23503"
)

// Registry stores specs, results and deployments in the registry schema.
// ⭐ SSOT: durable strategy and deployment state lives here only
type Registry struct {
	pool *pgxpool.Pool
}

var _ contracts.Registry = (*Registry)(nil)

// New creates a registry over an open pool.
func New(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// missingParent maps a foreign key violation to ErrNotFound.
func missingParent(err error, what, id string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("%s %s: %w", what, id, contracts.ErrNotFound)
	}
	return err
}

// ============================================================================
// Specs
// ============================================================================

func (r *Registry) SaveSpec(ctx context.Context, spec *contracts.StrategySpec) error {
	if spec == nil || spec.ID == "" {
		return fmt.Errorf("save spec: missing id")
	}
	params, err := json.Marshal(spec.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	risk, err := json.Marshal(spec.Risk)
	if err != nil {
		return fmt.Errorf("marshal risk: %w", err)
	}

	query := `
		INSERT INTO registry.strategy_specs
			(id, template_id, universe_id, parameters, risk, parent_id, generation, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			template_id = EXCLUDED.template_id,
			universe_id = EXCLUDED.universe_id,
			parameters = EXCLUDED.parameters,
			risk = EXCLUDED.risk,
			parent_id = EXCLUDED.parent_id,
			generation = EXCLUDED.generation,
			created_by = EXCLUDED.created_by
	`
	_, err = r.pool.Exec(ctx, query,
		spec.ID, spec.TemplateID, spec.UniverseID, params, risk,
		spec.ParentID, spec.Generation, spec.CreatedBy, spec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save spec %s: %w", spec.ID, err)
	}
	return nil
}

const specColumns = `id, template_id, universe_id, parameters, risk, parent_id, generation, created_by, created_at`

func scanSpec(row pgx.Row) (*contracts.StrategySpec, error) {
	var spec contracts.StrategySpec
	var params, risk []byte
	if err := row.Scan(&spec.ID, &spec.TemplateID, &spec.UniverseID, &params, &risk,
		&spec.ParentID, &spec.Generation, &spec.CreatedBy, &spec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &spec.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	if err := json.Unmarshal(risk, &spec.Risk); err != nil {
		return nil, fmt.Errorf("decode risk: %w", err)
	}
	return &spec, nil
}

func (r *Registry) GetSpec(ctx context.Context, id string) (*contracts.StrategySpec, error) {
	query := `SELECT ` + specColumns + ` FROM registry.strategy_specs WHERE id = $1`
	spec, err := scanSpec(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("spec %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get spec %s: %w", id, err)
	}
	return spec, nil
}

// ============================================================================
// Results
// ============================================================================

func (r *Registry) SaveResult(ctx context.Context, result *contracts.StrategyResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("save result: missing id")
	}
	var regimes []byte
	if len(result.RegimeResults) > 0 {
		var err error
		if regimes, err = json.Marshal(result.RegimeResults); err != nil {
			return fmt.Errorf("marshal regime results: %w", err)
		}
	}

	query := `
		INSERT INTO registry.strategy_results
			(id, spec_id, phase, sharpe, annual_return, total_return, max_drawdown, total_trades,
			 win_rate, profit_factor, passed, failure_reason, regime_results, in_sample_sharpe,
			 symbols_requested, symbols_with_data, period_start, period_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			sharpe = EXCLUDED.sharpe,
			annual_return = EXCLUDED.annual_return,
			total_return = EXCLUDED.total_return,
			max_drawdown = EXCLUDED.max_drawdown,
			total_trades = EXCLUDED.total_trades,
			win_rate = EXCLUDED.win_rate,
			profit_factor = EXCLUDED.profit_factor,
			passed = EXCLUDED.passed,
			failure_reason = EXCLUDED.failure_reason,
			regime_results = EXCLUDED.regime_results,
			in_sample_sharpe = EXCLUDED.in_sample_sharpe,
			symbols_requested = EXCLUDED.symbols_requested,
			symbols_with_data = EXCLUDED.symbols_with_data,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end
	`
	_, err := r.pool.Exec(ctx, query,
		result.ID, result.SpecID, string(result.Phase), result.Sharpe, result.AnnualReturn,
		result.TotalReturn, result.MaxDrawdown, result.TotalTrades, result.WinRate, result.ProfitFactor,
		result.Passed, result.FailureReason, regimes, result.InSampleSharpe,
		result.SymbolsRequested, result.SymbolsWithData, result.PeriodStart, result.PeriodEnd, result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save result %s: %w", result.ID, missingParent(err, "spec", result.SpecID))
	}
	return nil
}

const resultColumns = `r.id, r.spec_id, r.phase, r.sharpe, r.annual_return, r.total_return, r.max_drawdown,
	r.total_trades, r.win_rate, r.profit_factor, r.passed, r.failure_reason, r.regime_results,
	r.in_sample_sharpe, r.symbols_requested, r.symbols_with_data, r.period_start, r.period_end, r.created_at`

func scanResult(row pgx.Row, extra ...interface{}) (contracts.StrategyResult, error) {
	var res contracts.StrategyResult
	var phase string
	var regimes []byte
	var periodStart, periodEnd *time.Time
	dest := []interface{}{
		&res.ID, &res.SpecID, &phase, &res.Sharpe, &res.AnnualReturn, &res.TotalReturn, &res.MaxDrawdown,
		&res.TotalTrades, &res.WinRate, &res.ProfitFactor, &res.Passed, &res.FailureReason, &regimes,
		&res.InSampleSharpe, &res.SymbolsRequested, &res.SymbolsWithData, &periodStart, &periodEnd, &res.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return res, err
	}
	res.Phase = contracts.Phase(phase)
	if periodStart != nil {
		res.PeriodStart = *periodStart
	}
	if periodEnd != nil {
		res.PeriodEnd = *periodEnd
	}
	if len(regimes) > 0 {
		if err := json.Unmarshal(regimes, &res.RegimeResults); err != nil {
			return res, fmt.Errorf("decode regime results: %w", err)
		}
	}
	return res, nil
}

// GetResults returns a spec's results oldest first.
func (r *Registry) GetResults(ctx context.Context, specID string) ([]contracts.StrategyResult, error) {
	query := `SELECT ` + resultColumns + `
		FROM registry.strategy_results r
		WHERE r.spec_id = $1
		ORDER BY r.created_at ASC, r.id ASC
	`
	rows, err := r.pool.Query(ctx, query, specID)
	if err != nil {
		return nil, fmt.Errorf("query results %s: %w", specID, err)
	}
	defer rows.Close()

	var out []contracts.StrategyResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// GetBestSpecs ranks each spec by its latest result in phase.
// NaN sorts above every number in PostgreSQL, so ordering happens in Go.
func (r *Registry) GetBestSpecs(ctx context.Context, phase contracts.Phase, metric contracts.Metric, limit int, passedOnly bool) ([]contracts.SpecResult, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	query := `
		SELECT ` + resultColumns + `,
			s.template_id, s.universe_id, s.parameters, s.risk, s.parent_id, s.generation, s.created_by, s.created_at
		FROM (
			SELECT DISTINCT ON (spec_id) *
			FROM registry.strategy_results
			WHERE phase = $1
			ORDER BY spec_id, created_at DESC, id DESC
		) r
		JOIN registry.strategy_specs s ON s.id = r.spec_id
		WHERE NOT $2 OR r.passed
	`
	rows, err := r.pool.Query(ctx, query, string(phase), passedOnly)
	if err != nil {
		return nil, fmt.Errorf("query best specs: %w", err)
	}
	defer rows.Close()

	var entries []contracts.SpecResult
	for rows.Next() {
		var spec contracts.StrategySpec
		var params, risk []byte
		res, err := scanResult(rows, &spec.TemplateID, &spec.UniverseID, &params, &risk,
			&spec.ParentID, &spec.Generation, &spec.CreatedBy, &spec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan best spec: %w", err)
		}
		spec.ID = res.SpecID
		if err := json.Unmarshal(params, &spec.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
		if err := json.Unmarshal(risk, &spec.Risk); err != nil {
			return nil, fmt.Errorf("decode risk: %w", err)
		}
		entries = append(entries, contracts.SpecResult{Spec: spec, Result: res})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	registry.SortBest(entries, metric)
	return registry.Limit(entries, limit), nil
}
