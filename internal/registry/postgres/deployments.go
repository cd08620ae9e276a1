package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/forge/internal/contracts"
)

// SaveDeployment upserts the header. Trades and snapshots are appended separately.
func (r *Registry) SaveDeployment(ctx context.Context, d *contracts.Deployment) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("save deployment: missing id")
	}
	symbols := d.Symbols
	if symbols == nil {
		symbols = []string{}
	}

	query := `
		INSERT INTO registry.deployments
			(id, spec_id, mode, status, symbols, initial_cash, started_at, stopped_at, stop_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			mode = EXCLUDED.mode,
			status = EXCLUDED.status,
			symbols = EXCLUDED.symbols,
			initial_cash = EXCLUDED.initial_cash,
			started_at = EXCLUDED.started_at,
			stopped_at = EXCLUDED.stopped_at,
			stop_reason = EXCLUDED.stop_reason
	`
	_, err := r.pool.Exec(ctx, query,
		d.ID, d.SpecID, string(d.Mode), string(d.Status), symbols, d.InitialCash,
		nullTime(d.StartedAt), d.StoppedAt, d.StopReason,
	)
	if err != nil {
		return fmt.Errorf("save deployment %s: %w", d.ID, missingParent(err, "spec", d.SpecID))
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

const deploymentColumns = `id, spec_id, mode, status, symbols, initial_cash, started_at, stopped_at, stop_reason`

func scanDeployment(row pgx.Row) (*contracts.Deployment, error) {
	var d contracts.Deployment
	var mode, status string
	var startedAt *time.Time
	if err := row.Scan(&d.ID, &d.SpecID, &mode, &status, &d.Symbols, &d.InitialCash,
		&startedAt, &d.StoppedAt, &d.StopReason); err != nil {
		return nil, err
	}
	d.Mode = contracts.DeploymentMode(mode)
	d.Status = contracts.DeploymentStatus(status)
	if startedAt != nil {
		d.StartedAt = *startedAt
	}
	return &d, nil
}

// GetDeployment loads the header with its full trade and snapshot history.
func (r *Registry) GetDeployment(ctx context.Context, id string) (*contracts.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM registry.deployments WHERE id = $1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", id, err)
	}
	if err := r.loadHistory(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDeployments filters by status; an empty status lists all. Ordered by start time then id.
func (r *Registry) ListDeployments(ctx context.Context, status contracts.DeploymentStatus) ([]*contracts.Deployment, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM registry.deployments
		WHERE $1 = '' OR status = $1
		ORDER BY started_at ASC NULLS FIRST, id ASC
	`
	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	var out []*contracts.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range out {
		if err := r.loadHistory(ctx, d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Registry) loadHistory(ctx context.Context, d *contracts.Deployment) error {
	trades, err := r.trades(ctx, d.ID)
	if err != nil {
		return err
	}
	snapshots, err := r.snapshots(ctx, d.ID)
	if err != nil {
		return err
	}
	d.Trades, d.Snapshots = trades, snapshots
	return nil
}

// ============================================================================
// Trades and snapshots
// ============================================================================

// AppendTrades inserts fills in one transaction. Re-sending a trade id is a no-op.
func (r *Registry) AppendTrades(ctx context.Context, deploymentID string, trades []contracts.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trades tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO registry.trades
			(id, deployment_id, symbol, side, quantity, price, commission, order_id, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(query, t.ID, deploymentID, t.Symbol, string(t.Side), t.Quantity,
			t.Price, t.Commission, t.OrderID, t.Timestamp)
	}
	results := tx.SendBatch(ctx, batch)
	for range trades {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("append trades %s: %w", deploymentID, missingParent(err, "deployment", deploymentID))
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("append trades %s: %w", deploymentID, err)
	}
	return tx.Commit(ctx)
}

func (r *Registry) trades(ctx context.Context, deploymentID string) ([]contracts.TradeRecord, error) {
	query := `
		SELECT id, deployment_id, symbol, side, quantity, price, commission, order_id, ts
		FROM registry.trades
		WHERE deployment_id = $1
		ORDER BY ts ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("query trades %s: %w", deploymentID, err)
	}
	defer rows.Close()

	var out []contracts.TradeRecord
	for rows.Next() {
		var t contracts.TradeRecord
		var side string
		if err := rows.Scan(&t.ID, &t.DeploymentID, &t.Symbol, &side, &t.Quantity,
			&t.Price, &t.Commission, &t.OrderID, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = contracts.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendSnapshot inserts one immutable snapshot.
func (r *Registry) AppendSnapshot(ctx context.Context, snapshot contracts.LiveSnapshot) error {
	positions := snapshot.Positions
	if positions == nil {
		positions = []contracts.Position{}
	}
	raw, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	query := `
		INSERT INTO registry.snapshots
			(deployment_id, ts, equity, cash, positions, total_trades, total_fees)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query, snapshot.DeploymentID, snapshot.Timestamp, snapshot.Equity,
		snapshot.Cash, raw, snapshot.TotalTrades, snapshot.TotalFees)
	if err != nil {
		return fmt.Errorf("append snapshot %s: %w", snapshot.DeploymentID,
			missingParent(err, "deployment", snapshot.DeploymentID))
	}
	return nil
}

func (r *Registry) snapshots(ctx context.Context, deploymentID string) ([]contracts.LiveSnapshot, error) {
	query := `
		SELECT deployment_id, ts, equity, cash, positions, total_trades, total_fees
		FROM registry.snapshots
		WHERE deployment_id = $1
		ORDER BY ts ASC, seq ASC
	`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots %s: %w", deploymentID, err)
	}
	defer rows.Close()

	var out []contracts.LiveSnapshot
	for rows.Next() {
		var s contracts.LiveSnapshot
		var raw []byte
		if err := rows.Scan(&s.DeploymentID, &s.Timestamp, &s.Equity, &s.Cash, &raw,
			&s.TotalTrades, &s.TotalFees); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal(raw, &s.Positions); err != nil {
			return nil, fmt.Errorf("decode positions: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
