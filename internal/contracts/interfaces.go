package contracts

import (
	"context"
	"time"
)

// Generator proposes candidate specs.
// Returned specs use a supported template and universe with conservative risk fields.
type Generator interface {
	Explore(ctx context.Context, history []SpecResult) (*StrategySpec, error)
	Exploit(ctx context.Context, parent StrategySpec, parentResult StrategyResult, history []SpecResult) (*StrategySpec, error)
}

// Screener is the cheap backtest. Missing data surfaces as FailureReason, not an error.
type Screener interface {
	Screen(ctx context.Context, spec StrategySpec, symbols []string, start, end time.Time) (*StrategyResult, error)
}

// Validator is the expensive multi-regime backtest.
type Validator interface {
	Validate(ctx context.Context, spec StrategySpec, symbols []string, benchmark string) (*StrategyResult, error)
}

// UniverseResolver turns a universe id into a non-empty symbol list or an error.
type UniverseResolver interface {
	Resolve(ctx context.Context, universeID string) ([]string, error)
}

// SignalSource produces per-symbol long/flat signals for a spec.
// Symbols that cannot be evaluated are omitted from the result.
type SignalSource interface {
	Signals(ctx context.Context, spec StrategySpec, symbols []string) ([]SymbolSignal, error)
}

// Registry is durable storage for specs, results and deployments.
// Specs, results and deployment headers are upserts keyed by id.
// Trades and snapshots are append-only and returned in timestamp order.
type Registry interface {
	SaveSpec(ctx context.Context, spec *StrategySpec) error
	GetSpec(ctx context.Context, id string) (*StrategySpec, error)
	SaveResult(ctx context.Context, result *StrategyResult) error
	GetResults(ctx context.Context, specID string) ([]StrategyResult, error)
	GetBestSpecs(ctx context.Context, phase Phase, metric Metric, limit int, passedOnly bool) ([]SpecResult, error)

	SaveDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	ListDeployments(ctx context.Context, status DeploymentStatus) ([]*Deployment, error)
	AppendTrades(ctx context.Context, deploymentID string, trades []TradeRecord) error
	AppendSnapshot(ctx context.Context, snapshot LiveSnapshot) error
}

// LatestResult picks the newest result of a phase from a result list.
func LatestResult(results []StrategyResult, phase Phase) *StrategyResult {
	var latest *StrategyResult
	for i := range results {
		r := results[i]
		if r.Phase != phase {
			continue
		}
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = &r
		}
	}
	return latest
}
