// Package memory is an in-process Registry used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/registry"
)

// Registry keeps everything in maps guarded by one RWMutex.
// Values are copied on the way in and out so callers never share state with the store.
type Registry struct {
	mu          sync.RWMutex
	specs       map[string]contracts.StrategySpec
	results     map[string]contracts.StrategyResult
	resultOrder []string
	deployments map[string]contracts.Deployment
	trades      map[string][]contracts.TradeRecord
	snapshots   map[string][]contracts.LiveSnapshot
}

var _ contracts.Registry = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		specs:       make(map[string]contracts.StrategySpec),
		results:     make(map[string]contracts.StrategyResult),
		deployments: make(map[string]contracts.Deployment),
		trades:      make(map[string][]contracts.TradeRecord),
		snapshots:   make(map[string][]contracts.LiveSnapshot),
	}
}

func (r *Registry) SaveSpec(_ context.Context, spec *contracts.StrategySpec) error {
	if spec == nil || spec.ID == "" {
		return fmt.Errorf("save spec: missing id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.ID] = spec.Clone()
	return nil
}

func (r *Registry) GetSpec(_ context.Context, id string) (*contracts.StrategySpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[id]
	if !ok {
		return nil, fmt.Errorf("spec %s: %w", id, contracts.ErrNotFound)
	}
	clone := spec.Clone()
	return &clone, nil
}

func (r *Registry) SaveResult(_ context.Context, result *contracts.StrategyResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("save result: missing id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.results[result.ID]; !exists {
		r.resultOrder = append(r.resultOrder, result.ID)
	}
	r.results[result.ID] = cloneResult(*result)
	return nil
}

// GetResults returns a spec's results in save order.
func (r *Registry) GetResults(_ context.Context, specID string) ([]contracts.StrategyResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []contracts.StrategyResult
	for _, id := range r.resultOrder {
		if res := r.results[id]; res.SpecID == specID {
			out = append(out, cloneResult(res))
		}
	}
	return out, nil
}

// GetBestSpecs ranks each spec by its latest result in phase.
func (r *Registry) GetBestSpecs(_ context.Context, phase contracts.Phase, metric contracts.Metric, limit int, passedOnly bool) ([]contracts.SpecResult, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	r.mu.RLock()
	latest := make(map[string]contracts.StrategyResult)
	for _, id := range r.resultOrder {
		res := r.results[id]
		if res.Phase != phase {
			continue
		}
		if prev, ok := latest[res.SpecID]; !ok || !res.CreatedAt.Before(prev.CreatedAt) {
			latest[res.SpecID] = res
		}
	}

	entries := make([]contracts.SpecResult, 0, len(latest))
	for specID, res := range latest {
		spec, ok := r.specs[specID]
		if !ok || (passedOnly && !res.Passed) {
			continue
		}
		entries = append(entries, contracts.SpecResult{Spec: spec.Clone(), Result: cloneResult(res)})
	}
	r.mu.RUnlock()

	registry.SortBest(entries, metric)
	return registry.Limit(entries, limit), nil
}

// SaveDeployment upserts the header. Snapshot and trade history is kept separately.
func (r *Registry) SaveDeployment(_ context.Context, d *contracts.Deployment) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("save deployment: missing id")
	}
	header := *d
	header.Symbols = append([]string(nil), d.Symbols...)
	header.Snapshots = nil
	header.Trades = nil
	if d.StoppedAt != nil {
		stopped := *d.StoppedAt
		header.StoppedAt = &stopped
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[d.ID] = header
	return nil
}

func (r *Registry) GetDeployment(_ context.Context, id string) (*contracts.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.deployments[id]; !ok {
		return nil, fmt.Errorf("deployment %s: %w", id, contracts.ErrNotFound)
	}
	return r.loadLocked(id), nil
}

// ListDeployments filters by status; an empty status lists all. Ordered by start time then id.
func (r *Registry) ListDeployments(_ context.Context, status contracts.DeploymentStatus) ([]*contracts.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*contracts.Deployment
	for id, d := range r.deployments {
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, r.loadLocked(id))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Registry) AppendTrades(_ context.Context, deploymentID string, trades []contracts.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deployments[deploymentID]; !ok {
		return fmt.Errorf("deployment %s: %w", deploymentID, contracts.ErrNotFound)
	}
	for _, t := range trades {
		t.DeploymentID = deploymentID
		r.trades[deploymentID] = append(r.trades[deploymentID], t)
	}
	sort.SliceStable(r.trades[deploymentID], func(i, j int) bool {
		return r.trades[deploymentID][i].Timestamp.Before(r.trades[deploymentID][j].Timestamp)
	})
	return nil
}

func (r *Registry) AppendSnapshot(_ context.Context, snapshot contracts.LiveSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deployments[snapshot.DeploymentID]; !ok {
		return fmt.Errorf("deployment %s: %w", snapshot.DeploymentID, contracts.ErrNotFound)
	}
	snapshot.Positions = append([]contracts.Position(nil), snapshot.Positions...)
	list := append(r.snapshots[snapshot.DeploymentID], snapshot)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
	r.snapshots[snapshot.DeploymentID] = list
	return nil
}

func (r *Registry) loadLocked(id string) *contracts.Deployment {
	d := r.deployments[id]
	d.Symbols = append([]string(nil), d.Symbols...)
	if d.StoppedAt != nil {
		stopped := *d.StoppedAt
		d.StoppedAt = &stopped
	}
	d.Trades = append([]contracts.TradeRecord(nil), r.trades[id]...)
	for _, s := range r.snapshots[id] {
		s.Positions = append([]contracts.Position(nil), s.Positions...)
		d.Snapshots = append(d.Snapshots, s)
	}
	return &d
}

func cloneResult(r contracts.StrategyResult) contracts.StrategyResult {
	if r.RegimeResults != nil {
		regimes := make(map[contracts.RegimeLabel]contracts.RegimeResult, len(r.RegimeResults))
		for k, v := range r.RegimeResults {
			regimes[k] = v
		}
		r.RegimeResults = regimes
	}
	return r
}
