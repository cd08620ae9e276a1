// Package testkit holds deterministic collaborator stubs for component tests and dry runs.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/wonny/forge/internal/contracts"
)

// ============================================================================
// Generator
// ============================================================================

// Generator returns specs built by a template function. Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	seq      int
	explores int
	exploits int
	parents  []string

	TemplateID string
	UniverseID string
	Risk       contracts.RiskParams
	// FailEvery makes every n-th call return Err (0 disables).
	FailEvery int
	Err       error
}

var _ contracts.Generator = (*Generator)(nil)

// NewGenerator creates a generator of momentum specs over dow30.
func NewGenerator() *Generator {
	return &Generator{
		TemplateID: "momentum",
		UniverseID: "dow30",
		Risk:       contracts.DefaultRiskParams(),
		Err:        errors.New("generator unavailable"),
	}
}

func (g *Generator) next() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	if g.FailEvery > 0 && g.seq%g.FailEvery == 0 {
		return g.seq, g.Err
	}
	return g.seq, nil
}

func (g *Generator) build(seq int) *contracts.StrategySpec {
	spec := contracts.NewStrategySpec(g.TemplateID, g.UniverseID, map[string]float64{"lookback": float64(20 + seq)}, g.Risk)
	spec.ID = fmt.Sprintf("spec-%03d", seq)
	return spec
}

// Explore implements contracts.Generator.
func (g *Generator) Explore(_ context.Context, _ []contracts.SpecResult) (*contracts.StrategySpec, error) {
	seq, err := g.next()
	g.mu.Lock()
	g.explores++
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	spec := g.build(seq)
	spec.CreatedBy = "stub:explore"
	return spec, nil
}

// Exploit implements contracts.Generator.
func (g *Generator) Exploit(_ context.Context, parent contracts.StrategySpec, _ contracts.StrategyResult, _ []contracts.SpecResult) (*contracts.StrategySpec, error) {
	seq, err := g.next()
	g.mu.Lock()
	g.exploits++
	g.parents = append(g.parents, parent.ID)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	spec := g.build(seq)
	spec.ParentID = parent.ID
	spec.Generation = parent.Generation + 1
	spec.CreatedBy = "stub:exploit"
	return spec, nil
}

// Calls returns explore and exploit call counts.
func (g *Generator) Calls() (explores, exploits int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.explores, g.exploits
}

// Parents returns the parent ids passed to Exploit, sorted.
func (g *Generator) Parents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := append([]string(nil), g.parents...)
	sort.Strings(out)
	return out
}

// ============================================================================
// Engines
// ============================================================================

// ResultFunc fills a result for a spec. Returning an error simulates an engine failure.
type ResultFunc func(spec contracts.StrategySpec) (contracts.StrategyResult, error)

// Engine implements both Screener and Validator from result functions.
type Engine struct {
	ScreenFunc   ResultFunc
	ValidateFunc ResultFunc

	mu        sync.Mutex
	screened  []string
	validated []string
}

var (
	_ contracts.Screener  = (*Engine)(nil)
	_ contracts.Validator = (*Engine)(nil)
)

// Screen implements contracts.Screener.
func (e *Engine) Screen(_ context.Context, spec contracts.StrategySpec, symbols []string, start, end time.Time) (*contracts.StrategyResult, error) {
	e.mu.Lock()
	e.screened = append(e.screened, spec.ID)
	e.mu.Unlock()

	r, err := e.ScreenFunc(spec)
	if err != nil {
		return nil, err
	}
	r.Phase = contracts.PhaseScreen
	r.SpecID = spec.ID
	if r.ID == "" {
		r.ID = "screen-" + spec.ID
	}
	r.PeriodStart, r.PeriodEnd = start, end
	if r.SymbolsRequested == 0 {
		r.SymbolsRequested = len(symbols)
		r.SymbolsWithData = len(symbols)
	}
	return &r, nil
}

// Validate implements contracts.Validator.
func (e *Engine) Validate(_ context.Context, spec contracts.StrategySpec, symbols []string, _ string) (*contracts.StrategyResult, error) {
	e.mu.Lock()
	e.validated = append(e.validated, spec.ID)
	e.mu.Unlock()

	r, err := e.ValidateFunc(spec)
	if err != nil {
		return nil, err
	}
	r.Phase = contracts.PhaseValidate
	r.SpecID = spec.ID
	if r.ID == "" {
		r.ID = "validate-" + spec.ID
	}
	if r.SymbolsRequested == 0 {
		r.SymbolsRequested = len(symbols)
		r.SymbolsWithData = len(symbols)
	}
	return &r, nil
}

// Screened returns the screened spec ids, sorted.
func (e *Engine) Screened() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]string(nil), e.screened...)
	sort.Strings(out)
	return out
}

// Validated returns the validated spec ids, sorted.
func (e *Engine) Validated() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]string(nil), e.validated...)
	sort.Strings(out)
	return out
}

// HealthyResult is a result that clears every default audit check.
func HealthyResult(sharpe float64) contracts.StrategyResult {
	return contracts.StrategyResult{
		Sharpe:       sharpe,
		AnnualReturn: 0.12,
		TotalReturn:  0.40,
		MaxDrawdown:  -0.08,
		TotalTrades:  60,
		WinRate:      0.55,
		ProfitFactor: 1.4,
		Passed:       true,
	}
}

// FixedResults returns the same healthy result for every spec.
func FixedResults(sharpe float64) ResultFunc {
	return func(contracts.StrategySpec) (contracts.StrategyResult, error) {
		return HealthyResult(sharpe), nil
	}
}

// SharpeByLookback derives a distinct Sharpe from the spec's lookback parameter.
func SharpeByLookback(scale float64) ResultFunc {
	return func(spec contracts.StrategySpec) (contracts.StrategyResult, error) {
		lb := spec.Parameters["lookback"]
		return HealthyResult(math.Mod(lb, 7) * scale), nil
	}
}

// ============================================================================
// Signals
// ============================================================================

// Signals returns fixed long/flat decisions at fixed prices.
type Signals struct {
	mu     sync.Mutex
	Long   map[string]bool
	Prices map[string]float64
	Err    error
}

var _ contracts.SignalSource = (*Signals)(nil)

// NewSignals creates a source with every listed symbol long.
func NewSignals(prices map[string]float64) *Signals {
	long := make(map[string]bool, len(prices))
	for s := range prices {
		long[s] = true
	}
	return &Signals{Long: long, Prices: prices}
}

// Set changes one symbol's decision.
func (s *Signals) Set(symbol string, long bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Long[symbol] = long
}

// Signals implements contracts.SignalSource.
func (s *Signals) Signals(_ context.Context, _ contracts.StrategySpec, symbols []string) ([]contracts.SymbolSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []contracts.SymbolSignal
	for _, sym := range symbols {
		price, ok := s.Prices[sym]
		if !ok {
			continue
		}
		out = append(out, contracts.SymbolSignal{Symbol: sym, Long: s.Long[sym], Price: price})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// ============================================================================
// Universe
// ============================================================================

// Universes resolves ids from a fixed map.
type Universes map[string][]string

// Resolve implements contracts.UniverseResolver.
func (u Universes) Resolve(_ context.Context, id string) ([]string, error) {
	symbols, ok := u[id]
	if !ok || len(symbols) == 0 {
		return nil, fmt.Errorf("universe %q: %w", id, contracts.ErrNotFound)
	}
	return append([]string(nil), symbols...), nil
}
