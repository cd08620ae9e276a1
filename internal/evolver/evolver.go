// Package evolver runs generate, screen, validate and audit cycles over strategy candidates.
package evolver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/forge/internal/audit"
	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/generator"
	"github.com/wonny/forge/internal/observability"
	"github.com/wonny/forge/internal/risk"
	"github.com/wonny/forge/pkg/logger"
)

// Config controls batch shape and stopping.
type Config struct {
	BatchSize        int     `json:"batch_size" yaml:"batch_size"`
	ExploreRatio     float64 `json:"explore_ratio" yaml:"explore_ratio"`
	TopNValidate     int     `json:"top_n_validate" yaml:"top_n_validate"`
	ExhaustionCycles int     `json:"exhaustion_cycles" yaml:"exhaustion_cycles"`
	PlateauCycles    int     `json:"plateau_cycles" yaml:"plateau_cycles"`
	WarmupCycles     int     `json:"warmup_cycles" yaml:"warmup_cycles"`
	HistoryLimit     int     `json:"history_limit" yaml:"history_limit"`
	Concurrency      int     `json:"concurrency" yaml:"concurrency"`
	ScreenYears      int     `json:"screen_years" yaml:"screen_years"`
	HoldoutMonths    int     `json:"holdout_months" yaml:"holdout_months"` // most recent months kept out of screening
	Benchmark        string  `json:"benchmark" yaml:"benchmark"`
}

// DefaultConfig returns the standard evolution settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:        5,
		ExploreRatio:     0.3,
		TopNValidate:     2,
		ExhaustionCycles: 10,
		PlateauCycles:    5,
		WarmupCycles:     2,
		HistoryLimit:     20,
		Concurrency:      4,
		ScreenYears:      3,
		HoldoutMonths:    12,
		Benchmark:        "SPY",
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	case c.ExploreRatio < 0 || c.ExploreRatio > 1:
		return fmt.Errorf("explore_ratio must be in [0,1], got %.2f", c.ExploreRatio)
	case c.TopNValidate < 0:
		return fmt.Errorf("top_n_validate must be >= 0, got %d", c.TopNValidate)
	case c.ExhaustionCycles < 1:
		return fmt.Errorf("exhaustion_cycles must be >= 1, got %d", c.ExhaustionCycles)
	case c.PlateauCycles < 1:
		return fmt.Errorf("plateau_cycles must be >= 1, got %d", c.PlateauCycles)
	case c.ScreenYears < 1:
		return fmt.Errorf("screen_years must be >= 1, got %d", c.ScreenYears)
	case c.HoldoutMonths < 0:
		return fmt.Errorf("holdout_months must be >= 0, got %d", c.HoldoutMonths)
	case c.Benchmark == "":
		return fmt.Errorf("benchmark is required")
	}
	return nil
}

// Collaborators are the evolver's external dependencies. Universes and Metrics are optional.
type Collaborators struct {
	Generator contracts.Generator
	Screener  contracts.Screener
	Validator contracts.Validator
	Registry  contracts.Registry
	Universes contracts.UniverseResolver
	Metrics   *observability.Metrics
}

// Candidate is one spec's progress through a cycle.
type Candidate struct {
	Spec       contracts.StrategySpec    `json:"spec"`
	Origin     Mode                      `json:"origin"`
	Clamped    bool                      `json:"clamped"`
	Violations []contracts.RiskViolation `json:"violations,omitempty"`
	Screen     *contracts.StrategyResult `json:"screen,omitempty"`
	Validation *contracts.StrategyResult `json:"validation,omitempty"`
	Audit      *contracts.AuditReport    `json:"audit,omitempty"`
	Symbols    []string                  `json:"-"`
}

// Deployable reports whether the candidate cleared validation and the audit gate.
func (c *Candidate) Deployable() bool {
	return c.Validation != nil && c.Validation.Passed && c.Audit != nil && c.Audit.Passed
}

// CycleResult summarizes one cycle. Errors holds per-candidate failures.
type CycleResult struct {
	Cycle      int           `json:"cycle"`
	Mode       Mode          `json:"mode"`
	Generated  int           `json:"generated"`
	Screened   int           `json:"screened"`
	Clamped    int           `json:"clamped"`
	Validated  int           `json:"validated"`
	Passed     int           `json:"passed"`
	BestSharpe float64       `json:"best_sharpe"`
	BestSpecID string        `json:"best_spec_id,omitempty"`
	Improved   bool          `json:"improved"`
	Candidates []*Candidate  `json:"candidates"`
	Errors     []string      `json:"errors"`
	Duration   time.Duration `json:"duration"`
}

// Summary is the outcome of RunCycles.
type Summary struct {
	Cycles     []*CycleResult `json:"cycles"`
	Exhausted  bool           `json:"exhausted"`
	BestSharpe float64        `json:"best_sharpe"`
	BestSpecID string         `json:"best_spec_id,omitempty"`
	// Best is the highest-Sharpe candidate that passed validation and audit, if any.
	Best     *Candidate    `json:"best,omitempty"`
	Duration time.Duration `json:"duration"`
}

// State is the evolver's cross-cycle bookkeeping.
type State struct {
	Cycle      int     `json:"cycle"`
	BestSharpe float64 `json:"best_sharpe"`
	BestSpecID string  `json:"best_spec_id,omitempty"`
	Stagnant   int     `json:"stagnant"`
}

// Evolver runs evolution cycles.
// ⭐ SSOT: explore/exploit bookkeeping and the per-cycle pipeline live here only
type Evolver struct {
	cfg     Config
	deps    Collaborators
	risk    *risk.Engine
	auditor *audit.Auditor
	now     func() time.Time
	logger  *logger.Logger

	mu    sync.Mutex
	state State
}

// New creates an evolver. Best-ever Sharpe starts at zero.
func New(cfg Config, deps Collaborators, engine *risk.Engine, auditor *audit.Auditor, log *logger.Logger) *Evolver {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Evolver{
		cfg:     cfg,
		deps:    deps,
		risk:    engine,
		auditor: auditor,
		now:     time.Now,
		logger:  log,
	}
}

// Config returns the evolver's configuration.
func (e *Evolver) Config() Config {
	return e.cfg
}

// State returns a copy of the cross-cycle state.
func (e *Evolver) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Exhausted reports whether stagnation reached the exhaustion threshold.
func (e *Evolver) Exhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Stagnant >= e.cfg.ExhaustionCycles
}

// RunCycles runs up to n cycles, stopping early once exhausted or cancelled.
func (e *Evolver) RunCycles(ctx context.Context, n int, symbols []string) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	for i := 0; i < n; i++ {
		if e.Exhausted() {
			summary.Exhausted = true
			e.logger.WithFields(map[string]interface{}{
				"cycles_run": len(summary.Cycles),
				"requested":  n,
			}).Info("Evolution exhausted, stopping early")
			break
		}
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}

		result, err := e.RunCycle(ctx, symbols)
		if result != nil {
			summary.Cycles = append(summary.Cycles, result)
			summary.Best = better(summary.Best, result.Candidates)
		}
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
	}

	state := e.State()
	summary.BestSharpe = state.BestSharpe
	summary.BestSpecID = state.BestSpecID
	summary.Duration = time.Since(start)
	return summary, nil
}

// better returns the highest-validation-Sharpe deployable candidate among best and cands.
func better(best *Candidate, cands []*Candidate) *Candidate {
	for _, c := range cands {
		if !c.Deployable() || math.IsNaN(c.Validation.Sharpe) {
			continue
		}
		if best == nil || c.Validation.Sharpe > best.Validation.Sharpe {
			best = c
		}
	}
	return best
}

// RunCycle runs one generate, screen, rank, validate and audit pass.
// Per-candidate failures are recorded in the result; only cancellation returns an error.
func (e *Evolver) RunCycle(ctx context.Context, symbols []string) (*CycleResult, error) {
	start := time.Now()

	e.mu.Lock()
	e.state.Cycle++
	cycle := e.state.Cycle
	mode := e.cfg.DecideMode(cycle, e.state.Stagnant)
	e.mu.Unlock()

	result := &CycleResult{Cycle: cycle, Mode: mode, BestSharpe: math.NaN()}
	log := e.logger.WithFields(map[string]interface{}{"cycle": cycle, "mode": string(mode)})
	log.Info("Evolution cycle started")

	history, err := e.deps.Registry.GetBestSpecs(ctx, contracts.PhaseScreen, contracts.MetricSharpe, e.cfg.HistoryLimit, false)
	if err != nil {
		log.WithError(err).Warn("History unavailable, generating without it")
		result.Errors = append(result.Errors, fmt.Sprintf("history: %v", err))
		history = nil
	}

	// Stage 1: generate, clamp, screen, persist
	origins := e.plan(mode, history)
	slots := make([]*Candidate, len(origins))
	errs := make([]string, len(origins))
	e.runPool(ctx, len(origins), func(i int) {
		c, err := e.screenCandidate(ctx, origins[i], history, symbols)
		if err != nil {
			errs[i] = fmt.Sprintf("candidate %d (%s): %v", i+1, origins[i], err)
			log.WithFields(map[string]interface{}{"candidate": i + 1}).WithError(err).Warn("Candidate failed")
		}
		slots[i] = c
	})
	if err := ctx.Err(); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	var screened []*Candidate
	for i, c := range slots {
		if errs[i] != "" {
			result.Errors = append(result.Errors, errs[i])
		}
		if c == nil {
			continue
		}
		result.Generated++
		if c.Clamped {
			result.Clamped++
		}
		if c.Screen != nil {
			result.Screened++
			screened = append(screened, c)
		}
	}
	result.Candidates = screened

	// Stage 2: rank and validate top-N
	Rank(screened)
	top := screened
	if len(top) > e.cfg.TopNValidate {
		top = top[:e.cfg.TopNValidate]
	}
	verrs := make([]string, len(top))
	e.runPool(ctx, len(top), func(i int) {
		if err := e.validateCandidate(ctx, top[i]); err != nil {
			verrs[i] = fmt.Sprintf("validate %s: %v", top[i].Spec.ID, err)
			log.WithFields(map[string]interface{}{"spec_id": top[i].Spec.ID}).WithError(err).Warn("Validation failed")
		}
	})
	if err := ctx.Err(); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	for i, c := range top {
		if verrs[i] != "" {
			result.Errors = append(result.Errors, verrs[i])
		}
		if c.Validation == nil {
			continue
		}
		result.Validated++
		if c.Audit != nil && c.Audit.Passed {
			result.Passed++
		}
		s := c.Validation.Sharpe
		if !math.IsNaN(s) && (math.IsNaN(result.BestSharpe) || s > result.BestSharpe) {
			result.BestSharpe = s
			result.BestSpecID = c.Spec.ID
		}
	}

	result.Improved = e.recordOutcome(result.BestSharpe, result.BestSpecID)
	result.Duration = time.Since(start)

	state := e.State()
	e.deps.Metrics.RecordCycle(string(mode), result.Generated, result.Screened, result.Clamped, result.Validated, result.Passed, result.Duration)
	e.deps.Metrics.RecordBestSharpe(state.BestSharpe)

	log.WithFields(map[string]interface{}{
		"generated":   result.Generated,
		"screened":    result.Screened,
		"clamped":     result.Clamped,
		"validated":   result.Validated,
		"passed":      result.Passed,
		"best_sharpe": result.BestSharpe,
		"improved":    result.Improved,
		"stagnant":    state.Stagnant,
		"errors":      len(result.Errors),
		"duration":    result.Duration.Seconds(),
	}).Info("Evolution cycle completed")

	return result, nil
}

// recordOutcome updates best-ever and the stagnation counter. NaN never improves.
func (e *Evolver) recordOutcome(best float64, specID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !math.IsNaN(best) && best > e.state.BestSharpe {
		e.state.BestSharpe = best
		e.state.BestSpecID = specID
		e.state.Stagnant = 0
		return true
	}
	e.state.Stagnant++
	return false
}

// plan lists the origin of every candidate in the batch: explores first, then exploits.
// Exploits fall back to explores when there is no history to pick a parent from.
func (e *Evolver) plan(mode Mode, history []contracts.SpecResult) []Mode {
	explore, exploit := e.cfg.Split(mode)
	if len(history) == 0 {
		explore, exploit = explore+exploit, 0
	}
	origins := make([]Mode, 0, explore+exploit)
	for i := 0; i < explore; i++ {
		origins = append(origins, ModeExplore)
	}
	for i := 0; i < exploit; i++ {
		origins = append(origins, ModeExploit)
	}
	return origins
}

// runPool calls fn(0..n-1) on at most Concurrency goroutines.
func (e *Evolver) runPool(ctx context.Context, n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// ============================================================================
// Candidate stages
// ============================================================================

func (e *Evolver) screenCandidate(ctx context.Context, origin Mode, history []contracts.SpecResult, symbols []string) (*Candidate, error) {
	spec, err := e.generate(ctx, origin, history)
	if err != nil {
		e.deps.Metrics.RecordGeneratorError(generator.KindLabel(err))
		return nil, fmt.Errorf("generate: %w", err)
	}

	c := &Candidate{Spec: spec.Clone(), Origin: origin}
	if violations := e.risk.CheckSpec(c.Spec); len(violations) > 0 {
		c.Violations = violations
		c.Spec = e.risk.ClampSpec(c.Spec)
		c.Clamped = true
		e.logger.WithFields(map[string]interface{}{
			"spec_id":    c.Spec.ID,
			"violations": len(violations),
		}).Debug("Candidate clamped to risk limits")
	}

	if err := e.deps.Registry.SaveSpec(ctx, &c.Spec); err != nil {
		return c, fmt.Errorf("save spec %s: %w", c.Spec.ID, err)
	}

	c.Symbols = e.symbolsFor(ctx, c.Spec, symbols)
	end := e.now().UTC().AddDate(0, -e.cfg.HoldoutMonths, 0)
	begin := end.AddDate(-e.cfg.ScreenYears, 0, 0)

	screen, err := e.deps.Screener.Screen(ctx, c.Spec, c.Symbols, begin, end)
	if err != nil {
		return c, fmt.Errorf("screen %s: %w", c.Spec.ID, err)
	}
	if screen.SpecID == "" {
		screen.SpecID = c.Spec.ID
	}
	if err := e.deps.Registry.SaveResult(ctx, screen); err != nil {
		return c, fmt.Errorf("save screen result %s: %w", c.Spec.ID, err)
	}
	c.Screen = screen
	return c, nil
}

func (e *Evolver) generate(ctx context.Context, origin Mode, history []contracts.SpecResult) (*contracts.StrategySpec, error) {
	if origin == ModeExploit && len(history) > 0 {
		parent := history[0]
		return e.deps.Generator.Exploit(ctx, parent.Spec, parent.Result, history)
	}
	return e.deps.Generator.Explore(ctx, history)
}

// symbolsFor resolves the spec's own universe, falling back to the cycle's symbols.
func (e *Evolver) symbolsFor(ctx context.Context, spec contracts.StrategySpec, fallback []string) []string {
	if e.deps.Universes == nil || spec.UniverseID == "" {
		return fallback
	}
	symbols, err := e.deps.Universes.Resolve(ctx, spec.UniverseID)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"spec_id":     spec.ID,
			"universe_id": spec.UniverseID,
		}).WithError(err).Warn("Universe unresolved, using cycle symbols")
		return fallback
	}
	return symbols
}

func (e *Evolver) validateCandidate(ctx context.Context, c *Candidate) error {
	validation, err := e.deps.Validator.Validate(ctx, c.Spec, c.Symbols, e.cfg.Benchmark)
	if err != nil {
		return err
	}
	if validation.SpecID == "" {
		validation.SpecID = c.Spec.ID
	}
	if err := e.deps.Registry.SaveResult(ctx, validation); err != nil {
		return fmt.Errorf("save validation result: %w", err)
	}
	c.Validation = validation
	c.Audit = e.auditor.Audit(*c.Screen, validation, &c.Spec)
	return nil
}

// Rank orders candidates by screen Sharpe descending. NaN ranks last and ties go to the lower spec id.
func Rank(cands []*Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].Screen.SortableSharpe(), cands[j].Screen.SortableSharpe()
		if a != b {
			return a > b
		}
		return cands[i].Spec.ID < cands[j].Spec.ID
	})
}
