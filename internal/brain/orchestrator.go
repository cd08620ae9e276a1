// Package brain composes the evolver, deployer, monitor and promoter into the control loops.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/deployer"
	"github.com/wonny/forge/internal/evolver"
	"github.com/wonny/forge/internal/monitor"
	"github.com/wonny/forge/internal/notify"
	"github.com/wonny/forge/internal/observability"
	"github.com/wonny/forge/internal/promoter"
	"github.com/wonny/forge/pkg/logger"
)

// Config controls sweep fan-out and post-evolution deployment.
type Config struct {
	Workers    int                      `json:"workers" yaml:"workers"`
	AutoDeploy bool                     `json:"auto_deploy" yaml:"auto_deploy"`
	DeployMode contracts.DeploymentMode `json:"deploy_mode" yaml:"deploy_mode"`
	// SnapshotOnMonitor marks each deployment to market before it is checked.
	SnapshotOnMonitor bool `json:"snapshot_on_monitor" yaml:"snapshot_on_monitor"`
}

// DefaultConfig runs four deployments at a time and never deploys on its own.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		DeployMode:        contracts.ModePaper,
		SnapshotOnMonitor: true,
	}
}

// Components are the orchestrated parts. Notifier and Metrics are optional.
type Components struct {
	Evolver   *evolver.Evolver
	Deployer  *deployer.Deployer
	Monitor   *monitor.Monitor
	Promoter  *promoter.Promoter
	Registry  contracts.Registry
	Universes contracts.UniverseResolver
	Notifier  notify.Notifier
	Metrics   *observability.Metrics
}

// Orchestrator coordinates the control loops.
// ⭐ SSOT: evolution-to-deployment flow and the periodic sweeps are composed here only
type Orchestrator struct {
	cfg Config
	c   Components

	logger *logger.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config, c Components, log *logger.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if c.Notifier == nil {
		c.Notifier = notify.Nop{}
	}
	return &Orchestrator{cfg: cfg, c: c, logger: log}
}

// GenerateRunID generates a unique run ID
func GenerateRunID() string {
	return fmt.Sprintf("run_%s_%s", time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

func (o *Orchestrator) publish(ctx context.Context, runID string, event notify.Event) {
	event.RunID = runID
	if err := o.c.Notifier.Publish(ctx, event); err != nil {
		o.logger.WithFields(map[string]interface{}{
			"run_id": runID,
			"event":  string(event.Type),
		}).WithError(err).Warn("Event publish failed")
	}
}

// forEach runs fn for 0..n-1 on at most Workers goroutines.
// Units not yet started when ctx is cancelled are skipped and reported in skipped.
func (o *Orchestrator) forEach(ctx context.Context, n int, fn func(i int)) (skipped []int) {
	done := make([]bool, n)
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(i)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()
	for i, ok := range done {
		if !ok {
			skipped = append(skipped, i)
		}
	}
	return skipped
}

// ============================================================================
// Full cycle
// ============================================================================

// FullCycleRequest parameterizes RunFullCycle. Zero Cycles runs one.
type FullCycleRequest struct {
	UniverseID string
	Cycles     int
	// Deploy overrides AutoDeploy when set.
	Deploy *bool
	Mode   contracts.DeploymentMode
}

// FullCycleResult is the outcome of evolution plus the optional deployment.
type FullCycleResult struct {
	RunID      string                    `json:"run_id"`
	UniverseID string                    `json:"universe_id"`
	Symbols    int                       `json:"symbols"`
	Evolution  *evolver.Summary          `json:"evolution"`
	Readiness  *contracts.AuditReport    `json:"readiness,omitempty"`
	Deployment *contracts.Deployment     `json:"deployment,omitempty"`
	Rebalance  *deployer.RebalanceResult `json:"rebalance,omitempty"`
	Errors     []string                  `json:"errors"`
	Duration   time.Duration             `json:"duration"`
}

// RunFullCycle resolves symbols, evolves, and deploys the best passing spec when asked.
func (o *Orchestrator) RunFullCycle(ctx context.Context, req FullCycleRequest) (*FullCycleResult, error) {
	start := time.Now()
	runID := GenerateRunID()
	result := &FullCycleResult{RunID: runID, UniverseID: req.UniverseID}
	log := o.logger.WithFields(map[string]interface{}{"run_id": runID, "universe_id": req.UniverseID})

	cycles := req.Cycles
	if cycles < 1 {
		cycles = 1
	}
	deploy := o.cfg.AutoDeploy
	if req.Deploy != nil {
		deploy = *req.Deploy
	}
	log.WithFields(map[string]interface{}{"cycles": cycles, "deploy": deploy}).Info("Starting full cycle")

	symbols, err := o.c.Universes.Resolve(ctx, req.UniverseID)
	if err != nil {
		return result, fmt.Errorf("resolve universe %s: %w", req.UniverseID, err)
	}
	result.Symbols = len(symbols)

	summary, err := o.c.Evolver.RunCycles(ctx, cycles, symbols)
	result.Evolution = summary
	if summary != nil {
		for _, c := range summary.Cycles {
			result.Errors = append(result.Errors, c.Errors...)
			o.publish(ctx, runID, notify.NewEvent(notify.EventCycleCompleted, "", c.BestSpecID, cycleDigest(c)))
		}
	}
	if err != nil {
		result.Duration = time.Since(start)
		return result, fmt.Errorf("evolution: %w", err)
	}

	if deploy {
		if summary.Best == nil {
			log.Info("No candidate passed validation and audit, nothing to deploy")
		} else {
			o.deployBest(ctx, runID, req.Mode, summary.Best, symbols, result)
		}
	}

	result.Duration = time.Since(start)
	log.WithFields(map[string]interface{}{
		"cycles_run":  len(summary.Cycles),
		"exhausted":   summary.Exhausted,
		"best_sharpe": summary.BestSharpe,
		"deployed":    result.Deployment != nil,
		"errors":      len(result.Errors),
		"duration":    result.Duration.Seconds(),
	}).Info("Full cycle completed")
	return result, nil
}

func (o *Orchestrator) deployBest(ctx context.Context, runID string, mode contracts.DeploymentMode, best *evolver.Candidate, fallback []string, result *FullCycleResult) {
	symbols := best.Symbols
	if len(symbols) == 0 {
		symbols = fallback
	}
	out, err := o.deploy(ctx, runID, deployer.DeployRequest{
		Spec:       best.Spec,
		Screen:     best.Screen,
		Validation: best.Validation,
		Mode:       mode,
		Symbols:    symbols,
	})
	result.Readiness = out.Readiness
	result.Deployment = out.Deployment
	result.Rebalance = out.Rebalance
	result.Errors = append(result.Errors, out.Errors...)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("deploy %s: %v", best.Spec.ID, err))
	}
}

// DeployOutcome is a deployment attempt plus its initial rebalance.
type DeployOutcome struct {
	RunID      string                    `json:"run_id"`
	Readiness  *contracts.AuditReport    `json:"readiness,omitempty"`
	Deployment *contracts.Deployment     `json:"deployment,omitempty"`
	Rebalance  *deployer.RebalanceResult `json:"rebalance,omitempty"`
	Errors     []string                  `json:"errors"`
}

// deploy gates and starts a deployment, then trades it to its first targets.
// The error covers the deploy step only; rebalance problems land in Errors.
func (o *Orchestrator) deploy(ctx context.Context, runID string, req deployer.DeployRequest) (*DeployOutcome, error) {
	if req.Mode == "" {
		req.Mode = o.cfg.DeployMode
	}
	out := &DeployOutcome{RunID: runID}

	dep, report, err := o.c.Deployer.Deploy(ctx, req)
	out.Readiness = report
	if err != nil {
		return out, err
	}
	out.Deployment = dep
	o.publish(ctx, runID, notify.NewEvent(notify.EventDeployed, dep.ID, dep.SpecID, dep))

	rebalance, err := o.c.Deployer.Rebalance(ctx, dep.ID)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("initial rebalance %s: %v", dep.ID, err))
		return out, nil
	}
	out.Rebalance = rebalance
	out.Errors = append(out.Errors, rebalance.Errors...)
	o.publish(ctx, runID, notify.NewEvent(notify.EventRebalanced, dep.ID, dep.SpecID, rebalanceDigest(rebalance)))
	return out, nil
}

// DeploySpecRequest deploys a stored spec. Zero fields take the deployer defaults.
type DeploySpecRequest struct {
	SpecID      string
	Mode        contracts.DeploymentMode
	InitialCash float64
	Symbols     []string
}

// DeploySpec deploys a spec from the registry using its newest screen and validation results.
func (o *Orchestrator) DeploySpec(ctx context.Context, req DeploySpecRequest) (*DeployOutcome, error) {
	runID := GenerateRunID()
	spec, err := o.c.Registry.GetSpec(ctx, req.SpecID)
	if err != nil {
		return nil, fmt.Errorf("load spec %s: %w", req.SpecID, err)
	}
	results, err := o.c.Registry.GetResults(ctx, req.SpecID)
	if err != nil && !errors.Is(err, contracts.ErrNotFound) {
		return nil, fmt.Errorf("results for %s: %w", req.SpecID, err)
	}

	out, err := o.deploy(ctx, runID, deployer.DeployRequest{
		Spec:        *spec,
		Screen:      contracts.LatestResult(results, contracts.PhaseScreen),
		Validation:  contracts.LatestResult(results, contracts.PhaseValidate),
		Mode:        req.Mode,
		InitialCash: req.InitialCash,
		Symbols:     req.Symbols,
	})
	if err != nil {
		return out, fmt.Errorf("deploy %s: %w", req.SpecID, err)
	}
	o.logger.WithFields(map[string]interface{}{
		"run_id":        runID,
		"spec_id":       req.SpecID,
		"deployment_id": out.Deployment.ID,
		"errors":        len(out.Errors),
	}).Info("Spec deployed")
	return out, nil
}

func cycleDigest(c *evolver.CycleResult) map[string]interface{} {
	return map[string]interface{}{
		"cycle":     c.Cycle,
		"mode":      string(c.Mode),
		"generated": c.Generated,
		"screened":  c.Screened,
		"validated": c.Validated,
		"passed":    c.Passed,
		"improved":  c.Improved,
		"errors":    len(c.Errors),
	}
}

func rebalanceDigest(r *deployer.RebalanceResult) map[string]interface{} {
	return map[string]interface{}{
		"orders":   len(r.Orders),
		"filled":   len(r.Trades),
		"rejected": r.Rejected,
		"errors":   len(r.Errors),
	}
}

// ============================================================================
// Shared sweep helpers
// ============================================================================

// baseline loads the newest validation result for a spec, or nil.
func (o *Orchestrator) baseline(ctx context.Context, specID string) (*contracts.StrategyResult, error) {
	results, err := o.c.Registry.GetResults(ctx, specID)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("results for %s: %w", specID, err)
	}
	return contracts.LatestResult(results, contracts.PhaseValidate), nil
}

func violationRules(vs []contracts.RiskViolation) string {
	rules := make([]string, len(vs))
	for i, v := range vs {
		rules[i] = v.Rule
	}
	return strings.Join(rules, ",")
}
