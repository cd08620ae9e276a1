package brain

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/deployer"
	"github.com/wonny/forge/internal/notify"
)

// Sweep names used for metrics and logs.
const (
	SweepMonitoring = "monitoring"
	SweepRebalance  = "rebalance"
	SweepPromotion  = "promotion"
)

// AutoStopPrefix starts the stop reason of every risk-triggered stop.
const AutoStopPrefix = "auto_stop: "

// SweepResult is the outcome of one pass over the active deployments.
// Skipped lists deployments not visited because the sweep was cancelled.
type SweepResult struct {
	RunID    string        `json:"run_id"`
	Sweep    string        `json:"sweep"`
	Active   int           `json:"active"`
	Visited  int           `json:"visited"`
	Skipped  []string      `json:"skipped,omitempty"`
	Errors   []string      `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// MonitorOutcome is one deployment's monitoring verdict.
type MonitorOutcome struct {
	DeploymentID string                      `json:"deployment_id"`
	SpecID       string                      `json:"spec_id"`
	Comparison   *contracts.ComparisonReport `json:"comparison,omitempty"`
	Violations   []contracts.RiskViolation   `json:"violations"`
	LiveResult   *contracts.StrategyResult   `json:"live_result,omitempty"`
	AutoStopped  bool                        `json:"auto_stopped"`
	Error        string                      `json:"error,omitempty"`
}

// MonitoringResult is the outcome of RunMonitoring.
type MonitoringResult struct {
	SweepResult
	AutoStopped int               `json:"auto_stopped"`
	Outcomes    []*MonitorOutcome `json:"outcomes"`
}

// RebalanceSweepResult is the outcome of RunRebalance.
type RebalanceSweepResult struct {
	SweepResult
	Restored int                         `json:"restored"`
	Results  []*deployer.RebalanceResult `json:"results"`
}

// PromotionSweepResult is the outcome of RunPromotion.
type PromotionSweepResult struct {
	SweepResult
	Reports []*contracts.PromotionReport `json:"reports"`
}

// begin starts a sweep by listing the active deployments.
func (o *Orchestrator) begin(ctx context.Context, name string) ([]*contracts.Deployment, SweepResult, error) {
	res := SweepResult{RunID: GenerateRunID(), Sweep: name}
	active, err := o.c.Registry.ListDeployments(ctx, contracts.StatusActive)
	if err != nil {
		return nil, res, fmt.Errorf("list active deployments: %w", err)
	}
	res.Active = len(active)
	return active, res, nil
}

// visit runs fn for each deployment on the bounded pool and folds the errors into res.
// fn must only write to its own index.
func (o *Orchestrator) visit(ctx context.Context, start time.Time, active []*contracts.Deployment, res *SweepResult, fn func(i int, d *contracts.Deployment) error) error {
	errs := make([]error, len(active))
	skipped := o.forEach(ctx, len(active), func(i int) {
		errs[i] = fn(i, active[i])
	})
	for _, i := range skipped {
		res.Skipped = append(res.Skipped, active[i].ID)
	}
	res.Visited = len(active) - len(skipped)
	for i, e := range errs {
		if e != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", active[i].ID, e))
		}
	}
	res.Duration = time.Since(start)

	o.c.Metrics.RecordSweep(res.Sweep, res.Active, len(res.Errors), res.Duration)
	o.logger.WithFields(map[string]interface{}{
		"run_id":   res.RunID,
		"sweep":    res.Sweep,
		"active":   res.Active,
		"visited":  res.Visited,
		"skipped":  len(res.Skipped),
		"errors":   len(res.Errors),
		"duration": res.Duration.Seconds(),
	}).Info("Sweep completed")
	return ctx.Err()
}

// ============================================================================
// Monitoring
// ============================================================================

// RunMonitoring compares every active deployment with its validation baseline
// and stops any deployment with at least one hard risk violation.
func (o *Orchestrator) RunMonitoring(ctx context.Context) (*MonitoringResult, error) {
	start := time.Now()
	active, res, err := o.begin(ctx, SweepMonitoring)
	if err != nil {
		return nil, err
	}

	outcomes := make([]*MonitorOutcome, len(active))
	err = o.visit(ctx, start, active, &res, func(i int, d *contracts.Deployment) error {
		out, err := o.monitorOne(ctx, res.RunID, d)
		outcomes[i] = out
		return err
	})

	result := &MonitoringResult{SweepResult: res}
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		result.Outcomes = append(result.Outcomes, out)
		if out.AutoStopped {
			result.AutoStopped++
		}
	}
	return result, err
}

func (o *Orchestrator) monitorOne(ctx context.Context, runID string, d *contracts.Deployment) (*MonitorOutcome, error) {
	out := &MonitorOutcome{DeploymentID: d.ID, SpecID: d.SpecID}
	log := o.logger.WithFields(map[string]interface{}{"run_id": runID, "deployment_id": d.ID})

	if o.cfg.SnapshotOnMonitor {
		if _, err := o.c.Deployer.RecordSnapshot(ctx, d.ID); err != nil {
			// A stale mark still gets checked.
			log.WithError(err).Warn("Snapshot refresh failed")
		} else if fresh, err := o.c.Registry.GetDeployment(ctx, d.ID); err == nil {
			d = fresh
		}
	}
	if !d.IsActive() {
		return out, nil
	}

	baseline, err := o.baseline(ctx, d.SpecID)
	if err != nil {
		out.Error = err.Error()
		return out, err
	}
	out.Comparison = o.c.Monitor.Compare(d, baseline)
	out.Violations = o.c.Monitor.CheckRisk(d)

	live := o.c.Monitor.ComputeLiveResult(d)
	if err := o.c.Registry.SaveResult(ctx, live); err != nil {
		log.WithError(err).Warn("Live result save failed")
	} else {
		out.LiveResult = live
	}

	if len(out.Violations) == 0 {
		if !out.Comparison.WithinTolerance {
			log.WithField("alerts", out.Comparison.Alerts).Warn("Deployment drifting from validation baseline")
		}
		return out, nil
	}

	reason := AutoStopPrefix + violationRules(out.Violations)
	log.WithFields(map[string]interface{}{
		"violations": len(out.Violations),
		"reason":     reason,
	}).Warn("Risk violation, stopping deployment")

	stop, err := o.c.Deployer.Stop(ctx, d.ID, reason)
	if err != nil {
		out.Error = err.Error()
		return out, fmt.Errorf("auto-stop: %w", err)
	}
	if stop.AlreadyStopped {
		return out, nil
	}
	out.AutoStopped = true
	o.c.Metrics.RecordAutoStop()
	o.publish(ctx, runID, notify.NewEvent(notify.EventAutoStopped, d.ID, d.SpecID, map[string]interface{}{
		"reason":     reason,
		"violations": out.Violations,
		"errors":     stop.Errors,
	}))
	return out, nil
}

// ============================================================================
// Rebalance
// ============================================================================

// RunRebalance restores broker sessions and rebalances every active deployment.
func (o *Orchestrator) RunRebalance(ctx context.Context) (*RebalanceSweepResult, error) {
	start := time.Now()
	active, res, err := o.begin(ctx, SweepRebalance)
	if err != nil {
		return nil, err
	}
	result := &RebalanceSweepResult{SweepResult: res}

	restored, restoreErrs := o.c.Deployer.Restore(ctx)
	result.Restored = restored
	for _, e := range restoreErrs {
		o.logger.WithField("run_id", res.RunID).WithError(e).Warn("Session restore failed")
	}

	results := make([]*deployer.RebalanceResult, len(active))
	err = o.visit(ctx, start, active, &result.SweepResult, func(i int, d *contracts.Deployment) error {
		r, err := o.c.Deployer.Rebalance(ctx, d.ID)
		if err != nil {
			if deployer.IsNotActive(err) {
				return nil
			}
			return err
		}
		results[i] = r
		o.publish(ctx, result.RunID, notify.NewEvent(notify.EventRebalanced, d.ID, d.SpecID, rebalanceDigest(r)))
		return nil
	})
	for _, r := range results {
		if r != nil {
			result.Results = append(result.Results, r)
		}
	}
	return result, err
}

// ============================================================================
// Promotion
// ============================================================================

// RunPromotion evaluates every active deployment for promotion.
// Decisions are advisory. Nothing is promoted automatically.
func (o *Orchestrator) RunPromotion(ctx context.Context) (*PromotionSweepResult, error) {
	start := time.Now()
	active, res, err := o.begin(ctx, SweepPromotion)
	if err != nil {
		return nil, err
	}
	result := &PromotionSweepResult{SweepResult: res}

	reports := make([]*contracts.PromotionReport, len(active))
	err = o.visit(ctx, start, active, &result.SweepResult, func(i int, d *contracts.Deployment) error {
		report, err := o.Promotion(ctx, d)
		if err != nil {
			return err
		}
		reports[i] = report
		o.c.Metrics.RecordPromotion(string(report.Decision))
		o.publish(ctx, result.RunID, notify.NewEvent(notify.EventPromotionDecided, d.ID, d.SpecID, report))
		return nil
	})
	for _, r := range reports {
		if r != nil {
			result.Reports = append(result.Reports, r)
		}
	}
	return result, err
}

// ============================================================================
// Single-deployment queries
// ============================================================================

// Comparison reports live-vs-validation drift for one deployment.
func (o *Orchestrator) Comparison(ctx context.Context, d *contracts.Deployment) (*contracts.ComparisonReport, error) {
	baseline, err := o.baseline(ctx, d.SpecID)
	if err != nil {
		return nil, err
	}
	return o.c.Monitor.Compare(d, baseline), nil
}

// Promotion evaluates one deployment against its validation baseline.
func (o *Orchestrator) Promotion(ctx context.Context, d *contracts.Deployment) (*contracts.PromotionReport, error) {
	baseline, err := o.baseline(ctx, d.SpecID)
	if err != nil {
		return nil, err
	}
	return o.c.Promoter.Evaluate(d, baseline), nil
}

// StopDeployment stops a deployment on operator request and announces it.
func (o *Orchestrator) StopDeployment(ctx context.Context, id, reason string) (*deployer.StopResult, error) {
	if reason == "" {
		reason = "manual"
	}
	result, err := o.c.Deployer.Stop(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !result.AlreadyStopped {
		d := result.Deployment
		o.publish(ctx, GenerateRunID(), notify.NewEvent(notify.EventStopped, d.ID, d.SpecID, map[string]interface{}{
			"reason": reason,
			"sold":   len(result.Trades),
			"errors": result.Errors,
		}))
	}
	return result, nil
}
