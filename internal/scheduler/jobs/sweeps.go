package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/forge/internal/brain"
	"github.com/wonny/forge/pkg/logger"
)

// Sweeping is the part of the orchestrator the sweep jobs drive.
type Sweeping interface {
	RunMonitoring(ctx context.Context) (*brain.MonitoringResult, error)
	RunRebalance(ctx context.Context) (*brain.RebalanceSweepResult, error)
	RunPromotion(ctx context.Context) (*brain.PromotionSweepResult, error)
}

// SweepJob runs one orchestrator sweep over the active deployments.
// Per-deployment failures are logged; only a failed sweep fails the job.
type SweepJob struct {
	orch     Sweeping
	sweep    string
	schedule string
	logger   *logger.Logger
}

// NewMonitoringJob compares live deployments with their baselines and auto-stops on violations.
func NewMonitoringJob(orch Sweeping, schedule string, log *logger.Logger) *SweepJob {
	return &SweepJob{orch: orch, sweep: brain.SweepMonitoring, schedule: schedule, logger: log}
}

// NewRebalanceJob moves every active deployment to its signal targets.
func NewRebalanceJob(orch Sweeping, schedule string, log *logger.Logger) *SweepJob {
	return &SweepJob{orch: orch, sweep: brain.SweepRebalance, schedule: schedule, logger: log}
}

// NewPromotionJob evaluates active deployments for promotion.
func NewPromotionJob(orch Sweeping, schedule string, log *logger.Logger) *SweepJob {
	return &SweepJob{orch: orch, sweep: brain.SweepPromotion, schedule: schedule, logger: log}
}

// Name returns the job name
func (j *SweepJob) Name() string {
	return j.sweep
}

// Schedule returns the cron schedule
func (j *SweepJob) Schedule() string {
	return j.schedule
}

// Run executes the sweep
func (j *SweepJob) Run(ctx context.Context) error {
	var res brain.SweepResult
	fields := map[string]interface{}{}

	switch j.sweep {
	case brain.SweepMonitoring:
		r, err := j.orch.RunMonitoring(ctx)
		if r == nil {
			return fmt.Errorf("monitoring sweep: %w", err)
		}
		res = r.SweepResult
		fields["auto_stopped"] = r.AutoStopped
		if err != nil {
			return fmt.Errorf("monitoring sweep: %w", err)
		}
	case brain.SweepRebalance:
		r, err := j.orch.RunRebalance(ctx)
		if r == nil {
			return fmt.Errorf("rebalance sweep: %w", err)
		}
		res = r.SweepResult
		fields["rebalanced"] = len(r.Results)
		if err != nil {
			return fmt.Errorf("rebalance sweep: %w", err)
		}
	case brain.SweepPromotion:
		r, err := j.orch.RunPromotion(ctx)
		if r == nil {
			return fmt.Errorf("promotion sweep: %w", err)
		}
		res = r.SweepResult
		fields["reports"] = len(r.Reports)
		if err != nil {
			return fmt.Errorf("promotion sweep: %w", err)
		}
	default:
		return fmt.Errorf("unknown sweep %q", j.sweep)
	}

	fields["run_id"] = res.RunID
	fields["active"] = res.Active
	fields["errors"] = len(res.Errors)
	log := j.logger.WithFields(fields)
	for _, e := range res.Errors {
		log.WithField("detail", e).Warn("Deployment failed in sweep")
	}
	log.Info("Scheduled sweep finished")
	return nil
}
