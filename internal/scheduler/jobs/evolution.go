// Package jobs adapts the orchestrator's control loops to scheduler jobs.
package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/forge/internal/brain"
	"github.com/wonny/forge/pkg/logger"
)

// Evolving is the part of the orchestrator the evolution job drives.
type Evolving interface {
	RunFullCycle(ctx context.Context, req brain.FullCycleRequest) (*brain.FullCycleResult, error)
}

// EvolutionJob runs evolution cycles over one universe.
// ⭐ SSOT: scheduled strategy search runs from this job only
type EvolutionJob struct {
	orch       Evolving
	schedule   string
	universeID string
	cycles     int
	deploy     bool
	logger     *logger.Logger
}

// NewEvolutionJob creates an evolution job. deploy hands the best passing candidate to the deployer.
func NewEvolutionJob(orch Evolving, schedule, universeID string, cycles int, deploy bool, log *logger.Logger) *EvolutionJob {
	return &EvolutionJob{
		orch:       orch,
		schedule:   schedule,
		universeID: universeID,
		cycles:     cycles,
		deploy:     deploy,
		logger:     log,
	}
}

// Name returns the job name
func (j *EvolutionJob) Name() string {
	return "evolution"
}

// Schedule returns the cron schedule
func (j *EvolutionJob) Schedule() string {
	return j.schedule
}

// Run executes the evolution cycles
func (j *EvolutionJob) Run(ctx context.Context) error {
	deploy := j.deploy
	result, err := j.orch.RunFullCycle(ctx, brain.FullCycleRequest{
		UniverseID: j.universeID,
		Cycles:     j.cycles,
		Deploy:     &deploy,
	})
	if err != nil {
		return fmt.Errorf("full cycle: %w", err)
	}

	fields := map[string]interface{}{
		"run_id":      result.RunID,
		"universe_id": j.universeID,
		"cycles":      len(result.Evolution.Cycles),
		"exhausted":   result.Evolution.Exhausted,
		"errors":      len(result.Errors),
	}
	if result.Deployment != nil {
		fields["deployment_id"] = result.Deployment.ID
	}
	j.logger.WithFields(fields).Info("Scheduled evolution finished")
	return nil
}
