package jobs

import (
	"fmt"

	"github.com/wonny/forge/internal/scheduler"
	"github.com/wonny/forge/pkg/config"
	"github.com/wonny/forge/pkg/logger"
)

// Orchestrator is everything the scheduled jobs drive.
type Orchestrator interface {
	Evolving
	Sweeping
}

// Register adds the four control loops. An empty schedule leaves that loop unscheduled.
func Register(s *scheduler.Scheduler, orch Orchestrator, cfg config.ScheduleConfig, log *logger.Logger) error {
	var all []scheduler.Job
	if cfg.Evolution != "" {
		all = append(all, NewEvolutionJob(orch, cfg.Evolution, cfg.UniverseID, cfg.EvolutionCycles, cfg.AutoDeploy, log))
	}
	if cfg.Monitoring != "" {
		all = append(all, NewMonitoringJob(orch, cfg.Monitoring, log))
	}
	if cfg.Rebalance != "" {
		all = append(all, NewRebalanceJob(orch, cfg.Rebalance, log))
	}
	if cfg.Promotion != "" {
		all = append(all, NewPromotionJob(orch, cfg.Promotion, log))
	}

	for _, job := range all {
		if err := s.AddJob(job); err != nil {
			return fmt.Errorf("register %s: %w", job.Name(), err)
		}
	}
	return nil
}
