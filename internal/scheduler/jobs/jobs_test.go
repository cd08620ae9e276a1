package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/forge/internal/brain"
	"github.com/wonny/forge/internal/evolver"
	"github.com/wonny/forge/internal/scheduler"
	"github.com/wonny/forge/pkg/config"
	"github.com/wonny/forge/pkg/logger"
)

type fakeOrchestrator struct {
	requests []brain.FullCycleRequest
	sweeps   []string
	err      error
}

func (f *fakeOrchestrator) RunFullCycle(_ context.Context, req brain.FullCycleRequest) (*brain.FullCycleResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &brain.FullCycleResult{RunID: "run_x", Evolution: &evolver.Summary{}}, nil
}

func (f *fakeOrchestrator) RunMonitoring(context.Context) (*brain.MonitoringResult, error) {
	f.sweeps = append(f.sweeps, brain.SweepMonitoring)
	if f.err != nil {
		return nil, f.err
	}
	return &brain.MonitoringResult{SweepResult: brain.SweepResult{Errors: []string{"d1: broker down"}}}, nil
}

func (f *fakeOrchestrator) RunRebalance(context.Context) (*brain.RebalanceSweepResult, error) {
	f.sweeps = append(f.sweeps, brain.SweepRebalance)
	return &brain.RebalanceSweepResult{}, f.err
}

func (f *fakeOrchestrator) RunPromotion(context.Context) (*brain.PromotionSweepResult, error) {
	f.sweeps = append(f.sweeps, brain.SweepPromotion)
	return &brain.PromotionSweepResult{}, f.err
}

func TestEvolutionJob(t *testing.T) {
	orch := &fakeOrchestrator{}
	job := NewEvolutionJob(orch, "0 0 2 * * 1-5", "dow30", 3, true, logger.NewNop())

	assert.Equal(t, "evolution", job.Name())
	assert.Equal(t, "0 0 2 * * 1-5", job.Schedule())
	require.NoError(t, job.Run(context.Background()))
	require.Len(t, orch.requests, 1)
	req := orch.requests[0]
	assert.Equal(t, "dow30", req.UniverseID)
	assert.Equal(t, 3, req.Cycles)
	require.NotNil(t, req.Deploy)
	assert.True(t, *req.Deploy)

	orch.err = errors.New("universe down")
	assert.Error(t, job.Run(context.Background()))
}

func TestSweepJobs(t *testing.T) {
	orch := &fakeOrchestrator{}
	log := logger.NewNop()
	for _, job := range []*SweepJob{
		NewMonitoringJob(orch, "@hourly", log),
		NewRebalanceJob(orch, "@hourly", log),
		NewPromotionJob(orch, "@hourly", log),
	} {
		require.NoError(t, job.Run(context.Background()), job.Name())
	}
	assert.Equal(t, []string{"monitoring", "rebalance", "promotion"}, orch.sweeps)

	orch.err = context.Canceled
	err := NewRebalanceJob(orch, "@hourly", log).Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	err = NewMonitoringJob(orch, "@hourly", log).Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegister(t *testing.T) {
	s := scheduler.New(scheduler.DefaultConfig(), nil, logger.NewNop())
	cfg := config.ScheduleConfig{
		Evolution:       "0 0 2 * * 1-5",
		Monitoring:      "0 */30 9-16 * * 1-5",
		Promotion:       "0 30 17 * * 5",
		EvolutionCycles: 3,
		UniverseID:      "sector_etfs",
	}

	require.NoError(t, Register(s, &fakeOrchestrator{}, cfg, logger.NewNop()))
	assert.Equal(t, []string{"evolution", "monitoring", "promotion"}, s.GetAllJobs())

	assert.Error(t, Register(s, &fakeOrchestrator{}, cfg, logger.NewNop()))
}
