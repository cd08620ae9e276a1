// Package scheduler runs the control loops on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/forge/internal/observability"
	"github.com/wonny/forge/pkg/logger"
)

// Config controls job execution. Retries are off by default:
// the generator's backoff is the only retry inside the core loops.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	// JobTimeout bounds one attempt; zero means no timeout.
	JobTimeout time.Duration
}

// DefaultConfig runs each job once with a two hour cap.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 0,
		RetryDelay: time.Minute,
		JobTimeout: 2 * time.Hour,
	}
}

type entry struct {
	job     Job
	id      cron.EntryID
	history *JobHistory
	running sync.Mutex
}

// Scheduler manages scheduled jobs
// ⭐ SSOT: every periodic loop is registered here
type Scheduler struct {
	cfg     Config
	cron    *cron.Cron
	metrics *observability.Metrics
	logger  *logger.Logger

	mu   sync.RWMutex
	jobs map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds()),
		metrics: metrics,
		logger:  log,
		jobs:    make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob schedules a job. Names must be unique.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already exists", name)
	}

	e := &entry{job: job, history: &JobHistory{}}
	id, err := s.cron.AddFunc(job.Schedule(), func() {
		s.trigger(e)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	e.id = id
	s.jobs[name] = e

	s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")
	return nil
}

// RemoveJob unschedules a job and drops its history.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	s.cron.Remove(e.id)
	delete(s.jobs, name)
	s.logger.WithField("job", name).Info("Job removed from scheduler")
	return nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// trigger is the cron callback. A tick that lands while the job is still running is skipped.
func (s *Scheduler) trigger(e *entry) {
	if !e.running.TryLock() {
		s.logger.WithField("job", e.job.Name()).Warn("Previous run still in progress, skipping tick")
		return
	}
	defer e.running.Unlock()
	s.execute(s.ctx, e)
}

// RunJob runs a job now and waits for it. It waits for a scheduled run in progress to finish first.
func (s *Scheduler) RunJob(ctx context.Context, name string) (JobResult, error) {
	s.mu.RLock()
	e, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return JobResult{}, fmt.Errorf("job %s not found", name)
	}

	e.running.Lock()
	defer e.running.Unlock()
	result := s.execute(ctx, e)
	if !result.Success {
		return result, fmt.Errorf("job %s: %s", name, result.Error)
	}
	return result, nil
}

func (s *Scheduler) execute(ctx context.Context, e *entry) JobResult {
	name := e.job.Name()
	result := JobResult{JobName: name, StartTime: time.Now()}
	s.logger.WithField("job", name).Info("Job started")

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		result.Attempts = attempt + 1
		lastErr = s.attempt(ctx, e.job)
		if lastErr == nil || ctx.Err() != nil {
			break
		}
		if attempt < s.cfg.MaxRetries {
			s.logger.WithFields(map[string]interface{}{
				"job":     name,
				"attempt": attempt + 1,
			}).WithError(lastErr).Warn("Job execution failed, retrying")
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = lastErr == nil
	if lastErr != nil {
		result.Error = lastErr.Error()
	}

	s.mu.Lock()
	e.history.AddResult(result)
	s.mu.Unlock()
	s.metrics.RecordJobRun(name, result.Success)

	log := s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"attempts": result.Attempts,
		"duration": result.Duration.Seconds(),
	})
	if result.Success {
		log.Info("Job completed successfully")
	} else {
		log.WithError(lastErr).Error("Job failed")
	}
	return result
}

func (s *Scheduler) attempt(ctx context.Context, job Job) error {
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}
	return job.Run(ctx)
}

// GetJobHistory returns a copy of a job's history.
func (s *Scheduler) GetJobHistory(name string) (*JobHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}
	return &JobHistory{Results: e.history.GetLatestResults(historyLimit)}, nil
}

// GetAllJobs returns the registered job names, sorted.
func (s *Scheduler) GetAllJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetJobStats returns statistics for all jobs
func (s *Scheduler) GetJobStats() map[string]JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]JobStats, len(s.jobs))
	for name, e := range s.jobs {
		h := e.history
		st := JobStats{
			JobName:      name,
			Schedule:     e.job.Schedule(),
			TotalRuns:    len(h.Results),
			FailureCount: h.FailureCount(),
			SuccessRate:  h.GetSuccessRate(),
		}
		st.SuccessCount = st.TotalRuns - st.FailureCount

		for i := len(h.Results) - 1; i >= 0; i-- {
			r := h.Results[i]
			start := r.StartTime
			if st.LastRun == nil {
				st.LastRun = &start
			}
			if r.Success && st.LastSuccess == nil {
				st.LastSuccess = &start
			}
			if !r.Success && st.LastFailure == nil {
				st.LastFailure = &start
			}
		}
		if next := s.cron.Entry(e.id).Next; !next.IsZero() {
			st.NextRun = &next
		}
		stats[name] = st
	}
	return stats
}

// JobStats represents statistics for a job
type JobStats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}
