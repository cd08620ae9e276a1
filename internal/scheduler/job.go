package scheduler

import (
	"context"
	"time"
)

// Job is one periodic control loop.
// ⭐ SSOT: scheduled work implements this interface only
type Job interface {
	Name() string

	Run(ctx context.Context) error

	// Schedule is a six-field cron expression (with seconds), e.g. "0 */30 9-16 * * 1-5".
	Schedule() string
}

// JobResult is one execution of a job.
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// historyLimit caps the results kept per job.
const historyLimit = 100

// JobHistory keeps the most recent results, oldest first.
type JobHistory struct {
	Results []JobResult `json:"results"`
}

// AddResult appends a result, dropping the oldest past the limit.
func (h *JobHistory) AddResult(result JobResult) {
	h.Results = append(h.Results, result)
	if len(h.Results) > historyLimit {
		h.Results = h.Results[len(h.Results)-historyLimit:]
	}
}

// GetLatestResults returns a copy of the latest n results.
func (h *JobHistory) GetLatestResults(n int) []JobResult {
	if n > len(h.Results) {
		n = len(h.Results)
	}
	if n <= 0 {
		return []JobResult{}
	}
	return append([]JobResult(nil), h.Results[len(h.Results)-n:]...)
}

// FailureCount counts failed results.
func (h *JobHistory) FailureCount() int {
	n := 0
	for _, r := range h.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// GetSuccessRate returns the success rate (0.0 - 1.0)
func (h *JobHistory) GetSuccessRate() float64 {
	if len(h.Results) == 0 {
		return 0.0
	}
	return float64(len(h.Results)-h.FailureCount()) / float64(len(h.Results))
}
