package scheduler

import (
	"context"
	"time"
)

// Job is a unit of scheduled maintenance work.
type Job interface {
	// Name identifies the job in logs and stats.
	Name() string

	// Schedule is the cron expression, e.g. "0 3 * * *" or "@daily".
	Schedule() string

	// Run executes the job.
	Run(ctx context.Context) error
}

// Execution is one recorded job run.
type Execution struct {
	JobName   string        `json:"job_name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

const historyLimit = 50

// history keeps the most recent executions of one job.
type history struct {
	executions []Execution
}

func (h *history) add(e Execution) {
	h.executions = append(h.executions, e)
	if len(h.executions) > historyLimit {
		h.executions = h.executions[len(h.executions)-historyLimit:]
	}
}

func (h *history) last() (Execution, bool) {
	if len(h.executions) == 0 {
		return Execution{}, false
	}
	return h.executions[len(h.executions)-1], true
}

func (h *history) failures() int {
	n := 0
	for _, e := range h.executions {
		if !e.Success {
			n++
		}
	}
	return n
}
