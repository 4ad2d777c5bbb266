package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeJob struct {
	name     string
	schedule string
	err      error
	runs     chan struct{}
}

func (f *fakeJob) Name() string     { return f.name }
func (f *fakeJob) Schedule() string { return f.schedule }
func (f *fakeJob) Run(ctx context.Context) error {
	if f.runs != nil {
		f.runs <- struct{}{}
	}
	return f.err
}

func newTestScheduler() *Scheduler {
	s := New(nil)
	s.maxRetries = 1
	s.retryDelay = time.Millisecond
	return s
}

func TestAddJobDuplicate(t *testing.T) {
	s := newTestScheduler()
	job := &fakeJob{name: "cleanup", schedule: "@daily"}

	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := s.AddJob(job); err == nil {
		t.Error("duplicate AddJob() succeeded, want error")
	}
}

func TestAddJobInvalidSchedule(t *testing.T) {
	s := newTestScheduler()
	if err := s.AddJob(&fakeJob{name: "bad", schedule: "not a cron expr"}); err == nil {
		t.Error("AddJob() with invalid schedule succeeded, want error")
	}
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler()
	job := &fakeJob{name: "cleanup", schedule: "@daily", runs: make(chan struct{}, 1)}
	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	if err := s.RunNow("cleanup"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	select {
	case <-job.runs:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}

	if err := s.RunNow("missing"); err == nil {
		t.Error("RunNow() for unknown job succeeded, want error")
	}
}

func TestRunJobRecordsFailure(t *testing.T) {
	s := newTestScheduler()
	job := &fakeJob{name: "flaky", schedule: "@daily", err: errors.New("db down")}
	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	s.runJob(job)

	stats := s.JobStats()["flaky"]
	if stats.TotalRuns != 1 || stats.Failures != 1 {
		t.Errorf("stats = %+v, want 1 run, 1 failure", stats)
	}
	if stats.LastRun == nil || stats.LastSuccess {
		t.Errorf("stats = %+v, want recorded unsuccessful last run", stats)
	}
}

func TestRunJobRecordsSuccess(t *testing.T) {
	s := newTestScheduler()
	job := &fakeJob{name: "cleanup", schedule: "@daily"}
	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	s.runJob(job)

	stats := s.JobStats()["cleanup"]
	if stats.TotalRuns != 1 || stats.Failures != 0 || !stats.LastSuccess {
		t.Errorf("stats = %+v, want 1 successful run", stats)
	}
}

func TestHistoryLimit(t *testing.T) {
	h := &history{}
	for i := 0; i < historyLimit+10; i++ {
		h.add(Execution{JobName: "x", Success: true})
	}
	if len(h.executions) != historyLimit {
		t.Errorf("history has %d entries, want %d", len(h.executions), historyLimit)
	}
}
