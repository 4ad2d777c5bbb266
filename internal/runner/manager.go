package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ACodePorter/marketreplay/pkg/logger"

	"github.com/ACodePorter/marketreplay/internal/engine"
)

// Status of a managed run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Event is one streamed update for a run: progress ticks while the
// simulation walks the series, then a single terminal status event.
type Event struct {
	Type    string                    `json:"type"` // "progress" or "status"
	RunID   string                    `json:"run_id"`
	Status  Status                    `json:"status,omitempty"`
	Done    int                       `json:"done,omitempty"`
	Total   int                       `json:"total,omitempty"`
	Error   string                    `json:"error,omitempty"`
	Metrics map[string]engine.Metrics `json:"metrics,omitempty"`
}

// Run is the managed lifecycle of one simulation. The manager holds the
// only mutable copy; Launch/Get/List hand out value snapshots taken
// under the manager lock, so callers can read and marshal them freely
// while the run finishes.
type Run struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at,omitempty"`
	Result    *engine.Result `json:"-"`
}

// RunFunc executes the simulation. The progress callback may be nil.
type RunFunc func(ctx context.Context, progress engine.ProgressFunc) (*engine.Result, error)

// Manager owns in-flight and finished runs and fans progress events out
// to subscribers. Results are kept in memory until the manager is
// discarded; durable storage is the caller's concern.
type Manager struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	subs   map[string]map[chan Event]struct{}
	logger *logger.Logger
}

func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		runs:   make(map[string]*Run),
		subs:   make(map[string]map[chan Event]struct{}),
		logger: log.WithComponent("runner"),
	}
}

// Launch registers a run and starts it on its own goroutine. The
// returned snapshot is already in StatusRunning.
func (m *Manager) Launch(ctx context.Context, symbol string, fn RunFunc) Run {
	run := &Run{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"run_id": run.ID,
		"symbol": symbol,
	}).Info("Launching run")

	// Snapshot before the goroutine can mutate the managed copy.
	snapshot := *run
	go m.execute(ctx, run, fn)
	return snapshot
}

func (m *Manager) execute(ctx context.Context, run *Run, fn RunFunc) {
	result, err := fn(ctx, func(done, total int) {
		m.publish(run.ID, Event{
			Type:  "progress",
			RunID: run.ID,
			Done:  done,
			Total: total,
		})
	})

	m.mu.Lock()
	run.Result = result
	run.EndedAt = time.Now().UTC()
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	} else {
		run.Status = StatusCompleted
	}
	m.mu.Unlock()

	terminal := Event{
		Type:   "status",
		RunID:  run.ID,
		Status: run.Status,
		Error:  run.Error,
	}
	if result != nil {
		terminal.Metrics = result.Metrics
	}
	m.publish(run.ID, terminal)
	m.closeSubscribers(run.ID)

	if err != nil {
		m.logger.WithError(err).WithField("run_id", run.ID).Error("Run failed")
		return
	}
	m.logger.WithField("run_id", run.ID).Info("Run completed")
}

// Get returns a snapshot of a run by ID.
func (m *Manager) Get(id string) (Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns snapshots of all runs, newest first.
func (m *Manager) List() []Run {
	m.mu.RLock()
	runs := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, *r)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// Subscribe returns a channel of events for a run. The channel closes
// when the run reaches a terminal state. For an already finished run
// the terminal event is replayed immediately.
func (m *Manager) Subscribe(id string) (<-chan Event, func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, nil, false
	}

	ch := make(chan Event, 64)

	if run.Status != StatusRunning {
		ch <- Event{
			Type:   "status",
			RunID:  run.ID,
			Status: run.Status,
			Error:  run.Error,
		}
		close(ch)
		return ch, func() {}, true
	}

	if m.subs[id] == nil {
		m.subs[id] = make(map[chan Event]struct{})
	}
	m.subs[id][ch] = struct{}{}

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[id]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
			}
		}
	}
	return ch, unsubscribe, true
}

// publish fans an event out without blocking: a slow subscriber drops
// events rather than stalling the run.
func (m *Manager) publish(id string, ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.subs[id] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) closeSubscribers(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[id] {
		close(ch)
	}
	delete(m.subs, id)
}
