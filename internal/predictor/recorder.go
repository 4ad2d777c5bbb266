package predictor

import (
	"sync"
	"time"
)

// CallRecord is one remote prediction attempt, successful or not.
type CallRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Prompt       string    `json:"prompt,omitempty"`
	RawResponse  string    `json:"raw_response,omitempty"`
	ParsedValue  float64   `json:"parsed_value"`
	Success      bool      `json:"success"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// CallRecorder is an append-only audit log of remote calls. It is safe
// for concurrent use; predictors for different models share one recorder.
type CallRecorder struct {
	mu      sync.Mutex
	records []CallRecord
}

func NewCallRecorder() *CallRecorder {
	return &CallRecorder{}
}

func (r *CallRecorder) Append(rec CallRecord) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Records returns a copy of the log in append order.
func (r *CallRecorder) Records() []CallRecord {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *CallRecorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
