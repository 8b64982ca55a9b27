package agent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polzovatel/browser-task-engine/internal/action"
	"github.com/polzovatel/browser-task-engine/internal/confirm"
	"github.com/polzovatel/browser-task-engine/internal/planner"
	"github.com/polzovatel/browser-task-engine/internal/recovery"
)

// Status is the task state machine:
// pending → planning → running → {completed, failed, aborted, paused},
// with a direct pending → aborted edge for pre-start aborts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPlanning  Status = "planning"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
	StatusPaused    Status = "paused"
)

// Terminal reports whether a status ends the run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted, StatusPaused:
		return true
	}
	return false
}

var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusPlanning, StatusAborted, StatusPaused},
	StatusPlanning: {StatusRunning, StatusAborted, StatusFailed},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusAborted, StatusPaused},
}

// TaskSpec is one executeTask request.
type TaskSpec struct {
	Objective    string
	Instructions string
	StartURL     string
	MaxSteps     int
	Timeout      time.Duration
	// Confirmation lists the sensitive kinds this task gates.
	Confirmation confirm.Policy
	// ConfirmStart requests one confirmation before the task begins.
	ConfirmStart bool
}

// HistoryEntry records one completed step of the loop.
type HistoryEntry struct {
	Step      int             `json:"step"`
	Rationale string          `json:"rationale,omitempty"`
	Actions   []action.Action `json:"actions"`
	Results   []action.Result `json:"results"`
	URL       string          `json:"url,omitempty"`
	Memory    string          `json:"memory,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Task is the unit of work owned by a single ExecuteTask call. The terminal
// Task carries everything needed to explain the outcome: status, history,
// classified errors, extracted data and timing.
type Task struct {
	ID           string                    `json:"id"`
	Objective    string                    `json:"objective"`
	Instructions string                    `json:"instructions,omitempty"`
	StartURL     string                    `json:"startUrl,omitempty"`
	MaxSteps     int                       `json:"maxSteps"`
	Timeout      time.Duration             `json:"timeout"`
	Status       Status                    `json:"status"`
	History      []HistoryEntry            `json:"history"`
	Errors       []recovery.ExecutionError `json:"errors,omitempty"`
	Extracted    *DataMap                  `json:"extracted,omitempty"`
	Policy       confirm.Policy            `json:"-"`
	Plan         planner.Plan              `json:"plan,omitempty"`
	MemoryNotes  []string                  `json:"memoryNotes,omitempty"`
	CreatedAt    time.Time                 `json:"createdAt"`
	FinishedAt   time.Time                 `json:"finishedAt,omitempty"`
}

func newTask(spec TaskSpec) *Task {
	return &Task{
		ID:           uuid.NewString(),
		Objective:    spec.Objective,
		Instructions: spec.Instructions,
		StartURL:     spec.StartURL,
		MaxSteps:     spec.MaxSteps,
		Timeout:      spec.Timeout,
		Status:       StatusPending,
		Extracted:    NewDataMap(),
		Policy:       spec.Confirmation,
		CreatedAt:    time.Now(),
	}
}

// transition moves the task to a new status when the state machine allows
// it; invalid moves are ignored so a terminal status is never overwritten.
func (t *Task) transition(to Status) bool {
	for _, next := range allowedTransitions[t.Status] {
		if next == to {
			t.Status = to
			return true
		}
	}
	return false
}

// recordError appends a classified permanent failure.
func (t *Task) recordError(e recovery.ExecutionError) {
	t.Errors = append(t.Errors, e)
}

// DataMap is the task's extracted-data store. Extraction and screenshot
// handlers write into it under caller-chosen keys.
type DataMap struct {
	mu sync.Mutex
	m  map[string]any
}

func NewDataMap() *DataMap {
	return &DataMap{m: make(map[string]any)}
}

// Put implements action.DataSink.
func (d *DataMap) Put(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = value
}

func (d *DataMap) Get(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.m[key]
	return v, ok
}

func (d *DataMap) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}

// MarshalJSON renders the stored entries so a marshalled Task keeps its
// extracted data.
func (d *DataMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.All())
}

// All returns a copy of the stored entries.
func (d *DataMap) All() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.m))
	for k, v := range d.m {
		out[k] = v
	}
	return out
}
