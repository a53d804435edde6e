package service

import (
	"sort"
	"sync"
	"time"

	"github.com/toolboxlabs/planner/pkg/models"
)

// RunStatus is the lifecycle state of a tracked run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// RunView is a point-in-time snapshot of one run, safe to serialize.
type RunView struct {
	RunID       string             `json:"run_id"`
	UserID      string             `json:"user_id"`
	Task        string             `json:"task"`
	Status      RunStatus          `json:"status"`
	SubmittedAt time.Time          `json:"submitted_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	EndedAt     *time.Time         `json:"ended_at,omitempty"`
	Result      *models.TaskResult `json:"result,omitempty"`
}

// Finished reports whether the run reached a terminal status.
func (v RunView) Finished() bool {
	switch v.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// maxFinishedRuns bounds how many terminal runs the tracker retains in
// memory. Older terminal runs remain readable from the run store.
const maxFinishedRuns = 500

type trackedRun struct {
	view RunView
	done chan struct{}
}

// tracker holds active and recently finished runs in memory for the API.
type tracker struct {
	mu   sync.RWMutex
	runs map[string]*trackedRun

	// finishedOrder keeps terminal run ids oldest first for eviction.
	finishedOrder []string
}

func newTracker() *tracker {
	return &tracker{runs: make(map[string]*trackedRun)}
}

// Add registers a freshly submitted run.
func (t *tracker) Add(view RunView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[view.RunID] = &trackedRun{view: view, done: make(chan struct{})}
}

// MarkRunning transitions a queued run to running.
func (t *tracker) MarkRunning(runID string, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[runID]
	if !ok {
		return
	}
	r.view.Status = StatusRunning
	r.view.StartedAt = &startedAt
}

// Complete records the terminal result, closes the run's done channel,
// and evicts the oldest terminal runs beyond the retention cap.
func (t *tracker) Complete(runID string, result models.TaskResult, endedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[runID]
	if !ok {
		return
	}

	r.view.Status = statusForResult(result)
	r.view.EndedAt = &endedAt
	r.view.Result = &result
	close(r.done)

	t.finishedOrder = append(t.finishedOrder, runID)
	for len(t.finishedOrder) > maxFinishedRuns {
		evict := t.finishedOrder[0]
		t.finishedOrder = t.finishedOrder[1:]
		delete(t.runs, evict)
	}
}

func statusForResult(result models.TaskResult) RunStatus {
	switch {
	case result.Success:
		return StatusCompleted
	case result.ErrorCode == models.ErrCodeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Get returns a snapshot of one run.
func (t *tracker) Get(runID string) (RunView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[runID]
	if !ok {
		return RunView{}, false
	}
	return r.view, true
}

// Done returns the channel closed when the run finishes.
func (t *tracker) Done(runID string) (<-chan struct{}, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[runID]
	if !ok {
		return nil, false
	}
	return r.done, true
}

// List returns snapshots of every tracked run, most recent first.
func (t *tracker) List() []RunView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunView, 0, len(t.runs))
	for _, r := range t.runs {
		out = append(out, r.view)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}
