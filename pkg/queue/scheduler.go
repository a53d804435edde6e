// Package queue admits runs under global and per-tenant concurrency caps
// and tracks the cancel handle of every active run.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/toolboxlabs/planner/pkg/config"
)

// Sentinel errors for admission.
var (
	// ErrAtCapacity indicates the caps are saturated and the overflow
	// policy rejected the submission.
	ErrAtCapacity = errors.New("at capacity")

	// ErrStopped indicates the scheduler is shutting down.
	ErrStopped = errors.New("scheduler stopped")
)

// Health is the scheduler's self-report for the health endpoint.
type Health struct {
	IsHealthy      bool           `json:"is_healthy"`
	Stopped        bool           `json:"stopped"`
	ActiveRuns     int            `json:"active_runs"`
	MaxConcurrent  int            `json:"max_concurrent"`
	QueuedRuns     int            `json:"queued_runs"`
	QueueDepth     int            `json:"queue_depth"`
	ActiveByTenant map[string]int `json:"active_by_tenant,omitempty"`
}

// Scheduler serializes admission decisions for the run service. A slot
// must be acquired before a run starts and released when it ends; the
// release function is idempotent.
type Scheduler struct {
	cfg *config.QueueConfig

	mu             sync.Mutex
	active         int
	activeByTenant map[string]int
	waiting        int
	stopped        bool

	// changed is closed and replaced whenever admission state moves, so
	// queued waiters re-check the caps.
	changed chan struct{}

	// cancels maps run_id to the run's cancel function for manual
	// cancellation through the API.
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler for the given queue configuration.
func NewScheduler(cfg *config.QueueConfig) *Scheduler {
	return &Scheduler{
		cfg:            cfg,
		activeByTenant: make(map[string]int),
		changed:        make(chan struct{}),
		cancels:        make(map[string]context.CancelFunc),
	}
}

// Acquire blocks until a run slot is available for the tenant, then
// returns its release function. Depending on the overflow policy a
// saturated scheduler either queues the caller (up to QueueDepth
// waiters) or fails immediately with ErrAtCapacity.
func (s *Scheduler) Acquire(ctx context.Context, userID string) (func(), error) {
	s.mu.Lock()
	for {
		if s.stopped {
			s.mu.Unlock()
			return nil, ErrStopped
		}
		if s.admissible(userID) {
			s.active++
			s.activeByTenant[userID]++
			s.wg.Add(1)
			s.mu.Unlock()
			return s.releaseFunc(userID), nil
		}
		if s.cfg.OverflowPolicy == config.OverflowPolicyReject || s.waiting >= s.cfg.QueueDepth {
			s.mu.Unlock()
			return nil, ErrAtCapacity
		}

		s.waiting++
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
		}

		s.mu.Lock()
		s.waiting--
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
}

// admissible requires s.mu.
func (s *Scheduler) admissible(userID string) bool {
	if s.active >= s.cfg.MaxConcurrentRuns {
		return false
	}
	if s.cfg.MaxRunsPerTenant > 0 && s.activeByTenant[userID] >= s.cfg.MaxRunsPerTenant {
		return false
	}
	return true
}

func (s *Scheduler) releaseFunc(userID string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.active--
			if s.activeByTenant[userID] <= 1 {
				delete(s.activeByTenant, userID)
			} else {
				s.activeByTenant[userID]--
			}
			s.wake()
			s.mu.Unlock()
			s.wg.Done()
		})
	}
}

// wake requires s.mu.
func (s *Scheduler) wake() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// RegisterRun stores a cancel function for manual cancellation.
func (s *Scheduler) RegisterRun(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[runID] = cancel
}

// UnregisterRun removes the cancel function when processing ends.
func (s *Scheduler) UnregisterRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, runID)
}

// CancelRun triggers context cancellation for an active run. It returns
// false when the run is not active here.
func (s *Scheduler) CancelRun(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveRunIDs returns the ids of currently executing runs.
func (s *Scheduler) ActiveRunIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.cancels))
	for id := range s.cancels {
		ids = append(ids, id)
	}
	return ids
}

// Health returns the current admission state.
func (s *Scheduler) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTenant := make(map[string]int, len(s.activeByTenant))
	for k, v := range s.activeByTenant {
		byTenant[k] = v
	}
	return Health{
		IsHealthy:      !s.stopped && s.active <= s.cfg.MaxConcurrentRuns,
		Stopped:        s.stopped,
		ActiveRuns:     s.active,
		MaxConcurrent:  s.cfg.MaxConcurrentRuns,
		QueuedRuns:     s.waiting,
		QueueDepth:     s.cfg.QueueDepth,
		ActiveByTenant: byTenant,
	}
}

// Stop rejects new admissions, wakes queued waiters, and waits up to
// timeout for active runs to finish. Runs still active after the
// timeout keep running; their slots are simply abandoned.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	active := s.active
	s.wake()
	s.mu.Unlock()

	if active > 0 {
		slog.Info("Waiting for active runs to complete", "count", active)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
	case <-time.After(timeout):
		slog.Warn("Scheduler stop timed out with runs still active")
	}
}
