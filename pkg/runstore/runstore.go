// Package runstore persists run artifacts to the filesystem. Each run
// gets its own directory under the store root:
//
//	run-<id>/
//	    metadata.json            run summary
//	    events.jsonl             event stream, one JSON object per line
//	    steps.jsonl              execution history, one step per line
//	    raw/<key>.json           full raw outputs
//	    sandbox-logs/<label>.log sandbox output per plan label
//
// The runtime functions fully without a store; the service layer simply
// skips recording when persistence is disabled.
package runstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/toolboxlabs/planner/pkg/events"
	"github.com/toolboxlabs/planner/pkg/models"
)

const runDirPrefix = "run-"

// Metadata is the run summary persisted as metadata.json.
type Metadata struct {
	RunID        string             `json:"run_id"`
	UserID       string             `json:"user_id"`
	Task         string             `json:"task"`
	Success      bool               `json:"success"`
	FinalSummary string             `json:"final_summary"`
	Error        string             `json:"error,omitempty"`
	ErrorCode    string             `json:"error_code,omitempty"`
	Usage        models.BudgetUsage `json:"budget_usage"`
	StepCount    int                `json:"step_count"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      time.Time          `json:"ended_at"`
}

// RunInfo carries the fields of a finished run that the TaskResult does
// not itself know.
type RunInfo struct {
	UserID    string
	Task      string
	StartedAt time.Time
	EndedAt   time.Time
}

// StoredRun is a run read back from disk.
type StoredRun struct {
	Metadata Metadata
	Steps    []models.ExecutionStep
}

// Store writes and reads run directories under a fixed root. All methods
// are safe for concurrent use across distinct runs.
type Store struct {
	root   string
	bus    *events.Bus
	logger *slog.Logger
}

// New opens a store rooted at dir, creating it if needed. A non-nil bus
// enables live event capture into events.jsonl per run.
func New(dir string, bus *events.Bus) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("run store root must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run store root: %w", err)
	}
	return &Store{
		root:   dir,
		bus:    bus,
		logger: slog.Default().With("component", "runstore"),
	}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// RunDir returns the directory a run's artifacts live in.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runDirPrefix+sanitizeName(runID))
}

// Begin creates the run directory and starts capturing the run's event
// stream. The returned Recorder must be finished exactly once.
func (s *Store) Begin(runID string) (*Recorder, error) {
	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open events log: %w", err)
	}

	r := &Recorder{
		store:  s,
		runID:  runID,
		dir:    dir,
		events: f,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if s.bus != nil {
		ch, cancel := s.bus.Subscribe(events.RunChannel(runID), events.DefaultSubscriberBuffer)
		r.cancel = cancel
		go r.capture(ch)
	} else {
		close(r.done)
	}
	return r, nil
}

// Load reads a run's metadata and step history back from disk.
func (s *Store) Load(runID string) (*StoredRun, error) {
	dir := s.RunDir(runID)
	meta, err := readMetadata(dir)
	if err != nil {
		return nil, err
	}

	run := &StoredRun{Metadata: *meta}
	f, err := os.Open(filepath.Join(dir, "steps.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return run, nil
		}
		return nil, fmt.Errorf("open steps: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var step models.ExecutionStep
		if err := json.Unmarshal(scanner.Bytes(), &step); err != nil {
			return nil, fmt.Errorf("decode step: %w", err)
		}
		run.Steps = append(run.Steps, step)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	return run, nil
}

// List returns metadata for every stored run, most recent first. Broken
// run directories are skipped with a warning rather than failing the
// whole listing.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read store root: %w", err)
	}

	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), runDirPrefix) {
			continue
		}
		meta, err := readMetadata(filepath.Join(s.root, e.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable run dir", "dir", e.Name(), "error", err)
			continue
		}
		out = append(out, *meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// RemoveOlderThan deletes run directories whose runs ended before cutoff
// and returns how many were removed. Directories without metadata
// (crashed runs) fall back to the directory modification time.
func (s *Store) RemoveOlderThan(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read store root: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), runDirPrefix) {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		ended, ok := runEndTime(dir, e)
		if !ok || !ended.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("Failed to remove run dir", "dir", e.Name(), "error", err)
			continue
		}
		if s.bus != nil {
			s.bus.Forget(events.RunChannel(strings.TrimPrefix(e.Name(), runDirPrefix)))
		}
		removed++
	}
	return removed, nil
}

func runEndTime(dir string, entry os.DirEntry) (time.Time, bool) {
	if meta, err := readMetadata(dir); err == nil {
		return meta.EndedAt, true
	}
	info, err := entry.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func readMetadata(dir string) (*Metadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// Recorder captures one run's artifacts. Events stream in while the run
// executes; Finish writes everything else and seals the directory.
type Recorder struct {
	store    *Store
	runID    string
	dir      string
	events   *os.File
	stop     chan struct{}
	done     chan struct{}
	cancel   func()
	finished bool
}

// capture is the sole writer of events.jsonl until Finish drains it.
func (r *Recorder) capture(ch <-chan events.Delivery) {
	defer close(r.done)
	for {
		select {
		case d := <-ch:
			r.appendEvent(d.Payload)
		case <-r.stop:
			for {
				select {
				case d := <-ch:
					r.appendEvent(d.Payload)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) appendEvent(payload []byte) {
	if _, err := r.events.Write(append(payload, '\n')); err != nil {
		r.store.logger.Warn("Failed to append event", "run_id", r.runID, "error", err)
	}
}

// Finish stops event capture and writes metadata, steps, raw outputs,
// and sandbox logs. It is a no-op after the first call.
func (r *Recorder) Finish(result models.TaskResult, info RunInfo) error {
	if r.finished {
		return nil
	}
	r.finished = true

	if r.cancel != nil {
		r.cancel()
		close(r.stop)
		<-r.done
	}
	if err := r.events.Close(); err != nil {
		r.store.logger.Warn("Failed to close events log", "run_id", r.runID, "error", err)
	}

	meta := Metadata{
		RunID:        result.RunID,
		UserID:       info.UserID,
		Task:         info.Task,
		Success:      result.Success,
		FinalSummary: result.FinalSummary,
		Error:        result.Error,
		ErrorCode:    string(result.ErrorCode),
		Usage:        result.BudgetUsage,
		StepCount:    len(result.Steps),
		StartedAt:    info.StartedAt.UTC(),
		EndedAt:      info.EndedAt.UTC(),
	}
	if err := writeJSON(filepath.Join(r.dir, "metadata.json"), meta); err != nil {
		return err
	}
	if err := r.writeSteps(result.Steps); err != nil {
		return err
	}
	if err := r.writeRawOutputs(result.RawOutputs); err != nil {
		return err
	}
	return r.writeSandboxLogs(result.SandboxLogs)
}

func (r *Recorder) writeSteps(steps []models.ExecutionStep) error {
	f, err := os.Create(filepath.Join(r.dir, "steps.jsonl"))
	if err != nil {
		return fmt.Errorf("create steps file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, step := range steps {
		b, err := json.Marshal(step)
		if err != nil {
			return fmt.Errorf("encode step %d: %w", step.StepID, err)
		}
		w.Write(b)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write steps: %w", err)
	}
	return nil
}

func (r *Recorder) writeRawOutputs(outputs map[string]any) error {
	if len(outputs) == 0 {
		return nil
	}
	dir := filepath.Join(r.dir, "raw")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create raw dir: %w", err)
	}

	// Deterministic order so collision suffixes are stable.
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	used := map[string]bool{}
	for _, key := range keys {
		name := sanitizeName(key)
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s-%d", sanitizeName(key), n)
		}
		used[name] = true
		if err := writeJSON(filepath.Join(dir, name+".json"), outputs[key]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) writeSandboxLogs(logs map[string][]string) error {
	if len(logs) == 0 {
		return nil
	}
	dir := filepath.Join(r.dir, "sandbox-logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sandbox-logs dir: %w", err)
	}
	for label, lines := range logs {
		path := filepath.Join(dir, sanitizeName(label)+".log")
		content := strings.Join(lines, "\n") + "\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write sandbox log %q: %w", label, err)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// sanitizeName maps an arbitrary key to a safe filename component. Raw
// output keys contain colons (tool:<id>:<step>), which are not portable
// across filesystems.
func sanitizeName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
