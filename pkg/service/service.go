// Package service assembles and executes planner runs end to end: it
// admits submissions through the scheduler, wires the per-run pipeline
// (snapshot, index, dispatcher, executor, LLM client, orchestrator),
// tracks run state for the API, and persists artifacts.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/dispatch"
	"github.com/toolboxlabs/planner/pkg/envelope"
	"github.com/toolboxlabs/planner/pkg/events"
	"github.com/toolboxlabs/planner/pkg/executor"
	"github.com/toolboxlabs/planner/pkg/llm"
	"github.com/toolboxlabs/planner/pkg/masking"
	"github.com/toolboxlabs/planner/pkg/metrics"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/planner"
	"github.com/toolboxlabs/planner/pkg/queue"
	"github.com/toolboxlabs/planner/pkg/registry"
	"github.com/toolboxlabs/planner/pkg/runstore"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

// indexCacheSize bounds how many (tenant, fingerprint) index builds stay
// warm across runs.
const indexCacheSize = 64

// ErrRunNotFound is returned when neither the tracker nor the store
// knows the run id.
var ErrRunNotFound = errors.New("run not found")

// SubmitRequest is one task submission.
type SubmitRequest struct {
	Task         string             `json:"task"`
	UserID       string             `json:"user_id"`
	Budget       *models.BudgetSpec `json:"budget,omitempty"`
	ExtraContext map[string]any     `json:"extra_context,omitempty"`

	// LLMProvider picks a configured planner backend; empty uses the
	// configured default.
	LLMProvider string `json:"llm_provider,omitempty"`
}

// Validate checks the submission before a run id is assigned.
func (r SubmitRequest) Validate() error {
	if r.Task == "" {
		return fmt.Errorf("task must not be empty")
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id must not be empty")
	}
	return nil
}

// HealthReport aggregates component health for the health endpoint.
type HealthReport struct {
	Status          string            `json:"status"`
	Queue           queue.Health      `json:"queue"`
	FailedProviders map[string]string `json:"failed_providers,omitempty"`
	EventsDropped   int64             `json:"events_dropped"`
}

// Deps are the long-lived collaborators a RunService is built from.
// Store and Metrics may be nil.
type Deps struct {
	Config    *config.Config
	Registry  *registry.Registry
	Bus       *events.Bus
	Scheduler *queue.Scheduler
	Store     *runstore.Store
	Metrics   *metrics.Metrics

	// LLMClients pre-seeds the adapter cache, keyed by provider name.
	// Names absent here are built from configuration on first use.
	LLMClients map[string]llm.Client
}

// RunService is the façade the API talks to. One instance serves all
// tenants and runs.
type RunService struct {
	cfg       *config.Config
	registry  *registry.Registry
	bus       *events.Bus
	scheduler *queue.Scheduler
	store     *runstore.Store
	metrics   *metrics.Metrics

	masker     *masking.Service
	indexCache *toolindex.Cache
	tracker    *tracker
	logger     *slog.Logger

	llmMu      sync.Mutex
	llmClients map[string]llm.Client
}

// NewRunService wires the façade. The masking service and index cache
// are shared across runs; everything else is assembled per run.
func NewRunService(deps Deps) (*RunService, error) {
	var masker *masking.Service
	if deps.Config.Masking != nil {
		masker = masking.NewService(*deps.Config.Masking)
	} else {
		masker = masking.NewService(masking.Config{})
	}

	cache, err := toolindex.NewCache(indexCacheSize, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}

	clients := make(map[string]llm.Client, len(deps.LLMClients))
	for name, c := range deps.LLMClients {
		clients[name] = c
	}

	return &RunService{
		cfg:        deps.Config,
		registry:   deps.Registry,
		bus:        deps.Bus,
		scheduler:  deps.Scheduler,
		store:      deps.Store,
		metrics:    deps.Metrics,
		masker:     masker,
		indexCache: cache,
		tracker:    newTracker(),
		logger:     slog.Default().With("component", "run_service"),
		llmClients: clients,
	}, nil
}

// Submit validates a submission, assigns a run id, and starts the run
// asynchronously. The returned view is the queued snapshot.
func (s *RunService) Submit(req SubmitRequest) (RunView, error) {
	if err := req.Validate(); err != nil {
		return RunView{}, err
	}
	if _, err := s.llmClient(req.LLMProvider); err != nil {
		return RunView{}, err
	}

	view := RunView{
		RunID:       uuid.New().String(),
		UserID:      req.UserID,
		Task:        req.Task,
		Status:      StatusQueued,
		SubmittedAt: time.Now().UTC(),
	}
	s.tracker.Add(view)
	s.logger.Info("Run submitted", "run_id", view.RunID, "user_id", req.UserID)

	go s.execute(view.RunID, req)
	return view, nil
}

// Wait blocks until the run finishes or ctx expires, returning the
// latest view either way. The error is non-nil only for ctx expiry.
func (s *RunService) Wait(ctx context.Context, runID string) (RunView, error) {
	done, ok := s.tracker.Done(runID)
	if !ok {
		return RunView{}, ErrRunNotFound
	}
	select {
	case <-done:
	case <-ctx.Done():
		view, _ := s.tracker.Get(runID)
		return view, ctx.Err()
	}
	view, _ := s.tracker.Get(runID)
	return view, nil
}

// GetRun returns a run from the tracker, falling back to the artifact
// store for runs that aged out of memory. Stored views carry metadata
// and steps; raw outputs stay on disk.
func (s *RunService) GetRun(runID string) (RunView, error) {
	if view, ok := s.tracker.Get(runID); ok {
		return view, nil
	}
	if s.store == nil {
		return RunView{}, ErrRunNotFound
	}
	stored, err := s.store.Load(runID)
	if err != nil {
		return RunView{}, ErrRunNotFound
	}
	return storedView(stored), nil
}

// ListRuns returns tracked runs plus stored runs that aged out, most
// recent first, capped at limit (<= 0 means 50).
func (s *RunService) ListRuns(limit int) []RunView {
	if limit <= 0 {
		limit = 50
	}
	views := s.tracker.List()
	seen := make(map[string]bool, len(views))
	for _, v := range views {
		seen[v.RunID] = true
	}

	if s.store != nil {
		metas, err := s.store.List()
		if err != nil {
			s.logger.Warn("Failed to list stored runs", "error", err)
		}
		for _, meta := range metas {
			if seen[meta.RunID] {
				continue
			}
			views = append(views, metaView(meta))
		}
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].SubmittedAt.After(views[j].SubmittedAt)
	})
	if len(views) > limit {
		views = views[:limit]
	}
	return views
}

// CancelRun requests cancellation of an active or queued run.
func (s *RunService) CancelRun(runID string) bool {
	if s.scheduler.CancelRun(runID) {
		s.logger.Info("Run cancellation requested", "run_id", runID)
		return true
	}
	return false
}

// Health aggregates scheduler, provider, and event bus health.
func (s *RunService) Health() HealthReport {
	qh := s.scheduler.Health()
	failed := s.registry.Failed()

	status := "healthy"
	if !qh.IsHealthy || len(failed) > 0 {
		status = "degraded"
	}
	return HealthReport{
		Status:          status,
		Queue:           qh,
		FailedProviders: failed,
		EventsDropped:   s.bus.Dropped(),
	}
}

// Stop drains the scheduler, waiting up to the configured shutdown
// timeout for active runs.
func (s *RunService) Stop() {
	s.scheduler.Stop(s.cfg.Queue.GracefulShutdownTimeout)
}

// execute owns one run from admission to terminal record. It runs on
// its own goroutine with a timeout context detached from the submitter.
func (s *RunService) execute(runID string, req SubmitRequest) {
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Queue.RunTimeout)
	defer cancel()
	s.scheduler.RegisterRun(runID, cancel)
	defer s.scheduler.UnregisterRun(runID)

	release, err := s.scheduler.Acquire(runCtx, req.UserID)
	s.updateQueueGauge()
	if err != nil {
		s.finishWithoutRun(runID, req, err)
		return
	}
	defer release()
	defer s.updateQueueGauge()

	started := time.Now().UTC()
	s.tracker.MarkRunning(runID, started)

	var rec *runstore.Recorder
	if s.store != nil {
		rec, err = s.store.Begin(runID)
		if err != nil {
			s.logger.Warn("Run persistence unavailable", "run_id", runID, "error", err)
			rec = nil
		}
	}

	result := s.runPipeline(runCtx, runID, req)
	ended := time.Now().UTC()

	if rec != nil {
		info := runstore.RunInfo{UserID: req.UserID, Task: req.Task, StartedAt: started, EndedAt: ended}
		if err := rec.Finish(result, info); err != nil {
			s.logger.Warn("Failed to persist run artifacts", "run_id", runID, "error", err)
		}
	}
	s.tracker.Complete(runID, result, ended)
}

// runPipeline assembles the per-run components and drives the
// orchestrator. Every failure becomes a TaskResult, never a Go error.
func (s *RunService) runPipeline(ctx context.Context, runID string, req SubmitRequest) models.TaskResult {
	tenant := models.NewTenantContext(req.UserID)
	if tc := s.cfg.GetTenant(req.UserID); tc != nil {
		tenant.Credentials = tc.Credentials
	}

	client, err := s.llmClient(req.LLMProvider)
	if err != nil {
		return failedResult(runID, models.ErrCodeLLMUnavailable, fmt.Sprintf("planner LLM unavailable: %s", err))
	}

	snap := s.registry.SnapshotFor(req.UserID)
	ix, err := s.indexCache.GetOrBuild(req.UserID, snap.Definitions())
	if err != nil {
		return failedResult(runID, models.ErrCodeInternal, fmt.Sprintf("build tool index: %s", err))
	}

	publisher := events.NewPublisher(s.bus, runID)
	exec := executor.New(executor.Config{
		RunID:      runID,
		Tenant:     tenant,
		Index:      ix,
		Dispatcher: dispatch.New(snap, ix, s.masker, s.metrics),
		Envelope:   envelope.New(s.masker),
		Sandbox:    s.cfg.Sandbox,
		Publisher:  publisher,
		Metrics:    s.metrics,
	})

	orch := planner.New(planner.Config{
		RunID:     runID,
		Client:    client,
		Executor:  exec,
		Index:     ix,
		Provider:  s.providerName(req.LLMProvider),
		Publisher: publisher,
		Metrics:   s.metrics,
	})
	return orch.Execute(ctx, req.Task, tenant, s.resolveBudget(req.Budget), req.ExtraContext)
}

// finishWithoutRun records the terminal state of a run that never got a
// slot: scheduler rejection, shutdown, or cancellation while queued.
func (s *RunService) finishWithoutRun(runID string, req SubmitRequest, err error) {
	code := models.ErrCodeOverloaded
	msg := "run rejected: scheduler at capacity"
	switch {
	case errors.Is(err, context.Canceled):
		code = models.ErrCodeCancelled
		msg = "task cancelled before a run slot was available"
	case errors.Is(err, context.DeadlineExceeded):
		msg = "run rejected: timed out waiting for a run slot"
	case errors.Is(err, queue.ErrStopped):
		msg = "run rejected: service shutting down"
	}
	s.logger.Info("Run not admitted", "run_id", runID, "user_id", req.UserID, "reason", msg)

	events.NewPublisher(s.bus, runID).TaskCompleted(false, code)
	s.tracker.Complete(runID, failedResult(runID, code, msg), time.Now().UTC())
}

// llmClient returns the cached adapter for a provider name, building it
// on first use. An empty name selects the configured default.
func (s *RunService) llmClient(name string) (llm.Client, error) {
	name = s.providerName(name)

	s.llmMu.Lock()
	defer s.llmMu.Unlock()
	if c, ok := s.llmClients[name]; ok {
		return c, nil
	}

	pcfg, err := s.cfg.GetLLMProvider(name)
	if err != nil {
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
	c, err := llm.New(name, pcfg)
	if err != nil {
		return nil, err
	}
	s.llmClients[name] = c
	return c, nil
}

func (s *RunService) providerName(name string) string {
	if name != "" {
		return name
	}
	return s.cfg.DefaultLLMProvider()
}

// resolveBudget overlays the submission's budget on the configured
// system defaults, axis by axis.
func (s *RunService) resolveBudget(req *models.BudgetSpec) *models.BudgetSpec {
	var def *models.BudgetSpec
	if s.cfg.Defaults != nil {
		def = s.cfg.Defaults.Budget.Spec()
	}
	if req == nil {
		return def
	}
	if def == nil {
		return req
	}
	merged := *def
	if req.MaxSteps != nil {
		merged.MaxSteps = req.MaxSteps
	}
	if req.MaxToolCalls != nil {
		merged.MaxToolCalls = req.MaxToolCalls
	}
	if req.MaxCodeRuns != nil {
		merged.MaxCodeRuns = req.MaxCodeRuns
	}
	if req.MaxLLMCostUSD != nil {
		merged.MaxLLMCostUSD = req.MaxLLMCostUSD
	}
	return &merged
}

func (s *RunService) updateQueueGauge() {
	s.metrics.SetQueuedRuns(s.scheduler.Health().QueuedRuns)
}

func failedResult(runID string, code models.ErrorCode, msg string) models.TaskResult {
	return models.TaskResult{
		RunID:        runID,
		Success:      false,
		FinalSummary: msg,
		RawOutputs:   map[string]any{},
		Error:        msg,
		ErrorCode:    code,
	}
}

// storedView rebuilds a run view from persisted artifacts.
func storedView(run *runstore.StoredRun) RunView {
	meta := run.Metadata
	result := models.TaskResult{
		RunID:        meta.RunID,
		Success:      meta.Success,
		FinalSummary: meta.FinalSummary,
		BudgetUsage:  meta.Usage,
		Steps:        run.Steps,
		Error:        meta.Error,
		ErrorCode:    models.ErrorCode(meta.ErrorCode),
	}
	view := metaView(meta)
	view.Result = &result
	return view
}

func metaView(meta runstore.Metadata) RunView {
	status := StatusFailed
	switch {
	case meta.Success:
		status = StatusCompleted
	case meta.ErrorCode == string(models.ErrCodeCancelled):
		status = StatusCancelled
	}
	started := meta.StartedAt
	ended := meta.EndedAt
	return RunView{
		RunID:       meta.RunID,
		UserID:      meta.UserID,
		Task:        meta.Task,
		Status:      status,
		SubmittedAt: meta.StartedAt,
		StartedAt:   &started,
		EndedAt:     &ended,
	}
}
