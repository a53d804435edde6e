// Package executor runs parsed planner commands against a run's agent
// state. It owns the side effects of execution: search discovery, raw
// output storage, the sandbox workspace lifecycle, and the per-step
// events and metrics. Step recording and loop-level budget bookkeeping
// stay with the orchestrator.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/dispatch"
	"github.com/toolboxlabs/planner/pkg/envelope"
	"github.com/toolboxlabs/planner/pkg/events"
	"github.com/toolboxlabs/planner/pkg/metrics"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/sandbox"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

// emptySearchEscalation is how many empty searches in a row turn the next
// unknown-tool reference into a terminal discovery failure.
const emptySearchEscalation = 3

// Config carries the per-run collaborators for an Executor. Envelope,
// Publisher, and Metrics may be nil.
type Config struct {
	RunID      string
	Tenant     models.TenantContext
	Index      *toolindex.Index
	Dispatcher *dispatch.Dispatcher
	Envelope   *envelope.Envelope
	Sandbox    *config.SandboxConfig
	Publisher  *events.Publisher
	Metrics    *metrics.Metrics
}

// Executor executes the commands of a single run. A run executes its
// steps sequentially, so the executor is not safe for concurrent use.
// Close must be called when the run ends to reclaim sandbox resources.
type Executor struct {
	runID      string
	tenant     models.TenantContext
	index      *toolindex.Index
	dispatcher *dispatch.Dispatcher
	envelope   *envelope.Envelope
	runner     *sandbox.Runner
	sandboxCfg *config.SandboxConfig
	publisher  *events.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// Lazily created on the first sandbox step, torn down by Close.
	workspace *sandbox.Workspace
	ipc       *sandbox.IPCServer
	ipcCancel context.CancelFunc
}

// New builds an executor for one run.
func New(cfg Config) *Executor {
	sandboxCfg := cfg.Sandbox
	if sandboxCfg == nil {
		sandboxCfg = config.DefaultSandboxConfig()
	}
	env := cfg.Envelope
	if env == nil {
		env = envelope.New(nil)
	}
	logger := cfg.Tenant.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		runID:      cfg.RunID,
		tenant:     cfg.Tenant,
		index:      cfg.Index,
		dispatcher: cfg.Dispatcher,
		envelope:   env,
		runner:     sandbox.NewRunner(sandboxCfg),
		sandboxCfg: sandboxCfg,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     logger.With("component", "executor", "run_id", cfg.RunID),
	}
}

// Execute runs exactly one parsed command and returns the StepResult the
// orchestrator folds into history. Failures are reported in the result,
// never as a Go error; a Terminal result tells the orchestrator to stop
// the loop after recording the step.
func (e *Executor) Execute(ctx context.Context, state *models.AgentState, cmd models.Command) models.StepResult {
	switch cmd.Type {
	case models.CommandSearch:
		return e.executeSearch(state, cmd)
	case models.CommandTool:
		return e.executeTool(ctx, state, cmd)
	case models.CommandSandbox:
		return e.executeSandbox(ctx, state, cmd)
	case models.CommandFinish:
		return e.executeFinish(state, cmd)
	case models.CommandFail:
		return e.executeFail(cmd)
	default:
		return models.StepResult{
			Type:      cmd.Type,
			Error:     fmt.Sprintf("unsupported command type %q", cmd.Type),
			ErrorCode: models.ErrCodeInternal,
		}
	}
}

// Close releases the sandbox workspace and IPC listener if a sandbox step
// ever ran. Safe to call multiple times.
func (e *Executor) Close() {
	if e.ipcCancel != nil {
		e.ipcCancel()
		e.ipcCancel = nil
	}
	if e.ipc != nil {
		if err := e.ipc.Close(); err != nil {
			e.logger.Warn("Failed to close sandbox IPC server", "error", err)
		}
		e.ipc = nil
	}
	if e.workspace != nil {
		if err := e.workspace.Remove(); err != nil {
			e.logger.Warn("Failed to remove sandbox workspace", "error", err)
		}
		e.workspace = nil
	}
}

func (e *Executor) executeSearch(state *models.AgentState, cmd models.Command) models.StepResult {
	stepID := state.NextStepID()

	results := e.index.Search(cmd.Query, cmd.DetailLevel, cmd.Limit)
	state.MergeSearchResults(results)
	if len(results) == 0 {
		state.ConsecutiveEmptySearches++
	} else {
		state.ConsecutiveEmptySearches = 0
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ToolID)
	}
	e.publisher.SearchCompleted(stepID, cmd.Query, len(results), ids)

	bounded := e.envelope.Bound(genericJSON(results), "")
	e.metrics.RecordObservation(string(models.CommandSearch), bounded.OriginalBytes, bounded.CompressedBytes, false)
	e.logger.Info("Search completed",
		"step_id", stepID, "query", cmd.Query, "results", len(results))

	return models.StepResult{
		Success:     true,
		Type:        models.CommandSearch,
		Observation: bounded.Observation,
		Preview:     bounded.Preview,
		EmptySearch: len(results) == 0,
	}
}

func (e *Executor) executeFinish(state *models.AgentState, cmd models.Command) models.StepResult {
	if len(cmd.Outputs) > 0 {
		state.MergeOutputs(cmd.Outputs)
	}
	return models.StepResult{
		Success:     true,
		Type:        models.CommandFinish,
		Observation: cmd.Summary,
		Preview:     envelope.TruncateString(cmd.Summary, envelope.MaxStringChars),
		Terminal:    true,
	}
}

func (e *Executor) executeFail(cmd models.Command) models.StepResult {
	return models.StepResult{
		Type:        models.CommandFail,
		Observation: cmd.Reason,
		Preview:     envelope.TruncateString(cmd.Reason, envelope.MaxStringChars),
		Error:       cmd.Reason,
		ErrorCode:   models.ErrCodePlannerFailed,
		Terminal:    true,
	}
}

// budgetExhausted builds the terminal result for a per-command budget
// axis that has no headroom left.
func (e *Executor) budgetExhausted(state *models.AgentState, stepType models.CommandType, axis string, used, limit int) models.StepResult {
	e.publisher.BudgetExceeded(axis, state.Usage)
	e.metrics.RecordBudgetExceeded(axis)
	e.logger.Info("Budget axis exhausted", "axis", axis, "used", used, "limit", limit)
	return models.StepResult{
		Type:      stepType,
		Error:     fmt.Sprintf("budget axis %s exhausted (%d of %d used)", axis, used, limit),
		ErrorCode: models.ErrCodeBudgetExhausted,
		Terminal:  true,
	}
}

// escalateDiscovery upgrades an unknown or undiscovered tool reference to
// the terminal discovery failure once enough searches in a row came back
// empty. At that point the planner is guessing against an inventory that
// cannot satisfy the task.
func escalateDiscovery(state *models.AgentState, res models.StepResult) models.StepResult {
	if state.ConsecutiveEmptySearches < emptySearchEscalation {
		return res
	}
	switch res.ErrorCode {
	case models.ErrCodeUnknownTool, models.ErrCodeUndiscoveredTool:
		res.Error = fmt.Sprintf("%s (after %d consecutive empty searches)",
			res.Error, state.ConsecutiveEmptySearches)
		res.ErrorCode = models.ErrCodeDiscoveryFailed
		res.Terminal = true
	}
	return res
}

// genericJSON round-trips a typed value through JSON so the envelope's
// container rules see plain maps and slices.
func genericJSON(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}
