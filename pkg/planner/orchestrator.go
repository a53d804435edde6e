package planner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/toolboxlabs/planner/pkg/events"
	"github.com/toolboxlabs/planner/pkg/llm"
	"github.com/toolboxlabs/planner/pkg/metrics"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

// maxConsecutiveProtocolErrors caps how many unparseable replies in a row
// the loop tolerates before ending the run.
const maxConsecutiveProtocolErrors = 3

// taskPrefixMax bounds the task excerpt carried by task.started.
const taskPrefixMax = 100

// CommandExecutor runs one parsed command and owns its side effects on
// the agent state. Close reclaims per-run resources at task end.
// *executor.Executor satisfies the interface; orchestrator tests
// substitute scripted implementations.
type CommandExecutor interface {
	Execute(ctx context.Context, state *models.AgentState, cmd models.Command) models.StepResult
	Close()
}

// Config carries the per-run collaborators for an Orchestrator.
// Publisher and Metrics may be nil.
type Config struct {
	RunID    string
	Client   llm.Client
	Executor CommandExecutor
	Index    *toolindex.Index

	// Provider labels LLM metrics with the configured provider name.
	Provider string

	Publisher *events.Publisher
	Metrics   *metrics.Metrics
}

// Orchestrator drives one task to completion: prompt, parse, execute,
// record, repeat, within budget. One orchestrator serves one run.
type Orchestrator struct {
	runID     string
	client    llm.Client
	executor  CommandExecutor
	index     *toolindex.Index
	provider  string
	publisher *events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds an orchestrator for one run.
func New(cfg Config) *Orchestrator {
	provider := cfg.Provider
	if provider == "" {
		provider = "llm"
	}
	return &Orchestrator{
		runID:     cfg.RunID,
		client:    cfg.Client,
		executor:  cfg.Executor,
		index:     cfg.Index,
		provider:  provider,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    slog.Default().With("component", "orchestrator", "run_id", cfg.RunID),
	}
}

// Execute runs one task to completion and never returns a Go error:
// every failure mode, including panics, ends in a TaskResult carrying an
// error code. A nil budget resolves to the defaults.
func (o *Orchestrator) Execute(ctx context.Context, task string, tenant models.TenantContext, budget *models.BudgetSpec, extra map[string]any) models.TaskResult {
	state := models.NewAgentState(o.runID, task, tenant, budget.Resolve(), extra)
	if o.index != nil {
		state.InventoryView = o.index.InventoryView()
	}

	start := time.Now()
	o.metrics.RunStarted()

	result := o.run(ctx, state)

	o.metrics.RunFinished(statusOf(result), string(result.ErrorCode), time.Since(start).Seconds())
	o.publisher.TaskCompleted(result.Success, result.ErrorCode)
	o.logger.Info("Run finished",
		"success", result.Success,
		"error_code", result.ErrorCode,
		"steps", len(result.Steps),
		"duration", time.Since(start))
	return result
}

// run owns the loop and the panic boundary. The executor is closed on
// every exit path so sandbox workspaces never outlive their run.
func (o *Orchestrator) run(ctx context.Context, state *models.AgentState) (result models.TaskResult) {
	defer o.executor.Close()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Run panicked", "panic", r, "stack", string(debug.Stack()))
			state.SetTerminal(models.TerminalFail, "",
				fmt.Sprintf("internal failure: %v", r), models.ErrCodeInternal)
			result = state.BuildResult()
		}
	}()

	if err := o.validate(state); err != nil {
		state.SetTerminal(models.TerminalFail, "", err.Error(), models.ErrCodeInternal)
		return state.BuildResult()
	}

	o.publisher.TaskStarted(taskPrefix(state.Task), state.Budget, state.Tenant.UserID)
	o.loop(ctx, state)
	return state.BuildResult()
}

func (o *Orchestrator) validate(state *models.AgentState) error {
	if state.Task == "" {
		return fmt.Errorf("task must not be empty")
	}
	if err := state.Tenant.Validate(); err != nil {
		return fmt.Errorf("invalid tenant: %w", err)
	}
	if o.client == nil {
		return fmt.Errorf("no planner LLM client configured")
	}
	if o.executor == nil {
		return fmt.Errorf("no command executor configured")
	}
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, state *models.AgentState) {
	for {
		if ctx.Err() != nil {
			o.cancelled(state)
			return
		}

		if axis := state.Budget.ExceededAxis(state.Usage); axis != "" {
			o.publisher.BudgetExceeded(axis, state.Usage)
			o.metrics.RecordBudgetExceeded(axis)
			msg := fmt.Sprintf("budget axis %s exhausted", axis)
			state.SetTerminal(models.TerminalFail, msg, msg, models.ErrCodeBudgetExhausted)
			return
		}

		req, err := llm.BuildRequest(state)
		if err != nil {
			state.SetTerminal(models.TerminalFail, "",
				fmt.Sprintf("build planner prompt: %s", err), models.ErrCodeInternal)
			return
		}

		llmStart := time.Now()
		completion, err := o.client.Complete(ctx, req)
		if err != nil {
			o.metrics.RecordLLMRequest(o.provider, o.client.Model(), "error",
				time.Since(llmStart).Seconds(), 0, 0, 0)
			if ctx.Err() != nil {
				o.cancelled(state)
				return
			}
			state.SetTerminal(models.TerminalFail, "",
				fmt.Sprintf("planner LLM unavailable: %s", err), models.ErrCodeLLMUnavailable)
			return
		}
		state.Usage.EstimatedLLMCostUSD += completion.EstimatedCostUSD
		o.metrics.RecordLLMRequest(o.provider, completion.Model, "success",
			time.Since(llmStart).Seconds(),
			completion.InputTokens, completion.OutputTokens, completion.EstimatedCostUSD)

		cmd, err := ParseCommand(completion.Text)
		if err != nil {
			if o.recordProtocolError(state, err) {
				return
			}
			continue
		}
		state.ConsecutiveProtocolErrors = 0

		stepID := state.NextStepID()
		o.publisher.PlanningCompleted(stepID, string(cmd.Type), cmd.ToolID, cmd.Reasoning)
		o.publisher.StepDispatching(stepID, string(cmd.Type))

		started := time.Now()
		res := o.executor.Execute(ctx, state, cmd)
		step := state.RecordStep(cmd, res, started, time.Now())
		state.Usage.StepsTaken++
		o.metrics.RecordStep(string(res.Type), res.Success)
		o.publisher.StepCompleted(step.StepID, res.Success, res.Error)
		o.logger.Info("Step executed",
			"step_id", step.StepID, "type", res.Type, "success", res.Success)

		if res.Terminal {
			o.finalize(state, cmd, res)
			return
		}

		if ctx.Err() != nil {
			o.cancelled(state)
			return
		}
	}
}

// finalize performs the terminal transition for the step that ended the
// loop: a successful finish, a planner fail, or an executor-raised
// terminal failure such as budget exhaustion.
func (o *Orchestrator) finalize(state *models.AgentState, cmd models.Command, res models.StepResult) {
	if cmd.Type == models.CommandFinish && res.Success {
		state.SetTerminal(models.TerminalFinish, cmd.Summary, "", "")
		return
	}
	state.SetTerminal(models.TerminalFail, "", res.Error, res.ErrorCode)
}

// recordProtocolError folds an unparseable reply into history so the
// planner sees its own mistake on the next turn. Returns true when the
// consecutive cap is reached and the run must stop.
func (o *Orchestrator) recordProtocolError(state *models.AgentState, parseErr error) bool {
	state.ConsecutiveProtocolErrors++
	now := time.Now()
	cmd := models.Command{Type: models.CommandInvalid, Reasoning: "planner reply did not parse"}
	res := models.StepResult{
		Type:      models.CommandInvalid,
		Error:     parseErr.Error(),
		ErrorCode: models.ErrCodeProtocolError,
	}
	step := state.RecordStep(cmd, res, now, now)
	state.Usage.StepsTaken++
	o.metrics.RecordStep(string(models.CommandInvalid), false)
	o.publisher.StepCompleted(step.StepID, false, res.Error)
	o.logger.Warn("Planner protocol error",
		"step_id", step.StepID,
		"consecutive", state.ConsecutiveProtocolErrors,
		"error", parseErr)

	if state.ConsecutiveProtocolErrors >= maxConsecutiveProtocolErrors {
		msg := fmt.Sprintf("planner emitted %d malformed replies in a row", state.ConsecutiveProtocolErrors)
		state.SetTerminal(models.TerminalFail, msg, msg, models.ErrCodeProtocolError)
		return true
	}
	return false
}

func (o *Orchestrator) cancelled(state *models.AgentState) {
	state.SetTerminal(models.TerminalFail, "task cancelled",
		"task cancelled before completion", models.ErrCodeCancelled)
}

func taskPrefix(task string) string {
	runes := []rune(task)
	if len(runes) <= taskPrefixMax {
		return task
	}
	return string(runes[:taskPrefixMax])
}

func statusOf(result models.TaskResult) string {
	if result.Success {
		return "success"
	}
	return "error"
}
