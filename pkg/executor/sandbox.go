package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/toolboxlabs/planner/pkg/envelope"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/sandbox"
)

// executeSandbox gates, prepares, and runs one plan snippet. The
// workspace and IPC server are materialized on the first sandbox step of
// the run and live until Close.
func (e *Executor) executeSandbox(ctx context.Context, state *models.AgentState, cmd models.Command) models.StepResult {
	stepID := state.NextStepID()

	if state.Budget.CodeRunsExhausted(state.Usage) {
		return e.budgetExhausted(state, models.CommandSandbox, models.AxisCodeRuns,
			state.Usage.CodeRuns, state.Budget.MaxCodeRuns)
	}

	if err := sandbox.CheckSnippet(cmd.Code, state.DiscoveredTools); err != nil {
		code := models.ErrCodeSandboxBody
		var gateErr *sandbox.GateError
		if errors.As(err, &gateErr) {
			code = gateErr.Code
		}
		e.logger.Info("Sandbox snippet rejected",
			"step_id", stepID, "label", cmd.Label, "error_code", code, "error", err)
		return escalateDiscovery(state, models.StepResult{
			Type:      models.CommandSandbox,
			Error:     err.Error(),
			ErrorCode: code,
		})
	}

	if err := e.ensureSandbox(state); err != nil {
		e.logger.Error("Failed to prepare sandbox workspace", "error", err)
		return models.StepResult{
			Type:      models.CommandSandbox,
			Error:     fmt.Sprintf("prepare sandbox: %s", err),
			ErrorCode: models.ErrCodeInternal,
		}
	}

	planPath, err := e.workspace.WritePlan(cmd.Code)
	if err != nil {
		return models.StepResult{
			Type:      models.CommandSandbox,
			Error:     fmt.Sprintf("write plan: %s", err),
			ErrorCode: models.ErrCodeInternal,
		}
	}

	callsBefore := e.ipc.ToolCalls()
	start := time.Now()
	result := e.runner.Run(ctx, planPath, e.workspace.Root, e.ipc.Env())
	toolCalls := e.ipc.ToolCalls() - callsBefore

	state.AppendLogs(cmd.Label, e.envelope.RedactLogs(result.Logs))
	e.publisher.SandboxRun(stepID, cmd.Label, result.Success, result.TimedOut, len(result.Logs))
	e.metrics.RecordSandboxRun(sandboxStatus(result), time.Since(start).Seconds())
	e.logger.Info("Sandbox run finished",
		"step_id", stepID, "label", cmd.Label,
		"success", result.Success, "timed_out", result.TimedOut, "tool_calls", toolCalls)

	if !result.Success {
		return models.StepResult{
			Type:      models.CommandSandbox,
			Error:     result.Error,
			ErrorCode: sandbox.ErrorCodeFor(result),
		}
	}

	// A plan that called tools but returned nothing gives the planner no
	// observation to act on; surface that instead of an empty success.
	if toolCalls > 0 && emptyResult(result.Result) {
		return models.StepResult{
			Type:      models.CommandSandbox,
			Error:     fmt.Sprintf("plan returned no result after %d tool calls; end the snippet with a return statement", toolCalls),
			ErrorCode: models.ErrCodeSandboxEmpty,
		}
	}

	key := envelope.SandboxKey(cmd.Label, stepID)
	bounded := e.envelope.Bound(result.Result, key)
	e.metrics.RecordObservation(string(models.CommandSandbox), bounded.OriginalBytes, bounded.CompressedBytes, bounded.Stored)
	if bounded.Stored {
		e.publisher.ObservationCompressed(stepID, string(models.CommandSandbox), bounded.OriginalBytes, bounded.CompressedBytes)
	}

	if bounded.Stored {
		state.StoreRawOutput(bounded.StoredKey, bounded.StoredValue)
	} else {
		state.StoreRawOutput(key, result.Result)
	}
	state.Usage.CodeRuns++

	return models.StepResult{
		Success:      true,
		Type:         models.CommandSandbox,
		Observation:  bounded.Observation,
		Preview:      bounded.Preview,
		RawOutputKey: key,
	}
}

// ensureSandbox materializes the run workspace and starts the IPC server
// the first time a sandbox step executes. The discovery callback reads
// live run state, so tools discovered after materialization are callable
// from later plans.
func (e *Executor) ensureSandbox(state *models.AgentState) error {
	if e.workspace != nil {
		return nil
	}

	w, err := sandbox.Materialize(e.sandboxCfg.Root, e.index)
	if err != nil {
		return err
	}

	srv := sandbox.NewIPCServer(e.runID, e.tenant, e.dispatcher, state.IsDiscovered)
	if err := srv.Listen(e.sandboxCfg.IPCNetwork, w.Root); err != nil {
		_ = w.Remove()
		return err
	}

	ipcCtx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ipcCtx)

	e.workspace = w
	e.ipc = srv
	e.ipcCancel = cancel
	e.logger.Info("Sandbox workspace ready", "root", w.Root, "ipc_addr", srv.Addr())
	return nil
}

// emptyResult reports whether a plan result carries no information. The
// scaffold maps a Python None to an empty object before serialization.
func emptyResult(v any) bool {
	if v == nil {
		return true
	}
	m, ok := v.(map[string]any)
	return ok && len(m) == 0
}

func sandboxStatus(result models.SandboxResult) string {
	switch {
	case result.TimedOut:
		return "timeout"
	case result.Success:
		return "success"
	default:
		return "error"
	}
}
