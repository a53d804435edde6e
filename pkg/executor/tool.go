package executor

import (
	"context"
	"fmt"

	"github.com/toolboxlabs/planner/pkg/envelope"
	"github.com/toolboxlabs/planner/pkg/models"
)

// executeTool validates a tool command against the run's discovery state
// and index, dispatches it, and bounds the response for history. The
// checks run in a fixed order so the planner always sees the most
// specific rejection: discovery, then index membership, then the server
// field.
func (e *Executor) executeTool(ctx context.Context, state *models.AgentState, cmd models.Command) models.StepResult {
	stepID := state.NextStepID()
	provider := cmd.Provider()
	tool := cmd.ToolName()

	if state.Budget.ToolCallsExhausted(state.Usage) {
		return e.budgetExhausted(state, models.CommandTool, models.AxisToolCalls,
			state.Usage.ToolCalls, state.Budget.MaxToolCalls)
	}

	if cmd.ToolID != models.InspectToolID && !state.IsDiscovered(cmd.ToolID) {
		return escalateDiscovery(state, e.rejectTool(stepID, provider, tool,
			models.ErrCodeUndiscoveredTool,
			"tool %q has not been discovered in this run; search for it first", cmd.ToolID))
	}
	if _, ok := e.index.Lookup(cmd.ToolID); !ok {
		return escalateDiscovery(state, e.rejectTool(stepID, provider, tool,
			models.ErrCodeUnknownTool,
			"tool %q is not in the tool index", cmd.ToolID))
	}
	if cmd.Server != provider {
		return e.rejectTool(stepID, provider, tool,
			models.ErrCodeUnknownServer,
			"server %q does not match tool %q (expected %q)", cmd.Server, cmd.ToolID, provider)
	}

	e.publisher.ToolStarted(stepID, provider, tool)
	resp := e.invoke(ctx, cmd.ToolID, cmd.Args)

	key := envelope.ToolKey(cmd.ToolID, stepID)
	bounded := e.envelope.Bound(resp.Data, key)
	e.metrics.RecordObservation(string(models.CommandTool), bounded.OriginalBytes, bounded.CompressedBytes, bounded.Stored)
	if bounded.Stored {
		e.publisher.ObservationCompressed(stepID, string(models.CommandTool), bounded.OriginalBytes, bounded.CompressedBytes)
	}

	if !resp.Successful {
		e.publisher.ToolFailed(stepID, provider, tool, resp.Error)
		e.logger.Info("Tool step failed",
			"step_id", stepID, "tool_id", cmd.ToolID, "error", resp.Error)
		return models.StepResult{
			Type:        models.CommandTool,
			Observation: bounded.Observation,
			Preview:     bounded.Preview,
			Error:       resp.Error,
		}
	}

	// The full (already redacted) response always lands in raw outputs so
	// finish steps and inspection can reference it later.
	if bounded.Stored {
		state.StoreRawOutput(bounded.StoredKey, bounded.StoredValue)
	} else {
		state.StoreRawOutput(key, resp.Data)
	}
	state.Usage.ToolCalls++
	e.publisher.ToolCompleted(stepID, provider, tool)
	e.logger.Info("Tool step completed", "step_id", stepID, "tool_id", cmd.ToolID)

	return models.StepResult{
		Success:      true,
		Type:         models.CommandTool,
		Observation:  bounded.Observation,
		Preview:      bounded.Preview,
		RawOutputKey: key,
	}
}

// invoke shields the step from a panicking provider adapter. The
// dispatcher reports every other failure inside the response itself.
func (e *Executor) invoke(ctx context.Context, toolID string, args map[string]any) (resp models.ActionResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = models.ErrorResponse("transport: %v", r)
		}
	}()
	return e.dispatcher.Invoke(ctx, e.tenant, toolID, args)
}

func (e *Executor) rejectTool(stepID int, provider, tool string, code models.ErrorCode, format string, args ...any) models.StepResult {
	msg := fmt.Sprintf(format, args...)
	e.publisher.ToolFailed(stepID, provider, tool, msg)
	e.logger.Info("Tool step rejected",
		"step_id", stepID, "error_code", code, "error", msg)
	return models.StepResult{
		Type:      models.CommandTool,
		Error:     msg,
		ErrorCode: code,
	}
}
