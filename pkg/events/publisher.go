package events

import (
	"encoding/json"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/toolboxlabs/planner/pkg/models"
)

// reasoningPreviewMax bounds the reasoning text carried in
// planning.completed events.
const reasoningPreviewMax = 200

// Publisher emits the typed event stream for one run. All methods are
// best-effort: delivery is non-blocking and a nil Publisher is a no-op,
// so event emission can never disturb the run itself.
type Publisher struct {
	bus    *Bus
	runID  string
	logger *slog.Logger
}

// NewPublisher creates a publisher bound to one run.
func NewPublisher(bus *Bus, runID string) *Publisher {
	return &Publisher{
		bus:    bus,
		runID:  runID,
		logger: slog.Default().With("component", "events", "run_id", runID),
	}
}

// TaskStarted announces the run on its own channel and on the global
// runs channel.
func (p *Publisher) TaskStarted(taskPrefix string, budget models.Budget, userID string) {
	data := TaskStartedData{TaskPrefix: taskPrefix, Budget: budget, UserID: userID}
	p.publish(RunChannel(p.runID), EventTypeTaskStarted, 0, data)
	p.publish(GlobalRunsChannel, EventTypeTaskStarted, 0, data)
}

// PlanningCompleted reports the planner's decision for the upcoming step.
func (p *Publisher) PlanningCompleted(stepID int, decisionType, toolID, reasoning string) {
	p.publish(RunChannel(p.runID), EventTypePlanningCompleted, stepID, PlanningCompletedData{
		DecisionType:     decisionType,
		ToolID:           toolID,
		ReasoningPreview: clampPreview(reasoning),
	})
}

// StepDispatching reports that a step is about to execute.
func (p *Publisher) StepDispatching(stepID int, stepType string) {
	p.publish(RunChannel(p.runID), EventTypeStepDispatching, stepID, StepDispatchingData{
		StepID: stepID,
		Type:   stepType,
	})
}

// StepCompleted reports a step's outcome.
func (p *Publisher) StepCompleted(stepID int, success bool, errMsg string) {
	p.publish(RunChannel(p.runID), EventTypeStepCompleted, stepID, StepCompletedData{
		StepID:  stepID,
		Success: success,
		Error:   errMsg,
	})
}

// SearchCompleted reports a tool index search.
func (p *Publisher) SearchCompleted(stepID int, query string, resultCount int, toolIDs []string) {
	if toolIDs == nil {
		toolIDs = []string{}
	}
	p.publish(RunChannel(p.runID), EventTypeSearchCompleted, stepID, SearchCompletedData{
		Query:       query,
		ResultCount: resultCount,
		ToolIDs:     toolIDs,
	})
}

// ToolStarted reports a tool invocation beginning.
func (p *Publisher) ToolStarted(stepID int, provider, tool string) {
	p.publish(RunChannel(p.runID), EventTypeToolStarted, stepID, ToolData{Provider: provider, Tool: tool})
}

// ToolCompleted reports a successful tool invocation.
func (p *Publisher) ToolCompleted(stepID int, provider, tool string) {
	p.publish(RunChannel(p.runID), EventTypeToolCompleted, stepID, ToolData{Provider: provider, Tool: tool})
}

// ToolFailed reports a failed tool invocation.
func (p *Publisher) ToolFailed(stepID int, provider, tool, errMsg string) {
	p.publish(RunChannel(p.runID), EventTypeToolFailed, stepID, ToolData{Provider: provider, Tool: tool, Error: errMsg})
}

// SandboxRun reports a sandbox execution.
func (p *Publisher) SandboxRun(stepID int, label string, success, timedOut bool, logLines int) {
	p.publish(RunChannel(p.runID), EventTypeSandboxRun, stepID, SandboxRunData{
		Label:    label,
		Success:  success,
		TimedOut: timedOut,
		LogLines: logLines,
	})
}

// ObservationCompressed reports envelope byte accounting for a step.
func (p *Publisher) ObservationCompressed(stepID int, stepType string, originalBytes, compressedBytes int) {
	p.publish(RunChannel(p.runID), EventTypeObservationCompressed, stepID, ObservationCompressedData{
		Type:            stepType,
		OriginalBytes:   originalBytes,
		CompressedBytes: compressedBytes,
	})
}

// BudgetExceeded reports the axis that ended the run.
func (p *Publisher) BudgetExceeded(axis string, usage models.BudgetUsage) {
	p.publish(RunChannel(p.runID), EventTypeBudgetExceeded, 0, BudgetExceededData{Axis: axis, Usage: usage})
}

// TaskCompleted announces the final outcome on the run channel and the
// global runs channel.
func (p *Publisher) TaskCompleted(success bool, errorCode models.ErrorCode) {
	data := TaskCompletedData{Success: success, ErrorCode: string(errorCode)}
	p.publish(RunChannel(p.runID), EventTypeTaskCompleted, 0, data)
	p.publish(GlobalRunsChannel, EventTypeTaskCompleted, 0, data)
}

func (p *Publisher) publish(channel, eventType string, stepID int, data any) {
	if p == nil || p.bus == nil {
		return
	}
	evt := Event{
		Type:      eventType,
		RunID:     p.runID,
		StepID:    stepID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("Failed to marshal event", "type", eventType, "error", err)
		return
	}
	p.bus.Publish(channel, payload)
}

func clampPreview(s string) string {
	if utf8.RuneCountInString(s) <= reasoningPreviewMax {
		return s
	}
	runes := []rune(s)
	return string(runes[:reasoningPreviewMax]) + "…"
}
