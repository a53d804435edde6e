// Package events provides the run event stream: an in-process bus with
// per-run ordering, typed publishers for every event the runtime emits,
// and WebSocket delivery with catch-up from a bounded history.
//
// Events are telemetry. Publishing never blocks a run: a subscriber that
// cannot keep up has events dropped, not queued without bound.
package events

// Event type names carried in the "type" field of every published event.
const (
	EventTypeTaskStarted           = "task.started"
	EventTypePlanningCompleted     = "planning.completed"
	EventTypeStepDispatching       = "step.dispatching"
	EventTypeStepCompleted         = "step.completed"
	EventTypeSearchCompleted       = "search.completed"
	EventTypeToolStarted           = "tool.started"
	EventTypeToolCompleted         = "tool.completed"
	EventTypeToolFailed            = "tool.failed"
	EventTypeSandboxRun            = "sandbox.run"
	EventTypeObservationCompressed = "observation.compressed"
	EventTypeBudgetExceeded        = "budget.exceeded"
	EventTypeTaskCompleted         = "task.completed"
)

// GlobalRunsChannel carries run lifecycle events (task.started,
// task.completed) for every run. The run list page subscribes here.
const GlobalRunsChannel = "runs"

// RunChannel returns the channel name for a single run's events.
// Format: "run:{run_id}"
func RunChannel(runID string) string {
	return "run:" + runID
}

// ClientMessage is the JSON structure for client to server WebSocket
// messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "catchup", "ping"
	Channel string `json:"channel,omitempty"` // channel name (e.g., "run:abc-123")
}
