package events

import (
	"github.com/toolboxlabs/planner/pkg/models"
)

// Event is the envelope for every published event. The type names the
// event, run_id/step_id locate it, and Data carries the event's object.
type Event struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	StepID    int    `json:"step_id,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
	Data      any    `json:"data"`
}

// TaskStartedData is the object carried by task.started.
type TaskStartedData struct {
	TaskPrefix string        `json:"task_prefix"`
	Budget     models.Budget `json:"budget"`
	UserID     string        `json:"user_id"`
}

// PlanningCompletedData is the object carried by planning.completed.
// DecisionType is one of search, tool, sandbox, finish, fail.
type PlanningCompletedData struct {
	DecisionType     string `json:"decision_type"`
	ToolID           string `json:"tool_id,omitempty"`
	ReasoningPreview string `json:"reasoning_preview"`
}

// StepDispatchingData is the object carried by step.dispatching.
type StepDispatchingData struct {
	StepID int    `json:"step_id"`
	Type   string `json:"type"`
}

// StepCompletedData is the object carried by step.completed.
type StepCompletedData struct {
	StepID  int    `json:"step_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SearchCompletedData is the object carried by search.completed.
type SearchCompletedData struct {
	Query       string   `json:"query"`
	ResultCount int      `json:"result_count"`
	ToolIDs     []string `json:"tool_ids"`
}

// ToolData is the object carried by tool.started, tool.completed and
// tool.failed.
type ToolData struct {
	Provider string `json:"provider"`
	Tool     string `json:"tool"`
	Error    string `json:"error,omitempty"`
}

// SandboxRunData is the object carried by sandbox.run.
type SandboxRunData struct {
	Label    string `json:"label"`
	Success  bool   `json:"success"`
	TimedOut bool   `json:"timed_out"`
	LogLines int    `json:"log_lines"`
}

// ObservationCompressedData is the object carried by
// observation.compressed. Type is the step type that produced the
// observation.
type ObservationCompressedData struct {
	Type            string `json:"type"`
	OriginalBytes   int    `json:"original_bytes"`
	CompressedBytes int    `json:"compressed_bytes"`
}

// BudgetExceededData is the object carried by budget.exceeded.
type BudgetExceededData struct {
	Axis  string             `json:"axis"`
	Usage models.BudgetUsage `json:"usage"`
}

// TaskCompletedData is the object carried by task.completed.
type TaskCompletedData struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
}
