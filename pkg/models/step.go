package models

import (
	"fmt"
	"time"
)

// ExecutionStep is one appended history entry. Steps are never mutated
// after RecordStep; StepID is strictly increasing from 1.
type ExecutionStep struct {
	StepID             int         `json:"step_id"`
	Type               CommandType `json:"type"`
	Reasoning          string      `json:"reasoning"`
	Command            Command     `json:"command"`
	Success            bool        `json:"success"`
	ObservationPreview string      `json:"observation_preview"`
	RawOutputKey       string      `json:"raw_output_key,omitempty"`
	Error              string      `json:"error,omitempty"`
	ErrorCode          ErrorCode   `json:"error_code,omitempty"`
	StartedAt          time.Time   `json:"started_at"`
	EndedAt            time.Time   `json:"ended_at"`
}

// StepResult is what the action executor returns for one command before it
// is folded into an ExecutionStep. Observation is already bounded per the
// envelope rules; Preview is its serialized form (≤ 2 KB).
type StepResult struct {
	Success      bool
	Type         CommandType
	Observation  any
	Preview      string
	Error        string
	ErrorCode    ErrorCode
	RawOutputKey string

	// EmptySearch marks a successful search that matched nothing, so the
	// orchestrator can count consecutive empties toward discovery_failed.
	EmptySearch bool

	// Terminal is set by finish/fail execution; the orchestrator exits the
	// loop after recording the step.
	Terminal bool
}

// ActionResponse is the normalized envelope of every tool invocation,
// whether from a tool step or from sandbox IPC. Data is always non-nil.
type ActionResponse struct {
	Successful bool           `json:"successful"`
	Data       map[string]any `json:"data"`
	Error      string         `json:"error,omitempty"`
	Raw        any            `json:"raw,omitempty"`
}

// Normalize enforces the envelope invariants: Data non-nil and a non-empty
// Error on failure.
func (r ActionResponse) Normalize() ActionResponse {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	if !r.Successful && r.Error == "" {
		r.Error = "unknown error"
	}
	return r
}

// ErrorResponse builds a failed ActionResponse with a formatted message.
func ErrorResponse(format string, args ...any) ActionResponse {
	return ActionResponse{
		Successful: false,
		Data:       map[string]any{},
		Error:      fmt.Sprintf(format, args...),
	}
}

// SandboxResult is the outcome of one sandboxed plan execution. TimedOut
// implies Success is false.
type SandboxResult struct {
	Success  bool     `json:"success"`
	Result   any      `json:"result,omitempty"`
	Logs     []string `json:"logs"`
	Error    string   `json:"error,omitempty"`
	TimedOut bool     `json:"timed_out"`
}
