package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TerminalState marks how a run ended. Empty until the terminal step.
type TerminalState string

const (
	TerminalNone   TerminalState = ""
	TerminalFinish TerminalState = "finish"
	TerminalFail   TerminalState = "fail"
)

// HistoryWindowDefault is how many trailing steps the prompt projection
// carries.
const HistoryWindowDefault = 8

// PromptPreviewMax caps each history preview surfaced to the planner.
const PromptPreviewMax = 2048

// AgentState is the per-run working state. It is exclusively owned by the
// run's orchestrator and must not be shared across goroutines. History is
// append-only; RawOutputs insertions are ordered with respect to step ids.
type AgentState struct {
	RunID        string
	Task         string
	Tenant       TenantContext
	Budget       Budget
	Usage        BudgetUsage
	ExtraContext map[string]any

	// InventoryView is the compact provider → tool-name tree seeded from
	// the index snapshot at run start (authorized providers only).
	InventoryView map[string][]string

	// DiscoveredTools holds every tool_id surfaced by a search so far.
	DiscoveredTools map[string]struct{}

	// SearchResults keeps the most recent descriptor per tool_id, in
	// first-discovery order.
	SearchResults []ToolDescriptor

	History    []ExecutionStep
	RawOutputs map[string]any
	Logs       []string

	// SandboxLogs groups the same lines by plan label for persistence.
	SandboxLogs map[string][]string

	Terminal     TerminalState
	FinalSummary string
	Error        string
	ErrorCode    ErrorCode

	// ConsecutiveEmptySearches feeds the discovery_failed escalation;
	// ConsecutiveProtocolErrors feeds the protocol_error cap.
	ConsecutiveEmptySearches  int
	ConsecutiveProtocolErrors int
}

// NewAgentState initializes run state with empty collections.
func NewAgentState(runID, task string, tenant TenantContext, budget Budget, extra map[string]any) *AgentState {
	return &AgentState{
		RunID:           runID,
		Task:            task,
		Tenant:          tenant,
		Budget:          budget,
		ExtraContext:    extra,
		InventoryView:   map[string][]string{},
		DiscoveredTools: map[string]struct{}{},
		RawOutputs:      map[string]any{},
	}
}

// Discover marks a tool id as eligible for tool/sandbox use.
func (s *AgentState) Discover(toolID string) {
	s.DiscoveredTools[toolID] = struct{}{}
}

// IsDiscovered reports whether a tool id was surfaced by a prior search.
func (s *AgentState) IsDiscovered(toolID string) bool {
	_, ok := s.DiscoveredTools[toolID]
	return ok
}

// MergeSearchResults unions new descriptors into SearchResults, deduping
// by tool_id and keeping the most recent descriptor per id (it may carry
// higher detail). Every merged id becomes discovered.
func (s *AgentState) MergeSearchResults(results []ToolDescriptor) {
	for _, r := range results {
		s.Discover(r.ToolID)
		replaced := false
		for i := range s.SearchResults {
			if s.SearchResults[i].ToolID == r.ToolID {
				s.SearchResults[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			s.SearchResults = append(s.SearchResults, r)
		}
	}
}

// RecordStep folds a StepResult into a new history entry and returns it.
// StepID is 1-based and strictly increasing.
func (s *AgentState) RecordStep(cmd Command, res StepResult, startedAt, endedAt time.Time) ExecutionStep {
	step := ExecutionStep{
		StepID:             len(s.History) + 1,
		Type:               res.Type,
		Reasoning:          cmd.Reasoning,
		Command:            cmd,
		Success:            res.Success,
		ObservationPreview: res.Preview,
		RawOutputKey:       res.RawOutputKey,
		Error:              res.Error,
		ErrorCode:          res.ErrorCode,
		StartedAt:          startedAt.UTC(),
		EndedAt:            endedAt.UTC(),
	}
	s.History = append(s.History, step)
	return step
}

// NextStepID returns the id the next recorded step will get.
func (s *AgentState) NextStepID() int {
	return len(s.History) + 1
}

// StoreRawOutput saves a full value under a generated key. Keys are unique
// per run because they embed the step id.
func (s *AgentState) StoreRawOutput(key string, value any) {
	s.RawOutputs[key] = value
}

// MergeOutputs shallow-merges a finish command's outputs into RawOutputs
// without overwriting existing keys.
func (s *AgentState) MergeOutputs(outputs map[string]any) {
	for k, v := range outputs {
		if _, exists := s.RawOutputs[k]; !exists {
			s.RawOutputs[k] = v
		}
	}
}

// AppendLogs attaches sandbox log lines to the run log, keyed by the
// plan label as well so per-plan logs survive into the result.
func (s *AgentState) AppendLogs(label string, lines []string) {
	if len(lines) == 0 {
		return
	}
	s.Logs = append(s.Logs, lines...)
	if s.SandboxLogs == nil {
		s.SandboxLogs = map[string][]string{}
	}
	s.SandboxLogs[label] = append(s.SandboxLogs[label], lines...)
}

// SetTerminal performs the single terminal transition. Later calls are
// ignored so the first terminal outcome wins.
func (s *AgentState) SetTerminal(t TerminalState, summary, errMsg string, code ErrorCode) {
	if s.Terminal != TerminalNone {
		return
	}
	s.Terminal = t
	s.FinalSummary = summary
	s.Error = errMsg
	s.ErrorCode = code
}

// promptStep is the per-step slice of history carried in the projection.
type promptStep struct {
	Type      CommandType `json:"type"`
	Reasoning string      `json:"reasoning"`
	Preview   string      `json:"preview"`
	Error     string      `json:"error,omitempty"`
}

// promptState fixes the key order of the projection: task, budget, usage,
// inventory_view, search_results, history_window, extra_context.
// Deterministic ordering keeps planner outputs comparable across runs.
type promptState struct {
	Task          string              `json:"task"`
	Budget        Budget              `json:"budget"`
	Usage         BudgetUsage         `json:"usage"`
	InventoryView map[string][]string `json:"inventory_view"`
	SearchResults []ToolDescriptor    `json:"search_results"`
	HistoryWindow []promptStep        `json:"history_window"`
	ExtraContext  map[string]any      `json:"extra_context,omitempty"`
}

// BuildPromptState renders the state the planner sees: the task, budget
// snapshot, inventory, latest search results, and the last `window` steps
// with previews clamped to PromptPreviewMax.
func (s *AgentState) BuildPromptState(window int) ([]byte, error) {
	if window <= 0 {
		window = HistoryWindowDefault
	}
	start := len(s.History) - window
	if start < 0 {
		start = 0
	}
	steps := make([]promptStep, 0, len(s.History)-start)
	for _, h := range s.History[start:] {
		preview := h.ObservationPreview
		if len(preview) > PromptPreviewMax {
			preview = preview[:PromptPreviewMax]
		}
		errMsg := h.Error
		if len(errMsg) > PromptPreviewMax {
			errMsg = errMsg[:PromptPreviewMax]
		}
		steps = append(steps, promptStep{
			Type:      h.Type,
			Reasoning: h.Reasoning,
			Preview:   preview,
			Error:     errMsg,
		})
	}
	ps := promptState{
		Task:          s.Task,
		Budget:        s.Budget,
		Usage:         s.Usage,
		InventoryView: s.InventoryView,
		SearchResults: s.SearchResults,
		HistoryWindow: steps,
		ExtraContext:  s.ExtraContext,
	}
	b, err := json.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("marshal prompt state: %w", err)
	}
	return b, nil
}

// BuildResult packages the terminal state of a run.
func (s *AgentState) BuildResult() TaskResult {
	summary := s.FinalSummary
	if summary == "" {
		summary = autoSummary(s)
	}
	return TaskResult{
		RunID:        s.RunID,
		Success:      s.Terminal == TerminalFinish,
		FinalSummary: summary,
		RawOutputs:   s.RawOutputs,
		BudgetUsage:  s.Usage,
		Logs:         s.Logs,
		Steps:        s.History,
		Error:        s.Error,
		ErrorCode:    s.ErrorCode,
		SandboxLogs:  s.SandboxLogs,
	}
}

// autoSummary produces a terse fallback summary when the terminal step did
// not provide one.
func autoSummary(s *AgentState) string {
	if s.Terminal == TerminalFinish {
		return fmt.Sprintf("task completed in %d steps", len(s.History))
	}
	if s.Error != "" {
		return s.Error
	}
	return fmt.Sprintf("task ended without a summary after %d steps", len(s.History))
}
