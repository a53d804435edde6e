// Package models defines the core data model shared across the planner
// runtime: tenants, budgets, commands, steps, agent state, and results.
package models

import (
	"fmt"
	"log/slog"
)

// ErrorCode is the machine-readable failure classification surfaced on
// TaskResult and on individual steps.
type ErrorCode string

const (
	ErrCodeBudgetExhausted  ErrorCode = "budget_exhausted"
	ErrCodeProtocolError    ErrorCode = "protocol_error"
	ErrCodeLLMUnavailable   ErrorCode = "llm_unavailable"
	ErrCodeDiscoveryFailed  ErrorCode = "discovery_failed"
	ErrCodeUnknownTool      ErrorCode = "planner_used_unknown_tool"
	ErrCodeUnknownServer    ErrorCode = "planner_used_unknown_server"
	ErrCodeUndiscoveredTool ErrorCode = "planner_used_undiscovered_tool"
	ErrCodeSandboxSyntax    ErrorCode = "sandbox_syntax_error"
	ErrCodeSandboxBody      ErrorCode = "sandbox_invalid_body"
	ErrCodeSandboxRuntime   ErrorCode = "sandbox_runtime_error"
	ErrCodeSandboxTimeout   ErrorCode = "sandbox_timeout"
	ErrCodeSandboxEmpty     ErrorCode = "sandbox_empty_result"
	ErrCodePlannerFailed    ErrorCode = "planner_failed"
	ErrCodeCancelled        ErrorCode = "cancelled"
	ErrCodeOverloaded       ErrorCode = "overloaded"
	ErrCodeInternal         ErrorCode = "internal_error"
)

// Budget axis names, used in budget.exceeded events and final summaries.
const (
	AxisSteps      = "max_steps"
	AxisToolCalls  = "max_tool_calls"
	AxisCodeRuns   = "max_code_runs"
	AxisLLMCostUSD = "max_llm_cost_usd"
)

// Default budget values applied when the caller omits an axis.
const (
	DefaultMaxSteps      = 10
	DefaultMaxToolCalls  = 30
	DefaultMaxCodeRuns   = 5
	DefaultMaxLLMCostUSD = 0.50
)

// TenantContext carries the identity a run executes under. The logger is
// pre-bound with the user id so every component logs with tenant context.
type TenantContext struct {
	UserID      string            `json:"user_id"`
	Credentials map[string]string `json:"-"`
	Logger      *slog.Logger      `json:"-"`
}

// NewTenantContext builds a tenant context with a bound logger.
func NewTenantContext(userID string) TenantContext {
	return TenantContext{
		UserID: userID,
		Logger: slog.Default().With("user_id", userID),
	}
}

// Validate checks the tenant is usable for a run.
func (t TenantContext) Validate() error {
	if t.UserID == "" {
		return fmt.Errorf("tenant user_id must not be empty")
	}
	return nil
}

// Budget holds the per-run limits. Immutable after construction.
// A zero value on any axis means the axis is disabled: the run terminates
// with budget_exhausted at the first step governed by that axis.
type Budget struct {
	MaxSteps      int     `json:"max_steps"`
	MaxToolCalls  int     `json:"max_tool_calls"`
	MaxCodeRuns   int     `json:"max_code_runs"`
	MaxLLMCostUSD float64 `json:"max_llm_cost_usd"`
}

// DefaultBudget returns the documented defaults (10 / 30 / 5 / $0.50).
func DefaultBudget() Budget {
	return Budget{
		MaxSteps:      DefaultMaxSteps,
		MaxToolCalls:  DefaultMaxToolCalls,
		MaxCodeRuns:   DefaultMaxCodeRuns,
		MaxLLMCostUSD: DefaultMaxLLMCostUSD,
	}
}

// BudgetSpec is the caller-facing partial budget. Nil fields resolve to
// defaults; explicit zeros disable the axis. This keeps "omitted" and
// "set to 0" distinguishable across JSON boundaries.
type BudgetSpec struct {
	MaxSteps      *int     `json:"max_steps,omitempty"`
	MaxToolCalls  *int     `json:"max_tool_calls,omitempty"`
	MaxCodeRuns   *int     `json:"max_code_runs,omitempty"`
	MaxLLMCostUSD *float64 `json:"max_llm_cost_usd,omitempty"`
}

// Resolve merges the spec over the defaults.
func (s *BudgetSpec) Resolve() Budget {
	b := DefaultBudget()
	if s == nil {
		return b
	}
	if s.MaxSteps != nil {
		b.MaxSteps = *s.MaxSteps
	}
	if s.MaxToolCalls != nil {
		b.MaxToolCalls = *s.MaxToolCalls
	}
	if s.MaxCodeRuns != nil {
		b.MaxCodeRuns = *s.MaxCodeRuns
	}
	if s.MaxLLMCostUSD != nil {
		b.MaxLLMCostUSD = *s.MaxLLMCostUSD
	}
	return b
}

// BudgetUsage tracks spend per axis. All fields are monotonic
// non-decreasing for the lifetime of a run.
type BudgetUsage struct {
	StepsTaken          int     `json:"steps_taken"`
	ToolCalls           int     `json:"tool_calls"`
	CodeRuns            int     `json:"code_runs"`
	EstimatedLLMCostUSD float64 `json:"estimated_llm_cost_usd"`
}

// ExceededAxis returns the first exhausted axis checked at the top of the
// planner loop (steps, then LLM cost), or "" while within budget. The >=
// comparison makes a disabled (zero) axis trip before the first step.
func (b Budget) ExceededAxis(u BudgetUsage) string {
	if u.StepsTaken >= b.MaxSteps {
		return AxisSteps
	}
	if u.EstimatedLLMCostUSD >= b.MaxLLMCostUSD {
		return AxisLLMCostUSD
	}
	return ""
}

// ToolCallsExhausted reports whether a tool command may still execute.
func (b Budget) ToolCallsExhausted(u BudgetUsage) bool {
	return u.ToolCalls >= b.MaxToolCalls
}

// CodeRunsExhausted reports whether a sandbox command may still execute.
func (b Budget) CodeRunsExhausted(u BudgetUsage) bool {
	return u.CodeRuns >= b.MaxCodeRuns
}

// TaskResult is the single value a run emits. Success is true exactly when
// the run reached a finish terminal.
type TaskResult struct {
	RunID        string          `json:"run_id"`
	Success      bool            `json:"success"`
	FinalSummary string          `json:"final_summary"`
	RawOutputs   map[string]any  `json:"raw_outputs"`
	BudgetUsage  BudgetUsage     `json:"budget_usage"`
	Logs         []string        `json:"logs"`
	Steps        []ExecutionStep `json:"steps"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    ErrorCode       `json:"error_code,omitempty"`

	// SandboxLogs carries the run's sandbox output grouped by plan label.
	SandboxLogs map[string][]string `json:"sandbox_logs,omitempty"`
}
