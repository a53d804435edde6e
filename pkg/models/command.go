package models

import (
	"encoding/json"
	"fmt"
)

// CommandType tags the five planner commands.
type CommandType string

const (
	CommandSearch  CommandType = "search"
	CommandTool    CommandType = "tool"
	CommandSandbox CommandType = "sandbox"
	CommandFinish  CommandType = "finish"
	CommandFail    CommandType = "fail"

	// CommandInvalid marks synthetic history entries recorded for planner
	// replies that failed to parse. The parser never produces it.
	CommandInvalid CommandType = "invalid"
)

// DetailLevel controls how much descriptor detail a search returns.
const (
	DetailSummary = "summary"
	DetailFull    = "full"
)

// ToolboxProvider is the built-in provider, always authorized for every
// tenant.
const ToolboxProvider = "toolbox"

// InspectToolID is the built-in drill-down tool. It may be invoked
// without prior discovery.
const InspectToolID = "toolbox.inspect_tool_output"

// Search result limits. The parser clamps nothing; out-of-range values are
// protocol errors.
const (
	SearchLimitDefault = 10
	SearchLimitMax     = 50
)

// Command is one parsed planner command. It is a tagged variant: Type
// selects which fields are meaningful, and the executor switches
// exhaustively over it. All commands carry a non-empty Reasoning.
type Command struct {
	Type      CommandType `json:"type"`
	Reasoning string      `json:"reasoning"`

	// search
	Query       string `json:"query,omitempty"`
	DetailLevel string `json:"detail_level,omitempty"`
	Limit       int    `json:"limit,omitempty"`

	// tool
	ToolID string         `json:"tool_id,omitempty"`
	Server string         `json:"server,omitempty"`
	Args   map[string]any `json:"args,omitempty"`

	// sandbox
	Label string `json:"label,omitempty"`
	Code  string `json:"code,omitempty"`

	// finish
	Summary string         `json:"summary,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`

	// fail
	Reason string `json:"reason,omitempty"`
}

// MarshalJSON emits the canonical per-type serialization: only the fields
// that belong to the command's type, with tool args always present (an
// empty object rather than omitted) so serialize-then-parse is identity.
func (c Command) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"type":      c.Type,
		"reasoning": c.Reasoning,
	}
	switch c.Type {
	case CommandSearch:
		out["query"] = c.Query
		if c.DetailLevel != "" {
			out["detail_level"] = c.DetailLevel
		}
		if c.Limit != 0 {
			out["limit"] = c.Limit
		}
	case CommandTool:
		out["tool_id"] = c.ToolID
		out["server"] = c.Server
		args := c.Args
		if args == nil {
			args = map[string]any{}
		}
		out["args"] = args
	case CommandSandbox:
		out["label"] = c.Label
		out["code"] = c.Code
	case CommandFinish:
		out["summary"] = c.Summary
		if c.Outputs != nil {
			out["outputs"] = c.Outputs
		}
	case CommandFail:
		out["reason"] = c.Reason
	case CommandInvalid:
		// Synthetic entry; type and reasoning are all there is.
	default:
		return nil, fmt.Errorf("unknown command type %q", c.Type)
	}
	return json.Marshal(out)
}

// Provider returns the provider half of a tool command's tool_id, or ""
// when the id is not of the provider.name form.
func (c Command) Provider() string {
	for i := 0; i < len(c.ToolID); i++ {
		if c.ToolID[i] == '.' {
			return c.ToolID[:i]
		}
	}
	return ""
}

// ToolName returns the name half of a tool command's tool_id.
func (c Command) ToolName() string {
	for i := 0; i < len(c.ToolID); i++ {
		if c.ToolID[i] == '.' {
			return c.ToolID[i+1:]
		}
	}
	return ""
}
