package models

// ToolDescriptor is the compact tool description surfaced to the planner
// in search results and in the prompt projection. InputParams maps each
// exposed parameter name to "<type> (required|optional, default=X) - <doc>".
// OutputSchemaPretty is only populated at detail level "full".
type ToolDescriptor struct {
	ToolID             string            `json:"tool_id"`
	Server             string            `json:"server"`
	Signature          string            `json:"signature"`
	Description        string            `json:"description"`
	InputParams        map[string]string `json:"input_params"`
	OutputFields       []string          `json:"output_fields"`
	HasHiddenFields    bool              `json:"has_hidden_fields"`
	OutputSchemaPretty string            `json:"output_schema_pretty,omitempty"`
}
