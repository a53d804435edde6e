package registry

import (
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

// BuiltinDefinitions returns the toolbox definitions present in every
// tenant snapshot. Their invocation is handled by the dispatcher against
// the run's own index, not by a provider adapter.
func BuiltinDefinitions() []toolindex.Definition {
	return []toolindex.Definition{
		{
			Provider: models.ToolboxProvider,
			Name:     "inspect_tool_output",
			Doc: `Expand the output schema of an indexed tool.

Returns every flattened field underneath field_path, unfolding the
"contains N sub-fields" markers shown in search results.

Params:
    tool_id: Tool to inspect, in provider.name form.
    field_path: Dot path to expand. Empty expands from the root; "[]" steps into array items.`,
			Params: []toolindex.Param{
				{Name: "tenant", Type: "TenantContext"},
				{Name: "tool_id", Type: "str"},
				{Name: "field_path", Type: "str", HasDefault: true, Default: `""`},
			},
			OutputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tool_id": map[string]any{
						"type":        "string",
						"description": "Tool the fields belong to.",
					},
					"field_path": map[string]any{
						"type":        "string",
						"description": "Path the expansion started from.",
					},
					"output_fields": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Flattened field lines under the path.",
					},
				},
			},
		},
	}
}
