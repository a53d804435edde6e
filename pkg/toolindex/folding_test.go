package toolindex

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueListSchema(itemFields int) map[string]any {
	item := map[string]any{
		"id":     map[string]any{"type": "integer"},
		"title":  map[string]any{"type": "string"},
		"status": map[string]any{"type": "string"},
	}
	for i := 0; i < itemFields; i++ {
		item[fmt.Sprintf("extra_%02d", i)] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"total_count": map[string]any{"type": "integer"},
			"items": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object", "properties": item},
			},
		},
	}
}

func TestSummarizeKeepsIdentityLeavesAtDepth(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"payload": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"owner_id": map[string]any{"type": "string"},
					"blob":     map[string]any{"type": "string"},
				},
			},
		},
	}

	lines, hidden := Summarize(schema)

	assert.Contains(t, lines, "payload.owner_id: string")
	assert.Contains(t, lines, "payload.blob: string")
	assert.False(t, hidden)
}

func TestSummarizeSmallSchemaShowsEverything(t *testing.T) {
	lines, hidden := Summarize(issueListSchema(2))

	assert.False(t, hidden)
	assert.Contains(t, lines, "total_count: integer")
	assert.Contains(t, lines, "items.[].id: integer")
	assert.Contains(t, lines, "items.[].title: string")
	assert.Contains(t, lines, "items.[].extra_00: string")
}

func TestSummarizeFoldsOversizedContainers(t *testing.T) {
	lines, hidden := Summarize(issueListSchema(40))

	assert.True(t, hidden)
	assert.LessOrEqual(t, len(lines), MaxSummaryFields)

	// Identity leaves survive at full depth even though the container
	// itself folded.
	assert.Contains(t, lines, "items.[].id: integer")
	assert.Contains(t, lines, "items.[].status: string")
	assert.Contains(t, lines,
		`items: object (contains 43 sub-fields; inspect_tool_output(..., field_path="items"))`)
}

func TestSummarizeBudgetNeverExceeded(t *testing.T) {
	props := map[string]any{}
	for i := 0; i < 100; i++ {
		props[fmt.Sprintf("field_%03d", i)] = map[string]any{"type": "string"}
	}
	schema := map[string]any{"type": "object", "properties": props}

	lines, hidden := Summarize(schema)

	assert.True(t, hidden)
	assert.LessOrEqual(t, len(lines), MaxSummaryFields)
}

func TestSummarizeDeterministic(t *testing.T) {
	first, _ := Summarize(issueListSchema(40))
	second, _ := Summarize(issueListSchema(40))
	assert.Equal(t, first, second)
}

func TestSummarizeEmptySchema(t *testing.T) {
	lines, hidden := Summarize(nil)
	assert.Empty(t, lines)
	assert.False(t, hidden)
}

func TestSummarizeArrayRoot(t *testing.T) {
	schema := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":    map[string]any{"type": "string"},
				"email": map[string]any{"type": "string"},
			},
		},
	}

	lines, hidden := Summarize(schema)

	assert.False(t, hidden)
	assert.Contains(t, lines, "[].id: string")
	assert.Contains(t, lines, "[].email: string")
}

func TestSummarizeIncludesDescriptions(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer", "description": "Total matches."},
		},
	}

	lines, _ := Summarize(schema)
	assert.Contains(t, lines, "count: integer - Total matches.")
}

// Unfolding every fold marker must reach exactly the leaves a direct
// full flatten reaches.
func TestUnfoldCoversAllHiddenLeaves(t *testing.T) {
	schema := issueListSchema(40)

	lines, hidden := Summarize(schema)
	require.True(t, hidden)

	seen := map[string]bool{}
	for _, line := range lines {
		if idx := strings.Index(line, ": object (contains"); idx >= 0 {
			path := line[:idx]
			expanded, err := unfoldSchema(schema, path)
			require.NoError(t, err)
			for _, sub := range expanded {
				seen[pathOfLine(sub)] = true
			}
			continue
		}
		seen[pathOfLine(line)] = true
	}

	for _, l := range flattenLeaves(schema, "") {
		assert.True(t, seen[l.path], "leaf %s unreachable after unfolding", l.path)
	}
}

func TestUnfoldPathErrors(t *testing.T) {
	schema := issueListSchema(2)

	_, err := unfoldSchema(schema, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown segment")

	_, err = unfoldSchema(schema, "total_count.[]")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an array")
}

func TestUnfoldSubtree(t *testing.T) {
	lines, err := unfoldSchema(issueListSchema(2), "items")
	require.NoError(t, err)

	assert.Contains(t, lines, "items.[].id: integer")
	assert.Contains(t, lines, "items.[].extra_01: string")
	assert.NotContains(t, lines, "total_count: integer")
}

func pathOfLine(line string) string {
	if idx := strings.Index(line, ":"); idx >= 0 {
		return line[:idx]
	}
	return line
}
