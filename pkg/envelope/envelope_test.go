package envelope

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/masking"
)

func newTestEnvelope(t *testing.T) *Envelope {
	t.Helper()
	return New(masking.NewService(masking.Config{Enabled: true}))
}

func TestBoundTruncatesLongStrings(t *testing.T) {
	env := newTestEnvelope(t)
	long := strings.Repeat("a", 1200)

	bounded := env.Bound(map[string]any{"body": long}, "")

	obs, ok := bounded.Observation.(map[string]any)
	require.True(t, ok)
	s, ok := obs["body"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(s, "…[1200 chars]"))
	assert.True(t, strings.HasPrefix(s, strings.Repeat("a", 500)))
	assert.False(t, bounded.Stored)
}

func TestBoundKeepsShortStrings(t *testing.T) {
	env := newTestEnvelope(t)

	bounded := env.Bound(map[string]any{"name": "release-42"}, "")

	obs := bounded.Observation.(map[string]any)
	assert.Equal(t, "release-42", obs["name"])
	assert.Equal(t, bounded.OriginalBytes, bounded.CompressedBytes)
}

func TestBoundClipsLongArrays(t *testing.T) {
	env := newTestEnvelope(t)
	items := make([]any, 35)
	for i := range items {
		items[i] = float64(i)
	}

	bounded := env.Bound(map[string]any{"ids": items}, "")

	obs := bounded.Observation.(map[string]any)
	clipped, ok := obs["ids"].([]any)
	require.True(t, ok)
	require.Len(t, clipped, MaxArrayItems+1)
	assert.Equal(t, "…+15 more", clipped[MaxArrayItems])
	assert.Equal(t, float64(0), clipped[0])
}

func TestBoundFoldsDeepObjects(t *testing.T) {
	env := newTestEnvelope(t)
	value := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": map[string]any{"d": 1, "e": 2},
				"f": []any{1, 2, 3},
			},
		},
	}

	bounded := env.Bound(value, "")

	obs := bounded.Observation.(map[string]any)
	level2 := obs["a"].(map[string]any)["b"].(map[string]any)
	assert.Equal(t, "object (2 fields)", level2["c"])
	assert.Equal(t, "array (3 items)", level2["f"])
}

func TestBoundSpillsOversizedValues(t *testing.T) {
	env := newTestEnvelope(t)
	rows := make([]any, 500)
	for i := range rows {
		rows[i] = map[string]any{"id": i, "name": strings.Repeat("x", 40)}
	}

	bounded := env.Bound(rows, "tool:github.list_issues:3")

	require.True(t, bounded.Stored)
	assert.Equal(t, "tool:github.list_issues:3", bounded.StoredKey)
	assert.LessOrEqual(t, len(bounded.Preview), MaxPreviewBytes)

	summary, ok := bounded.Observation.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tool:github.list_issues:3", summary["_stored"])
	assert.Equal(t, 500, summary["total"])
	first, ok := summary["first"].([]any)
	require.True(t, ok)
	assert.Len(t, first, 5)

	stored, ok := bounded.StoredValue.([]any)
	require.True(t, ok)
	assert.Len(t, stored, 500)
}

func TestBoundRedactsBeforeStorage(t *testing.T) {
	env := newTestEnvelope(t)
	value := map[string]any{"token": "xoxb-1234-abcd"}
	for i := 0; i < 12; i++ {
		value[string(rune('a'+i))] = strings.Repeat("p", 400)
	}

	bounded := env.Bound(value, "tool:slack.auth:1")

	require.True(t, bounded.Stored)
	stored := bounded.StoredValue.(map[string]any)
	assert.Equal(t, masking.RedactedPlaceholder, stored["token"])
	assert.NotContains(t, bounded.Preview, "xoxb-1234-abcd")
}

func TestBoundReducesWithoutStoreKey(t *testing.T) {
	env := newTestEnvelope(t)
	rows := make([]any, 50)
	for i := range rows {
		rows[i] = map[string]any{"tool_id": "github.search_code", "description": strings.Repeat("d", 200)}
	}

	bounded := env.Bound(rows, "")

	assert.False(t, bounded.Stored)
	assert.LessOrEqual(t, len(bounded.Preview), MaxPreviewBytes)
	var decoded any
	require.NoError(t, json.Unmarshal([]byte(bounded.Preview), &decoded))
}

func TestBoundNilMasker(t *testing.T) {
	env := New(nil)

	bounded := env.Bound(map[string]any{"token": "keep-me"}, "")

	obs := bounded.Observation.(map[string]any)
	assert.Equal(t, "keep-me", obs["token"])
}

func TestRawOutputKeys(t *testing.T) {
	assert.Equal(t, "tool:github.list_issues:4", ToolKey("github.list_issues", 4))
	assert.Equal(t, "sandbox:triage:7", SandboxKey("triage", 7))
}

func TestTruncateStringRuneSafe(t *testing.T) {
	s := strings.Repeat("é", 600)
	out := TruncateString(s, MaxStringChars)
	assert.True(t, strings.HasSuffix(out, "…[600 chars]"))
	assert.Equal(t, strings.Repeat("é", 500), strings.TrimSuffix(out, "…[600 chars]"))
}
