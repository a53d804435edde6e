package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/models"
)

func TestSystemPromptStatesTheContract(t *testing.T) {
	prompt := SystemPrompt()

	for _, schema := range []string{
		`{"type": "search"`,
		`{"type": "tool"`,
		`{"type": "sandbox"`,
		`{"type": "finish"`,
		`{"type": "fail"`,
	} {
		assert.Contains(t, prompt, schema)
	}

	assert.Contains(t, prompt, `non-empty "reasoning"`)
	assert.Contains(t, prompt, "discovered by search")
	assert.Contains(t, prompt, "toolbox.inspect_tool_output")
	assert.Contains(t, prompt, "sandbox_py.servers")
	assert.Contains(t, prompt, "do not call asyncio.run")
	assert.Contains(t, prompt, "Output raw JSON only")
}

func TestBuildRequestProjectsState(t *testing.T) {
	state := models.NewAgentState("run-1", "count open issues", models.TenantContext{UserID: "alice"}, models.DefaultBudget(), map[string]any{"repo": "acme/widgets"})
	state.InventoryView = map[string][]string{
		"github":  {"list_issues", "create_issue"},
		"toolbox": {"inspect_tool_output"},
	}

	now := time.Now()
	cmd := models.Command{Type: models.CommandSearch, Reasoning: "find issue tools", Query: "issues"}
	state.RecordStep(cmd, models.StepResult{Type: models.CommandSearch, Success: true, Preview: "2 tools"}, now, now)

	req, err := BuildRequest(state)
	require.NoError(t, err)

	assert.Equal(t, SystemPrompt(), req.System)
	assert.True(t, strings.HasPrefix(req.User, "## Current Run State"))
	assert.Contains(t, req.User, `"task":"count open issues"`)
	assert.Contains(t, req.User, `"github"`)
	assert.Contains(t, req.User, `"find issue tools"`)
	assert.Contains(t, req.User, `"repo":"acme/widgets"`)
	assert.True(t, strings.HasSuffix(req.User, userPromptSuffix))
}

func TestBuildRequestIsDeterministic(t *testing.T) {
	state := models.NewAgentState("run-2", "a task", models.TenantContext{UserID: "bob"}, models.DefaultBudget(), nil)
	state.InventoryView = map[string][]string{"slack": {"post_message"}, "github": {"list_issues"}}

	first, err := BuildRequest(state)
	require.NoError(t, err)
	second, err := BuildRequest(state)
	require.NoError(t, err)

	assert.Equal(t, first.User, second.User)
}
