package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/models"
)

func discoveredSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func gateCode(t *testing.T, err error) models.ErrorCode {
	t.Helper()
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	return gerr.Code
}

func TestGateAcceptsDiscoveredImports(t *testing.T) {
	discovered := discoveredSet("github.list_issues", "slack.post_message")
	code := `from sandbox_py.servers import github
from sandbox_py.servers.slack import post_message
import sandbox_py.servers.github as gh

issues = await github.list_issues(owner="acme")
await post_message(channel="C1", text="hi")
more = await gh.list_issues(owner="acme")
return {"count": len(issues)}`

	assert.NoError(t, CheckSnippet(code, discovered))
}

func TestGateRejectsUnknownServer(t *testing.T) {
	discovered := discoveredSet("github.list_issues")
	code := `from sandbox_py.servers import notion

pages = await notion.search(query="roadmap")`

	err := CheckSnippet(code, discovered)
	assert.Equal(t, models.ErrCodeUnknownServer, gateCode(t, err))
	assert.Contains(t, err.Error(), `"notion"`)
}

func TestGateRejectsUndiscoveredAttributeCall(t *testing.T) {
	discovered := discoveredSet("github.list_issues")
	code := `from sandbox_py.servers import github

await github.create_issue(owner="acme", title="bug")`

	err := CheckSnippet(code, discovered)
	assert.Equal(t, models.ErrCodeUndiscoveredTool, gateCode(t, err))
	assert.Contains(t, err.Error(), `"github.create_issue"`)
}

func TestGateRejectsUndiscoveredFromImport(t *testing.T) {
	discovered := discoveredSet("github.list_issues")
	code := `from sandbox_py.servers.github import create_issue`

	err := CheckSnippet(code, discovered)
	assert.Equal(t, models.ErrCodeUndiscoveredTool, gateCode(t, err))
}

func TestGateInspectToolAlwaysAllowed(t *testing.T) {
	code := `from sandbox_py.servers import toolbox

fields = await toolbox.inspect_tool_output(tool_id="github.list_issues")`

	assert.NoError(t, CheckSnippet(code, discoveredSet()))
}

func TestGateRejectsOtherToolboxTools(t *testing.T) {
	code := `from sandbox_py.servers import toolbox

await toolbox.forget_everything()`

	err := CheckSnippet(code, discoveredSet())
	assert.Equal(t, models.ErrCodeUndiscoveredTool, gateCode(t, err))
}

func TestGateScaffoldConflicts(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"def main", "def main():\n    pass"},
		{"async def main", "async def main():\n    return {}"},
		{"asyncio.run", "asyncio.run(main())"},
		{"assigned asyncio.run", "result = asyncio.run(work())"},
		{"name guard", "if __name__ == \"__main__\":\n    pass"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckSnippet(tc.code, discoveredSet())
			assert.Equal(t, models.ErrCodeSandboxBody, gateCode(t, err))
		})
	}
}

func TestGateIgnoresNestedScaffoldConstructs(t *testing.T) {
	// Only zero-indentation lines conflict with the generated scaffold.
	code := `def helper():
    if __name__ != "plan":
        pass
    return 1

x = helper()`

	assert.NoError(t, CheckSnippet(code, discoveredSet()))
}

func TestGateSkipsCommentLines(t *testing.T) {
	code := `# from sandbox_py.servers import notion
# asyncio.run(main())
x = 1
return {"x": x}`

	assert.NoError(t, CheckSnippet(code, discoveredSet()))
}

func TestGateAliasedImportList(t *testing.T) {
	discovered := discoveredSet("github.list_issues", "slack.post_message")
	code := `from sandbox_py.servers import github as gh, slack

await gh.list_issues(owner="acme")
await slack.list_channels()`

	err := CheckSnippet(code, discovered)
	assert.Equal(t, models.ErrCodeUndiscoveredTool, gateCode(t, err))
	assert.Contains(t, err.Error(), `"slack.list_channels"`)
}

func TestGateParenthesizedImport(t *testing.T) {
	discovered := discoveredSet("github.list_issues")
	code := `from sandbox_py.servers import (github, jira)`

	err := CheckSnippet(code, discovered)
	assert.Equal(t, models.ErrCodeUnknownServer, gateCode(t, err))
	assert.Contains(t, err.Error(), `"jira"`)
}

func TestGateFullyDottedCall(t *testing.T) {
	discovered := discoveredSet("github.list_issues")
	code := `import sandbox_py.servers.github

issues = await sandbox_py.servers.github.list_issues(owner="acme")`

	assert.NoError(t, CheckSnippet(code, discovered))

	bad := `import sandbox_py.servers.github

await sandbox_py.servers.github.delete_repo(owner="acme")`
	err := CheckSnippet(bad, discovered)
	assert.Equal(t, models.ErrCodeUndiscoveredTool, gateCode(t, err))
}

func TestGateEmptySnippet(t *testing.T) {
	assert.NoError(t, CheckSnippet("", discoveredSet()))
	assert.NoError(t, CheckSnippet("\n\n", discoveredSet()))
}

func TestSplitImportList(t *testing.T) {
	names := splitImportList("github, slack as sl, nope nope nope")
	require.Len(t, names, 2)
	assert.Equal(t, "github", names[0].name)
	assert.Equal(t, "github", names[0].local())
	assert.Equal(t, "slack", names[1].name)
	assert.Equal(t, "sl", names[1].local())
}
