package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/toolindex"
)

func buildTestIndex(t *testing.T) *toolindex.Index {
	t.Helper()
	ix, err := toolindex.Build([]toolindex.Definition{
		{
			Provider: "github",
			Name:     "list_issues",
			Doc:      "List issues for a repository.\n\nParams:\n  owner: Repository owner.",
			Params: []toolindex.Param{
				{Name: "tenant", Type: "TenantContext"},
				{Name: "owner", Type: "str"},
				{Name: "state", Type: "str", HasDefault: true, Default: `"open"`},
			},
		},
		{
			Provider: "slack",
			Name:     "post_message",
			Doc:      "Post a message to a channel.",
			Params: []toolindex.Param{
				{Name: "tenant", Type: "TenantContext"},
				{Name: "channel", Type: "str"},
				{Name: "text", Type: "str"},
			},
		},
	})
	require.NoError(t, err)
	return ix
}

func readGenerated(t *testing.T, w *Workspace, parts ...string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(append([]string{w.Root}, parts...)...))
	require.NoError(t, err)
	return string(data)
}

func TestMaterializeLayout(t *testing.T) {
	w, err := Materialize(t.TempDir(), buildTestIndex(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Remove() })

	for _, rel := range []string{
		filepath.Join("sandbox_py", "__init__.py"),
		filepath.Join("sandbox_py", "client.py"),
		filepath.Join("sandbox_py", "servers", "__init__.py"),
		filepath.Join("sandbox_py", "servers", "github", "__init__.py"),
		filepath.Join("sandbox_py", "servers", "slack", "__init__.py"),
	} {
		_, err := os.Stat(filepath.Join(w.Root, rel))
		assert.NoError(t, err, rel)
	}
}

func TestMaterializeCreatesBaseDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "runs")
	w, err := Materialize(base, buildTestIndex(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Remove() })

	rel, err := filepath.Rel(base, w.Root)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
}

func TestGeneratedProviderModule(t *testing.T) {
	w, err := Materialize(t.TempDir(), buildTestIndex(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Remove() })

	github := readGenerated(t, w, "sandbox_py", "servers", "github", "__init__.py")
	assert.Contains(t, github, "from sandbox_py.client import call_tool")
	assert.Contains(t, github, `async def list_issues(owner: str, state: str = "open"):`)
	assert.Contains(t, github, `"""List issues for a repository."""`)
	assert.Contains(t, github, `return call_tool("github", "list_issues", {"owner": owner, "state": state})`)

	slack := readGenerated(t, w, "sandbox_py", "servers", "slack", "__init__.py")
	assert.Contains(t, slack, "async def post_message(channel: str, text: str):")
	assert.Contains(t, slack, `return call_tool("slack", "post_message", {"channel": channel, "text": text})`)
}

func TestGeneratedClientModule(t *testing.T) {
	w, err := Materialize(t.TempDir(), buildTestIndex(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Remove() })

	client := readGenerated(t, w, "sandbox_py", "client.py")
	assert.Contains(t, client, "def call_tool(provider, name, args):")
	assert.Contains(t, client, `struct.pack(">I", len(payload))`)
	for _, env := range []string{EnvIPCNet, EnvIPCAddr, EnvRunID, EnvRunToken} {
		assert.Contains(t, client, env)
	}
}

func TestWritePlan(t *testing.T) {
	w, err := Materialize(t.TempDir(), buildTestIndex(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Remove() })

	path, err := w.WritePlan("from sandbox_py.servers import github\n\nissues = await github.list_issues(owner=\"acme\")\nreturn issues")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Root, "plan.py"), path)

	plan := readGenerated(t, w, "plan.py")
	assert.Contains(t, plan, "async def main():\n")
	assert.Contains(t, plan, "    from sandbox_py.servers import github\n")
	assert.Contains(t, plan, "    issues = await github.list_issues(owner=\"acme\")\n")
	assert.Contains(t, plan, "    return issues\n")
	assert.Contains(t, plan, `print("`+Sentinel+`" + json.dumps(result, default=str))`)
	assert.Contains(t, plan, "if result is None:")
}

func TestRenderPlanEmptySnippet(t *testing.T) {
	plan := renderPlan("")
	assert.Contains(t, plan, "async def main():\n    pass\n")
}

func TestWorkspaceRemove(t *testing.T) {
	w, err := Materialize(t.TempDir(), buildTestIndex(t))
	require.NoError(t, err)
	require.NoError(t, w.Remove())

	_, err = os.Stat(w.Root)
	assert.True(t, os.IsNotExist(err))

	var nilWorkspace *Workspace
	assert.NoError(t, nilWorkspace.Remove())
}

func TestDocstringLine(t *testing.T) {
	assert.Equal(t, "List issues.", docstringLine("List issues.\n\nMore detail here."))
	assert.Equal(t, "", docstringLine(""))
	assert.Equal(t, "", docstringLine(`Contains """ quotes`))
	assert.Equal(t, "", docstringLine(`Back\slash`))
}
