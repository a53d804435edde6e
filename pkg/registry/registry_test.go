package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

// fakeProvider is a mutable in-memory provider for registry tests.
type fakeProvider struct {
	name string

	mu     sync.Mutex
	defs   []toolindex.Definition
	closed bool
}

func newFakeProvider(name string, tools ...string) *fakeProvider {
	p := &fakeProvider{name: name}
	p.setTools(tools...)
	return p
}

func (p *fakeProvider) setTools(tools ...string) {
	defs := make([]toolindex.Definition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, toolindex.Definition{
			Provider: p.name,
			Name:     tool,
			Doc:      "fake tool",
			Params:   []toolindex.Param{{Name: "tenant", Type: "TenantContext"}},
		})
	}
	p.mu.Lock()
	p.defs = defs
	p.mu.Unlock()
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Definitions(context.Context) ([]toolindex.Definition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defs, nil
}

func (p *fakeProvider) Invoke(_ context.Context, _ models.TenantContext, tool string, _ map[string]any) models.ActionResponse {
	return models.ActionResponse{Successful: true, Data: map[string]any{"tool": tool}}
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func toolIDs(defs []toolindex.Definition) []string {
	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		ids = append(ids, d.ToolID())
	}
	return ids
}

func TestSnapshotAuthorization(t *testing.T) {
	ctx := context.Background()
	r := New()

	require.NoError(t, r.Register(ctx, newFakeProvider("github", "list_issues"), true, nil))
	require.NoError(t, r.Register(ctx, newFakeProvider("slack", "post_message"), false, []string{"alice"}))

	alice := r.SnapshotFor("alice")
	assert.Equal(t, "alice", alice.UserID())
	assert.Equal(t, []string{"github", "slack"}, alice.ProviderNames())
	assert.Equal(t,
		[]string{"github.list_issues", "slack.post_message", models.InspectToolID},
		toolIDs(alice.Definitions()))

	bob := r.SnapshotFor("bob")
	assert.Equal(t, []string{"github"}, bob.ProviderNames())
	assert.True(t, bob.Authorized("github"))
	assert.False(t, bob.Authorized("slack"))
	assert.True(t, bob.Authorized(models.ToolboxProvider))
	_, ok := bob.Provider("slack")
	assert.False(t, ok)
	assert.Equal(t,
		[]string{"github.list_issues", models.InspectToolID},
		toolIDs(bob.Definitions()))
}

func TestGrantRevoke(t *testing.T) {
	ctx := context.Background()
	r := New()
	require.NoError(t, r.Register(ctx, newFakeProvider("slack", "post_message"), false, nil))

	before := r.SnapshotFor("bob")
	require.False(t, before.Authorized("slack"))

	require.NoError(t, r.Grant("bob", "slack"))
	after := r.SnapshotFor("bob")
	assert.True(t, after.Authorized("slack"))

	// Snapshots captured before the grant are unaffected.
	assert.False(t, before.Authorized("slack"))

	r.Revoke("bob", "slack")
	assert.False(t, r.SnapshotFor("bob").Authorized("slack"))
	// And snapshots captured while granted keep their access.
	assert.True(t, after.Authorized("slack"))

	assert.ErrorIs(t, r.Grant("bob", "missing"), ErrUnknownProvider)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	r := New()

	err := r.Register(ctx, newFakeProvider(models.ToolboxProvider, "x"), true, nil)
	require.ErrorContains(t, err, "reserved")

	foreign := newFakeProvider("github", "list_issues")
	foreign.mu.Lock()
	foreign.defs[0].Provider = "other"
	foreign.mu.Unlock()
	err = r.Register(ctx, foreign, true, nil)
	require.ErrorContains(t, err, "does not belong")

	dup := newFakeProvider("github", "list_issues", "list_issues")
	err = r.Register(ctx, dup, true, nil)
	require.ErrorContains(t, err, "duplicate tool")
}

func TestReloadPublishesNewDefinitions(t *testing.T) {
	ctx := context.Background()
	r := New()
	p := newFakeProvider("github", "list_issues")
	require.NoError(t, r.Register(ctx, p, true, nil))

	before := r.SnapshotFor("alice")

	p.setTools("list_issues", "create_issue")
	require.NoError(t, r.Reload(ctx, "github"))

	after := r.SnapshotFor("alice")
	assert.Equal(t,
		[]string{"github.create_issue", "github.list_issues", models.InspectToolID},
		toolIDs(after.Definitions()))

	// The earlier snapshot still holds the old tool surface.
	assert.Equal(t,
		[]string{"github.list_issues", models.InspectToolID},
		toolIDs(before.Definitions()))

	assert.ErrorIs(t, r.Reload(ctx, "missing"), ErrUnknownProvider)
}

func TestDeregisterKeepsCapturedSnapshot(t *testing.T) {
	ctx := context.Background()
	r := New()
	p := newFakeProvider("github", "list_issues")
	require.NoError(t, r.Register(ctx, p, true, nil))

	snap := r.SnapshotFor("alice")
	r.Deregister("github")

	assert.True(t, p.isClosed())
	assert.Empty(t, r.ProviderNames())
	assert.False(t, r.SnapshotFor("alice").Authorized("github"))

	// In-flight runs keep routing through their captured snapshot.
	kept, ok := snap.Provider("github")
	require.True(t, ok)
	assert.Equal(t, "github", kept.Name())

	r.Deregister("github") // no-op
}

func TestRegistryClose(t *testing.T) {
	ctx := context.Background()
	r := New()
	p1 := newFakeProvider("alpha", "x")
	p2 := newFakeProvider("beta", "y")
	require.NoError(t, r.Register(ctx, p1, true, nil))
	require.NoError(t, r.Register(ctx, p2, true, nil))

	require.NoError(t, r.Close())
	assert.True(t, p1.isClosed())
	assert.True(t, p2.isClosed())
	assert.Empty(t, r.ProviderNames())
}

func TestBuiltinDefinitions(t *testing.T) {
	defs := BuiltinDefinitions()
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, models.InspectToolID, def.ToolID())
	require.NotEmpty(t, def.Params)
	assert.Equal(t, "tenant", def.Params[0].Name)
	require.NotNil(t, def.OutputSchema)

	ix, err := toolindex.Build(defs)
	require.NoError(t, err)
	spec, ok := ix.Lookup(models.InspectToolID)
	require.True(t, ok)
	assert.Contains(t, spec.Signature, "field_path")
	assert.Contains(t, spec.InputParams, "tool_id")
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Tenants: map[string]*config.TenantConfig{
			"alice": {Providers: []string{"demo"}},
			"bob":   {Providers: []string{"broken"}},
		},
		ProviderRegistry: config.NewProviderRegistry(map[string]*config.ProviderConfig{
			"demo": {
				Type: config.ProviderTypeStub,
				Tools: []config.StubToolConfig{
					{Name: "echo", Description: "Return a canned response.", Response: map[string]any{"echo": "hi"}},
				},
			},
			"broken": {
				Type: config.ProviderTypeMCP,
				Transport: &config.TransportConfig{
					Type:    config.TransportTypeStdio,
					Command: "/nonexistent/planner-test-binary",
				},
			},
		}),
	}

	r, err := FromConfig(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, []string{"demo"}, r.ProviderNames())

	failed := r.Failed()
	require.Contains(t, failed, "broken")
	assert.NotEmpty(t, failed["broken"])

	snap := r.SnapshotFor("alice")
	require.True(t, snap.Authorized("demo"))
	p, ok := snap.Provider("demo")
	require.True(t, ok)

	resp := p.Invoke(ctx, models.TenantContext{UserID: "alice"}, "echo", nil)
	require.True(t, resp.Successful)
	assert.Equal(t, "hi", resp.Data["echo"])

	// demo is private; unlisted tenants do not see it.
	assert.False(t, r.SnapshotFor("mallory").Authorized("demo"))
}

func TestStubProviderUnknownTool(t *testing.T) {
	p := NewStubProvider("demo", []config.StubToolConfig{
		{Name: "echo", Response: map[string]any{"echo": "hi"}},
	})

	resp := p.Invoke(context.Background(), models.TenantContext{}, "missing", nil)
	require.False(t, resp.Successful)
	assert.Contains(t, resp.Error, "unknown tool")
}

func TestStubProviderDefinitions(t *testing.T) {
	def := config.StubToolConfig{
		Name:        "list_tickets",
		Description: "List open tickets.",
		Params: []config.StubParamConfig{
			{Name: "queue", Type: "str", Doc: "Queue name."},
			{Name: "limit", Type: "int", Default: strPtr("10")},
		},
		Response:     map[string]any{"tickets": []any{}},
		OutputSchema: map[string]any{"type": "object", "properties": map[string]any{"tickets": map[string]any{"type": "array"}}},
	}
	p := NewStubProvider("demo", []config.StubToolConfig{def})

	defs, err := p.Definitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)

	got := defs[0]
	assert.Equal(t, "demo.list_tickets", got.ToolID())
	require.Len(t, got.Params, 3)
	assert.Equal(t, "tenant", got.Params[0].Name)
	assert.Equal(t, "queue", got.Params[1].Name)
	assert.False(t, got.Params[1].HasDefault)
	assert.Equal(t, "limit", got.Params[2].Name)
	assert.True(t, got.Params[2].HasDefault)
	assert.Equal(t, "10", got.Params[2].Default)
	assert.NotNil(t, got.OutputSchema)
}

func strPtr(s string) *string { return &s }
