// Package e2e boots a complete planner runtime for black-box tests:
// real HTTP server and WebSocket stream, real registry, scheduler and
// artifact store, with scripted LLM and tool providers.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/api"
	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/events"
	"github.com/toolboxlabs/planner/pkg/llm"
	"github.com/toolboxlabs/planner/pkg/metrics"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/queue"
	"github.com/toolboxlabs/planner/pkg/registry"
	"github.com/toolboxlabs/planner/pkg/runstore"
	"github.com/toolboxlabs/planner/pkg/service"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

const requestTimeout = 10 * time.Second

// TestApp is one booted planner runtime.
type TestApp struct {
	Config  *config.Config
	Service *service.RunService
	Store   *runstore.Store
	Bus     *events.Bus
	LLM     *llm.ScriptedClient

	BaseURL string
	WSURL   string

	httpServer *httptest.Server
	t          *testing.T
}

type providerSpec struct {
	name    string
	defs    []toolindex.Definition
	handler registry.InvokeFunc
}

type testAppConfig struct {
	entries   []llm.ScriptEntry
	providers []providerSpec
	queue     *config.QueueConfig
	sandbox   *config.SandboxConfig
	defaults  *config.Defaults
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithLLMScript sets the canned planner replies, in order.
func WithLLMScript(entries ...llm.ScriptEntry) TestAppOption {
	return func(c *testAppConfig) { c.entries = entries }
}

// WithProvider registers a scripted tool provider. May be repeated.
func WithProvider(name string, defs []toolindex.Definition, handler registry.InvokeFunc) TestAppOption {
	return func(c *testAppConfig) {
		c.providers = append(c.providers, providerSpec{name: name, defs: defs, handler: handler})
	}
}

// WithQueueConfig overrides the scheduler configuration.
func WithQueueConfig(cfg *config.QueueConfig) TestAppOption {
	return func(c *testAppConfig) { c.queue = cfg }
}

// WithSandboxConfig overrides the sandbox configuration.
func WithSandboxConfig(cfg *config.SandboxConfig) TestAppOption {
	return func(c *testAppConfig) { c.sandbox = cfg }
}

// WithDefaults overrides system defaults (budget axes, LLM provider).
func WithDefaults(d *config.Defaults) TestAppOption {
	return func(c *testAppConfig) { c.defaults = d }
}

// githubProvider is the default provider most scenarios run against.
func githubProvider() providerSpec {
	return providerSpec{
		name: "github",
		defs: []toolindex.Definition{{
			Provider: "github",
			Name:     "list_issues",
			Doc:      "List open issues for a repository.",
			Params: []toolindex.Param{
				{Name: "tenant", Type: "TenantContext"},
				{Name: "owner", Type: "str", Doc: "Repository owner."},
			},
		}},
		handler: func(context.Context, models.TenantContext, string, map[string]any) models.ActionResponse {
			return models.ActionResponse{Successful: true, Data: map[string]any{"count": float64(2)}}
		},
	}
}

// NewTestApp boots the runtime and tears it down with the test.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if len(tc.providers) == 0 {
		tc.providers = []providerSpec{githubProvider()}
	}
	if tc.queue == nil {
		tc.queue = config.DefaultQueueConfig()
	}
	if tc.sandbox == nil {
		sandbox := config.DefaultSandboxConfig()
		sandbox.Root = t.TempDir()
		tc.sandbox = sandbox
	}
	if tc.defaults == nil {
		tc.defaults = &config.Defaults{}
	}
	tc.defaults.LLMProvider = "scripted"

	reg := registry.New()
	for _, p := range tc.providers {
		provider := registry.NewScriptedProvider(p.name, p.defs, p.handler)
		require.NoError(t, reg.Register(context.Background(), provider, true, nil))
	}
	t.Cleanup(func() { _ = reg.Close() })

	bus := events.NewBus()
	connManager := events.NewConnectionManager(bus, 5*time.Second)
	connCtx, connCancel := context.WithCancel(context.Background())
	go connManager.Run(connCtx)
	t.Cleanup(connCancel)

	storeDir := t.TempDir()
	store, err := runstore.New(storeDir, bus)
	require.NoError(t, err)

	scheduler := queue.NewScheduler(tc.queue)
	t.Cleanup(func() { scheduler.Stop(2 * time.Second) })

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	cfg := &config.Config{
		Defaults: tc.defaults,
		Server:   config.DefaultServerConfig(),
		Queue:    tc.queue,
		Sandbox:  tc.sandbox,
		Storage:  &config.StorageConfig{Enabled: true, Root: storeDir},
		Tenants: map[string]*config.TenantConfig{
			"alice": {Credentials: map[string]string{"github_token": "test-token"}},
		},
	}

	scripted := llm.NewScriptedClient(tc.entries...)
	svc, err := service.NewRunService(service.Deps{
		Config:     cfg,
		Registry:   reg,
		Bus:        bus,
		Scheduler:  scheduler,
		Store:      store,
		Metrics:    m,
		LLMClients: map[string]llm.Client{"scripted": scripted},
	})
	require.NoError(t, err)

	server := api.NewServer(cfg.Server, svc, connManager, m, promRegistry)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &TestApp{
		Config:     cfg,
		Service:    svc,
		Store:      store,
		Bus:        bus,
		LLM:        scripted,
		BaseURL:    ts.URL,
		WSURL:      "ws" + ts.URL[len("http"):] + "/api/v1/ws",
		httpServer: ts,
		t:          t,
	}
}

// reply serializes a planner command for the LLM script. Scenario code
// builds commands as maps so multi-line sandbox code stays readable.
func reply(cmd map[string]any) string {
	b, err := json.Marshal(cmd)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func searchCmd(query string) string {
	return reply(map[string]any{"type": "search", "reasoning": "look for tools", "query": query})
}

func toolCmd(toolID, server string, args map[string]any) string {
	return reply(map[string]any{"type": "tool", "reasoning": "call it", "tool_id": toolID, "server": server, "args": args})
}

func sandboxCmd(label, code string) string {
	return reply(map[string]any{"type": "sandbox", "reasoning": "run a plan", "label": label, "code": code})
}

func finishCmd(summary string, outputs map[string]any) string {
	return reply(map[string]any{"type": "finish", "reasoning": "done", "summary": summary, "outputs": outputs})
}

func entry(text string) llm.ScriptEntry {
	return llm.ScriptEntry{Text: text, CostUSD: 0.001}
}

// SubmitTask posts a task and returns the accepted response body.
func (a *TestApp) SubmitTask(body map[string]any) map[string]any {
	a.t.Helper()
	rec := a.post("/api/v1/tasks", body)
	require.Equal(a.t, http.StatusAccepted, rec.StatusCode)
	return decodeMap(a.t, rec)
}

// SubmitTaskAndWait posts a task with ?wait=true and returns the
// finished run.
func (a *TestApp) SubmitTaskAndWait(body map[string]any) service.RunView {
	a.t.Helper()
	rec := a.post("/api/v1/tasks?wait=true", body)
	require.Equal(a.t, http.StatusOK, rec.StatusCode)

	var view service.RunView
	require.NoError(a.t, json.NewDecoder(rec.Body).Decode(&view))
	require.NoError(a.t, rec.Body.Close())
	return view
}

// GetRun fetches one run over HTTP.
func (a *TestApp) GetRun(runID string) service.RunView {
	a.t.Helper()
	resp, err := http.Get(a.BaseURL + "/api/v1/runs/" + runID)
	require.NoError(a.t, err)
	require.Equal(a.t, http.StatusOK, resp.StatusCode)

	var view service.RunView
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&view))
	require.NoError(a.t, resp.Body.Close())
	return view
}

func (a *TestApp) post(path string, body map[string]any) *http.Response {
	a.t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(a.t, err)

	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.Post(a.BaseURL+path, "application/json", bytes.NewReader(payload))
	require.NoError(a.t, err)
	return resp
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NoError(t, resp.Body.Close())
	return body
}

// CollectRunEvents connects to the WebSocket stream, subscribes to the
// run's channel, and reads replayed plus live events until
// task.completed or the timeout. It returns the event types in arrival
// order.
func (a *TestApp) CollectRunEvents(runID string) []string {
	a.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, a.WSURL, nil)
	require.NoError(a.t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() map[string]any {
		_, data, err := conn.Read(ctx)
		require.NoError(a.t, err)
		var msg map[string]any
		require.NoError(a.t, json.Unmarshal(data, &msg))
		return msg
	}

	require.Equal(a.t, "connection.established", read()["type"])

	sub, err := json.Marshal(map[string]string{"action": "subscribe", "channel": events.RunChannel(runID)})
	require.NoError(a.t, err)
	require.NoError(a.t, conn.Write(ctx, websocket.MessageText, sub))
	require.Equal(a.t, "subscription.confirmed", read()["type"])

	var types []string
	for range 128 {
		evType, _ := read()["type"].(string)
		types = append(types, evType)
		if evType == "task.completed" {
			break
		}
	}
	return types
}
