package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/events"
	"github.com/toolboxlabs/planner/pkg/llm"
	"github.com/toolboxlabs/planner/pkg/metrics"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/queue"
	"github.com/toolboxlabs/planner/pkg/registry"
	"github.com/toolboxlabs/planner/pkg/service"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

const (
	searchReply = `{"type": "search", "reasoning": "find issue tools", "query": "issues"}`
	toolReply   = `{"type": "tool", "reasoning": "list them", "tool_id": "github.list_issues", "server": "github", "args": {"owner": "acme"}}`
	finishReply = `{"type": "finish", "reasoning": "done", "summary": "found 2 open issues", "outputs": {"count": 2}}`
)

type apiFixture struct {
	router *gin.Engine
	svc    *service.RunService
	bus    *events.Bus
}

// newAPIFixture stands up the full stack behind the router: scripted
// github provider, scripted planner client, scheduler, event bus with a
// running connection manager, and prometheus-backed metrics.
func newAPIFixture(t *testing.T, entries ...llm.ScriptEntry) *apiFixture {
	t.Helper()

	r := registry.New()
	p := registry.NewScriptedProvider("github", []toolindex.Definition{{
		Provider: "github",
		Name:     "list_issues",
		Doc:      "List open issues for a repository.",
		Params: []toolindex.Param{
			{Name: "tenant", Type: "TenantContext"},
			{Name: "owner", Type: "str", Doc: "Repository owner."},
		},
	}}, func(context.Context, models.TenantContext, string, map[string]any) models.ActionResponse {
		return models.ActionResponse{Successful: true, Data: map[string]any{"count": float64(2)}}
	})
	require.NoError(t, r.Register(context.Background(), p, true, nil))
	t.Cleanup(func() { _ = r.Close() })

	bus := events.NewBus()
	connManager := events.NewConnectionManager(bus, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go connManager.Run(ctx)
	t.Cleanup(cancel)

	queueCfg := config.DefaultQueueConfig()
	sched := queue.NewScheduler(queueCfg)
	t.Cleanup(func() { sched.Stop(time.Second) })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cfg := &config.Config{
		Defaults: &config.Defaults{LLMProvider: "scripted"},
		Server:   config.DefaultServerConfig(),
		Queue:    queueCfg,
		Sandbox:  config.DefaultSandboxConfig(),
	}

	svc, err := service.NewRunService(service.Deps{
		Config:     cfg,
		Registry:   r,
		Bus:        bus,
		Scheduler:  sched,
		Metrics:    m,
		LLMClients: map[string]llm.Client{"scripted": llm.NewScriptedClient(entries...)},
	})
	require.NoError(t, err)

	server := NewServer(cfg.Server, svc, connManager, m, reg)
	return &apiFixture{router: server.Router(), svc: svc, bus: bus}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func happyScript() []llm.ScriptEntry {
	return []llm.ScriptEntry{
		{Text: searchReply, CostUSD: 0.001},
		{Text: toolReply, CostUSD: 0.001},
		{Text: finishReply, CostUSD: 0.001},
	}
}

func TestCreateTaskAccepted(t *testing.T) {
	f := newAPIFixture(t, happyScript()...)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks",
		`{"task": "audit open issues", "user_id": "alice"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	runID, _ := body["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, "queued", body["status"])

	require.Eventually(t, func() bool {
		get := f.do(t, http.MethodGet, "/api/v1/runs/"+runID, "", nil)
		if get.Code != http.StatusOK {
			return false
		}
		return decodeBody(t, get)["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCreateTaskWaitReturnsResult(t *testing.T) {
	f := newAPIFixture(t, happyScript()...)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks?wait=true",
		`{"task": "audit open issues", "user_id": "alice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "completed", body["status"])
	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "found 2 open issues", result["final_summary"])
}

func TestCreateTaskValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", `{"user_id": "alice"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks",
		`{"task": "x", "user_id": "alice", "llm_provider": "missing"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "unknown LLM provider")
}

func TestUserIDFromProxyHeaders(t *testing.T) {
	f := newAPIFixture(t, happyScript()...)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks?wait=true",
		`{"task": "audit open issues"}`,
		map[string]string{"X-Forwarded-User": "carol"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", decodeBody(t, rec)["user_id"])
}

func TestGetRunNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/runs/no-such-run", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "run not found", decodeBody(t, rec)["error"])
}

func TestListRuns(t *testing.T) {
	f := newAPIFixture(t, happyScript()...)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks?wait=true",
		`{"task": "audit open issues", "user_id": "alice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/runs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs, ok := decodeBody(t, rec)["runs"].([]any)
	require.True(t, ok)
	assert.Len(t, runs, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/runs?limit=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRun(t *testing.T) {
	f := newAPIFixture(t,
		llm.ScriptEntry{Text: searchReply, CostUSD: 0.001},
		llm.ScriptEntry{BlockUntilCancelled: true},
	)

	rec := f.do(t, http.MethodPost, "/api/v1/runs/no-such-run/cancel", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	post := f.do(t, http.MethodPost, "/api/v1/tasks",
		`{"task": "audit open issues", "user_id": "alice"}`, nil)
	require.Equal(t, http.StatusAccepted, post.Code)
	runID := decodeBody(t, post)["run_id"].(string)

	require.Eventually(t, func() bool {
		get := f.do(t, http.MethodGet, "/api/v1/runs/"+runID, "", nil)
		return decodeBody(t, get)["status"] == "running"
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		get := f.do(t, http.MethodGet, "/api/v1/runs/"+runID, "", nil)
		return decodeBody(t, get)["status"] == "cancelled"
	}, 5*time.Second, 20*time.Millisecond)

	// A finished run is no longer cancellable.
	rec = f.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/cancel", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	// Any request populates the HTTP counters before the scrape.
	f.do(t, http.MethodGet, "/api/v1/health", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "planner_http_requests_total")
}

func TestWebSocketReplaysRunEvents(t *testing.T) {
	f := newAPIFixture(t, happyScript()...)

	post := f.do(t, http.MethodPost, "/api/v1/tasks?wait=true",
		`{"task": "audit open issues", "user_id": "alice"}`, nil)
	require.Equal(t, http.StatusOK, post.Code)
	runID := decodeBody(t, post)["run_id"].(string)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+ts.URL[len("http"):]+"/api/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	readMsg := func() map[string]any {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	assert.Equal(t, "connection.established", readMsg()["type"])

	sub, err := json.Marshal(map[string]string{
		"action":  "subscribe",
		"channel": events.RunChannel(runID),
	})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, sub))
	assert.Equal(t, "subscription.confirmed", readMsg()["type"])

	// Subscribe replays retained history; the finished run's lifecycle
	// should stream back ending in task.completed.
	seen := map[string]bool{}
	for range 32 {
		msg := readMsg()
		evType, _ := msg["type"].(string)
		seen[evType] = true
		if evType == "task.completed" {
			break
		}
	}
	assert.True(t, seen["task.started"])
	assert.True(t, seen["task.completed"])
}
