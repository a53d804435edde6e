package sandbox

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/dispatch"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/registry"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

func issuesDefinition() toolindex.Definition {
	return toolindex.Definition{
		Provider: "github",
		Name:     "list_issues",
		Doc:      "List issues for a repository.",
		Params: []toolindex.Param{
			{Name: "tenant", Type: "TenantContext"},
			{Name: "owner", Type: "str", Doc: "Repository owner."},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer"},
			},
		},
	}
}

func okHandler(data map[string]any) registry.InvokeFunc {
	return func(context.Context, models.TenantContext, string, map[string]any) models.ActionResponse {
		return models.ActionResponse{Successful: true, Data: data}
	}
}

// newTestIPCServer wires a dispatcher over a scripted github provider and
// starts an IPC server for run-1 on a unix socket.
func newTestIPCServer(t *testing.T, handler registry.InvokeFunc, discovered ...string) *IPCServer {
	t.Helper()

	r := registry.New()
	p := registry.NewScriptedProvider("github",
		[]toolindex.Definition{issuesDefinition()}, handler)
	require.NoError(t, r.Register(context.Background(), p, true, nil))
	t.Cleanup(func() { _ = r.Close() })

	snap := r.SnapshotFor("alice")
	ix, err := toolindex.Build(snap.Definitions())
	require.NoError(t, err)
	d := dispatch.New(snap, ix, nil, nil)

	set := discoveredSet(discovered...)
	srv := NewIPCServer("run-1", models.TenantContext{UserID: "alice"}, d, func(toolID string) bool {
		_, ok := set[toolID]
		return ok
	})
	require.NoError(t, srv.Listen(config.IPCNetworkUnix, t.TempDir()))
	go srv.Serve(context.Background())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dialIPC(t *testing.T, srv *IPCServer) net.Conn {
	t.Helper()
	conn, err := net.Dial(string(srv.network), srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func exchange(t *testing.T, conn net.Conn, req ipcRequest) models.ActionResponse {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, payload))

	frame, err := readFrame(conn)
	require.NoError(t, err)

	var resp models.ActionResponse
	require.NoError(t, json.Unmarshal(frame, &resp))
	return resp
}

func TestIPCDispatchesToolCall(t *testing.T) {
	srv := newTestIPCServer(t, func(_ context.Context, tenant models.TenantContext, tool string, args map[string]any) models.ActionResponse {
		return models.ActionResponse{Successful: true, Data: map[string]any{
			"tool": tool, "owner": args["owner"], "user": tenant.UserID,
		}}
	}, "github.list_issues")

	conn := dialIPC(t, srv)
	resp := exchange(t, conn, ipcRequest{
		RunID:    "run-1",
		Token:    srv.token,
		Provider: "github",
		Tool:     "list_issues",
		Args:     map[string]any{"owner": "acme"},
	})

	require.True(t, resp.Successful, resp.Error)
	assert.Equal(t, "list_issues", resp.Data["tool"])
	assert.Equal(t, "acme", resp.Data["owner"])
	assert.Equal(t, "alice", resp.Data["user"])
	assert.Equal(t, 1, srv.ToolCalls())
}

func TestIPCRejectsCredentialMismatch(t *testing.T) {
	srv := newTestIPCServer(t, okHandler(nil), "github.list_issues")

	conn := dialIPC(t, srv)
	badToken := exchange(t, conn, ipcRequest{
		RunID: "run-1", Token: "stolen", Provider: "github", Tool: "list_issues",
	})
	assert.False(t, badToken.Successful)
	assert.Equal(t, "unauthorized", badToken.Error)

	badRun := exchange(t, conn, ipcRequest{
		RunID: "run-2", Token: srv.token, Provider: "github", Tool: "list_issues",
	})
	assert.Equal(t, "unauthorized", badRun.Error)

	assert.Equal(t, 0, srv.ToolCalls())
}

func TestIPCEnforcesDiscoveredSet(t *testing.T) {
	srv := newTestIPCServer(t, okHandler(nil))

	conn := dialIPC(t, srv)
	resp := exchange(t, conn, ipcRequest{
		RunID: "run-1", Token: srv.token, Provider: "github", Tool: "list_issues",
	})

	assert.False(t, resp.Successful)
	assert.Contains(t, resp.Error, "has not been discovered")
	assert.Equal(t, 0, srv.ToolCalls())
}

func TestIPCInspectToolExempt(t *testing.T) {
	srv := newTestIPCServer(t, okHandler(nil))

	conn := dialIPC(t, srv)
	resp := exchange(t, conn, ipcRequest{
		RunID:    "run-1",
		Token:    srv.token,
		Provider: "toolbox",
		Tool:     "inspect_tool_output",
		Args:     map[string]any{"tool_id": "github.list_issues"},
	})

	require.True(t, resp.Successful, resp.Error)
	assert.Equal(t, "github.list_issues", resp.Data["tool_id"])
	fields, ok := resp.Data["output_fields"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, fields)
}

func TestIPCMultipleRequestsPerConnection(t *testing.T) {
	srv := newTestIPCServer(t, okHandler(map[string]any{"status": "ok"}), "github.list_issues")

	conn := dialIPC(t, srv)
	for range 3 {
		resp := exchange(t, conn, ipcRequest{
			RunID: "run-1", Token: srv.token, Provider: "github", Tool: "list_issues",
		})
		require.True(t, resp.Successful)
	}
	assert.Equal(t, 3, srv.ToolCalls())
}

func TestIPCMalformedRequest(t *testing.T) {
	srv := newTestIPCServer(t, okHandler(nil), "github.list_issues")

	conn := dialIPC(t, srv)
	require.NoError(t, writeFrame(conn, []byte("not json")))
	frame, err := readFrame(conn)
	require.NoError(t, err)

	var resp models.ActionResponse
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.False(t, resp.Successful)
	assert.Contains(t, resp.Error, "malformed IPC request")
}

func TestIPCTCPNetwork(t *testing.T) {
	r := registry.New()
	p := registry.NewScriptedProvider("github",
		[]toolindex.Definition{issuesDefinition()}, okHandler(map[string]any{"status": "ok"}))
	require.NoError(t, r.Register(context.Background(), p, true, nil))
	t.Cleanup(func() { _ = r.Close() })

	snap := r.SnapshotFor("alice")
	ix, err := toolindex.Build(snap.Definitions())
	require.NoError(t, err)

	srv := NewIPCServer("run-1", models.TenantContext{UserID: "alice"}, dispatch.New(snap, ix, nil, nil),
		func(string) bool { return true })
	require.NoError(t, srv.Listen(config.IPCNetworkTCP, ""))
	go srv.Serve(context.Background())
	t.Cleanup(func() { _ = srv.Close() })

	assert.True(t, strings.HasPrefix(srv.Addr(), "127.0.0.1:"))

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	resp := exchange(t, conn, ipcRequest{
		RunID: "run-1", Token: srv.token, Provider: "github", Tool: "list_issues",
	})
	assert.True(t, resp.Successful)
}

func TestIPCEnv(t *testing.T) {
	srv := newTestIPCServer(t, okHandler(nil), "github.list_issues")

	env := srv.Env()
	require.Len(t, env, 4)
	assert.Equal(t, "TB_IPC_NET=unix", env[0])
	assert.Equal(t, "TB_IPC_ADDR="+srv.Addr(), env[1])
	assert.Equal(t, "TB_RUN_ID=run-1", env[2])
	assert.Equal(t, "TB_RUN_TOKEN="+srv.token, env[3])
	assert.NotEmpty(t, srv.token)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte(`{"a":1}`)))

	frame, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(frame))
}

func TestReadFrameRejectsBadSizes(t *testing.T) {
	var zero bytes.Buffer
	require.NoError(t, binary.Write(&zero, binary.BigEndian, uint32(0)))
	_, err := readFrame(&zero)
	assert.ErrorContains(t, err, "invalid frame size")

	var huge bytes.Buffer
	require.NoError(t, binary.Write(&huge, binary.BigEndian, uint32(maxFrameSize+1)))
	_, err = readFrame(&huge)
	assert.ErrorContains(t, err, "invalid frame size")
}
