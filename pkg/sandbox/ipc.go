package sandbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/dispatch"
	"github.com/toolboxlabs/planner/pkg/models"
)

// Environment variables handed to the subprocess at spawn. The generated
// client reads these to reach the parent.
const (
	EnvIPCNet   = "TB_IPC_NET"
	EnvIPCAddr  = "TB_IPC_ADDR"
	EnvRunID    = "TB_RUN_ID"
	EnvRunToken = "TB_RUN_TOKEN"
)

// maxFrameSize bounds one IPC frame; larger frames abort the connection.
const maxFrameSize = 16 << 20

// ipcRequest is one tool call from the sandbox subprocess.
type ipcRequest struct {
	RunID    string         `json:"run_id"`
	Token    string         `json:"token"`
	Provider string         `json:"provider"`
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args"`
}

// IPCServer answers tool calls from one run's sandbox subprocess. Every
// request is authenticated with the per-run token and checked against
// the run's discovered-tool set before it reaches the dispatcher, so
// plan code gets exactly the authorization a tool step would.
type IPCServer struct {
	runID      string
	token      string
	tenant     models.TenantContext
	dispatcher *dispatch.Dispatcher
	discovered func(toolID string) bool
	logger     *slog.Logger

	network  config.IPCNetwork
	addr     string
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	wg        sync.WaitGroup
	toolCalls atomic.Int64
}

// NewIPCServer creates a server for one run with a fresh random token.
// discovered reports whether plan code may call a tool id.
func NewIPCServer(runID string, tenant models.TenantContext, dispatcher *dispatch.Dispatcher, discovered func(toolID string) bool) *IPCServer {
	return &IPCServer{
		runID:      runID,
		token:      uuid.NewString(),
		tenant:     tenant,
		dispatcher: dispatcher,
		discovered: discovered,
		logger:     slog.Default().With("component", "sandbox-ipc", "run_id", runID),
		conns:      map[net.Conn]struct{}{},
	}
}

// Listen binds the endpoint: a socket file inside dir for unix, an
// ephemeral loopback port for tcp. Serve must be started before the
// subprocess spawns.
func (s *IPCServer) Listen(network config.IPCNetwork, dir string) error {
	switch network {
	case config.IPCNetworkTCP:
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("listen sandbox ipc (tcp): %w", err)
		}
		s.listener, s.network, s.addr = ln, config.IPCNetworkTCP, ln.Addr().String()
	case config.IPCNetworkUnix, "":
		path := filepath.Join(dir, "ipc.sock")
		ln, err := net.Listen("unix", path)
		if err != nil {
			return fmt.Errorf("listen sandbox ipc (unix): %w", err)
		}
		s.listener, s.network, s.addr = ln, config.IPCNetworkUnix, path
	default:
		return fmt.Errorf("unsupported ipc network %q", network)
	}
	return nil
}

// Serve accepts connections until the listener closes. Run it in a
// goroutine; Close unblocks it.
func (s *IPCServer) Serve(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("IPC accept failed", "error", err)
			}
			return
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			s.handleConn(ctx, conn)
		}()
	}
}

// Env returns the spawn environment entries for the generated client.
func (s *IPCServer) Env() []string {
	return []string{
		EnvIPCNet + "=" + string(s.network),
		EnvIPCAddr + "=" + s.addr,
		EnvRunID + "=" + s.runID,
		EnvRunToken + "=" + s.token,
	}
}

// Addr returns the bound endpoint address.
func (s *IPCServer) Addr() string { return s.addr }

// ToolCalls reports how many authenticated requests reached the
// dispatcher. The executor uses this to tell an idle plan from one that
// called tools and still returned nothing.
func (s *IPCServer) ToolCalls() int {
	return int(s.toolCalls.Load())
}

// Close stops accepting, severs open connections, and waits for
// in-flight handlers.
func (s *IPCServer) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *IPCServer) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// handleConn serves request/response frames until the client hangs up.
func (s *IPCServer) handleConn(ctx context.Context, conn net.Conn) {
	for {
		frame, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("IPC read failed", "error", err)
			}
			return
		}

		resp := s.handleRequest(ctx, frame)
		payload, err := json.Marshal(resp)
		if err != nil {
			payload, _ = json.Marshal(models.ErrorResponse("encode response: %s", err))
		}
		if err := writeFrame(conn, payload); err != nil {
			s.logger.Debug("IPC write failed", "error", err)
			return
		}
	}
}

// handleRequest authenticates and dispatches one tool call.
func (s *IPCServer) handleRequest(ctx context.Context, frame []byte) models.ActionResponse {
	var req ipcRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return models.ErrorResponse("malformed IPC request: %s", err)
	}

	if req.RunID != s.runID || req.Token != s.token {
		s.logger.Warn("IPC request rejected", "reason", "credential mismatch")
		return models.ErrorResponse("unauthorized")
	}

	toolID := req.Provider + "." + req.Tool
	if toolID != models.InspectToolID && !s.discovered(toolID) {
		return models.ErrorResponse(
			"tool %q has not been discovered in this run; search for it first", toolID)
	}

	s.toolCalls.Add(1)
	return s.dispatcher.Invoke(ctx, s.tenant, toolID, req.Args)
}

// readFrame reads one length-prefixed frame: a 4-byte big-endian size
// followed by that many payload bytes.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("invalid frame size %d", size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
