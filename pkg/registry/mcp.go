package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/toolindex"
	"github.com/toolboxlabs/planner/pkg/version"
)

const (
	// mcpInitTimeout bounds the initial connect handshake.
	mcpInitTimeout = 30 * time.Second
	// mcpOperationTimeout bounds ListTools and CallTool round trips.
	mcpOperationTimeout = 30 * time.Second
)

// MCPProvider adapts one MCP server to the Provider interface. A single
// session is shared by all runs; on transport failure an invocation
// recreates the session once and retries.
type MCPProvider struct {
	name   string
	logger *slog.Logger

	// newTransport creates a fresh transport for (re)connects. Nil for
	// injected sessions (tests), which cannot reconnect.
	newTransport func() (mcpsdk.Transport, error)

	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

// NewMCPProvider connects to the configured MCP server and returns the
// adapter. The connection failure is returned to the caller, which
// typically records it and continues with the remaining providers.
func NewMCPProvider(ctx context.Context, name string, tcfg config.TransportConfig) (*MCPProvider, error) {
	p := &MCPProvider{
		name:         name,
		logger:       slog.Default().With("component", "mcp-provider", "provider", name),
		newTransport: func() (mcpsdk.Transport, error) { return createTransport(tcfg) },
	}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// NewMCPProviderWithSession wraps an already-connected session. Used by
// tests with in-memory transports.
func NewMCPProviderWithSession(name string, client *mcpsdk.Client, session *mcpsdk.ClientSession) *MCPProvider {
	return &MCPProvider{
		name:    name,
		logger:  slog.Default().With("component", "mcp-provider", "provider", name),
		client:  client,
		session: session,
	}
}

// Name implements Provider.
func (p *MCPProvider) Name() string { return p.name }

func (p *MCPProvider) connect(ctx context.Context) error {
	transport, err := p.newTransport()
	if err != nil {
		return fmt.Errorf("create transport for %q: %w", p.name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, mcpInitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it holds resources (stdio child
		// processes) that the SDK did not clean up on the failure path.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect to %q: %w", p.name, err)
	}

	p.mu.Lock()
	p.client = client
	p.session = session
	p.mu.Unlock()

	p.logger.Info("MCP server connected")
	return nil
}

// reconnect tears down the current session and dials a fresh one.
func (p *MCPProvider) reconnect(ctx context.Context) error {
	if p.newTransport == nil {
		return fmt.Errorf("session for %q is not reconnectable", p.name)
	}

	p.mu.Lock()
	if p.session != nil {
		_ = p.session.Close()
		p.session = nil
		p.client = nil
	}
	p.mu.Unlock()

	return p.connect(ctx)
}

func (p *MCPProvider) currentSession() (*mcpsdk.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, fmt.Errorf("no session for provider %q", p.name)
	}
	return p.session, nil
}

// Definitions lists the server's tools and converts them to wrapper
// definitions. The registry caches the result until Reload.
func (p *MCPProvider) Definitions(ctx context.Context) ([]toolindex.Definition, error) {
	session, err := p.currentSession()
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, mcpOperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", p.name, err)
	}

	defs := make([]toolindex.Definition, 0, len(result.Tools))
	for _, tool := range result.Tools {
		defs = append(defs, definitionFromTool(p.name, tool))
	}
	return defs, nil
}

// Invoke implements Provider. One retry over a fresh session is attempted
// when the first call fails at the transport level.
func (p *MCPProvider) Invoke(ctx context.Context, _ models.TenantContext, tool string, args map[string]any) models.ActionResponse {
	params := &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	}

	result, err := p.callOnce(ctx, params)
	if err != nil && p.newTransport != nil && ctx.Err() == nil {
		p.logger.Info("MCP call failed, reconnecting", "tool", tool, "error", err)
		if rerr := p.reconnect(ctx); rerr != nil {
			return models.ErrorResponse("MCP tool execution failed: %s", err)
		}
		result, err = p.callOnce(ctx, params)
	}
	if err != nil {
		return models.ErrorResponse("MCP tool execution failed: %s", err)
	}

	text := extractTextContent(result)
	if result.IsError {
		msg := text
		if msg == "" {
			msg = fmt.Sprintf("tool %q reported an error", tool)
		}
		return models.ActionResponse{Successful: false, Data: map[string]any{}, Error: msg}
	}
	return responseFromText(text)
}

func (p *MCPProvider) callOnce(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := p.currentSession()
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, mcpOperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// Close implements Provider.
func (p *MCPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	p.client = nil
	return err
}

// definitionFromTool converts an MCP tool declaration. MCP servers do not
// report output schemas, so drill-down for their tools shows the raw
// response instead.
func definitionFromTool(provider string, tool *mcpsdk.Tool) toolindex.Definition {
	params := []toolindex.Param{{Name: "tenant", Type: "TenantContext"}}
	params = append(params, paramsFromSchema(tool.InputSchema)...)
	return toolindex.Definition{
		Provider: provider,
		Name:     tool.Name,
		Doc:      tool.Description,
		Params:   params,
	}
}

// paramsFromSchema flattens a JSON Schema object's properties into
// signature parameters: required first, each group sorted by name.
func paramsFromSchema(schema any) []toolindex.Param {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}

	var parsed struct {
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Properties) == 0 {
		return nil
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, name := range parsed.Required {
		required[name] = true
	}

	names := make([]string, 0, len(parsed.Properties))
	for name := range parsed.Properties {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if required[names[i]] != required[names[j]] {
			return required[names[i]]
		}
		return names[i] < names[j]
	})

	params := make([]toolindex.Param, 0, len(names))
	for _, name := range names {
		prop := parsed.Properties[name]
		param := toolindex.Param{
			Name: name,
			Type: pythonType(prop["type"]),
		}
		if doc, ok := prop["description"].(string); ok {
			param.Doc = doc
		}
		if !required[name] {
			param.HasDefault = true
			param.Default = pythonLiteral(prop["default"])
		}
		params = append(params, param)
	}
	return params
}

// pythonType maps a JSON Schema type to the Pythonic signature type.
func pythonType(t any) string {
	s, ok := t.(string)
	if !ok {
		return "Any"
	}
	switch s {
	case "string":
		return "str"
	case "integer":
		return "int"
	case "number":
		return "float"
	case "boolean":
		return "bool"
	case "array":
		return "list"
	case "object":
		return "dict"
	default:
		return "Any"
	}
}

// pythonLiteral renders a JSON default value as a Python literal.
func pythonLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case bool:
		if val {
			return "True"
		}
		return "False"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "None"
		}
		return string(b)
	}
}

// extractTextContent concatenates all TextContent items of a result.
// Non-text content (images, embedded resources) is skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// responseFromText normalizes tool output text. JSON objects become the
// data map directly; other JSON values and plain text are wrapped.
func responseFromText(text string) models.ActionResponse {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var data map[string]any
		if err := json.Unmarshal([]byte(trimmed), &data); err == nil {
			return models.ActionResponse{Successful: true, Data: data}
		}
	} else if trimmed != "" && (trimmed[0] == '[' || trimmed[0] == '"' || trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9')) {
		var value any
		if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
			return models.ActionResponse{Successful: true, Data: map[string]any{"result": value}}
		}
	}
	return models.ActionResponse{Successful: true, Data: map[string]any{"text": text}}
}
