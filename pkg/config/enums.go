package config

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses streamable HTTP JSON-RPC
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// LLMProviderType defines supported planner LLM backends
type LLMProviderType string

const (
	// LLMProviderTypeOpenAI is the OpenAI API (or any OpenAI-compatible endpoint)
	LLMProviderTypeOpenAI LLMProviderType = "openai"
	// LLMProviderTypeAnthropic is the Anthropic Claude API
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
)

// IsValid checks if the LLM provider type is valid
func (t LLMProviderType) IsValid() bool {
	return t == LLMProviderTypeOpenAI || t == LLMProviderTypeAnthropic
}

// ProviderType defines tool provider adapter kinds
type ProviderType string

const (
	// ProviderTypeSlack exposes Slack workspace tools via the Slack Web API
	ProviderTypeSlack ProviderType = "slack"
	// ProviderTypeMCP exposes tools of a configured MCP server
	ProviderTypeMCP ProviderType = "mcp"
	// ProviderTypeStub exposes config-declared demo tools with canned responses
	ProviderTypeStub ProviderType = "stub"
)

// IsValid checks if the provider type is valid
func (t ProviderType) IsValid() bool {
	return t == ProviderTypeSlack || t == ProviderTypeMCP || t == ProviderTypeStub
}

// OverflowPolicy decides what happens to a submission when the run queue
// is at capacity.
type OverflowPolicy string

const (
	// OverflowPolicyQueue holds submissions until a slot frees up
	OverflowPolicyQueue OverflowPolicy = "queue"
	// OverflowPolicyReject fails submissions immediately with overloaded
	OverflowPolicyReject OverflowPolicy = "reject"
)

// IsValid checks if the overflow policy is valid
func (p OverflowPolicy) IsValid() bool {
	return p == OverflowPolicyQueue || p == OverflowPolicyReject
}

// IPCNetwork selects the sandbox IPC listener network.
type IPCNetwork string

const (
	// IPCNetworkUnix listens on a per-run UNIX domain socket
	IPCNetworkUnix IPCNetwork = "unix"
	// IPCNetworkTCP listens on loopback TCP (for hosts without UNIX sockets)
	IPCNetworkTCP IPCNetwork = "tcp"
)

// IsValid checks if the IPC network is valid
func (n IPCNetwork) IsValid() bool {
	return n == IPCNetworkUnix || n == IPCNetworkTCP
}
