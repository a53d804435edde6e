package config

import "time"

// Shared types used across configuration structs

// TransportConfig defines MCP server transport configuration
type TransportConfig struct {
	Type TransportType `yaml:"type"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // Environment overrides for stdio subprocess

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // In seconds
}

// ServerConfig holds the HTTP/WebSocket front door settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedWSOrigins adds extra accepted WebSocket origins beyond the
	// server's own host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}
}

// SandboxConfig controls the Python sandbox runner.
type SandboxConfig struct {
	// PythonPath is the interpreter used for plan scripts.
	PythonPath string `yaml:"python_path"`

	// Timeout is the hard wall-clock limit per sandbox run. On expiry the
	// whole process tree is killed.
	Timeout time.Duration `yaml:"timeout"`

	// IPCNetwork selects unix (default) or loopback tcp for tool-call IPC.
	IPCNetwork IPCNetwork `yaml:"ipc_network"`

	// Root is where per-run scratch directories are materialized.
	// Empty means the OS temp dir.
	Root string `yaml:"root,omitempty"`
}

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		PythonPath: "python3",
		Timeout:    30 * time.Second,
		IPCNetwork: IPCNetworkUnix,
	}
}

// StorageConfig controls the run artifact store. The runtime functions
// fully with storage disabled; artifacts are then kept in memory only.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root,omitempty"`
}

// DefaultStorageConfig returns the built-in storage defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Enabled: true,
		Root:    "./data/runs",
	}
}

// StubToolConfig declares one canned tool on a stub provider.
type StubToolConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Params      []StubParamConfig `yaml:"params,omitempty"`

	// Response is returned as the data object for every invocation.
	Response map[string]any `yaml:"response,omitempty"`

	// OutputSchema optionally describes Response for the tool index.
	OutputSchema map[string]any `yaml:"output_schema,omitempty"`
}

// StubParamConfig declares one exposed parameter of a stub tool.
// Default holds a rendered literal (e.g. `"open"` or `10`); nil means the
// parameter is required.
type StubParamConfig struct {
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type,omitempty"`
	Doc     string  `yaml:"doc,omitempty"`
	Default *string `yaml:"default,omitempty"`
}

// BoolPtr returns a pointer to b. Convenience for *bool struct fields.
func BoolPtr(b bool) *bool { return &b }
