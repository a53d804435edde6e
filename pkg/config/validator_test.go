package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/masking"
)

// baseConfig returns a minimal valid configuration for validator tests.
func baseConfig() *Config {
	return &Config{
		Defaults:  &Defaults{LLMProvider: "openai-default"},
		Server:    DefaultServerConfig(),
		Queue:     DefaultQueueConfig(),
		Sandbox:   DefaultSandboxConfig(),
		Storage:   DefaultStorageConfig(),
		Retention: DefaultRetentionConfig(),
		Masking:   &masking.Config{Enabled: true},
		Tenants:   map[string]*TenantConfig{},
		LLMProviderRegistry: NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"openai-default": {Type: LLMProviderTypeOpenAI, Model: "gpt-4o"},
		}),
		ProviderRegistry: NewProviderRegistry(map[string]*ProviderConfig{}),
	}
}

func TestValidateAllAcceptsBase(t *testing.T) {
	require.NoError(t, NewValidator(baseConfig()).ValidateAll())
}

func TestValidateAllRejections(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "port",
		},
		{
			name: "negative budget axis",
			mutate: func(c *Config) {
				c.Defaults.Budget = &BudgetDefaults{MaxSteps: intPtr(-1)}
			},
			wantErr: "max_steps",
		},
		{
			name:    "unknown default llm provider",
			mutate:  func(c *Config) { c.Defaults.LLMProvider = "missing" },
			wantErr: "LLM provider 'missing' not found",
		},
		{
			name:    "zero concurrent runs",
			mutate:  func(c *Config) { c.Queue.MaxConcurrentRuns = 0 },
			wantErr: "max_concurrent_runs",
		},
		{
			name:    "bad overflow policy",
			mutate:  func(c *Config) { c.Queue.OverflowPolicy = "drop" },
			wantErr: "overflow_policy",
		},
		{
			name:    "zero run timeout",
			mutate:  func(c *Config) { c.Queue.RunTimeout = 0 },
			wantErr: "run_timeout",
		},
		{
			name:    "empty python path",
			mutate:  func(c *Config) { c.Sandbox.PythonPath = "" },
			wantErr: "python_path",
		},
		{
			name:    "zero sandbox timeout",
			mutate:  func(c *Config) { c.Sandbox.Timeout = 0 * time.Second },
			wantErr: "timeout",
		},
		{
			name:    "bad ipc network",
			mutate:  func(c *Config) { c.Sandbox.IPCNetwork = "pipe" },
			wantErr: "ipc_network",
		},
		{
			name:    "storage enabled without root",
			mutate:  func(c *Config) { c.Storage.Root = "" },
			wantErr: "root",
		},
		{
			name: "llm provider without model",
			mutate: func(c *Config) {
				c.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
					"openai-default": {Type: LLMProviderTypeOpenAI},
				})
			},
			wantErr: "model",
		},
		{
			name: "reserved provider name",
			mutate: func(c *Config) {
				c.ProviderRegistry = NewProviderRegistry(map[string]*ProviderConfig{
					"toolbox": {Type: ProviderTypeStub, Tools: []StubToolConfig{{Name: "x"}}},
				})
			},
			wantErr: "reserved",
		},
		{
			name: "dotted provider name",
			mutate: func(c *Config) {
				c.ProviderRegistry = NewProviderRegistry(map[string]*ProviderConfig{
					"bad.name": {Type: ProviderTypeStub, Tools: []StubToolConfig{{Name: "x"}}},
				})
			},
			wantErr: "must not contain '.'",
		},
		{
			name: "mcp provider without transport",
			mutate: func(c *Config) {
				c.ProviderRegistry = NewProviderRegistry(map[string]*ProviderConfig{
					"github": {Type: ProviderTypeMCP},
				})
			},
			wantErr: "transport",
		},
		{
			name: "stdio transport without command",
			mutate: func(c *Config) {
				c.ProviderRegistry = NewProviderRegistry(map[string]*ProviderConfig{
					"github": {Type: ProviderTypeMCP, Transport: &TransportConfig{Type: TransportTypeStdio}},
				})
			},
			wantErr: "command",
		},
		{
			name: "http transport without url",
			mutate: func(c *Config) {
				c.ProviderRegistry = NewProviderRegistry(map[string]*ProviderConfig{
					"remote": {Type: ProviderTypeMCP, Transport: &TransportConfig{Type: TransportTypeHTTP}},
				})
			},
			wantErr: "url",
		},
		{
			name: "stub provider without tools",
			mutate: func(c *Config) {
				c.ProviderRegistry = NewProviderRegistry(map[string]*ProviderConfig{
					"demo": {Type: ProviderTypeStub},
				})
			},
			wantErr: "at least one tool",
		},
		{
			name: "tenant references unknown provider",
			mutate: func(c *Config) {
				c.Tenants["user-1"] = &TenantConfig{Providers: []string{"ghost"}}
			},
			wantErr: "provider 'ghost' not found",
		},
		{
			name: "tenant credential with empty env name",
			mutate: func(c *Config) {
				c.Tenants["user-1"] = &TenantConfig{Credentials: map[string]string{"slack_token": ""}}
			},
			wantErr: "empty env name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, TransportTypeStdio.IsValid())
	assert.True(t, TransportTypeHTTP.IsValid())
	assert.True(t, TransportTypeSSE.IsValid())
	assert.False(t, TransportType("grpc").IsValid())

	assert.True(t, LLMProviderTypeOpenAI.IsValid())
	assert.True(t, LLMProviderTypeAnthropic.IsValid())
	assert.False(t, LLMProviderType("google").IsValid())

	assert.True(t, ProviderTypeSlack.IsValid())
	assert.True(t, ProviderTypeMCP.IsValid())
	assert.True(t, ProviderTypeStub.IsValid())
	assert.False(t, ProviderType("rest").IsValid())

	assert.True(t, OverflowPolicyQueue.IsValid())
	assert.True(t, OverflowPolicyReject.IsValid())
	assert.False(t, OverflowPolicy("drop").IsValid())

	assert.True(t, IPCNetworkUnix.IsValid())
	assert.True(t, IPCNetworkTCP.IsValid())
	assert.False(t, IPCNetwork("pipe").IsValid())
}
