package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a planner.yaml into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
server:
  port: 9090
  allowed_ws_origins: ["dashboard.example.com"]

defaults:
  budget:
    max_steps: 4
  llm_provider: anthropic-default

queue:
  max_concurrent_runs: 3

sandbox:
  timeout: 5s

storage:
  enabled: false

retention:
  run_retention: 48h

masking:
  extra_keys: ["session_cookie"]

llm_providers:
  fast:
    type: openai
    model: gpt-4o-mini
    api_key_env: OPENAI_API_KEY

providers:
  slack:
    type: slack
    token_env: SLACK_BOT_TOKEN
    api_url: "{{.SLACK_API_URL}}"
  github:
    type: mcp
    transport:
      type: stdio
      command: github-mcp-server
      args: ["stdio"]
  demo:
    type: stub
    public: true
    tools:
      - name: echo
        description: Echoes the given text back.
        params:
          - name: text
            type: str
        response:
          echoed: true

tenants:
  user-1:
    providers: [slack, github]
    credentials:
      slack_token: USER1_SLACK_TOKEN
`

func TestInitialize(t *testing.T) {
	t.Setenv("SLACK_API_URL", "http://localhost:9999/api/")

	path := writeConfig(t, validConfig)
	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Explicit values survive, omitted values resolve to defaults.
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"dashboard.example.com"}, cfg.Server.AllowedWSOrigins)

	assert.Equal(t, 3, cfg.Queue.MaxConcurrentRuns)
	assert.Equal(t, DefaultQueueConfig().QueueDepth, cfg.Queue.QueueDepth)
	assert.Equal(t, OverflowPolicyQueue, cfg.Queue.OverflowPolicy)

	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "python3", cfg.Sandbox.PythonPath)
	assert.Equal(t, IPCNetworkUnix, cfg.Sandbox.IPCNetwork)

	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, 48*time.Hour, cfg.Retention.RunRetention)
	assert.Equal(t, DefaultRetentionConfig().CleanupInterval, cfg.Retention.CleanupInterval)

	// Masking stays enabled by default and carries the extra key.
	assert.True(t, cfg.Masking.Enabled)
	assert.Equal(t, []string{"session_cookie"}, cfg.Masking.ExtraKeys)

	// Budget defaults: explicit max_steps, the rest built-in.
	budget := cfg.Defaults.ResolveBudget()
	assert.Equal(t, 4, budget.MaxSteps)
	assert.Equal(t, 30, budget.MaxToolCalls)
	assert.InDelta(t, 0.50, budget.MaxLLMCostUSD, 1e-9)

	// Built-in LLM providers are merged with user-defined ones.
	assert.True(t, cfg.LLMProviderRegistry.Has("openai-default"))
	assert.True(t, cfg.LLMProviderRegistry.Has("anthropic-default"))
	assert.True(t, cfg.LLMProviderRegistry.Has("fast"))
	assert.Equal(t, "anthropic-default", cfg.DefaultLLMProvider())

	// Tool providers parse per type, with env expansion applied.
	slack, err := cfg.GetProvider("slack")
	require.NoError(t, err)
	assert.Equal(t, ProviderTypeSlack, slack.Type)
	assert.Equal(t, "http://localhost:9999/api/", slack.APIURL)

	github, err := cfg.GetProvider("github")
	require.NoError(t, err)
	require.NotNil(t, github.Transport)
	assert.Equal(t, TransportTypeStdio, github.Transport.Type)
	assert.Equal(t, "github-mcp-server", github.Transport.Command)

	demo, err := cfg.GetProvider("demo")
	require.NoError(t, err)
	assert.True(t, demo.Public)
	require.Len(t, demo.Tools, 1)
	assert.Equal(t, "echo", demo.Tools[0].Name)
	require.Len(t, demo.Tools[0].Params, 1)
	assert.Nil(t, demo.Tools[0].Params[0].Default)

	// Tenants and stats.
	tenant := cfg.GetTenant("user-1")
	require.NotNil(t, tenant)
	assert.Equal(t, []string{"slack", "github"}, tenant.Providers)
	assert.Equal(t, "USER1_SLACK_TOKEN", tenant.Credentials["slack_token"])
	assert.Nil(t, cfg.GetTenant("unknown"))

	stats := cfg.Stats()
	assert.Equal(t, 3, stats.Providers)
	assert.Equal(t, 3, stats.LLMProviders)
	assert.Equal(t, 1, stats.Tenants)
}

func TestInitializeMinimal(t *testing.T) {
	path := writeConfig(t, "{}\n")
	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DefaultQueueConfig().MaxConcurrentRuns, cfg.Queue.MaxConcurrentRuns)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "./data/runs", cfg.Storage.Root)
	assert.Equal(t, "openai-default", cfg.DefaultLLMProvider())
	assert.Equal(t, 0, cfg.ProviderRegistry.Len())
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
}

func TestInitializeConfigNotFound(t *testing.T) {
	_, err := Initialize(context.Background(), "/nonexistent/planner.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	path := writeConfig(t, "providers: [not: a: map\n")

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidationFailure(t *testing.T) {
	path := writeConfig(t, `
tenants:
  user-1:
    providers: [missing]
`)

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "provider 'missing' not found")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("PLANNER_TEST_TOKEN", "tok-123")

	out := ExpandEnv([]byte("token: {{.PLANNER_TEST_TOKEN}}"))
	assert.Equal(t, "token: tok-123", string(out))

	// Missing variables become empty, plain $ is preserved.
	out = ExpandEnv([]byte("pattern: ^secret.*$ value: {{.PLANNER_TEST_UNSET_VAR}}"))
	assert.Equal(t, "pattern: ^secret.*$ value: ", string(out))

	// Malformed templates pass through unchanged.
	raw := []byte("broken: {{.unterminated")
	assert.Equal(t, raw, ExpandEnv(raw))
}

func TestResolveBudgetExplicitZeroDisablesAxis(t *testing.T) {
	path := writeConfig(t, `
defaults:
  budget:
    max_code_runs: 0
`)
	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	budget := cfg.Defaults.ResolveBudget()
	assert.Equal(t, 0, budget.MaxCodeRuns)
	assert.Equal(t, 10, budget.MaxSteps)
}
