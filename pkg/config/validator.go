package config

import (
	"fmt"
	"strings"

	"github.com/toolboxlabs/planner/pkg/models"
)

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateSandbox(); err != nil {
		return fmt.Errorf("sandbox validation failed: %w", err)
	}
	if err := v.validateStorage(); err != nil {
		return fmt.Errorf("storage validation failed: %w", err)
	}
	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}
	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("tool provider validation failed: %w", err)
	}
	if err := v.validateTenants(); err != nil {
		return fmt.Errorf("tenant validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "server", "port", fmt.Errorf("must be 1-65535, got %d", s.Port))
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d.Budget != nil {
		b := d.Budget
		if b.MaxSteps != nil && *b.MaxSteps < 0 {
			return NewValidationError("defaults", "budget", "max_steps", fmt.Errorf("must not be negative"))
		}
		if b.MaxToolCalls != nil && *b.MaxToolCalls < 0 {
			return NewValidationError("defaults", "budget", "max_tool_calls", fmt.Errorf("must not be negative"))
		}
		if b.MaxCodeRuns != nil && *b.MaxCodeRuns < 0 {
			return NewValidationError("defaults", "budget", "max_code_runs", fmt.Errorf("must not be negative"))
		}
		if b.MaxLLMCostUSD != nil && *b.MaxLLMCostUSD < 0 {
			return NewValidationError("defaults", "budget", "max_llm_cost_usd", fmt.Errorf("must not be negative"))
		}
	}
	if d.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(d.LLMProvider) {
		return NewValidationError("defaults", "defaults", "llm_provider", fmt.Errorf("LLM provider '%s' not found", d.LLMProvider))
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.MaxConcurrentRuns < 1 {
		return NewValidationError("queue", "queue", "max_concurrent_runs", fmt.Errorf("must be at least 1"))
	}
	if q.MaxRunsPerTenant < 0 {
		return NewValidationError("queue", "queue", "max_runs_per_tenant", fmt.Errorf("must not be negative"))
	}
	if q.QueueDepth < 0 {
		return NewValidationError("queue", "queue", "queue_depth", fmt.Errorf("must not be negative"))
	}
	if !q.OverflowPolicy.IsValid() {
		return NewValidationError("queue", "queue", "overflow_policy", fmt.Errorf("invalid policy: %s", q.OverflowPolicy))
	}
	if q.RunTimeout <= 0 {
		return NewValidationError("queue", "queue", "run_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateSandbox() error {
	s := v.cfg.Sandbox
	if s.PythonPath == "" {
		return NewValidationError("sandbox", "sandbox", "python_path", fmt.Errorf("must not be empty"))
	}
	if s.Timeout <= 0 {
		return NewValidationError("sandbox", "sandbox", "timeout", fmt.Errorf("must be positive"))
	}
	if !s.IPCNetwork.IsValid() {
		return NewValidationError("sandbox", "sandbox", "ipc_network", fmt.Errorf("invalid network: %s", s.IPCNetwork))
	}
	return nil
}

func (v *Validator) validateStorage() error {
	s := v.cfg.Storage
	if s.Enabled && s.Root == "" {
		return NewValidationError("storage", "storage", "root", fmt.Errorf("must not be empty when storage is enabled"))
	}
	return nil
}

func (v *Validator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid type: %s", provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("must not be empty"))
		}
		if provider.InputCostPerMTok < 0 || provider.OutputCostPerMTok < 0 {
			return NewValidationError("llm_provider", name, "input_cost_per_mtok", fmt.Errorf("costs must not be negative"))
		}
	}
	return nil
}

func (v *Validator) validateProviders() error {
	for name, provider := range v.cfg.ProviderRegistry.GetAll() {
		if name == models.ToolboxProvider {
			return NewValidationError("provider", name, "", fmt.Errorf("the name is reserved for the builtin provider"))
		}
		if strings.Contains(name, ".") {
			return NewValidationError("provider", name, "", fmt.Errorf("provider names must not contain '.'"))
		}
		if !provider.Type.IsValid() {
			return NewValidationError("provider", name, "type", fmt.Errorf("invalid type: %s", provider.Type))
		}

		switch provider.Type {
		case ProviderTypeMCP:
			if err := v.validateTransport(name, provider.Transport); err != nil {
				return err
			}
		case ProviderTypeSlack:
			// Token may come from tenant credentials instead, so TokenEnv
			// is optional here.
		case ProviderTypeStub:
			if len(provider.Tools) == 0 {
				return NewValidationError("provider", name, "tools", fmt.Errorf("at least one tool required"))
			}
			for i, tool := range provider.Tools {
				if tool.Name == "" {
					return NewValidationError("provider", name, "tools", fmt.Errorf("tools[%d]: name must not be empty", i))
				}
				for j, p := range tool.Params {
					if p.Name == "" {
						return NewValidationError("provider", name, "tools", fmt.Errorf("tools[%d].params[%d]: name must not be empty", i, j))
					}
				}
			}
		}
	}
	return nil
}

func (v *Validator) validateTransport(providerName string, t *TransportConfig) error {
	if t == nil {
		return NewValidationError("provider", providerName, "transport", fmt.Errorf("required for mcp providers"))
	}
	if !t.Type.IsValid() {
		return NewValidationError("provider", providerName, "transport.type", fmt.Errorf("invalid type: %s", t.Type))
	}
	switch t.Type {
	case TransportTypeStdio:
		if t.Command == "" {
			return NewValidationError("provider", providerName, "transport.command", fmt.Errorf("required for stdio transport"))
		}
	case TransportTypeHTTP, TransportTypeSSE:
		if t.URL == "" {
			return NewValidationError("provider", providerName, "transport.url", fmt.Errorf("required for %s transport", t.Type))
		}
	}
	return nil
}

func (v *Validator) validateTenants() error {
	for userID, tenant := range v.cfg.Tenants {
		if tenant == nil {
			continue
		}
		for _, providerName := range tenant.Providers {
			if !v.cfg.ProviderRegistry.Has(providerName) {
				return NewValidationError("tenant", userID, "providers", fmt.Errorf("provider '%s' not found", providerName))
			}
		}
		for credName, envName := range tenant.Credentials {
			if envName == "" {
				return NewValidationError("tenant", userID, "credentials", fmt.Errorf("credential '%s' has empty env name", credName))
			}
		}
	}
	return nil
}
