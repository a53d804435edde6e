package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/toolboxlabs/planner/pkg/masking"
)

// PlannerYAMLConfig represents the complete planner.yaml file structure
type PlannerYAMLConfig struct {
	Server       *ServerConfig                `yaml:"server"`
	Defaults     *Defaults                    `yaml:"defaults"`
	Queue        *QueueConfig                 `yaml:"queue"`
	Sandbox      *SandboxConfig               `yaml:"sandbox"`
	Storage      *StorageYAMLConfig           `yaml:"storage"`
	Retention    *RetentionConfig             `yaml:"retention"`
	Masking      *MaskingYAMLConfig           `yaml:"masking"`
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
	Providers    map[string]ProviderConfig    `yaml:"providers"`
	Tenants      map[string]*TenantConfig     `yaml:"tenants"`
}

// StorageYAMLConfig holds storage settings from YAML. Enabled is a *bool
// so an explicit false survives default resolution.
type StorageYAMLConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Root    string `yaml:"root,omitempty"`
}

// MaskingYAMLConfig holds masking settings from YAML. Enabled is a *bool:
// nil means "use default" (enabled), explicit false disables.
type MaskingYAMLConfig struct {
	Enabled   *bool                   `yaml:"enabled,omitempty"`
	ExtraKeys []string                `yaml:"extra_keys,omitempty"`
	Patterns  []masking.PatternConfig `yaml:"patterns,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read the YAML file and expand {{.ENV_VAR}} references
//  2. Parse YAML into structs
//  3. Merge built-in + user-defined LLM providers
//  4. Apply default values for omitted sections
//  5. Build in-memory registries
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, path string) (*Config, error) {
	log := slog.With("config_path", path)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"providers", stats.Providers,
		"llm_providers", stats.LLMProviders,
		"tenants", stats.Tenants)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, path string) (*Config, error) {
	raw, err := loadPlannerYAML(path)
	if err != nil {
		return nil, NewLoadError(filepath.Base(path), err)
	}

	// Merge built-in + user-defined LLM providers (user overrides built-in)
	builtin := GetBuiltinConfig()
	llmProviders := mergeLLMProviders(builtin.LLMProviders, raw.LLMProviders)

	// Tool providers come from YAML only; there are no built-ins beyond
	// the toolbox, which the runtime registry adds itself.
	providers := make(map[string]*ProviderConfig, len(raw.Providers))
	for name := range raw.Providers {
		cfg := raw.Providers[name]
		providers[name] = &cfg
	}

	// Resolve queue config (merge user YAML with built-in defaults).
	// Start with defaults, then merge user config on top so unset fields
	// keep their defaults.
	queueConfig := DefaultQueueConfig()
	if raw.Queue != nil {
		if err := mergo.Merge(queueConfig, raw.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	defaults := raw.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.LLMProvider == "" {
		defaults.LLMProvider = builtin.DefaultLLMProvider
	}

	tenants := raw.Tenants
	if tenants == nil {
		tenants = make(map[string]*TenantConfig)
	}

	return &Config{
		path:                path,
		Defaults:            defaults,
		Server:              resolveServerConfig(raw.Server),
		Queue:               queueConfig,
		Sandbox:             resolveSandboxConfig(raw.Sandbox),
		Storage:             resolveStorageConfig(raw.Storage),
		Retention:           resolveRetentionConfig(raw.Retention),
		Masking:             resolveMaskingConfig(raw.Masking),
		Tenants:             tenants,
		LLMProviderRegistry: NewLLMProviderRegistry(llmProviders),
		ProviderRegistry:    NewProviderRegistry(providers),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

func loadPlannerYAML(path string) (*PlannerYAMLConfig, error) {
	var config PlannerYAMLConfig

	// Initialize maps to avoid nil maps
	config.LLMProviders = make(map[string]LLMProviderConfig)
	config.Providers = make(map[string]ProviderConfig)
	config.Tenants = make(map[string]*TenantConfig)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &config, nil
}

// resolveServerConfig resolves server configuration from YAML, applying defaults.
func resolveServerConfig(server *ServerConfig) *ServerConfig {
	cfg := DefaultServerConfig()
	if server == nil {
		return cfg
	}
	if server.Host != "" {
		cfg.Host = server.Host
	}
	if server.Port > 0 {
		cfg.Port = server.Port
	}
	cfg.AllowedWSOrigins = server.AllowedWSOrigins
	return cfg
}

// resolveSandboxConfig resolves sandbox configuration from YAML, applying defaults.
func resolveSandboxConfig(sandbox *SandboxConfig) *SandboxConfig {
	cfg := DefaultSandboxConfig()
	if sandbox == nil {
		return cfg
	}
	if sandbox.PythonPath != "" {
		cfg.PythonPath = sandbox.PythonPath
	}
	if sandbox.Timeout > 0 {
		cfg.Timeout = sandbox.Timeout
	}
	if sandbox.IPCNetwork != "" {
		cfg.IPCNetwork = sandbox.IPCNetwork
	}
	if sandbox.Root != "" {
		cfg.Root = sandbox.Root
	}
	return cfg
}

// resolveStorageConfig resolves storage configuration from YAML, applying defaults.
func resolveStorageConfig(storage *StorageYAMLConfig) *StorageConfig {
	cfg := DefaultStorageConfig()
	if storage == nil {
		return cfg
	}
	if storage.Enabled != nil {
		cfg.Enabled = *storage.Enabled
	}
	if storage.Root != "" {
		cfg.Root = storage.Root
	}
	return cfg
}

// resolveRetentionConfig resolves retention configuration from YAML, applying defaults.
func resolveRetentionConfig(retention *RetentionConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()
	if retention == nil {
		return cfg
	}
	if retention.RunRetention > 0 {
		cfg.RunRetention = retention.RunRetention
	}
	if retention.CleanupInterval > 0 {
		cfg.CleanupInterval = retention.CleanupInterval
	}
	return cfg
}

// resolveMaskingConfig resolves masking configuration from YAML, applying
// defaults. Masking defaults to enabled; only an explicit false disables
// it.
func resolveMaskingConfig(m *MaskingYAMLConfig) *masking.Config {
	cfg := &masking.Config{Enabled: true}
	if m == nil {
		return cfg
	}
	if m.Enabled != nil {
		cfg.Enabled = *m.Enabled
	}
	cfg.ExtraKeys = m.ExtraKeys
	cfg.Patterns = m.Patterns
	return cfg
}
