package config

import (
	"fmt"

	"github.com/toolboxlabs/planner/pkg/masking"
)

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the application.
type Config struct {
	path string // Configuration file path (for reference)

	// System-wide defaults
	Defaults *Defaults

	// Front door, scheduler, sandbox, storage, retention
	Server    *ServerConfig
	Queue     *QueueConfig
	Sandbox   *SandboxConfig
	Storage   *StorageConfig
	Retention *RetentionConfig

	// Masking is passed through to the masking service.
	Masking *masking.Config

	// Static per-tenant grants and credential references.
	Tenants map[string]*TenantConfig

	// Component registries
	LLMProviderRegistry *LLMProviderRegistry
	ProviderRegistry    *ProviderRegistry
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Providers    int
	LLMProviders int
	Tenants      int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{Tenants: len(c.Tenants)}
	if c.ProviderRegistry != nil {
		s.Providers = c.ProviderRegistry.Len()
	}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	return s
}

// Path returns the configuration file path
func (c *Config) Path() string {
	return c.path
}

// GetProvider retrieves a tool provider configuration by name.
// This is a convenience method that wraps ProviderRegistry.Get().
func (c *Config) GetProvider(name string) (*ProviderConfig, error) {
	if c.ProviderRegistry == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return c.ProviderRegistry.Get(name)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	if c.LLMProviderRegistry == nil {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return c.LLMProviderRegistry.Get(name)
}

// DefaultLLMProvider returns the provider name used when a submission
// does not pick one.
func (c *Config) DefaultLLMProvider() string {
	if c.Defaults != nil && c.Defaults.LLMProvider != "" {
		return c.Defaults.LLMProvider
	}
	return GetBuiltinConfig().DefaultLLMProvider
}

// GetTenant returns the static tenant configuration, or nil when the
// tenant has no entry (unknown tenants still run, with public providers
// only).
func (c *Config) GetTenant(userID string) *TenantConfig {
	return c.Tenants[userID]
}
