package config

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderConfig defines one tool provider adapter.
type ProviderConfig struct {
	// Provider type (required)
	Type ProviderType `yaml:"type"`

	// Public grants the provider to every tenant. When false, only the
	// tenants listed below (or granted at runtime) may use it.
	Public bool `yaml:"public,omitempty"`

	// Tenants lists user ids authorized for this provider.
	Tenants []string `yaml:"tenants,omitempty"`

	// For slack providers: env var holding the default bot token, and an
	// optional API base URL override (tests, proxies).
	TokenEnv string `yaml:"token_env,omitempty"`
	APIURL   string `yaml:"api_url,omitempty"`

	// For mcp providers.
	Transport *TransportConfig `yaml:"transport,omitempty"`

	// For stub providers.
	Tools []StubToolConfig `yaml:"tools,omitempty"`
}

// ProviderRegistry stores tool provider configurations in memory with thread-safe access
type ProviderRegistry struct {
	providers map[string]*ProviderConfig
	mu        sync.RWMutex
}

// NewProviderRegistry creates a new tool provider registry
func NewProviderRegistry(providers map[string]*ProviderConfig) *ProviderRegistry {
	copied := make(map[string]*ProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &ProviderRegistry{
		providers: copied,
	}
}

// Get retrieves a provider configuration by name (thread-safe)
func (r *ProviderRegistry) Get(name string) (*ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns all provider configurations (thread-safe, returns copy)
func (r *ProviderRegistry) GetAll() map[string]*ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks if a provider exists in the registry (thread-safe)
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Len returns the number of providers in the registry (thread-safe)
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Names returns a sorted list of configured provider names.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TenantConfig declares static per-tenant settings: provider grants and
// credential references. Credentials map a credential name (as providers
// look it up, e.g. "slack_token") to the env var holding the secret.
type TenantConfig struct {
	Providers   []string          `yaml:"providers,omitempty"`
	Credentials map[string]string `yaml:"credentials,omitempty"`
}
