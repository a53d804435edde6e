package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/toolboxlabs/planner/pkg/config"
)

// FromConfig builds a registry from the loaded configuration. Provider
// construction failures are recorded and skipped so one unreachable MCP
// server does not block startup; Failed reports them for /health.
func FromConfig(ctx context.Context, cfg *config.Config) (*Registry, error) {
	r := New()
	logger := slog.Default().With("component", "registry")

	for _, name := range cfg.ProviderRegistry.Names() {
		pc, err := cfg.ProviderRegistry.Get(name)
		if err != nil {
			return nil, err
		}

		provider, err := buildProvider(ctx, name, *pc)
		if err != nil {
			logger.Error("Provider initialization failed", "provider", name, "error", err)
			r.recordFailure(name, err)
			continue
		}
		if err := r.Register(ctx, provider, pc.Public, pc.Tenants); err != nil {
			logger.Error("Provider registration failed", "provider", name, "error", err)
			_ = provider.Close()
			r.recordFailure(name, err)
		}
	}

	for userID, tc := range cfg.Tenants {
		for _, providerName := range tc.Providers {
			if err := r.Grant(userID, providerName); err != nil {
				logger.Warn("Tenant grant skipped", "user_id", userID, "provider", providerName, "error", err)
			}
		}
	}

	return r, nil
}

func buildProvider(ctx context.Context, name string, pc config.ProviderConfig) (Provider, error) {
	switch pc.Type {
	case config.ProviderTypeSlack:
		return NewSlackProvider(name, pc), nil
	case config.ProviderTypeMCP:
		if pc.Transport == nil {
			return nil, fmt.Errorf("mcp provider %q has no transport", name)
		}
		return NewMCPProvider(ctx, name, *pc.Transport)
	case config.ProviderTypeStub:
		return NewStubProvider(name, pc.Tools), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", pc.Type)
	}
}
