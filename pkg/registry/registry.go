// Package registry manages tool provider adapters and per-tenant
// authorization. Writers publish immutable catalog snapshots atomically;
// a run captures the snapshot it started with and never observes
// mid-flight authorization changes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/toolboxlabs/planner/pkg/models"
	"github.com/toolboxlabs/planner/pkg/toolindex"
)

// ErrUnknownProvider indicates a provider name that is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Provider is one upstream tool source (Slack workspace, MCP server,
// stub). Implementations must be safe for concurrent use; a provider is
// shared by every run authorized for it.
type Provider interface {
	// Name returns the provider id used as the tool_id prefix.
	Name() string

	// Definitions reports the provider's wrapper definitions for
	// indexing. The first parameter of every definition is the tenant
	// context and is never exposed to the planner.
	Definitions(ctx context.Context) ([]toolindex.Definition, error)

	// Invoke executes one tool. Transport and upstream failures are
	// reported inside the response, never as Go errors (the planner
	// conversation decides what to do with them).
	Invoke(ctx context.Context, tenant models.TenantContext, tool string, args map[string]any) models.ActionResponse

	// Close releases upstream resources (sessions, subprocesses).
	Close() error
}

// catalog is one immutable published state. Mutators clone, modify the
// clone, and swap the pointer.
type catalog struct {
	providers map[string]Provider
	defs      map[string][]toolindex.Definition
	public    map[string]bool
	grants    map[string]map[string]bool // userID → provider set
}

func newCatalog() *catalog {
	return &catalog{
		providers: make(map[string]Provider),
		defs:      make(map[string][]toolindex.Definition),
		public:    make(map[string]bool),
		grants:    make(map[string]map[string]bool),
	}
}

func (c *catalog) clone() *catalog {
	next := &catalog{
		providers: make(map[string]Provider, len(c.providers)),
		defs:      make(map[string][]toolindex.Definition, len(c.defs)),
		public:    make(map[string]bool, len(c.public)),
		grants:    make(map[string]map[string]bool, len(c.grants)),
	}
	for k, v := range c.providers {
		next.providers[k] = v
	}
	for k, v := range c.defs {
		next.defs[k] = v // definition slices are immutable once published
	}
	for k, v := range c.public {
		next.public[k] = v
	}
	for user, set := range c.grants {
		copied := make(map[string]bool, len(set))
		for p := range set {
			copied[p] = true
		}
		next.grants[user] = copied
	}
	return next
}

// Registry holds the live provider catalog. Thread-safe: reads are
// lock-free snapshots, writes are serialized.
type Registry struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[catalog]
	failed  map[string]string // provider → init error message
	logger  *slog.Logger
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{
		failed: make(map[string]string),
		logger: slog.Default().With("component", "registry"),
	}
	r.current.Store(newCatalog())
	return r
}

// Register fetches the provider's definitions and publishes it. An
// existing provider with the same name is replaced (wrapper reload
// semantics); public providers are available to every tenant.
func (r *Registry) Register(ctx context.Context, p Provider, public bool, tenants []string) error {
	name := p.Name()
	if name == models.ToolboxProvider {
		return fmt.Errorf("provider name %q is reserved", name)
	}

	defs, err := p.Definitions(ctx)
	if err != nil {
		return fmt.Errorf("list definitions for %q: %w", name, err)
	}
	if err := checkDefinitions(name, defs); err != nil {
		return err
	}

	r.mu.Lock()
	next := r.current.Load().clone()
	next.providers[name] = p
	next.defs[name] = defs
	next.public[name] = public
	for _, user := range tenants {
		grantLocked(next, user, name)
	}
	r.current.Store(next)
	delete(r.failed, name)
	r.mu.Unlock()

	r.logger.Info("Provider registered",
		"provider", name, "tools", len(defs), "public", public)
	return nil
}

// Reload refetches a provider's definitions and publishes the result.
// Used when the upstream tool surface changes.
func (r *Registry) Reload(ctx context.Context, name string) error {
	p, ok := r.current.Load().providers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	defs, err := p.Definitions(ctx)
	if err != nil {
		return fmt.Errorf("list definitions for %q: %w", name, err)
	}
	if err := checkDefinitions(name, defs); err != nil {
		return err
	}

	r.mu.Lock()
	next := r.current.Load().clone()
	next.defs[name] = defs
	r.current.Store(next)
	r.mu.Unlock()

	r.logger.Info("Provider reloaded", "provider", name, "tools", len(defs))
	return nil
}

// Deregister removes a provider and closes it. In-flight runs keep their
// snapshot and finish against the closed provider's error responses.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	cat := r.current.Load()
	p, ok := cat.providers[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	next := cat.clone()
	delete(next.providers, name)
	delete(next.defs, name)
	delete(next.public, name)
	for _, set := range next.grants {
		delete(set, name)
	}
	r.current.Store(next)
	r.mu.Unlock()

	if err := p.Close(); err != nil {
		r.logger.Warn("Provider close failed", "provider", name, "error", err)
	}
	r.logger.Info("Provider deregistered", "provider", name)
}

// Grant authorizes a tenant for a provider (OAuth finalization path).
func (r *Registry) Grant(userID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cat := r.current.Load()
	if _, ok := cat.providers[provider]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	next := cat.clone()
	grantLocked(next, userID, provider)
	r.current.Store(next)
	return nil
}

// Revoke removes a tenant's authorization for a provider. Public
// providers stay reachable regardless.
func (r *Registry) Revoke(userID, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone()
	delete(next.grants[userID], provider)
	r.current.Store(next)
}

func grantLocked(cat *catalog, userID, provider string) {
	set, ok := cat.grants[userID]
	if !ok {
		set = make(map[string]bool)
		cat.grants[userID] = set
	}
	set[provider] = true
}

// ProviderNames returns the sorted names of all registered providers.
func (r *Registry) ProviderNames() []string {
	cat := r.current.Load()
	names := make([]string, 0, len(cat.providers))
	for name := range cat.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failed returns providers that could not be initialized, with the error
// message for each. The caller decides whether failures are fatal.
func (r *Registry) Failed() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.failed))
	for k, v := range r.failed {
		out[k] = v
	}
	return out
}

func (r *Registry) recordFailure(name string, err error) {
	r.mu.Lock()
	r.failed[name] = err.Error()
	r.mu.Unlock()
}

// Close shuts down every registered provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	cat := r.current.Load()
	r.current.Store(newCatalog())
	r.mu.Unlock()

	var firstErr error
	for name, p := range cat.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close provider %q: %w", name, err)
		}
	}
	return firstErr
}

// SnapshotFor captures the tenant's authorized view of the catalog. The
// snapshot always contains the builtin toolbox definitions.
func (r *Registry) SnapshotFor(userID string) *Snapshot {
	cat := r.current.Load()

	snap := &Snapshot{
		userID:    userID,
		providers: make(map[string]Provider),
	}
	defs := BuiltinDefinitions()
	for name, p := range cat.providers {
		if !cat.public[name] && !cat.grants[userID][name] {
			continue
		}
		snap.providers[name] = p
		defs = append(defs, cat.defs[name]...)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ToolID() < defs[j].ToolID() })
	snap.defs = defs
	return snap
}

// Snapshot is one tenant's immutable view of the catalog at capture time.
type Snapshot struct {
	userID    string
	providers map[string]Provider
	defs      []toolindex.Definition
}

// UserID returns the tenant the snapshot was captured for.
func (s *Snapshot) UserID() string { return s.userID }

// Definitions returns the authorized definitions, builtin tools included,
// sorted by tool id.
func (s *Snapshot) Definitions() []toolindex.Definition {
	out := make([]toolindex.Definition, len(s.defs))
	copy(out, s.defs)
	return out
}

// Provider returns the live adapter for an authorized provider name.
func (s *Snapshot) Provider(name string) (Provider, bool) {
	p, ok := s.providers[name]
	return p, ok
}

// Authorized reports whether the tenant may use the provider. The builtin
// toolbox is always authorized.
func (s *Snapshot) Authorized(name string) bool {
	if name == models.ToolboxProvider {
		return true
	}
	_, ok := s.providers[name]
	return ok
}

// ProviderNames returns the sorted authorized provider names, toolbox
// excluded.
func (s *Snapshot) ProviderNames() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkDefinitions validates that every definition belongs to the
// provider and that tool names are unique within it.
func checkDefinitions(provider string, defs []toolindex.Definition) error {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.Provider != provider {
			return fmt.Errorf("definition %q does not belong to provider %q", def.ToolID(), provider)
		}
		if def.Name == "" {
			return fmt.Errorf("provider %q reported a definition without a name", provider)
		}
		if seen[def.Name] {
			return fmt.Errorf("provider %q reported duplicate tool %q", provider, def.Name)
		}
		seen[def.Name] = true
	}
	return nil
}
