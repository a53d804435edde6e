// Package cleanup provides data retention sweeps for run artifacts and
// orphaned sandbox workspaces.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/runstore"
)

// workspacePrefix matches the scratch directories the sandbox
// materializes per run.
const workspacePrefix = "sandbox-"

// Service periodically enforces retention policies:
//   - Removes run directories past the configured retention window
//   - Removes orphaned sandbox workspaces left behind by crashed runs
//
// All operations are idempotent.
type Service struct {
	config *config.RetentionConfig

	// store may be nil when persistence is disabled; the run sweep is
	// then skipped.
	store *runstore.Store

	// sandboxRoot enables the workspace sweep. Empty disables it: the
	// OS temp dir is not ours to police.
	sandboxRoot string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, store *runstore.Store, sandboxRoot string) *Service {
	return &Service{
		config:      cfg,
		store:       store,
		sandboxRoot: sandboxRoot,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"run_retention", s.config.RunRetention,
		"workspace_ttl", s.config.WorkspaceTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll()
		}
	}
}

// RunAll performs one sweep of every retention task. Exposed so tests
// and operators can trigger a sweep without waiting for the ticker.
func (s *Service) RunAll() {
	s.removeExpiredRuns()
	s.removeOrphanedWorkspaces()
}

func (s *Service) removeExpiredRuns() {
	if s.store == nil {
		return
	}
	cutoff := time.Now().Add(-s.config.RunRetention)
	count, err := s.store.RemoveOlderThan(cutoff)
	if err != nil {
		slog.Error("Retention: run sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: removed expired runs", "count", count)
	}
}

func (s *Service) removeOrphanedWorkspaces() {
	if s.sandboxRoot == "" {
		return
	}
	entries, err := os.ReadDir(s.sandboxRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Retention: workspace sweep failed", "error", err)
		}
		return
	}

	cutoff := time.Now().Add(-s.config.WorkspaceTTL)
	count := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), workspacePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.sandboxRoot, e.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Error("Retention: failed to remove workspace", "path", path, "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		slog.Info("Retention: removed orphaned workspaces", "count", count)
	}
}
