package config

import "time"

// RetentionConfig controls run artifact retention and cleanup behavior.
type RetentionConfig struct {
	// RunRetention is how long completed run directories are kept before
	// the cleanup loop removes them.
	RunRetention time.Duration `yaml:"run_retention"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// WorkspaceTTL is the age past which an orphaned sandbox workspace
	// directory (left behind by a crashed run) is removed.
	WorkspaceTTL time.Duration `yaml:"workspace_ttl"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RunRetention:    7 * 24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
		WorkspaceTTL:    2 * time.Hour,
	}
}
