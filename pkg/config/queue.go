package config

import "time"

// QueueConfig contains run scheduler configuration. These values control
// how many runs execute concurrently and what happens at capacity.
type QueueConfig struct {
	// MaxConcurrentRuns is the global limit of runs executing at once.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// MaxRunsPerTenant caps concurrent runs per user id. Zero disables
	// the per-tenant cap.
	MaxRunsPerTenant int `yaml:"max_runs_per_tenant"`

	// QueueDepth is how many submissions may wait for a slot before the
	// overflow policy applies.
	QueueDepth int `yaml:"queue_depth"`

	// OverflowPolicy decides between queueing and rejecting with
	// overloaded once QueueDepth is reached.
	OverflowPolicy OverflowPolicy `yaml:"overflow_policy"`

	// RunTimeout is the maximum wall-clock time for one run.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active runs to
	// complete during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxConcurrentRuns:       8,
		MaxRunsPerTenant:        2,
		QueueDepth:              32,
		OverflowPolicy:          OverflowPolicyQueue,
		RunTimeout:              10 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
