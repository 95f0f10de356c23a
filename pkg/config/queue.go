package config

import "time"

// QueueConfig contains job queue, worker pool, and persistence configuration.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines pulling jobs.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentJobs is the limit of jobs in RUNNING state at once.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// MaxTrackedJobs is the admission ceiling across all lifecycle states.
	// Submissions beyond it fail with QUEUE_FULL.
	MaxTrackedJobs int `yaml:"max_tracked_jobs"`

	// PollInterval is the base interval workers wait between queue checks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// PersistDir is the directory holding one {job_id}.json file per job.
	PersistDir string `yaml:"persist_dir"`

	// SnapshotInterval is how often the persistence worker writes all
	// in-memory records to disk.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// CompletedRetention is how long terminal records are kept before the
	// cleanup worker removes them (and their files).
	CompletedRetention time.Duration `yaml:"completed_retention"`

	// CleanupInterval is how often the cleanup worker runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// GracefulShutdownTimeout is the max time to wait for running jobs
	// to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             3,
		MaxConcurrentJobs:       3,
		MaxTrackedJobs:          1000,
		PollInterval:            250 * time.Millisecond,
		PollIntervalJitter:      100 * time.Millisecond,
		PersistDir:              "data/jobs",
		SnapshotInterval:        60 * time.Second,
		CompletedRetention:      24 * time.Hour,
		CleanupInterval:         1 * time.Hour,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
