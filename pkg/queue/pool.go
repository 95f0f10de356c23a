package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sondelab/sonde/pkg/config"
)

// PoolHealth is the pool's health snapshot for the health endpoint.
type PoolHealth struct {
	Healthy       bool           `json:"healthy"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	RunningJobs   int            `json:"running_jobs"`
	MaxConcurrent int            `json:"max_concurrent"`
	QueueDepth    int            `json:"queue_depth"`
	Workers       []WorkerHealth `json:"workers"`
}

// WorkerPool runs the configured number of queue workers.
type WorkerPool struct {
	cfg      *config.QueueConfig
	manager  *Manager
	executor JobExecutor
	workers  []*Worker
	started  bool
	log      *slog.Logger
}

// NewWorkerPool creates a pool; Start spawns the workers.
func NewWorkerPool(cfg *config.QueueConfig, manager *Manager, executor JobExecutor) *WorkerPool {
	return &WorkerPool{
		cfg:      cfg,
		manager:  manager,
		executor: executor,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		log:      slog.With("component", "worker_pool"),
	}
}

// Start spawns the worker goroutines. Subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		p.log.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	p.log.Info("Starting worker pool", "worker_count", p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.manager, p.cfg, p.executor)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	p.log.Info("Worker pool started")
}

// Stop signals all workers and waits; workers finish their current jobs.
func (p *WorkerPool) Stop() {
	p.log.Info("Stopping worker pool gracefully")
	for _, worker := range p.workers {
		worker.Stop()
	}
	p.log.Info("Worker pool stopped")
}

// Health returns the pool health snapshot.
func (p *WorkerPool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	running := p.manager.RunningCount()
	return &PoolHealth{
		Healthy:       len(p.workers) > 0 && running <= p.cfg.MaxConcurrentJobs,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		RunningJobs:   running,
		MaxConcurrent: p.cfg.MaxConcurrentJobs,
		QueueDepth:    p.manager.PendingCount(),
		Workers:       workerStats,
	}
}
