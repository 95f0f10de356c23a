// Sonde orchestrator server — provides the HTTP API, manages queue workers,
// and runs research jobs against an OpenAI-compatible LLM backend.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sondelab/sonde/pkg/api"
	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/events"
	"github.com/sondelab/sonde/pkg/llm"
	"github.com/sondelab/sonde/pkg/masking"
	"github.com/sondelab/sonde/pkg/metrics"
	"github.com/sondelab/sonde/pkg/models"
	"github.com/sondelab/sonde/pkg/queue"
	"github.com/sondelab/sonde/pkg/research"
	"github.com/sondelab/sonde/pkg/tools"
	"github.com/sondelab/sonde/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting sonde",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Masking service (applied to tool results before they reach the
	// transcript or the event stream)
	maskingService := masking.NewService(cfg.Masking)

	// 3. LLM client
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "model", cfg.LLM.Model)

	// 4. Research providers and tool registry
	searchClient := research.NewSearchClient(cfg.Research.Search)
	extractor := research.NewExtractor(cfg.Research.Extract)
	artifacts := research.NewArtifactStore(cfg.Research.ArtifactsDir)

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.Deps{
		Search:           searchClient,
		Extractor:        extractor,
		Artifacts:        artifacts,
		MaxSearchResults: cfg.Research.Search.MaxResults,
	})
	slog.Info("Tool registry initialized", "tools", len(registry.Names()))

	// 5. Metrics
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	registry.SetExecHook(m.ToolExecuted)

	// 6. Event broker and WebSocket mirror
	broker := events.NewBroker(cfg.Broker.SubscriberBuffer)
	broker.OnDrop(func(string) { m.EventDropped() })
	connManager := events.NewConnectionManager(broker, 10*time.Second)

	// 7. Queue manager with file persistence
	persist, err := queue.NewPersistence(cfg.Queue.PersistDir)
	if err != nil {
		slog.Error("Failed to initialize job persistence", "error", err)
		os.Exit(1)
	}
	manager := queue.NewManager(cfg.Queue, cfg.AgentTypes(), persist)
	manager.AddStateListener(func(event queue.StateEvent, job *models.JobRecord) {
		switch event {
		case queue.EventProgress:
			broker.JobProgress(job)
		case queue.EventCompleted, queue.EventFailed, queue.EventCancelled:
			broker.JobStatus(job)
			m.JobFinished(string(job.Status))
			if job.Result != nil {
				m.AddTokens(job.Result.Metrics.InputTokens, job.Result.Metrics.OutputTokens)
			}
		default:
			broker.JobStatus(job)
		}
		m.SetQueueDepth(manager.PendingCount())
		m.SetRunningJobs(manager.RunningCount())
	})

	// Recovers persisted jobs and starts the snapshot/cleanup workers.
	if err := manager.Start(); err != nil {
		slog.Error("Failed to start queue manager", "error", err)
		os.Exit(1)
	}
	defer manager.Stop()

	// 8. Executor and worker pool
	executor := queue.NewResearchExecutor(cfg, manager, broker, registry, llmClient, maskingService)
	workerPool := queue.NewWorkerPool(cfg.Queue, manager, executor)
	workerPool.Start(ctx)

	// 9. HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, manager, workerPool, broker, connManager, metricsHandler)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Sonde started successfully",
		"addr", httpServer.Addr(),
		"workers", cfg.Queue.WorkerCount,
		"agent_types", cfg.AgentTypes())

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop claiming work, wait for running jobs,
	// then drain HTTP
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — incomplete jobs will be recovered on restart")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
