package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/agent/strategy"
	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/events"
	"github.com/sondelab/sonde/pkg/models"
	"github.com/sondelab/sonde/pkg/tools"
)

// defaultSystemPrompt seeds every agent conversation. Profile custom
// instructions are appended below it.
const defaultSystemPrompt = `You are a research agent. You answer the user's research task by
searching the web, extracting pages, and keeping notes, then concluding
with a final answer or a report. Cite sources by their [n] numbers.
Work step by step and stay within your tool budget.`

// ResearchExecutor builds and runs one agent per claimed job, then
// translates the engine outcome into a queue transition.
type ResearchExecutor struct {
	cfg      *config.Config
	manager  *Manager
	broker   *events.Broker
	registry *tools.Registry
	llm      agent.LLMClient
	masker   agent.Masker
	log      *slog.Logger
}

// NewResearchExecutor creates an executor. masker may be nil (masking
// disabled).
func NewResearchExecutor(cfg *config.Config, manager *Manager, broker *events.Broker, registry *tools.Registry, llm agent.LLMClient, masker agent.Masker) *ResearchExecutor {
	return &ResearchExecutor{
		cfg:      cfg,
		manager:  manager,
		broker:   broker,
		registry: registry,
		llm:      llm,
		masker:   masker,
		log:      slog.With("component", "executor"),
	}
}

// Execute runs one job to a terminal state. The job is settled through the
// manager before this returns.
func (e *ResearchExecutor) Execute(ctx context.Context, job *models.JobRecord) {
	log := e.log.With("job_id", job.JobID)

	profile, ok := e.cfg.Profile(job.AgentType)
	if !ok {
		// Submission validated the agent type; losing it means the config
		// changed underneath a queued job.
		e.fail(job.JobID, models.NewJobError(models.ErrorKindInternal,
			"agent type %q no longer configured", job.AgentType))
		return
	}

	strat, err := strategy.New(profile.Strategy, e.llm, e.cfg.LLM)
	if err != nil {
		e.fail(job.JobID, models.NewJobError(models.ErrorKindInternal,
			"building strategy: %v", err))
		return
	}

	workdir := filepath.Join(e.cfg.Research.ArtifactsDir, job.JobID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		log.Warn("Failed to create job workdir, notes will not be mirrored",
			"workdir", workdir, "error", err)
		workdir = ""
	}

	actx := agent.NewContext(job.JobID, workdir)
	sink := agent.NewSink()
	started := time.Now()

	engine := agent.NewEngine(agent.EngineConfig{
		Context:      actx,
		Sink:         sink,
		Strategy:     strat,
		Toolkit:      e.registry.All(),
		Budgets:      e.cfg.Agent.Resolve(profile),
		SystemPrompt: buildSystemPrompt(profile),
		Query:        job.Query,
		Masker:       e.masker,
		OnProgress: func(iterations, searchesUsed, sourcesFound int, step string) {
			progress := deriveProgress(iterations, searchesUsed, job.TotalSteps)
			if err := e.manager.UpdateProgress(job.JobID, progress, step, iterations, searchesUsed, sourcesFound); err != nil {
				log.Warn("Failed to update progress", "error", err)
			}
		},
	})

	e.manager.RegisterClarifier(job.JobID, engine.ProvideClarification)

	engineDone := make(chan struct{})
	var pumpWg sync.WaitGroup
	pumpWg.Add(1)
	go func() {
		defer pumpWg.Done()
		e.pumpChunks(ctx, job.JobID, sink, engineDone)
	}()

	result := engine.Run(ctx)
	close(engineDone)
	pumpWg.Wait()

	switch result.Status {
	case agent.ExecStatusCompleted:
		research := &models.ResearchResult{
			FinalAnswer: result.FinalAnswer,
			Sources:     actx.Sources(),
			Metrics: models.ResearchMetrics{
				DurationMS:   time.Since(started).Milliseconds(),
				Iterations:   actx.Iteration(),
				SearchesUsed: actx.SearchesUsed(),
				SourcesFound: actx.SourceCount(),
				InputTokens:  result.TokensUsed.InputTokens,
				OutputTokens: result.TokensUsed.OutputTokens,
				TotalTokens:  result.TokensUsed.TotalTokens,
			},
			Artifacts: actx.Artifacts(),
		}
		if err := e.manager.MarkCompleted(job.JobID, research); err != nil {
			log.Error("Failed to mark job completed", "error", err)
		}

	case agent.ExecStatusCancelled:
		if err := e.manager.MarkCancelled(job.JobID); err != nil {
			log.Error("Failed to mark job cancelled", "error", err)
		}

	default:
		jobErr := result.Err
		if jobErr == nil {
			jobErr = models.NewJobError(models.ErrorKindInternal, "agent failed without error detail")
		}
		e.fail(job.JobID, jobErr)
	}
}

// fail marks the job FAILED and broadcasts the error detail.
func (e *ResearchExecutor) fail(jobID string, jobErr *models.JobError) {
	e.broker.JobError(jobID, jobErr)
	if err := e.manager.MarkFailed(jobID, jobErr); err != nil {
		e.log.Error("Failed to mark job failed", "job_id", jobID, "error", err)
	}
}

// pumpChunks forwards sink output to the broker until the engine is done.
// The sink finishes during clarification suspension and reopens afterwards,
// so a drained stream only ends the pump once the engine has returned.
func (e *ResearchExecutor) pumpChunks(ctx context.Context, jobID string, sink *agent.Sink, engineDone <-chan struct{}) {
	reader := sink.NewReader()
	for {
		chunk, err := reader.Next(ctx)
		if err == nil {
			e.broker.Chunk(jobID, string(chunk))
			continue
		}
		if !errors.Is(err, agent.ErrStreamDone) {
			return
		}
		select {
		case <-engineDone:
			return
		case <-sink.Reopened():
		case <-ctx.Done():
			return
		}
	}
}

// buildSystemPrompt appends profile custom instructions to the default
// prompt.
func buildSystemPrompt(profile *config.AgentProfile) string {
	if profile == nil || profile.CustomInstructions == "" {
		return defaultSystemPrompt
	}
	return defaultSystemPrompt + "\n\n" + profile.CustomInstructions
}

// deriveProgress maps budget counters onto a 0..95 percentage while the
// job runs; exact 100 is reserved for completion.
func deriveProgress(iterations, searchesUsed, totalSteps int) float64 {
	if totalSteps <= 0 {
		return 0
	}
	progress := 100 * (float64(iterations) + 0.5*float64(searchesUsed)) / float64(totalSteps)
	if progress > 95 {
		progress = 95
	}
	return progress
}
