package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/events"
	"github.com/sondelab/sonde/pkg/models"
	"github.com/sondelab/sonde/pkg/tools"
)

// scriptedLLM replays one chunk script per Generate call.
type scriptedLLM struct {
	mu      sync.Mutex
	scripts [][]agent.Chunk
	calls   int
}

func (s *scriptedLLM) Generate(_ context.Context, _ *agent.GenerateInput) (<-chan agent.Chunk, error) {
	s.mu.Lock()
	script := s.scripts[len(s.scripts)-1]
	if s.calls < len(s.scripts) {
		script = s.scripts[s.calls]
	}
	s.calls++
	s.mu.Unlock()

	ch := make(chan agent.Chunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func newTestRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(&tools.Descriptor{
		Name:        agent.ToolFinalAnswer,
		Description: "Conclude the research",
		Category:    tools.CategorySystem,
		InputSchema: map[string]any{"type": "object"},
		Terminal:    true,
		Exec: func(_ context.Context, actx *agent.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Answer string `json:"answer"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", err
			}
			actx.SetExecutionResult(args.Answer)
			if args.Status == "failed" {
				actx.SetState(agent.StateFailed)
			} else {
				actx.SetState(agent.StateCompleted)
			}
			return args.Answer, nil
		},
	})
	return reg
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:   config.DefaultServerConfig(),
		LLM:      config.DefaultLLMProviderConfig(),
		Agent:    config.DefaultAgentConfig(),
		Queue:    testQueueConfig(t),
		Broker:   config.DefaultBrokerConfig(),
		Research: config.DefaultResearchConfig(),
	}
	cfg.Research.ArtifactsDir = t.TempDir()
	return cfg
}

func setupExecutor(t *testing.T, llm agent.LLMClient) (*ResearchExecutor, *Manager, *events.Broker) {
	t.Helper()
	cfg := testConfig(t)
	persist, err := NewPersistence(cfg.Queue.PersistDir)
	require.NoError(t, err)
	manager := NewManager(cfg.Queue, cfg.AgentTypes(), persist)
	broker := events.NewBroker(0)
	executor := NewResearchExecutor(cfg, manager, broker, newTestRegistry(), llm, nil)
	return executor, manager, broker
}

func claimJob(t *testing.T, m *Manager, agentType string) *models.JobRecord {
	t.Helper()
	job, err := m.Submit(&models.SubmitRequest{Query: "research Go", AgentType: agentType})
	require.NoError(t, err)
	claimed, err := m.Next()
	require.NoError(t, err)
	require.Equal(t, job.JobID, claimed.JobID)
	return claimed
}

func drainEvents(sub *events.Subscriber) []events.Event {
	var out []events.Event
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestExecutorCompletesJob(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]agent.Chunk{{
		&agent.TextChunk{Content: "Working."},
		&agent.ToolCallChunk{CallID: "c1", Name: agent.ToolFinalAnswer, Arguments: `{"answer":"Go is a language","status":"completed"}`},
		&agent.UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}}}
	executor, manager, broker := setupExecutor(t, llm)
	job := claimJob(t, manager, "toolcall")

	sub := broker.Subscribe(job.JobID)
	defer broker.Unsubscribe(sub)

	executor.Execute(context.Background(), job)

	got, err := manager.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Go is a language", got.Result.FinalAnswer)
	assert.Equal(t, 15, got.Result.Metrics.TotalTokens)
	assert.GreaterOrEqual(t, got.Result.Metrics.Iterations, 1)

	// The streamed delta reached the broker as a chunk event.
	var deltas []string
	for _, e := range drainEvents(sub) {
		if e.Name == events.EventChunk {
			deltas = append(deltas, e.Data.(events.ChunkPayload).Delta)
		}
	}
	assert.Contains(t, deltas, "Working.")
}

func TestExecutorFailsJobOnLLMError(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]agent.Chunk{
		{&agent.ErrorChunk{Message: "provider down"}},
		{&agent.ErrorChunk{Message: "provider down"}},
	}}
	executor, manager, broker := setupExecutor(t, llm)
	job := claimJob(t, manager, "toolcall")

	sub := broker.Subscribe(job.JobID)
	defer broker.Unsubscribe(sub)

	executor.Execute(context.Background(), job)

	got, err := manager.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrorKindLLM, got.Error.Kind)

	var sawError bool
	for _, e := range drainEvents(sub) {
		if e.Name == events.EventJobError {
			sawError = true
		}
	}
	assert.True(t, sawError, "job_error event was broadcast")
}

func TestExecutorCancelledContext(t *testing.T) {
	llm := &scriptedLLM{scripts: [][]agent.Chunk{{
		&agent.TextChunk{Content: "never used"},
	}}}
	executor, manager, _ := setupExecutor(t, llm)
	job := claimJob(t, manager, "toolcall")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	executor.Execute(ctx, job)

	got, err := manager.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
}

func TestDeriveProgress(t *testing.T) {
	assert.Equal(t, 0.0, deriveProgress(0, 0, 0))
	// 100 * (2 + 0.5*2) / 35
	assert.InDelta(t, 8.57, deriveProgress(2, 2, 35), 0.01)
	assert.Equal(t, 95.0, deriveProgress(40, 10, 35))
}

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, defaultSystemPrompt, buildSystemPrompt(nil))
	assert.Equal(t, defaultSystemPrompt, buildSystemPrompt(&config.AgentProfile{}))

	custom := buildSystemPrompt(&config.AgentProfile{CustomInstructions: "Answer in French."})
	assert.Contains(t, custom, defaultSystemPrompt)
	assert.Contains(t, custom, "Answer in French.")
}
