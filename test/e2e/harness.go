// Package e2e provides end-to-end test infrastructure for the sonde
// orchestrator: a full application instance on a random port, a scripted
// LLM client, and canned research providers.
package e2e

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sondelab/sonde/pkg/api"
	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/events"
	"github.com/sondelab/sonde/pkg/masking"
	"github.com/sondelab/sonde/pkg/models"
	"github.com/sondelab/sonde/pkg/queue"
	"github.com/sondelab/sonde/pkg/research"
	"github.com/sondelab/sonde/pkg/tools"
)

// TestApp boots a complete sonde instance for e2e testing.
type TestApp struct {
	Config  *config.Config
	LLM     *ScriptedLLMClient
	Manager *queue.Manager
	Broker  *events.Broker
	Pool    *queue.WorkerPool
	Server  *api.Server

	// BaseURL is e.g. "http://127.0.0.1:54321".
	BaseURL string

	stopOnce sync.Once
	t        *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg         *config.Config
	llmClient   *ScriptedLLMClient
	workerCount int
	persistDir  string
	mutate      func(cfg *config.Config)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithLLMClient sets a pre-scripted LLM client.
func WithLLMClient(client *ScriptedLLMClient) TestAppOption {
	return func(c *testAppConfig) { c.llmClient = client }
}

// WithWorkerCount sets the number of worker pool goroutines.
func WithWorkerCount(n int) TestAppOption {
	return func(c *testAppConfig) { c.workerCount = n }
}

// WithPersistDir shares a persistence directory between app instances.
// Used by the recovery tests.
func WithPersistDir(dir string) TestAppOption {
	return func(c *testAppConfig) { c.persistDir = dir }
}

// WithConfigMutation applies a final edit to the assembled config.
func WithConfigMutation(fn func(cfg *config.Config)) TestAppOption {
	return func(c *testAppConfig) { c.mutate = fn }
}

// stubSearch returns two canned sources for every query.
type stubSearch struct{}

func (stubSearch) Search(_ context.Context, query string, _ int) (*models.SearchResult, error) {
	return &models.SearchResult{
		Query:  query,
		Answer: "Summary for " + query,
		Sources: []models.Source{
			{URL: "https://example.org/a", Title: "Source A", Snippet: "first result for " + query},
			{URL: "https://example.org/b", Title: "Source B", Snippet: "second result for " + query},
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

// stubExtractor returns canned readable text for every URL.
type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, rawURL string) (*research.Page, error) {
	text := "Extracted body of " + rawURL
	return &research.Page{URL: rawURL, Title: "Page " + rawURL, Text: text, CharCount: len(text)}, nil
}

// NewTestApp creates and starts a full sonde test instance. Shutdown is
// registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{workerCount: 1}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig(t)
	}
	tc.cfg.Queue.WorkerCount = tc.workerCount
	tc.cfg.Queue.MaxConcurrentJobs = tc.workerCount
	if tc.persistDir != "" {
		tc.cfg.Queue.PersistDir = tc.persistDir
	}
	if tc.mutate != nil {
		tc.mutate(tc.cfg)
	}
	if tc.llmClient == nil {
		tc.llmClient = NewScriptedLLMClient(FinalAnswerScript("default answer"))
	}

	// Tool registry over canned research providers.
	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.Deps{
		Search:           stubSearch{},
		Extractor:        stubExtractor{},
		Artifacts:        research.NewArtifactStore(tc.cfg.Research.ArtifactsDir),
		MaxSearchResults: tc.cfg.Research.Search.MaxResults,
	})

	// Broker, WebSocket mirror, queue manager.
	broker := events.NewBroker(tc.cfg.Broker.SubscriberBuffer)
	connManager := events.NewConnectionManager(broker, 5*time.Second)

	persist, err := queue.NewPersistence(tc.cfg.Queue.PersistDir)
	require.NoError(t, err)
	manager := queue.NewManager(tc.cfg.Queue, tc.cfg.AgentTypes(), persist)
	manager.AddStateListener(func(event queue.StateEvent, job *models.JobRecord) {
		if event == queue.EventProgress {
			broker.JobProgress(job)
			return
		}
		broker.JobStatus(job)
	})
	require.NoError(t, manager.Start())

	// Executor and worker pool.
	masker := masking.NewService(tc.cfg.Masking)
	executor := queue.NewResearchExecutor(tc.cfg, manager, broker, registry, tc.llmClient, masker)
	pool := queue.NewWorkerPool(tc.cfg.Queue, manager, executor)
	pool.Start(context.Background())

	// HTTP server on a random port.
	server := api.NewServer(tc.cfg, manager, pool, broker, connManager, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.StartWithListener(ln)
	}()

	app := &TestApp{
		Config:  tc.cfg,
		LLM:     tc.llmClient,
		Manager: manager,
		Broker:  broker,
		Pool:    pool,
		Server:  server,
		BaseURL: fmt.Sprintf("http://%s", ln.Addr().String()),
		t:       t,
	}
	t.Cleanup(app.Stop)
	return app
}

// Stop shuts the instance down in reverse-creation order. Idempotent, so
// tests that restart an app can call it before booting the next one.
func (app *TestApp) Stop() {
	app.stopOnce.Do(func() {
		app.Pool.Stop()
		app.Manager.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(ctx)
	})
}

// defaultTestConfig builds a config with short intervals suitable for tests.
func defaultTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:   config.DefaultServerConfig(),
		LLM:      config.DefaultLLMProviderConfig(),
		Agent:    config.DefaultAgentConfig(),
		Queue:    config.DefaultQueueConfig(),
		Broker:   config.DefaultBrokerConfig(),
		Research: config.DefaultResearchConfig(),
		Masking:  config.DefaultMaskingConfig(),
	}
	cfg.Queue.PersistDir = t.TempDir()
	cfg.Queue.PollInterval = 20 * time.Millisecond
	cfg.Queue.PollIntervalJitter = 10 * time.Millisecond
	cfg.Queue.GracefulShutdownTimeout = 5 * time.Second
	cfg.Broker.KeepaliveInterval = 100 * time.Millisecond
	cfg.Research.ArtifactsDir = t.TempDir()
	return cfg
}
