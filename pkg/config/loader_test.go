package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	configDir := setupTestConfigDir(t)
	t.Setenv("OPENAI_API_KEY", "test-key")

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)

	// All sections populated even from a minimal file
	assert.NotNil(t, cfg.Server)
	assert.NotNil(t, cfg.LLM)
	assert.NotNil(t, cfg.Agent)
	assert.NotNil(t, cfg.Queue)
	assert.NotNil(t, cfg.Broker)
	assert.NotNil(t, cfg.Research)
	assert.NotNil(t, cfg.Masking)

	// Built-in profiles survive
	_, ok := cfg.Profile("sgr")
	assert.True(t, ok)
	_, ok = cfg.Profile("toolcall")
	assert.True(t, ok)
	_, ok = cfg.Profile("twophase")
	assert.True(t, ok)

	stats := cfg.Stats()
	assert.Greater(t, stats.Profiles, 0)
	assert.Greater(t, stats.MaxConcurrent, 0)
	assert.Greater(t, stats.WorkerCount, 0)
}

func TestInitializeMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	ctx := context.Background()
	cfg, err := Initialize(ctx, t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, DefaultQueueConfig().MaxConcurrentJobs, cfg.Queue.MaxConcurrentJobs)
	assert.Equal(t, DefaultLLMProviderConfig().Model, cfg.LLM.Model)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestInitializeInvalidYAML(t *testing.T) {
	configDir := t.TempDir()

	err := os.WriteFile(filepath.Join(configDir, "sonde.yaml"), []byte("queue: [not: a: map"), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = Initialize(ctx, configDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeValidationFailure(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "test-key")

	config := `
agent:
  profiles:
    broken:
      strategy: "not-a-strategy"
`
	err := os.WriteFile(filepath.Join(configDir, "sonde.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = Initialize(ctx, configDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "broken")
}

func TestLoadSondeYAML(t *testing.T) {
	configDir := t.TempDir()

	config := `
queue:
  worker_count: 5
  max_concurrent_jobs: 7

agent:
  max_searches: 9
  profiles:
    custom:
      strategy: "native"
      max_iterations: 2

research:
  search:
    max_results: 3
`
	err := os.WriteFile(filepath.Join(configDir, "sonde.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	loader := &configLoader{configDir: configDir}
	yamlConfig, err := loader.loadSondeYAML()

	require.NoError(t, err)
	require.NotNil(t, yamlConfig.Queue)
	assert.Equal(t, 5, yamlConfig.Queue.WorkerCount)
	assert.Equal(t, 7, yamlConfig.Queue.MaxConcurrentJobs)
	require.NotNil(t, yamlConfig.Agent)
	assert.Equal(t, 9, yamlConfig.Agent.MaxSearches)
	require.Contains(t, yamlConfig.Agent.Profiles, "custom")
	assert.Equal(t, IterationStrategyNative, yamlConfig.Agent.Profiles["custom"].Strategy)
	require.NotNil(t, yamlConfig.Research)
	assert.Equal(t, 3, yamlConfig.Research.Search.MaxResults)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "test-key")

	// Only worker_count overridden; everything else keeps defaults
	config := `
queue:
  worker_count: 8
`
	err := os.WriteFile(filepath.Join(configDir, "sonde.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Queue.WorkerCount)
	assert.Equal(t, DefaultQueueConfig().MaxConcurrentJobs, cfg.Queue.MaxConcurrentJobs)
	assert.Equal(t, DefaultQueueConfig().SnapshotInterval, cfg.Queue.SnapshotInterval)
	assert.Equal(t, DefaultQueueConfig().PersistDir, cfg.Queue.PersistDir)
}

func TestLoadUserProfileOverridesBuiltin(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "test-key")

	config := `
agent:
  profiles:
    sgr:
      strategy: "planner"
      max_searches: 1
    extra:
      strategy: "twophase"
`
	err := os.WriteFile(filepath.Join(configDir, "sonde.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)

	sgr, ok := cfg.Profile("sgr")
	require.True(t, ok)
	require.NotNil(t, sgr.MaxSearches)
	assert.Equal(t, 1, *sgr.MaxSearches)

	// Built-in profiles the user did not mention survive the merge
	_, ok = cfg.Profile("toolcall")
	assert.True(t, ok)

	extra, ok := cfg.Profile("extra")
	require.True(t, ok)
	assert.Equal(t, IterationStrategyTwoPhase, extra.Strategy)
}

func TestLoadMaskingDisabled(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "test-key")

	config := `
masking:
  enabled: false
`
	err := os.WriteFile(filepath.Join(configDir, "sonde.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	assert.False(t, cfg.Masking.Enabled)
}

func TestEnvironmentVariableInterpolationInConfig(t *testing.T) {
	configDir := t.TempDir()

	config := `
llm:
  model: "{{.TEST_MODEL}}"
  base_url: "{{.TEST_BASE_URL}}"
`
	err := os.WriteFile(filepath.Join(configDir, "sonde.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	t.Setenv("TEST_MODEL", "test-model")
	t.Setenv("TEST_BASE_URL", "http://llm.test:9000/v1")
	t.Setenv("OPENAI_API_KEY", "test-key")

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, "http://llm.test:9000/v1", cfg.LLM.BaseURL)
}

func TestDurationFieldsParseFromYAML(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "test-key")

	config := `
queue:
  snapshot_interval: 5s
  completed_retention: 48h
broker:
  keepalive_interval: 10s
`
	err := os.WriteFile(filepath.Join(configDir, "sonde.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Queue.SnapshotInterval)
	assert.Equal(t, 48*time.Hour, cfg.Queue.CompletedRetention)
	assert.Equal(t, 10*time.Second, cfg.Broker.KeepaliveInterval)
}

// Helper function to set up test config directory
func setupTestConfigDir(t *testing.T) string {
	dir := t.TempDir()

	sondeYAML := `
server:
  port: 8080

agent:
  max_iterations: 10
`
	err := os.WriteFile(filepath.Join(dir, "sonde.yaml"), []byte(sondeYAML), 0644)
	require.NoError(t, err)

	return dir
}
