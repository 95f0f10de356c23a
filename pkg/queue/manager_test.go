package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/models"
)

func testQueueConfig(t *testing.T) *config.QueueConfig {
	t.Helper()
	cfg := config.DefaultQueueConfig()
	cfg.PersistDir = t.TempDir()
	cfg.MaxTrackedJobs = 10
	cfg.MaxConcurrentJobs = 10
	return cfg
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := testQueueConfig(t)
	persist, err := NewPersistence(cfg.PersistDir)
	require.NoError(t, err)
	return NewManager(cfg, []string{"sgr", "toolcall", "twophase"}, persist)
}

func submitJob(t *testing.T, m *Manager, query string, priority int) *models.JobRecord {
	t.Helper()
	job, err := m.Submit(&models.SubmitRequest{Query: query, Priority: priority})
	require.NoError(t, err)
	return job
}

func TestSubmitValidation(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name  string
		req   models.SubmitRequest
		field string
	}{
		{"empty query", models.SubmitRequest{Query: "  "}, "query"},
		{"deep level too high", models.SubmitRequest{Query: "q", DeepLevel: 6}, "deep_level"},
		{"deep level negative", models.SubmitRequest{Query: "q", DeepLevel: -1}, "deep_level"},
		{"priority too high", models.SubmitRequest{Query: "q", Priority: 101}, "priority"},
		{"priority too low", models.SubmitRequest{Query: "q", Priority: -101}, "priority"},
		{"too many tags", models.SubmitRequest{Query: "q", Tags: make([]string, 11)}, "tags"},
		{"unknown agent type", models.SubmitRequest{Query: "q", AgentType: "nope"}, "agent_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(&tt.req)
			require.Error(t, err)
			require.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	assert.Equal(t, 0, m.TrackedCount())
}

func TestSubmitDefaultsAndTotalSteps(t *testing.T) {
	m := newTestManager(t)

	job, err := m.Submit(&models.SubmitRequest{Query: "what is Go?", DeepLevel: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, DefaultAgentType, job.AgentType)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 35, job.TotalSteps)
	assert.False(t, job.CreatedAt.IsZero())

	// The record is persisted immediately.
	data, err := os.ReadFile(filepath.Join(m.persist.Dir(), job.JobID+".json"))
	require.NoError(t, err)
	var persisted models.JobRecord
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, job.JobID, persisted.JobID)
}

func TestSubmitQueueFull(t *testing.T) {
	m := newTestManager(t)
	m.cfg.MaxTrackedJobs = 2

	submitJob(t, m, "one", 0)
	submitJob(t, m, "two", 0)

	_, err := m.Submit(&models.SubmitRequest{Query: "three"})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestNextPopsByPriorityThenFIFO(t *testing.T) {
	m := newTestManager(t)

	low := submitJob(t, m, "low", -5)
	firstNormal := submitJob(t, m, "normal-1", 0)
	secondNormal := submitJob(t, m, "normal-2", 0)
	high := submitJob(t, m, "high", 50)

	var order []string
	for i := 0; i < 4; i++ {
		job, err := m.Next()
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusRunning, job.Status)
		require.NotNil(t, job.StartedAt)
		order = append(order, job.JobID)
	}
	assert.Equal(t, []string{high.JobID, firstNormal.JobID, secondNormal.JobID, low.JobID}, order)

	_, err := m.Next()
	require.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestNextSkipsCancelledEntries(t *testing.T) {
	m := newTestManager(t)

	cancelled := submitJob(t, m, "cancel me", 10)
	kept := submitJob(t, m, "keep me", 0)

	ok, err := m.Cancel(cancelled.JobID)
	require.NoError(t, err)
	assert.True(t, ok)

	job, err := m.Next()
	require.NoError(t, err)
	assert.Equal(t, kept.JobID, job.JobID)
}

func TestCancelPendingAndIdempotence(t *testing.T) {
	m := newTestManager(t)
	job := submitJob(t, m, "q", 0)

	ok, err := m.Cancel(job.JobID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Second cancel is a no-op.
	ok, err = m.Cancel(job.JobID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Cancel("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestNextEnforcesMaxConcurrentJobs(t *testing.T) {
	m := newTestManager(t)
	m.cfg.MaxConcurrentJobs = 1

	for i := 0; i < 5; i++ {
		submitJob(t, m, "q", 0)
	}

	// Concurrent claimers race for the single slot; the check is atomic
	// with the claim, so exactly one wins.
	var wg sync.WaitGroup
	var claims atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Next(); err == nil {
				claims.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claims.Load())
	assert.Equal(t, 1, m.RunningCount())

	_, err := m.Next()
	require.ErrorIs(t, err, ErrAtCapacity)

	// Finishing the running job frees the slot.
	running := m.List(models.JobFilter{Status: models.JobStatusRunning})
	require.Len(t, running.Jobs, 1)
	require.NoError(t, m.MarkCompleted(running.Jobs[0].JobID, nil))

	_, err = m.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, m.RunningCount())
}

func TestCancelRunningSignalsHandle(t *testing.T) {
	m := newTestManager(t)
	job := submitJob(t, m, "q", 0)
	_, err := m.Next()
	require.NoError(t, err)

	signalled := false
	m.RegisterCancel(job.JobID, func() { signalled = true })

	ok, err := m.Cancel(job.JobID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, signalled)

	// The transition happens when the executor reports back.
	got, _ := m.Get(job.JobID)
	assert.Equal(t, models.JobStatusRunning, got.Status)

	require.NoError(t, m.MarkCancelled(job.JobID))
	got, _ = m.Get(job.JobID)
	assert.Equal(t, models.JobStatusCancelled, got.Status)

	// MarkCancelled after terminal is a no-op.
	require.NoError(t, m.MarkCancelled(job.JobID))
}

func TestCancelBeforeCancelRegistrationStillSignals(t *testing.T) {
	m := newTestManager(t)
	job := submitJob(t, m, "q", 0)
	_, err := m.Next()
	require.NoError(t, err)

	// Cancel lands in the window between the claim and RegisterCancel.
	ok, err := m.Cancel(job.JobID)
	require.NoError(t, err)
	assert.True(t, ok)

	signalled := false
	m.RegisterCancel(job.JobID, func() { signalled = true })
	assert.True(t, signalled)
}

func TestMarkCompletedSetsResultAndProgress(t *testing.T) {
	m := newTestManager(t)
	job := submitJob(t, m, "q", 0)
	_, err := m.Next()
	require.NoError(t, err)

	result := &models.ResearchResult{
		FinalAnswer: "42",
		Metrics:     models.ResearchMetrics{SearchesUsed: 3, SourcesFound: 7},
	}
	require.NoError(t, m.MarkCompleted(job.JobID, result))

	got, err := m.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress)
	assert.Equal(t, got.TotalSteps, got.StepsCompleted)
	assert.Equal(t, 3, got.SearchesUsed)
	assert.Equal(t, 7, got.SourcesFound)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, "42", got.Result.FinalAnswer)
}

func TestMarkFailedAttachesError(t *testing.T) {
	m := newTestManager(t)
	job := submitJob(t, m, "q", 0)
	_, err := m.Next()
	require.NoError(t, err)

	require.NoError(t, m.MarkFailed(job.JobID, models.NewJobError(models.ErrorKindLLM, "provider down")))

	got, _ := m.Get(job.JobID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrorKindLLM, got.Error.Kind)
	assert.NotEqual(t, 100.0, got.Progress)
}

func TestUpdateProgressClampsBelowCompletion(t *testing.T) {
	m := newTestManager(t)
	job := submitJob(t, m, "q", 0)

	// Not running yet: silently ignored.
	require.NoError(t, m.UpdateProgress(job.JobID, 10, "warming up", 1, 0, 0))
	got, _ := m.Get(job.JobID)
	assert.Equal(t, 0.0, got.Progress)

	_, err := m.Next()
	require.NoError(t, err)

	require.NoError(t, m.UpdateProgress(job.JobID, 120, "searching", 2, 1, 3))
	got, _ = m.Get(job.JobID)
	assert.Equal(t, 99.9, got.Progress)
	assert.Equal(t, "searching", got.CurrentStep)
	assert.Equal(t, 2, got.StepsCompleted)

	require.NoError(t, m.UpdateProgress(job.JobID, -5, "", 2, 1, 3))
	got, _ = m.Get(job.JobID)
	assert.Equal(t, 0.0, got.Progress)

	require.ErrorIs(t, m.UpdateProgress("missing", 1, "", 0, 0, 0), ErrJobNotFound)
}

func TestListFiltersAndPaginates(t *testing.T) {
	m := newTestManager(t)

	older, err := m.Submit(&models.SubmitRequest{Query: "a", Tags: []string{"infra"}})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	newer, err := m.Submit(&models.SubmitRequest{Query: "b", Tags: []string{"research", "infra"}})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	running, err := m.Submit(&models.SubmitRequest{Query: "c", Priority: -10})
	require.NoError(t, err)

	// Claim "a" (highest priority among equal: FIFO, priority -10 is last).
	claimed, err := m.Next()
	require.NoError(t, err)
	assert.Equal(t, older.JobID, claimed.JobID)

	all := m.List(models.JobFilter{})
	require.Len(t, all.Jobs, 3)
	// Newest first.
	assert.Equal(t, running.JobID, all.Jobs[0].JobID)
	assert.Equal(t, newer.JobID, all.Jobs[1].JobID)
	assert.Equal(t, older.JobID, all.Jobs[2].JobID)

	pending := m.List(models.JobFilter{Status: models.JobStatusPending})
	assert.Equal(t, 2, pending.Total)

	tagged := m.List(models.JobFilter{Tags: []string{"research", "unknown"}})
	require.Len(t, tagged.Jobs, 1)
	assert.Equal(t, newer.JobID, tagged.Jobs[0].JobID)

	page := m.List(models.JobFilter{Limit: 2, Offset: 2})
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, older.JobID, page.Jobs[0].JobID)
}

func TestStateListenersReceiveLifecycle(t *testing.T) {
	m := newTestManager(t)

	var events []StateEvent
	m.AddStateListener(func(event StateEvent, job *models.JobRecord) {
		events = append(events, event)
	})
	// A panicking listener must not break transitions.
	m.AddStateListener(func(StateEvent, *models.JobRecord) {
		panic("listener bug")
	})

	job := submitJob(t, m, "q", 0)
	_, err := m.Next()
	require.NoError(t, err)
	require.NoError(t, m.UpdateProgress(job.JobID, 10, "step", 1, 0, 0))
	require.NoError(t, m.MarkCompleted(job.JobID, &models.ResearchResult{FinalAnswer: "done"}))

	assert.Equal(t, []StateEvent{EventSubmitted, EventStarted, EventProgress, EventCompleted}, events)
}

func TestProvideClarificationRouting(t *testing.T) {
	m := newTestManager(t)
	job := submitJob(t, m, "q", 0)

	require.ErrorIs(t, m.ProvideClarification("missing", "x"), ErrJobNotFound)

	// No clarifier registered yet.
	require.ErrorIs(t, m.ProvideClarification(job.JobID, "x"), agent.ErrNotAwaitingClarification)

	var received string
	m.RegisterClarifier(job.JobID, func(text string) error {
		received = text
		return nil
	})
	require.NoError(t, m.ProvideClarification(job.JobID, "the second one"))
	assert.Equal(t, "the second one", received)

	m.UnregisterRuntime(job.JobID)
	require.ErrorIs(t, m.ProvideClarification(job.JobID, "x"), agent.ErrNotAwaitingClarification)
}

func TestRecoveryDemotesRunningJobs(t *testing.T) {
	cfg := testQueueConfig(t)
	persist, err := NewPersistence(cfg.PersistDir)
	require.NoError(t, err)

	m1 := NewManager(cfg, []string{"sgr"}, persist)
	job := submitJob(t, m1, "interrupted", 20)
	_, err = m1.Next()
	require.NoError(t, err)
	m1.snapshot()

	// A fresh manager over the same directory sees the job as PENDING again.
	m2 := NewManager(cfg, []string{"sgr"}, persist)
	require.NoError(t, m2.Start())
	defer m2.Stop()

	got, err := m2.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, 0.0, got.Progress)

	reclaimed, err := m2.Next()
	require.NoError(t, err)
	assert.Equal(t, job.JobID, reclaimed.JobID)
}

func TestRecoverySkipsCorruptFiles(t *testing.T) {
	cfg := testQueueConfig(t)
	persist, err := NewPersistence(cfg.PersistDir)
	require.NoError(t, err)

	m1 := NewManager(cfg, []string{"sgr"}, persist)
	good := submitJob(t, m1, "good", 0)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.PersistDir, "bad.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.PersistDir, "empty.json"), []byte("{}"), 0o644))

	m2 := NewManager(cfg, []string{"sgr"}, persist)
	require.NoError(t, m2.recover())
	assert.Equal(t, 1, m2.TrackedCount())
	_, err = m2.Get(good.JobID)
	require.NoError(t, err)
}

func TestCleanupRemovesExpiredTerminalJobs(t *testing.T) {
	m := newTestManager(t)
	m.cfg.CompletedRetention = time.Hour

	job := submitJob(t, m, "old", 0)
	_, err := m.Next()
	require.NoError(t, err)
	require.NoError(t, m.MarkCompleted(job.JobID, &models.ResearchResult{FinalAnswer: "x"}))

	fresh := submitJob(t, m, "fresh", 0)

	// Not yet past retention.
	m.cleanup(time.Now())
	assert.Equal(t, 2, m.TrackedCount())

	m.cleanup(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 1, m.TrackedCount())
	_, err = m.Get(job.JobID)
	require.ErrorIs(t, err, ErrJobNotFound)
	assert.NoFileExists(t, filepath.Join(m.persist.Dir(), job.JobID+".json"))

	// Non-terminal jobs survive regardless of age.
	_, err = m.Get(fresh.JobID)
	require.NoError(t, err)
}
