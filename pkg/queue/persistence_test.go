package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sondelab/sonde/pkg/models"
)

func testRecord(id string) *models.JobRecord {
	return &models.JobRecord{
		JobID:     id,
		Query:     "q",
		AgentType: "sgr",
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	p, err := NewPersistence(filepath.Join(t.TempDir(), "jobs"))
	require.NoError(t, err)

	require.NoError(t, p.Save(testRecord("job-1")))
	require.NoError(t, p.Save(testRecord("job-2")))

	// No stray temp files remain.
	entries, err := os.ReadDir(p.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}

	records, err := p.Load()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestPersistenceLoadSkipsBadFiles(t *testing.T) {
	p, err := NewPersistence(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, p.Save(testRecord("good")))

	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), "corrupt.json"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), "notes.txt"), []byte("not a job"), 0o644))

	records, err := p.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].JobID)
}

func TestPersistenceDeleteIdempotent(t *testing.T) {
	p, err := NewPersistence(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, p.Save(testRecord("job-1")))

	require.NoError(t, p.Delete("job-1"))
	require.NoError(t, p.Delete("job-1"))
	assert.NoFileExists(t, filepath.Join(p.Dir(), "job-1.json"))
}

func TestPendingHeapOrdering(t *testing.T) {
	now := time.Now()
	var h pendingHeap
	h.push(&pendingItem{jobID: "b", priority: 0, createdAt: now.Add(time.Second)})
	h.push(&pendingItem{jobID: "a", priority: 0, createdAt: now})
	h.push(&pendingItem{jobID: "urgent", priority: 90, createdAt: now.Add(time.Minute)})
	h.push(&pendingItem{jobID: "background", priority: -50, createdAt: now})

	var order []string
	for item := h.pop(); item != nil; item = h.pop() {
		order = append(order, item.jobID)
	}
	assert.Equal(t, []string{"urgent", "a", "b", "background"}, order)
}
