package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sondelab/sonde/pkg/models"
)

// Persistence stores one JSON file per job under the persist directory.
// Writes go to a temp file first and are renamed into place, so a crash
// mid-write never leaves a truncated record.
type Persistence struct {
	dir string
	log *slog.Logger
}

// NewPersistence creates the persist directory if needed.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating persist directory %s: %w", dir, err)
	}
	return &Persistence{
		dir: dir,
		log: slog.With("component", "persistence"),
	}, nil
}

// Dir returns the persist directory.
func (p *Persistence) Dir() string { return p.dir }

func (p *Persistence) path(jobID string) string {
	return filepath.Join(p.dir, jobID+".json")
}

// Save writes one job record atomically.
func (p *Persistence) Save(record *models.JobRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", record.JobID, err)
	}

	final := p.path(record.JobID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing job %s: %w", record.JobID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("renaming job %s: %w", record.JobID, err)
	}
	return nil
}

// Load reads every job file from the persist directory. Corrupt or invalid
// files are skipped with a warning; recovery must not fail on one bad record.
func (p *Persistence) Load() ([]*models.JobRecord, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("reading persist directory %s: %w", p.dir, err)
	}

	var records []*models.JobRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(p.dir, name))
		if err != nil {
			p.log.Warn("Failed to read job file, skipping", "file", name, "error", err)
			continue
		}

		var record models.JobRecord
		if err := json.Unmarshal(data, &record); err != nil {
			p.log.Warn("Corrupt job file, skipping", "file", name, "error", err)
			continue
		}
		if err := record.Validate(); err != nil {
			p.log.Warn("Invalid job record, skipping", "file", name, "error", err)
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}

// Delete removes a job's file. A missing file is not an error.
func (p *Persistence) Delete(jobID string) error {
	err := os.Remove(p.path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing job file %s: %w", jobID, err)
	}
	return nil
}
