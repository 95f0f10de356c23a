// Package models defines the shared data types of the orchestrator:
// job records, research results, sources, and the error taxonomy.
package models

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job lifecycle states. Valid transitions:
// PENDING → RUNNING → {COMPLETED | FAILED | CANCELLED}, plus the direct
// PENDING → CANCELLED shortcut for jobs cancelled before they start.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValid checks if the status is a known lifecycle state.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a terminal state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle DAG permits moving from s
// to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// StepsPerLevel is the multiplier in the total-steps formula.
const StepsPerLevel = 5

// TotalSteps derives the reported step denominator from the deep level:
// 5 × (3 × deep_level + 1). Level 0 yields 5, level 5 yields 80.
func TotalSteps(deepLevel int) int {
	return StepsPerLevel * (3*deepLevel + 1)
}

// JobRecord is the persisted descriptor of one research job. Owned by the
// queue manager; callers receive snapshots via Clone().
type JobRecord struct {
	JobID     string         `json:"job_id"`
	Query     string         `json:"query"`
	AgentType string         `json:"agent_type"`
	DeepLevel int            `json:"deep_level"`
	Priority  int            `json:"priority"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Progress       float64 `json:"progress"`
	CurrentStep    string  `json:"current_step,omitempty"`
	StepsCompleted int     `json:"steps_completed"`
	TotalSteps     int     `json:"total_steps"`

	SearchesUsed int `json:"searches_used"`
	SourcesFound int `json:"sources_found"`

	Result *ResearchResult `json:"result,omitempty"`
	Error  *JobError       `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand outside the queue mutex.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Tags != nil {
		c.Tags = make([]string, len(r.Tags))
		copy(c.Tags, r.Tags)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	c.Result = r.Result.Clone()
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return &c
}

// HasTag reports whether the record carries the given tag.
func (r *JobRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate checks the record's internal invariants. Used by persistence
// recovery to reject corrupt records.
func (r *JobRecord) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("job record missing job_id")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("job %s has invalid status %q", r.JobID, r.Status)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("job %s missing created_at", r.JobID)
	}
	if r.StartedAt != nil && r.StartedAt.Before(r.CreatedAt) {
		return fmt.Errorf("job %s started_at precedes created_at", r.JobID)
	}
	if r.CompletedAt != nil && r.StartedAt != nil && r.CompletedAt.Before(*r.StartedAt) {
		return fmt.Errorf("job %s completed_at precedes started_at", r.JobID)
	}
	return nil
}

// SubmitRequest contains the fields accepted for job submission.
type SubmitRequest struct {
	Query     string         `json:"query"`
	AgentType string         `json:"agent_type"`
	DeepLevel int            `json:"deep_level"`
	Priority  int            `json:"priority"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// JobFilter contains filtering and pagination options for listing jobs.
type JobFilter struct {
	Status JobStatus `json:"status,omitempty"`
	// Tags matches jobs carrying ANY of the given tags.
	Tags   []string `json:"tags,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

// JobListResult is a paginated job listing.
type JobListResult struct {
	Jobs   []*JobRecord `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}
