package events

import (
	"time"

	"github.com/sondelab/sonde/pkg/models"
)

// StreamConnectedPayload is sent synthetically as the first event of every
// subscription.
type StreamConnectedPayload struct {
	Type      string `json:"type"`   // always EventStreamConnected
	JobID     string `json:"job_id"` // subscribed job
	Timestamp string `json:"timestamp"`
}

// JobStatusPayload carries a lifecycle transition
// (job_submitted/started/completed/failed/cancelled).
type JobStatusPayload struct {
	Type      string           `json:"type"`
	JobID     string           `json:"job_id"`
	Status    models.JobStatus `json:"status"`
	Progress  float64          `json:"progress"`
	Timestamp string           `json:"timestamp"`
}

// JobProgressPayload is a transient progress snapshot published while a job
// runs. High frequency; late subscribers see only subsequent updates.
type JobProgressPayload struct {
	Type           string  `json:"type"` // always EventJobProgress
	JobID          string  `json:"job_id"`
	Progress       float64 `json:"progress"`
	CurrentStep    string  `json:"current_step,omitempty"`
	StepsCompleted int     `json:"steps_completed"`
	TotalSteps     int     `json:"total_steps"`
	SearchesUsed   int     `json:"searches_used"`
	SourcesFound   int     `json:"sources_found"`
	Timestamp      string  `json:"timestamp"`
}

// JobErrorPayload carries the typed error of a failing job.
type JobErrorPayload struct {
	Type      string           `json:"type"` // always EventJobError
	JobID     string           `json:"job_id"`
	Kind      models.ErrorKind `json:"kind"`
	Message   string           `json:"message"`
	Timestamp string           `json:"timestamp"`
}

// ChunkPayload carries one incremental output delta from the agent.
// Ephemeral; lost on disconnect.
type ChunkPayload struct {
	Type      string `json:"type"` // always EventChunk
	JobID     string `json:"job_id"`
	Delta     string `json:"delta"`
	Timestamp string `json:"timestamp"`
}

// KeepalivePayload keeps idle SSE/WebSocket connections open through
// intermediaries.
type KeepalivePayload struct {
	Type      string `json:"type"` // always EventKeepalive
	Timestamp string `json:"timestamp"`
}

// StatusEventName maps a job status onto its lifecycle event name.
func StatusEventName(status models.JobStatus) string {
	switch status {
	case models.JobStatusPending:
		return EventJobSubmitted
	case models.JobStatusRunning:
		return EventJobStarted
	case models.JobStatusCompleted:
		return EventJobCompleted
	case models.JobStatusFailed:
		return EventJobFailed
	case models.JobStatusCancelled:
		return EventJobCancelled
	default:
		return EventJobProgress
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
