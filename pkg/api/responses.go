package api

import (
	"github.com/sondelab/sonde/pkg/queue"
)

// SubmitJobResponse is returned by POST /api/v1/jobs.
type SubmitJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CancelJobResponse is returned by DELETE /api/v1/jobs/:id.
type CancelJobResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// ClarificationResponse is returned by POST /api/v1/jobs/:id/clarification.
type ClarificationResponse struct {
	JobID    string `json:"job_id"`
	Accepted bool   `json:"accepted"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Queue      QueueHealth       `json:"queue"`
	WorkerPool *queue.PoolHealth `json:"worker_pool,omitempty"`
	Broker     BrokerHealth      `json:"broker"`
}

// QueueHealth contains queue manager counters.
type QueueHealth struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Tracked int `json:"tracked"`
}

// BrokerHealth contains event fan-out counters.
type BrokerHealth struct {
	ActiveSubscribers    int `json:"active_subscribers"`
	WebSocketConnections int `json:"websocket_connections"`
}
