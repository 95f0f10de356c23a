// Package events implements per-job event fan-out for SSE and WebSocket
// delivery. The broker holds a bounded channel per subscriber; a slow
// consumer loses events rather than stalling the producer.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event names delivered on a job stream.
const (
	EventStreamConnected = "stream_connected"
	EventJobSubmitted    = "job_submitted"
	EventJobStarted      = "job_started"
	EventJobProgress     = "job_progress"
	EventJobCompleted    = "job_completed"
	EventJobFailed       = "job_failed"
	EventJobCancelled    = "job_cancelled"
	EventJobError        = "job_error"
	EventChunk           = "chunk"
	EventKeepalive       = "keepalive"
)

// Event is one message on a job stream. Data must be JSON-marshalable.
type Event struct {
	Name string
	ID   string
	Data any
}

// EncodeSSE renders the event as a single server-sent-events frame:
// optional id line, event line, one data line with the JSON payload.
func EncodeSSE(e Event) ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s event: %w", e.Name, err)
	}
	// JSON from Marshal carries no raw newlines, so one data line suffices.
	var buf bytes.Buffer
	if e.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", e.ID)
	}
	fmt.Fprintf(&buf, "event: %s\n", e.Name)
	fmt.Fprintf(&buf, "data: %s\n\n", data)
	return buf.Bytes(), nil
}
