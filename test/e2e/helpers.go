package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sondelab/sonde/pkg/models"
)

const (
	waitTimeout  = 10 * time.Second
	waitInterval = 20 * time.Millisecond
)

// doJSON performs one HTTP request with an optional JSON body and decodes
// the JSON response into out (skipped when out is nil).
func (app *TestApp) doJSON(method, path string, body any, out any) *http.Response {
	app.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(app.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, app.BaseURL+path, reader)
	require.NoError(app.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(app.t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(app.t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp
}

// SubmitJob submits a job and returns its ID.
func (app *TestApp) SubmitJob(body map[string]any) string {
	app.t.Helper()
	var out struct {
		JobID string `json:"job_id"`
	}
	resp := app.doJSON(http.MethodPost, "/api/v1/jobs", body, &out)
	require.Equal(app.t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(app.t, out.JobID)
	return out.JobID
}

// GetJob fetches one job record.
func (app *TestApp) GetJob(jobID string) *models.JobRecord {
	app.t.Helper()
	var job models.JobRecord
	resp := app.doJSON(http.MethodGet, "/api/v1/jobs/"+jobID, nil, &job)
	require.Equal(app.t, http.StatusOK, resp.StatusCode)
	return &job
}

// CancelJob requests cancellation and returns the cancelled flag.
func (app *TestApp) CancelJob(jobID string) bool {
	app.t.Helper()
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	resp := app.doJSON(http.MethodDelete, "/api/v1/jobs/"+jobID, nil, &out)
	require.Equal(app.t, http.StatusOK, resp.StatusCode)
	return out.Cancelled
}

// WaitForStatus polls until the job reaches the wanted status.
func (app *TestApp) WaitForStatus(jobID string, want models.JobStatus) *models.JobRecord {
	app.t.Helper()
	var job *models.JobRecord
	require.Eventually(app.t, func() bool {
		job = app.GetJob(jobID)
		return job.Status == want
	}, waitTimeout, waitInterval, "job %s never reached %s", jobID, want)
	return job
}

// ProvideClarification posts a clarification answer and returns the HTTP
// status code.
func (app *TestApp) ProvideClarification(jobID, text string) int {
	app.t.Helper()
	resp := app.doJSON(http.MethodPost, "/api/v1/jobs/"+jobID+"/clarification",
		map[string]any{"text": text}, nil)
	return resp.StatusCode
}

// SSEFrame is one decoded server-sent event.
type SSEFrame struct {
	Event string
	Data  string
}

// SSEStream consumes one job's SSE endpoint on a background goroutine.
type SSEStream struct {
	frames chan SSEFrame
	resp   *http.Response
	t      *testing.T
}

// OpenStream connects to the job's SSE endpoint. Close is registered via
// t.Cleanup.
func (app *TestApp) OpenStream(jobID string) *SSEStream {
	app.t.Helper()

	resp, err := http.Get(app.BaseURL + "/api/v1/jobs/" + jobID + "/stream")
	require.NoError(app.t, err)
	require.Equal(app.t, http.StatusOK, resp.StatusCode)

	s := &SSEStream{
		frames: make(chan SSEFrame, 256),
		resp:   resp,
		t:      app.t,
	}
	go s.consume()
	app.t.Cleanup(s.Close)
	return s
}

func (s *SSEStream) consume() {
	defer close(s.frames)
	reader := bufio.NewReader(s.resp.Body)
	var frame SSEFrame
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			s.frames <- frame
			frame = SSEFrame{}
		case strings.HasPrefix(line, "event: "):
			frame.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			frame.Data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// Next returns the next frame, skipping keepalives.
func (s *SSEStream) Next() SSEFrame {
	s.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case frame, ok := <-s.frames:
			if !ok {
				s.t.Fatal("SSE stream closed unexpectedly")
			}
			if frame.Event == "keepalive" {
				continue
			}
			return frame
		case <-deadline:
			s.t.Fatal("timed out waiting for SSE frame")
		}
	}
}

// WaitForEvent reads frames until one matches the event name, returning it.
func (s *SSEStream) WaitForEvent(name string) SSEFrame {
	s.t.Helper()
	for {
		frame := s.Next()
		if frame.Event == name {
			return frame
		}
	}
}

// Close terminates the HTTP stream.
func (s *SSEStream) Close() {
	_ = s.resp.Body.Close()
}
