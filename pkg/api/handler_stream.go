package api

import (
	"io"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/sondelab/sonde/pkg/events"
)

// streamJobHandler handles GET /api/v1/jobs/:id/stream.
// Serves the job's event stream as SSE until the client disconnects. Idle
// streams carry keepalive comments so intermediaries keep the connection open.
func (s *Server) streamJobHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}
	if _, err := s.manager.Get(jobID); err != nil {
		return mapServiceError(err)
	}

	w := c.Response()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	sub := s.broker.Subscribe(jobID)
	defer s.broker.Unsubscribe(sub)

	keepalive := time.NewTicker(s.cfg.Broker.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if err := s.writeSSE(w, rc, events.Keepalive()); err != nil {
				return nil
			}
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := s.writeSSE(w, rc, e); err != nil {
				return nil
			}
		}
	}
}

// writeSSE encodes and flushes one frame. Encoding failures are logged and
// skipped; write failures mean the client went away.
func (s *Server) writeSSE(w io.Writer, rc *http.ResponseController, e events.Event) error {
	frame, err := events.EncodeSSE(e)
	if err != nil {
		s.log.Error("Encoding SSE event failed", "event", e.Name, "error", err)
		return nil
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return rc.Flush()
}
