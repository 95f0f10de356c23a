package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/queue"
)

// mapServiceError maps queue and agent errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *queue.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, queue.ErrQueueFull) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "job queue is full")
	}
	if errors.Is(err, queue.ErrJobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	if errors.Is(err, agent.ErrNotAwaitingClarification) {
		return echo.NewHTTPError(http.StatusConflict, "job is not awaiting clarification")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
