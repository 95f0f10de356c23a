package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/sondelab/sonde/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// healthHandler handles GET /api/v1/health.
// Only sonde's own components (queue, worker pool, broker) are checked.
// The LLM provider and search backend are excluded so an external outage
// does not make the orchestrator restart.
func (s *Server) healthHandler(c *echo.Context) error {
	status := healthStatusHealthy

	resp := &HealthResponse{
		Version: version.GitCommit,
		Queue: QueueHealth{
			Pending: s.manager.PendingCount(),
			Running: s.manager.RunningCount(),
			Tracked: s.manager.TrackedCount(),
		},
		Broker: BrokerHealth{
			ActiveSubscribers: s.broker.ActiveSubscribers(),
		},
	}
	if s.connManager != nil {
		resp.Broker.WebSocketConnections = s.connManager.ActiveConnections()
	}
	if s.pool != nil {
		poolHealth := s.pool.Health()
		resp.WorkerPool = poolHealth
		if !poolHealth.Healthy {
			status = healthStatusDegraded
		}
	}
	resp.Status = status

	return c.JSON(http.StatusOK, resp)
}
