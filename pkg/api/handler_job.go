package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/sondelab/sonde/pkg/models"
)

// submitJobHandler handles POST /api/v1/jobs.
// Creates a job in "pending" status and returns immediately with job_id.
func (s *Server) submitJobHandler(c *echo.Context) error {
	var req SubmitJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	job, err := s.manager.Submit(&models.SubmitRequest{
		Query:     req.Query,
		AgentType: req.AgentType,
		DeepLevel: req.DeepLevel,
		Priority:  req.Priority,
		Tags:      req.Tags,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &SubmitJobResponse{
		JobID:   job.JobID,
		Status:  string(job.Status),
		Message: "Job submitted for processing",
	})
}

// listJobsHandler handles GET /api/v1/jobs.
func (s *Server) listJobsHandler(c *echo.Context) error {
	var filter models.JobFilter

	if v := c.QueryParam("status"); v != "" {
		status := models.JobStatus(v)
		if !status.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
		filter.Status = status
	}
	if v := c.QueryParam("tags"); v != "" {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be 1-100")
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset: must be >= 0")
		}
		filter.Offset = n
	}

	return c.JSON(http.StatusOK, s.manager.List(filter))
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	job, err := s.manager.Get(jobID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, job)
}

// cancelJobHandler handles DELETE /api/v1/jobs/:id.
// Pending jobs cancel immediately; running jobs are signalled and report
// cancelled=true once the worker acknowledges.
func (s *Server) cancelJobHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	cancelled, err := s.manager.Cancel(jobID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &CancelJobResponse{
		JobID:     jobID,
		Cancelled: cancelled,
	})
}

// clarificationHandler handles POST /api/v1/jobs/:id/clarification.
func (s *Server) clarificationHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	var req ClarificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	if err := s.manager.ProvideClarification(jobID, req.Text); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &ClarificationResponse{
		JobID:    jobID,
		Accepted: true,
	})
}
