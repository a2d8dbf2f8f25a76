package main

import (
	"net/http"

	"github.com/xandeum/ingestor/pkg/scheduler"
)

// healthService exposes the scheduler's health status over the ApiServer.
type healthService struct {
	scheduler *scheduler.Scheduler
}

// HandleHealth serves GET /health (§4.8): 200 with the status body when the
// database is reachable, 500 with the same body otherwise.
func (h *healthService) HandleHealth(c *ApiCtx) {
	status := h.scheduler.Status()

	code := http.StatusOK
	if status.Database != "ok" {
		code = http.StatusInternalServerError
	}

	c.JsonResponse(code, H{
		"status":                    status.Status,
		"version":                   status.Version,
		"uptime":                    status.UptimeSeconds,
		"lastSuccessfulIngestion":   status.LastSuccessfulIngestion,
		"lastIngestionAttempt":      status.LastIngestionAttempt,
		"lastIngestionAttemptToken": status.LastIngestionAttemptToken,
		"ingestionFailureCount":     status.IngestionFailureCount,
		"database":                  status.Database,
		"timestamp":                 status.Timestamp,
	})
}
