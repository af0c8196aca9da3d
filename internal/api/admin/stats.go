// stats.go serves the operator dashboard figures of the audit pipeline, read from the
// process's Prometheus collectors.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/telemetry"
)

// PendingCounter reports the queue length.
type PendingCounter interface {
	Pending() int
}

// StatsHandler handles stats-related API requests
type StatsHandler struct {
	queue PendingCounter
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(queue PendingCounter) *StatsHandler {
	return &StatsHandler{queue: queue}
}

// PipelineStats are the counters since process start.
type PipelineStats struct {
	Logged           map[models.Severity]float64 `json:"logged"`
	Dropped          float64                     `json:"dropped"`
	Errors           map[string]float64          `json:"errors"`
	RetentionDeleted float64                     `json:"retention_deleted"`
	Pending          int                         `json:"pending"`
}

var statsOps = []string{"log", "flush", "query", "export", "anonymize", "retention", "ship", "archive"}

// @Summary      Get audit pipeline statistics
// @Description  Entries queued by severity, dropped entries, failures per operation and the current queue length since process start. Requires audit:read scope.
// @Tags         Stats
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  PipelineStats
// @Router       /api/v1/admin/audit/stats [get]
// GetStats returns the pipeline counters of this replica.
func (h *StatsHandler) GetStats(c *gin.Context) {
	stats := PipelineStats{
		Logged:           make(map[models.Severity]float64, 3),
		Errors:           make(map[string]float64, len(statsOps)),
		Dropped:          telemetry.PlainCounterValue(telemetry.AuditEntriesDroppedTotal),
		RetentionDeleted: telemetry.PlainCounterValue(telemetry.AuditRetentionDeletedTotal),
		Pending:          h.queue.Pending(),
	}
	for _, sev := range []models.Severity{models.SeverityInfo, models.SeverityWarning, models.SeverityCritical} {
		stats.Logged[sev] = telemetry.CounterValue(telemetry.AuditEntriesLoggedTotal, prometheus.Labels{"severity": string(sev)})
	}
	for _, op := range statsOps {
		stats.Errors[op] = telemetry.CounterValue(telemetry.AuditErrorsTotal, prometheus.Labels{"op": op})
	}
	c.JSON(http.StatusOK, stats)
}

var _ PendingCounter = (*audit.Service)(nil)
