// audit.go implements the compliance and operator endpoints over the audit trail: log
// search, entry verification, GDPR export and erasure, retention runs and manual flushes.
package admin

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit/recorder"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/middleware"
)

// AuditHandler serves /api/v1/admin/audit.
type AuditHandler struct {
	svc *audit.Service
	rec *recorder.Recorder
}

// NewAuditHandler creates a new audit admin handler
func NewAuditHandler(svc *audit.Service) *AuditHandler {
	return &AuditHandler{svc: svc, rec: recorder.New(svc)}
}

// @Summary      Search audit logs
// @Description  Filtered, paginated search over persisted entries. Requires audit:read scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        user_id          query  string  false  "User ID"
// @Param        actor_id         query  string  false  "Actor ID"
// @Param        action           query  []string  false  "Action (repeatable)"
// @Param        entity_type      query  []string  false  "Entity type (repeatable)"
// @Param        entity_id        query  string  false  "Entity ID"
// @Param        severity         query  []string  false  "Severity (repeatable)"
// @Param        compliance_flag  query  string  false  "Compliance framework"
// @Param        start_date       query  string  false  "RFC 3339 lower bound"
// @Param        end_date         query  string  false  "RFC 3339 upper bound"
// @Param        page             query  int  false  "Page number (default 1)"
// @Param        limit            query  int  false  "Items per page, max 1000 (default 50)"
// @Param        sort_order       query  string  false  "asc or desc (default desc)"
// @Success      200  {object}  audit.QueryResult
// @Failure      400  {object}  map[string]interface{}  "Invalid query"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/audit/logs [get]
// ListLogs searches the trail.
func (h *AuditHandler) ListLogs(c *gin.Context) {
	var params audit.QueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters: " + err.Error()})
		return
	}

	result, err := h.svc.Query(c.Request.Context(), params)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query audit logs"})
		return
	}
	h.rec.AuditLogAccessed(c.Request.Context(), operator(c), "", c.Request.URL.RawQuery, len(result.Data))
	c.JSON(http.StatusOK, result)
}

// @Summary      Get audit log entry
// @Description  One entry plus the result of recomputing its tamper-detection hash. Requires audit:read scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Entry ID"
// @Success      200  {object}  map[string]interface{}  "entry, verification"
// @Failure      404  {object}  map[string]interface{}  "Entry not found"
// @Router       /api/v1/admin/audit/logs/{id} [get]
// GetLog returns one entry.
func (h *AuditHandler) GetLog(c *gin.Context) {
	entry, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit entry"})
		return
	}
	h.rec.AuditLogAccessed(c.Request.Context(), operator(c), entry.ID, "", 1)
	c.JSON(http.StatusOK, gin.H{
		"entry":        entry,
		"verification": audit.VerifyEntry(entry),
	})
}

func operator(c *gin.Context) recorder.Actor {
	return recorder.Actor{UserID: middleware.Actor(c), Request: middleware.AuditRequestContext(c)}
}

// @Summary      Export user data
// @Description  GDPR access request: every entry of a user with a summary. With archive=true the bundle is written (sealed when configured) to archive storage and a download URL is returned instead. Requires audit:admin scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        id       path   string  true   "User ID"
// @Param        archive  query  bool    false  "Write the bundle to archive storage"
// @Success      200  {object}  audit.GDPRExport
// @Failure      409  {object}  map[string]interface{}  "Archive storage not configured"
// @Router       /api/v1/admin/audit/users/{id}/export [get]
// ExportUser flushes the queue first so the export includes the latest entries.
func (h *AuditHandler) ExportUser(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")
	toArchive, _ := strconv.ParseBool(c.DefaultQuery("archive", "false"))

	if err := h.svc.Flush(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to flush pending audit entries"})
		return
	}

	if toArchive {
		obj, err := h.svc.ArchiveUserData(ctx, userID)
		switch {
		case errors.Is(err, audit.ErrArchiveDisabled):
			c.JSON(http.StatusConflict, gin.H{"error": "Archive storage is not configured"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to archive user data"})
		default:
			c.JSON(http.StatusOK, gin.H{"archive": obj})
		}
		return
	}

	export, err := h.svc.ExportUserData(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export user data"})
		return
	}
	h.svc.Log(ctx, audit.Input{
		Action:     string(audit.EventDataExported),
		EntityType: models.EntityUser,
		EntityID:   userID,
		ActorID:    middleware.Actor(c),
		Details:    map[string]any{"entries": export.Summary.TotalEntries, "delivery": "inline"},
		Request:    middleware.AuditRequestContext(c),
	})
	c.JSON(http.StatusOK, export)
}

// @Summary      Read archived export
// @Description  Load an export bundle previously written with archive=true. Requires audit:admin scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        path  query  string  true  "Archive object path"
// @Success      200  {object}  audit.GDPRExport
// @Failure      404  {object}  map[string]interface{}  "Archive not found"
// @Router       /api/v1/admin/audit/archive/export [get]
// ReadArchivedExport returns a stored export bundle, decrypted.
func (h *AuditHandler) ReadArchivedExport(c *gin.Context) {
	p := c.Query("path")
	if p == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	export, err := h.svc.ReadArchivedExport(c.Request.Context(), p)
	switch {
	case errors.Is(err, audit.ErrArchiveDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "Archive storage is not configured"})
	case errors.Is(err, audit.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Archive not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read archive"})
	default:
		c.JSON(http.StatusOK, export)
	}
}

// @Summary      Anonymize user data
// @Description  GDPR erasure: irreversibly strips identifying fields from every entry of a user. Requires audit:admin scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  map[string]interface{}  "anonymized: count"
// @Router       /api/v1/admin/audit/users/{id}/anonymize [post]
// AnonymizeUser flushes first so queued entries of the user are erased too.
func (h *AuditHandler) AnonymizeUser(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.svc.Flush(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to flush pending audit entries"})
		return
	}
	n, err := h.svc.AnonymizeUserDataBy(ctx, c.Param("id"), middleware.Actor(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to anonymize user data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"anonymized": n})
}

// @Summary      Apply retention policy
// @Description  Archive (when configured) and delete expired entries, then scrub request context past the GDPR window. The body may override the configured periods. Requires audit:admin scope.
// @Tags         Audit
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  audit.RetentionPolicy  false  "Policy override"
// @Success      200  {object}  audit.RetentionReport
// @Router       /api/v1/admin/audit/retention [post]
// ApplyRetention runs one retention pass.
func (h *AuditHandler) ApplyRetention(c *gin.Context) {
	var policy *audit.RetentionPolicy
	var body audit.RetentionPolicy
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	} else if err == nil {
		if body.DefaultDays < 0 || body.CriticalEventsDays < 0 || body.GDPRMaxDays < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Retention periods must not be negative"})
			return
		}
		policy = &body
	}

	report, err := h.svc.EnforceRetention(c.Request.Context(), policy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply retention policy"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// @Summary      Flush audit queue
// @Description  Write queued entries now. Requires audit:admin scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "flushed, pending"
// @Router       /api/v1/admin/audit/flush [post]
// Flush drains the queue.
func (h *AuditHandler) Flush(c *gin.Context) {
	if err := h.svc.Flush(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to flush audit queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": true, "pending": h.svc.Pending()})
}
