// Package ingest implements the producer-facing endpoints: recording audit events and
// reading the event catalog.
package ingest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/diff"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/middleware"
)

// Logger is the part of the audit service the ingest handler needs.
type Logger interface {
	Log(ctx context.Context, in audit.Input)
}

// EventRequest is the body of POST /api/v1/audit/events. Producers either send a
// precomputed change set or the before/after snapshots to diff here.
type EventRequest struct {
	audit.Input
	Before       map[string]any `json:"before,omitempty"`
	After        map[string]any `json:"after,omitempty"`
	IgnoreFields []string       `json:"ignore_fields,omitempty"`
}

// Handler serves the ingest endpoints.
type Handler struct {
	svc Logger
}

// NewHandler creates a new ingest handler
func NewHandler(svc Logger) *Handler {
	return &Handler{svc: svc}
}

// @Summary      Record audit event
// @Description  Queue one audit entry. Requires audit:write scope.
// @Tags         Audit
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  EventRequest  true  "Event"
// @Success      202  {object}  map[string]interface{}  "accepted, registered"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Router       /api/v1/audit/events [post]
// RecordEvent queues an event. The entry is persisted by the next flush.
func (h *Handler) RecordEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if msg := validate(&req); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	in := req.Input
	if len(in.Changes) == 0 && (req.Before != nil || req.After != nil) {
		in.Changes = diff.Generate(req.Before, req.After, diff.IgnoreFields(req.IgnoreFields...))
	}
	if in.Request == nil {
		in.Request = middleware.AuditRequestContext(c)
	}

	details := make(map[string]any, len(in.Details)+2)
	for k, v := range in.Details {
		details[k] = v
	}
	if id := middleware.RequestID(c); id != "" {
		details["request_id"] = id
	}
	if actor := middleware.Actor(c); actor != "" {
		details["recorded_by"] = actor
	}
	in.Details = details

	h.svc.Log(c.Request.Context(), in)

	c.JSON(http.StatusAccepted, gin.H{
		"accepted":   true,
		"action":     in.Action,
		"registered": audit.IsRegistered(in.Action),
	})
}

func validate(req *EventRequest) string {
	if !req.EntityType.Valid() {
		return "Unknown entity_type: " + string(req.EntityType)
	}
	if req.Severity != "" && !req.Severity.Valid() {
		return "Unknown severity: " + string(req.Severity)
	}
	for _, f := range req.ComplianceFlags {
		if !f.Valid() {
			return "Unknown compliance flag: " + string(f)
		}
	}
	return ""
}

// CatalogEntry is one registered event.
type CatalogEntry struct {
	Event string `json:"event"`
	audit.Metadata
}

// @Summary      Event catalog
// @Description  List the registered events with their default severity and compliance flags. Requires audit:read scope.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        compliance  query  string  false  "Only events tagged with this framework (GDPR, SOC2, ...)"
// @Success      200  {object}  map[string]interface{}  "events: []CatalogEntry"
// @Router       /api/v1/audit/events/catalog [get]
// Catalog lists the event registry.
func (h *Handler) Catalog(c *gin.Context) {
	events := audit.Events()
	if flag := models.ComplianceFlag(c.Query("compliance")); flag != "" {
		if !flag.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown compliance flag: " + string(flag)})
			return
		}
		events = audit.EventsByCompliance(flag)
	}

	out := make([]CatalogEntry, 0, len(events))
	for _, ev := range events {
		out = append(out, CatalogEntry{Event: string(ev), Metadata: audit.EventMetadata(string(ev))})
	}
	c.JSON(http.StatusOK, gin.H{"events": out, "total": len(out)})
}
