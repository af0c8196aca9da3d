package audit

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/diff"
)

// Input is what a call site supplies to Log. Empty strings mean "not supplied".
type Input struct {
	Action          string                  `json:"action" binding:"required"`
	EntityType      models.EntityType       `json:"entity_type" binding:"required"`
	EntityID        string                  `json:"entity_id,omitempty"`
	ResourceName    string                  `json:"resource_name,omitempty"`
	UserID          string                  `json:"user_id,omitempty"`
	ActorID         string                  `json:"actor_id,omitempty"`
	Changes         diff.ChangeSet          `json:"changes,omitempty"`
	Details         map[string]any          `json:"details,omitempty"`
	Severity        models.Severity         `json:"severity,omitempty"`
	ComplianceFlags []models.ComplianceFlag `json:"compliance_flags,omitempty"`
	Request         *RequestContext         `json:"request,omitempty"`
}

// buildEntry turns an Input into an immutable entry. A non-nil entry may come back
// together with an error when only an optional enrichment step failed.
func (s *Service) buildEntry(in Input) (*models.AuditLog, error) {
	md := EventMetadata(in.Action)

	entry := &models.AuditLog{
		ID:              uuid.New().String(),
		Action:          in.Action,
		EntityType:      in.EntityType,
		EntityID:        optional(in.EntityID),
		ResourceName:    optional(in.ResourceName),
		Severity:        md.Severity,
		ComplianceFlags: md.ComplianceFlags,
		CreatedAt:       s.now(),
	}
	if in.Severity.Valid() {
		entry.Severity = in.Severity
	}
	if in.ComplianceFlags != nil {
		entry.ComplianceFlags = append([]models.ComplianceFlag(nil), in.ComplianceFlags...)
	}

	details := make(map[string]any, len(in.Details)+2)
	for k, v := range in.Details {
		details[k] = v
	}

	entry.UserID = optional(in.UserID)
	entry.ActorID = optional(in.ActorID)
	if entry.ActorID == nil {
		entry.ActorID = entry.UserID
	}
	if entry.UserID == nil && entry.ActorID == nil && s.cfg.SystemActorID != "" {
		entry.UserID = optional(s.cfg.SystemActorID)
		entry.ActorID = entry.UserID
		details["system_action"] = true
	}

	if len(in.Changes) > 0 {
		entry.Changes = diff.Sanitize(in.Changes)
		details["changeSummary"] = diff.Summarize(entry.Changes)
	}
	entry.Details = details

	if rc := in.Request; rc != nil {
		entry.IPAddress = optional(NormalizeIP(rc.IPAddress))
		entry.UserAgent = optional(rc.UserAgent)
		entry.SessionID = optional(rc.SessionID)
	}

	if s.cfg.EnableTamperDetection {
		sum, err := ComputeHash(entry)
		if err != nil {
			return entry, fmt.Errorf("hash %s entry: %w", entry.Action, err)
		}
		entry.Hash = &sum
	}
	return entry, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
