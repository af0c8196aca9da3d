// Package models - audit_log.go defines the AuditLog entry recorded for every compliance-relevant
// action, together with its severity, compliance flag and entity type vocabularies.
package models

import (
	"time"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/diff"
)

// Severity classifies how urgently an entry needs review and how long it is retained.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// ComplianceFlag links an event to a regulatory or audit framework.
type ComplianceFlag string

const (
	ComplianceGDPR     ComplianceFlag = "GDPR"
	ComplianceSOC2     ComplianceFlag = "SOC2"
	ComplianceHIPAA    ComplianceFlag = "HIPAA"
	ComplianceISO27001 ComplianceFlag = "ISO27001"
	ComplianceCCPA     ComplianceFlag = "CCPA"
)

// Valid reports whether f is one of the known compliance frameworks.
func (f ComplianceFlag) Valid() bool {
	switch f {
	case ComplianceGDPR, ComplianceSOC2, ComplianceHIPAA, ComplianceISO27001, ComplianceCCPA:
		return true
	}
	return false
}

// EntityType is the domain category of the resource an entry refers to.
type EntityType string

const (
	EntityAgent      EntityType = "agent"
	EntityUser       EntityType = "user"
	EntityPlugin     EntityType = "plugin"
	EntitySettings   EntityType = "settings"
	EntityProfile    EntityType = "profile"
	EntityConnection EntityType = "connection"
	EntityExecution  EntityType = "execution"
	EntitySystem     EntityType = "system"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityAgent, EntityUser, EntityPlugin, EntitySettings, EntityProfile,
		EntityConnection, EntityExecution, EntitySystem:
		return true
	}
	return false
}

// AuditLog is one immutable audit trail entry
type AuditLog struct {
	ID              string           `json:"id"`
	UserID          *string          `json:"user_id"`  // nil for system-originated events
	ActorID         *string          `json:"actor_id"` // differs from UserID on impersonation
	Action          string           `json:"action"`
	EntityType      EntityType       `json:"entity_type"`
	EntityID        *string          `json:"entity_id"`
	ResourceName    *string          `json:"resource_name"`
	Changes         diff.ChangeSet   `json:"changes"`
	Details         map[string]any   `json:"details"`
	IPAddress       *string          `json:"ip_address"`
	UserAgent       *string          `json:"user_agent"`
	SessionID       *string          `json:"session_id"`
	Severity        Severity         `json:"severity"`
	ComplianceFlags []ComplianceFlag `json:"compliance_flags"`
	CreatedAt       time.Time        `json:"created_at"`
	Hash            *string          `json:"hash,omitempty"`
}

// HasComplianceFlag reports whether the entry carries flag.
func (l *AuditLog) HasComplianceFlag(flag ComplianceFlag) bool {
	for _, f := range l.ComplianceFlags {
		if f == flag {
			return true
		}
	}
	return false
}
