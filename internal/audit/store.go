package audit

import (
	"context"
	"errors"
	"time"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
)

// ErrNotFound is returned by Store.Get when no entry has the requested id.
var ErrNotFound = errors.New("audit entry not found")

// Store is the persistence boundary of the audit trail. Implementations must accept a
// whole batch in one call and must not modify the entries they are given.
type Store interface {
	// InsertBatch persists entries in one bulk write. Ids are assigned by the store.
	InsertBatch(ctx context.Context, entries []*models.AuditLog) error
	// Query returns one page of matching entries and the total match count.
	Query(ctx context.Context, filter Filter) ([]*models.AuditLog, int64, error)
	// Get returns a single entry or ErrNotFound.
	Get(ctx context.Context, id string) (*models.AuditLog, error)
	// ListByUser returns every entry whose user_id is userID, newest first.
	ListByUser(ctx context.Context, userID string) ([]*models.AuditLog, error)
	// AnonymizeUser clears identifying fields on every entry of userID.
	AnonymizeUser(ctx context.Context, userID string) (int64, error)
	// ListExpired returns the entries DeleteExpired would remove, oldest first.
	ListExpired(ctx context.Context, cutoff RetentionCutoff) ([]*models.AuditLog, error)
	// DeleteExpired removes entries past their retention window.
	DeleteExpired(ctx context.Context, cutoff RetentionCutoff) (int64, error)
	// ScrubRequestContext nulls ip_address and user_agent on entries created before t.
	ScrubRequestContext(ctx context.Context, before time.Time) (int64, error)
}

// Filter is a normalized query against a Store. Zero values mean "no constraint".
type Filter struct {
	UserID         string
	ActorID        string
	Actions        []string
	EntityTypes    []models.EntityType
	EntityID       string
	Severities     []models.Severity
	ComplianceFlag models.ComplianceFlag
	Since          time.Time
	Until          time.Time
	Limit          int
	Offset         int
	Ascending      bool
}

// RetentionCutoff holds the creation-time thresholds used by retention.
type RetentionCutoff struct {
	// Default expires non-critical entries created before it.
	Default time.Time
	// Critical expires critical entries created before it.
	Critical time.Time
}

// Expired reports whether entry falls outside the cutoff.
func (c RetentionCutoff) Expired(entry *models.AuditLog) bool {
	if entry.Severity == models.SeverityCritical {
		return entry.CreatedAt.Before(c.Critical)
	}
	return entry.CreatedAt.Before(c.Default)
}

// Matches reports whether entry satisfies every constraint of f, ignoring paging.
func (f *Filter) Matches(entry *models.AuditLog) bool {
	if f.UserID != "" && (entry.UserID == nil || *entry.UserID != f.UserID) {
		return false
	}
	if f.ActorID != "" && (entry.ActorID == nil || *entry.ActorID != f.ActorID) {
		return false
	}
	if f.EntityID != "" && (entry.EntityID == nil || *entry.EntityID != f.EntityID) {
		return false
	}
	if len(f.Actions) > 0 && !contains(f.Actions, entry.Action) {
		return false
	}
	if len(f.EntityTypes) > 0 && !contains(f.EntityTypes, entry.EntityType) {
		return false
	}
	if len(f.Severities) > 0 && !contains(f.Severities, entry.Severity) {
		return false
	}
	if f.ComplianceFlag != "" && !entry.HasComplianceFlag(f.ComplianceFlag) {
		return false
	}
	if !f.Since.IsZero() && entry.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

func contains[T comparable](items []T, v T) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
