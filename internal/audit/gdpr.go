package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
)

// ErasureReason is recorded on the DATA_ANONYMIZED entry.
const ErasureReason = "GDPR Article 17 - Right to erasure"

// DateRange bounds the entries of an export.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ExportSummary aggregates a user's entries.
type ExportSummary struct {
	TotalEntries     int            `json:"total_entries"`
	ActionsPerformed map[string]int `json:"actions_performed"`
	EntitiesModified map[string]int `json:"entities_modified"`
	DateRange        DateRange      `json:"date_range"`
}

// GDPRExport is the data-portability bundle for one user.
type GDPRExport struct {
	UserID     string             `json:"user_id"`
	ExportedAt time.Time          `json:"exported_at"`
	Entries    []*models.AuditLog `json:"entries"`
	Summary    ExportSummary      `json:"summary"`
}

// ExportUserData returns every persisted entry of userID, newest first, with a summary.
// Call Flush first to include entries still queued.
func (s *Service) ExportUserData(ctx context.Context, userID string) (*GDPRExport, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidQuery)
	}

	entries, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		s.report("export", err, "user_id", userID)
		return nil, fmt.Errorf("export audit trail for %s: %w", userID, err)
	}
	if entries == nil {
		entries = []*models.AuditLog{}
	}

	now := s.now()
	summary := ExportSummary{
		TotalEntries:     len(entries),
		ActionsPerformed: make(map[string]int),
		EntitiesModified: make(map[string]int),
		DateRange:        DateRange{From: now, To: now},
	}
	for i, e := range entries {
		summary.ActionsPerformed[e.Action]++
		summary.EntitiesModified[string(e.EntityType)]++
		if i == 0 || e.CreatedAt.Before(summary.DateRange.From) {
			summary.DateRange.From = e.CreatedAt
		}
		if i == 0 || e.CreatedAt.After(summary.DateRange.To) {
			summary.DateRange.To = e.CreatedAt
		}
	}

	return &GDPRExport{
		UserID:     userID,
		ExportedAt: now,
		Entries:    entries,
		Summary:    summary,
	}, nil
}

// AnonymizeUserData irreversibly clears user_id, actor_id, ip_address, user_agent and
// session_id on every entry of userID and replaces their details with
// {"anonymized": true}. It then records a DATA_ANONYMIZED entry carrying the count.
func (s *Service) AnonymizeUserData(ctx context.Context, userID string) (int64, error) {
	return s.AnonymizeUserDataBy(ctx, userID, "")
}

// AnonymizeUserDataBy is AnonymizeUserData with the operator who requested the erasure
// recorded as actor_id of the DATA_ANONYMIZED entry. Its user_id stays nil.
func (s *Service) AnonymizeUserDataBy(ctx context.Context, userID, actorID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidQuery)
	}

	n, err := s.store.AnonymizeUser(ctx, userID)
	if err != nil {
		s.report("anonymize", err, "user_id", userID)
		return 0, fmt.Errorf("anonymize audit trail for %s: %w", userID, err)
	}

	s.Log(ctx, Input{
		Action:     string(EventDataAnonymized),
		EntityType: models.EntityUser,
		ActorID:    actorID,
		Details: map[string]any{
			"recordsAnonymized": n,
			"reason":            ErasureReason,
		},
	})
	s.logger.Info("audit trail anonymized", "records", n, "actor_id", actorID)
	return n, nil
}
