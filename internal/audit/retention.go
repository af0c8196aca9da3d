package audit

import (
	"context"
	"fmt"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/telemetry"
)

// RetentionReport describes one retention run.
type RetentionReport struct {
	Deleted  int64  `json:"deleted"`
	Scrubbed int64  `json:"scrubbed"`
	Archive  string `json:"archive,omitempty"`
}

// ApplyRetentionPolicy deletes non-critical entries older than DefaultDays and
// critical entries older than CriticalEventsDays, and returns the number deleted.
// A nil policy uses the configured one; zero fields fall back to it as well.
func (s *Service) ApplyRetentionPolicy(ctx context.Context, policy *RetentionPolicy) (int64, error) {
	report, err := s.EnforceRetention(ctx, policy)
	if err != nil {
		return 0, err
	}
	return report.Deleted, nil
}

// EnforceRetention is ApplyRetentionPolicy with the full report. Expired entries are
// archived first when an archive is configured; an archive failure aborts the run
// before anything is deleted. Afterwards ip_address and user_agent are cleared on
// entries older than GDPRMaxDays.
func (s *Service) EnforceRetention(ctx context.Context, policy *RetentionPolicy) (*RetentionReport, error) {
	p := s.effectivePolicy(policy)
	now := s.now()

	cutoff := RetentionCutoff{
		Default:  now.AddDate(0, 0, -p.DefaultDays),
		Critical: now.AddDate(0, 0, -p.CriticalEventsDays),
	}
	// Critical entries are never purged sooner than ordinary ones.
	if cutoff.Critical.After(cutoff.Default) {
		cutoff.Critical = cutoff.Default
	}

	report := &RetentionReport{}
	if s.archive != nil {
		expired, err := s.store.ListExpired(ctx, cutoff)
		if err != nil {
			s.report("retention", err)
			return nil, fmt.Errorf("list expired audit entries: %w", err)
		}
		if len(expired) > 0 {
			obj, err := s.archive.PutExpired(ctx, expired, now)
			if err != nil {
				s.report("archive", err, "entries", len(expired))
				return nil, fmt.Errorf("archive expired audit entries: %w", err)
			}
			report.Archive = obj.Path
		}
	}

	deleted, err := s.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		s.report("retention", err)
		return nil, fmt.Errorf("delete expired audit entries: %w", err)
	}
	report.Deleted = deleted
	telemetry.AuditRetentionDeletedTotal.Add(float64(deleted))

	scrubbed, err := s.store.ScrubRequestContext(ctx, now.AddDate(0, 0, -p.GDPRMaxDays))
	if err != nil {
		s.report("retention", err)
		return report, fmt.Errorf("scrub request context: %w", err)
	}
	report.Scrubbed = scrubbed

	s.Log(ctx, Input{
		Action:     string(EventRetentionPolicyApplied),
		EntityType: models.EntitySystem,
		Details: map[string]any{
			"deleted":              deleted,
			"scrubbed":             scrubbed,
			"default_days":         p.DefaultDays,
			"critical_events_days": p.CriticalEventsDays,
			"gdpr_max_days":        p.GDPRMaxDays,
		},
	})
	s.logger.Info("audit retention applied", "deleted", deleted, "scrubbed", scrubbed, "archive", report.Archive)
	return report, nil
}

func (s *Service) effectivePolicy(policy *RetentionPolicy) RetentionPolicy {
	p := s.cfg.Retention
	if policy == nil {
		return p
	}
	if policy.DefaultDays > 0 {
		p.DefaultDays = policy.DefaultDays
	}
	if policy.CriticalEventsDays > 0 {
		p.CriticalEventsDays = policy.CriticalEventsDays
	}
	if policy.GDPRMaxDays > 0 {
		p.GDPRMaxDays = policy.GDPRMaxDays
	}
	return p
}
