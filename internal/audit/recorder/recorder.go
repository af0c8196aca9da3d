// Package recorder offers typed helpers for the event families recorded from several call
// sites. Each helper assembles the details and change set and forwards one audit.Input.
package recorder

import (
	"context"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/diff"
)

// Logger is the part of *audit.Service the helpers need.
type Logger interface {
	Log(ctx context.Context, in audit.Input)
}

// Recorder builds domain events on top of a Logger.
type Recorder struct {
	log Logger
}

// New wraps l.
func New(l Logger) *Recorder {
	return &Recorder{log: l}
}

// Actor identifies who performed an action and from where.
type Actor struct {
	UserID  string
	Request *audit.RequestContext
}

func (r *Recorder) emit(ctx context.Context, actor Actor, ev audit.Event, in audit.Input) {
	in.Action = string(ev)
	if in.UserID == "" {
		in.UserID = actor.UserID
	}
	if in.ActorID == "" {
		in.ActorID = actor.UserID
	}
	in.Request = actor.Request
	r.log.Log(ctx, in)
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

// UserRoleChanged records an admin changing targetUserID's role.
func (r *Recorder) UserRoleChanged(ctx context.Context, admin Actor, targetUserID, oldRole, newRole string) {
	r.emit(ctx, admin, audit.EventAdminUserRoleChanged, audit.Input{
		EntityType: models.EntityUser,
		EntityID:   targetUserID,
		Changes: diff.ChangeSet{
			"role": &diff.FieldChange{From: oldRole, To: newRole, Field: "role"},
		},
		Details: map[string]any{"target_user_id": targetUserID},
	})
}

// UserSuspended records a suspension. An empty until means indefinite.
func (r *Recorder) UserSuspended(ctx context.Context, admin Actor, targetUserID, reason, until string) {
	details := map[string]any{"target_user_id": targetUserID, "reason": reason}
	if until != "" {
		details["until"] = until
	}
	r.emit(ctx, admin, audit.EventAdminUserSuspended, audit.Input{
		EntityType: models.EntityUser,
		EntityID:   targetUserID,
		Details:    details,
	})
}

// Impersonation records the start or end of an admin session as targetUserID. The
// entry's user is the impersonated account and its actor is the admin.
func (r *Recorder) Impersonation(ctx context.Context, admin Actor, targetUserID string, started bool) {
	ev := audit.EventAdminImpersonationEnded
	if started {
		ev = audit.EventAdminImpersonationStarted
	}
	r.emit(ctx, admin, ev, audit.Input{
		EntityType: models.EntityUser,
		EntityID:   targetUserID,
		UserID:     targetUserID,
		ActorID:    admin.UserID,
		Details:    map[string]any{"admin_id": admin.UserID},
	})
}

// SettingsUpdated records a change to platform admin settings. Nothing is recorded when
// the snapshots are equal.
func (r *Recorder) SettingsUpdated(ctx context.Context, admin Actor, before, after map[string]any) {
	changes := diff.Generate(before, after, diff.IgnoreFields("updated_at"))
	if len(changes) == 0 {
		return
	}
	r.emit(ctx, admin, audit.EventAdminSettingsUpdated, audit.Input{
		EntityType: models.EntitySettings,
		Changes:    changes,
		Details:    map[string]any{"change_count": diff.Count(changes)},
	})
}

// AuditLogAccessed records an operator reading the trail. entryID is set for a single
// entry read; query is the raw search query string otherwise.
func (r *Recorder) AuditLogAccessed(ctx context.Context, admin Actor, entryID, query string, results int) {
	details := map[string]any{"results": results}
	if query != "" {
		details["query"] = query
	}
	r.emit(ctx, admin, audit.EventAdminAuditLogAccessed, audit.Input{
		EntityType: models.EntitySystem,
		EntityID:   entryID,
		Details:    details,
	})
}

// ---------------------------------------------------------------------------
// Agent intensity score
// ---------------------------------------------------------------------------

// AISScore is one calculated intensity score.
type AISScore struct {
	AgentID    string
	Score      float64
	Mode       string
	Components map[string]float64
}

// AISScoreCalculated records a score computation for an agent.
func (r *Recorder) AISScoreCalculated(ctx context.Context, actor Actor, s AISScore) {
	components := make(map[string]any, len(s.Components))
	for k, v := range s.Components {
		components[k] = v
	}
	r.emit(ctx, actor, audit.EventAISScoreCalculated, audit.Input{
		EntityType: models.EntityAgent,
		EntityID:   s.AgentID,
		Details: map[string]any{
			"score":      s.Score,
			"mode":       s.Mode,
			"components": components,
		},
	})
}

// AISRangesUpdated records a change to the normalization ranges.
func (r *Recorder) AISRangesUpdated(ctx context.Context, admin Actor, before, after map[string]any) {
	changes := diff.Generate(before, after)
	if len(changes) == 0 {
		return
	}
	r.emit(ctx, admin, audit.EventAISRangesUpdated, audit.Input{
		EntityType: models.EntitySystem,
		Changes:    changes,
	})
}

// AISRecalculated records a bulk recalculation over agentCount agents.
func (r *Recorder) AISRecalculated(ctx context.Context, admin Actor, agentCount int, trigger string) {
	r.emit(ctx, admin, audit.EventAISRecalculationStarted, audit.Input{
		EntityType: models.EntitySystem,
		Details:    map[string]any{"agent_count": agentCount, "trigger": trigger},
	})
}

// ---------------------------------------------------------------------------
// Rewards
// ---------------------------------------------------------------------------

// RewardConfigUpdated records a change to reward configuration configID.
func (r *Recorder) RewardConfigUpdated(ctx context.Context, admin Actor, configID string, before, after map[string]any) {
	changes := diff.Generate(before, after, diff.IgnoreFields("updated_at"))
	if len(changes) == 0 {
		return
	}
	r.emit(ctx, admin, audit.EventRewardConfigUpdated, audit.Input{
		EntityType: models.EntitySettings,
		EntityID:   configID,
		Changes:    changes,
		Details:    map[string]any{"summary": diff.Summarize(changes)},
	})
}

// RewardGranted records credits granted to userID under a reward rule.
func (r *Recorder) RewardGranted(ctx context.Context, actor Actor, userID, rewardKey string, credits int) {
	r.emit(ctx, actor, audit.EventRewardGranted, audit.Input{
		EntityType: models.EntityUser,
		EntityID:   userID,
		UserID:     userID,
		Details:    map[string]any{"reward_key": rewardKey, "credits": credits},
	})
}

// ---------------------------------------------------------------------------
// Pricing
// ---------------------------------------------------------------------------

// PricingUpdated records a pricing configuration change.
func (r *Recorder) PricingUpdated(ctx context.Context, admin Actor, before, after map[string]any) {
	changes := diff.Generate(before, after)
	if len(changes) == 0 {
		return
	}
	r.emit(ctx, admin, audit.EventPricingConfigUpdated, audit.Input{
		EntityType: models.EntitySettings,
		Changes:    changes,
		Details:    map[string]any{"summary": diff.Summarize(changes)},
	})
}

// CreditsPurchased records a completed credit purchase.
func (r *Recorder) CreditsPurchased(ctx context.Context, actor Actor, credits int, amountCents int64, currency, paymentID string) {
	r.emit(ctx, actor, audit.EventCreditsPurchased, audit.Input{
		EntityType: models.EntityUser,
		EntityID:   actor.UserID,
		Details: map[string]any{
			"credits":      credits,
			"amount_cents": amountCents,
			"currency":     currency,
			"payment_id":   paymentID,
		},
	})
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// AgentCreated records a new agent with its initial configuration.
func (r *Recorder) AgentCreated(ctx context.Context, actor Actor, agentID, name string, cfg map[string]any) {
	r.emit(ctx, actor, audit.EventAgentCreated, audit.Input{
		EntityType:   models.EntityAgent,
		EntityID:     agentID,
		ResourceName: name,
		Changes:      diff.Generate(nil, cfg),
	})
}

// AgentUpdated records an agent configuration change. Equal snapshots record nothing.
func (r *Recorder) AgentUpdated(ctx context.Context, actor Actor, agentID, name string, before, after map[string]any) {
	changes := diff.Generate(before, after, diff.IgnoreFields("updated_at", "last_run_at"))
	if len(changes) == 0 {
		return
	}
	r.emit(ctx, actor, audit.EventAgentUpdated, audit.Input{
		EntityType:   models.EntityAgent,
		EntityID:     agentID,
		ResourceName: name,
		Changes:      changes,
	})
}

// AgentDeleted records permanent deletion along with the final configuration.
func (r *Recorder) AgentDeleted(ctx context.Context, actor Actor, agentID, name string, last map[string]any) {
	r.emit(ctx, actor, audit.EventAgentDeleted, audit.Input{
		EntityType:   models.EntityAgent,
		EntityID:     agentID,
		ResourceName: name,
		Changes:      diff.Generate(last, nil),
	})
}
