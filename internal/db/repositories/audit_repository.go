// audit_repository.go implements AuditRepository, the PostgreSQL store behind the audit
// trail: bulk inserts of queued batches, filtered paging, GDPR anonymization and
// retention deletes against the audit_trail table.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/diff"
)

const (
	auditColumns = "id, user_id, actor_id, action, entity_type, entity_id, resource_name, changes, details, " +
		"ip_address, user_agent, session_id, severity, compliance_flags, hash, created_at"
	auditColumnCount = 16

	// insertChunk keeps a single INSERT below the 65535 bind parameter limit.
	insertChunk = 1000

	expiredWhere = `(severity <> 'critical' AND created_at < $1) OR (severity = 'critical' AND created_at < $2)`
)

// AuditRepository handles audit trail database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ audit.Store = (*AuditRepository)(nil)

// auditRow is the scan target for audit_trail rows.
type auditRow struct {
	ID              string         `db:"id"`
	UserID          *string        `db:"user_id"`
	ActorID         *string        `db:"actor_id"`
	Action          string         `db:"action"`
	EntityType      string         `db:"entity_type"`
	EntityID        *string        `db:"entity_id"`
	ResourceName    *string        `db:"resource_name"`
	Changes         []byte         `db:"changes"`
	Details         []byte         `db:"details"`
	IPAddress       *string        `db:"ip_address"`
	UserAgent       *string        `db:"user_agent"`
	SessionID       *string        `db:"session_id"`
	Severity        string         `db:"severity"`
	ComplianceFlags pq.StringArray `db:"compliance_flags"`
	Hash            *string        `db:"hash"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r *auditRow) toModel() (*models.AuditLog, error) {
	e := &models.AuditLog{
		ID:           r.ID,
		UserID:       r.UserID,
		ActorID:      r.ActorID,
		Action:       r.Action,
		EntityType:   models.EntityType(r.EntityType),
		EntityID:     r.EntityID,
		ResourceName: r.ResourceName,
		IPAddress:    r.IPAddress,
		UserAgent:    r.UserAgent,
		SessionID:    r.SessionID,
		Severity:     models.Severity(r.Severity),
		Hash:         r.Hash,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	for _, f := range r.ComplianceFlags {
		e.ComplianceFlags = append(e.ComplianceFlags, models.ComplianceFlag(f))
	}
	if len(r.Changes) > 0 && string(r.Changes) != "null" {
		var cs diff.ChangeSet
		if err := json.Unmarshal(r.Changes, &cs); err != nil {
			return nil, fmt.Errorf("failed to decode changes of %s: %w", r.ID, err)
		}
		e.Changes = cs
	}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details of %s: %w", r.ID, err)
		}
	}
	return e, nil
}

func toModels(rows []auditRow) ([]*models.AuditLog, error) {
	out := make([]*models.AuditLog, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// InsertBatch writes entries with multi-row INSERTs inside one transaction. Entries
// without an id get a fresh UUID; the caller's structs are left untouched.
func (r *AuditRepository) InsertBatch(ctx context.Context, entries []*models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for start := 0; start < len(entries); start += insertChunk {
		end := min(start+insertChunk, len(entries))
		query, args, err := buildInsert(entries[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert audit entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit insert: %w", err)
	}
	return nil
}

func buildInsert(entries []*models.AuditLog) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO audit_trail (")
	sb.WriteString(auditColumns)
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(entries)*auditColumnCount)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < auditColumnCount; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*auditColumnCount+c+1)
		}
		sb.WriteByte(')')

		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		var changes []byte
		if len(e.Changes) > 0 {
			b, err := json.Marshal(e.Changes)
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode changes for %s: %w", e.Action, err)
			}
			changes = b
		}
		details := []byte("{}")
		if e.Details != nil {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode details for %s: %w", e.Action, err)
			}
			details = b
		}
		flags := make([]string, len(e.ComplianceFlags))
		for j, f := range e.ComplianceFlags {
			flags[j] = string(f)
		}

		args = append(args,
			id, e.UserID, e.ActorID, e.Action, string(e.EntityType), e.EntityID, e.ResourceName,
			changes, details, e.IPAddress, e.UserAgent, e.SessionID,
			string(e.Severity), pq.Array(flags), e.Hash, e.CreatedAt,
		)
	}
	return sb.String(), args, nil
}

// whereClause renders f as a WHERE fragment with positional parameters.
func whereClause(f audit.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if len(f.Actions) > 0 {
		add("action = ANY($%d)", pq.Array(f.Actions))
	}
	if len(f.EntityTypes) > 0 {
		types := make([]string, len(f.EntityTypes))
		for i, t := range f.EntityTypes {
			types[i] = string(t)
		}
		add("entity_type = ANY($%d)", pq.Array(types))
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if len(f.Severities) > 0 {
		sevs := make([]string, len(f.Severities))
		for i, s := range f.Severities {
			sevs[i] = string(s)
		}
		add("severity = ANY($%d)", pq.Array(sevs))
	}
	if f.ComplianceFlag != "" {
		add("$%d = ANY(compliance_flags)", string(f.ComplianceFlag))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at <= $%d", f.Until)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns one page of matching entries and the total match count.
func (r *AuditRepository) Query(ctx context.Context, f audit.Filter) ([]*models.AuditLog, int64, error) {
	where, args := whereClause(f)

	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_trail"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	order := "DESC"
	if f.Ascending {
		order = "ASC"
	}
	query := "SELECT " + auditColumns + " FROM audit_trail" + where + " ORDER BY created_at " + order + ", id " + order
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	entries, err := toModels(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Get retrieves a single entry by id.
func (r *AuditRepository) Get(ctx context.Context, id string) (*models.AuditLog, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", audit.ErrNotFound, id)
	}

	var row auditRow
	err := r.db.GetContext(ctx, &row, "SELECT "+auditColumns+" FROM audit_trail WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", audit.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return row.toModel()
}

// ListByUser returns every entry of userID, newest first.
func (r *AuditRepository) ListByUser(ctx context.Context, userID string) ([]*models.AuditLog, error) {
	var rows []auditRow
	query := "SELECT " + auditColumns + " FROM audit_trail WHERE user_id = $1 ORDER BY created_at DESC, id DESC"
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list audit entries for user: %w", err)
	}
	return toModels(rows)
}

// AnonymizeUser clears identifying columns on every entry of userID.
func (r *AuditRepository) AnonymizeUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE audit_trail
		SET user_id = NULL, actor_id = NULL, ip_address = NULL, user_agent = NULL, session_id = NULL,
		    details = '{"anonymized": true}'::jsonb
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to anonymize audit entries: %w", err)
	}
	return res.RowsAffected()
}

// ListExpired returns the rows DeleteExpired would remove, oldest first.
func (r *AuditRepository) ListExpired(ctx context.Context, cutoff audit.RetentionCutoff) ([]*models.AuditLog, error) {
	var rows []auditRow
	query := "SELECT " + auditColumns + " FROM audit_trail WHERE " + expiredWhere + " ORDER BY created_at ASC"
	if err := r.db.SelectContext(ctx, &rows, query, cutoff.Default, cutoff.Critical); err != nil {
		return nil, fmt.Errorf("failed to list expired audit entries: %w", err)
	}
	return toModels(rows)
}

// DeleteExpired removes non-critical rows before cutoff.Default and critical rows
// before cutoff.Critical in one statement.
func (r *AuditRepository) DeleteExpired(ctx context.Context, cutoff audit.RetentionCutoff) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM audit_trail WHERE "+expiredWhere, cutoff.Default, cutoff.Critical)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit entries: %w", err)
	}
	return res.RowsAffected()
}

// ScrubRequestContext nulls ip_address and user_agent on rows created before t.
func (r *AuditRepository) ScrubRequestContext(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE audit_trail
		SET ip_address = NULL, user_agent = NULL
		WHERE created_at < $1 AND (ip_address IS NOT NULL OR user_agent IS NOT NULL)
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to scrub audit request context: %w", err)
	}
	return res.RowsAffected()
}
