package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
)

// ErrInvalidQuery wraps parameter validation failures.
var ErrInvalidQuery = errors.New("invalid audit query")

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 1000
)

// QueryParams selects entries for Query. Empty fields do not constrain the result.
type QueryParams struct {
	UserID         string                `form:"user_id" json:"user_id,omitempty"`
	ActorID        string                `form:"actor_id" json:"actor_id,omitempty"`
	Actions        []string              `form:"action" json:"actions,omitempty"`
	EntityTypes    []models.EntityType   `form:"entity_type" json:"entity_types,omitempty"`
	EntityID       string                `form:"entity_id" json:"entity_id,omitempty"`
	Severities     []models.Severity     `form:"severity" json:"severities,omitempty"`
	ComplianceFlag models.ComplianceFlag `form:"compliance_flag" json:"compliance_flag,omitempty"`
	StartDate      *time.Time            `form:"start_date" time_format:"2006-01-02T15:04:05Z07:00" json:"start_date,omitempty"`
	EndDate        *time.Time            `form:"end_date" time_format:"2006-01-02T15:04:05Z07:00" json:"end_date,omitempty"`
	Page           int                   `form:"page" json:"page,omitempty"`
	Limit          int                   `form:"limit" json:"limit,omitempty"`
	SortBy         string                `form:"sort_by" json:"sort_by,omitempty"`
	SortOrder      string                `form:"sort_order" json:"sort_order,omitempty"`
}

// QueryResult is one page of entries.
type QueryResult struct {
	Data    []*models.AuditLog `json:"data"`
	Total   int64              `json:"total"`
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
	HasMore bool               `json:"has_more"`
}

// Filter validates p and converts it to a store filter.
func (p QueryParams) Filter() (Filter, error) {
	page, limit := p.Page, p.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	if page > math.MaxInt/limit {
		return Filter{}, fmt.Errorf("%w: page %d out of range", ErrInvalidQuery, p.Page)
	}

	if p.SortBy != "" && p.SortBy != "created_at" {
		return Filter{}, fmt.Errorf("%w: unsupported sort_by %q", ErrInvalidQuery, p.SortBy)
	}
	order := strings.ToLower(p.SortOrder)
	if order != "" && order != "asc" && order != "desc" {
		return Filter{}, fmt.Errorf("%w: sort_order must be asc or desc", ErrInvalidQuery)
	}
	for _, sev := range p.Severities {
		if !sev.Valid() {
			return Filter{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidQuery, sev)
		}
	}
	for _, et := range p.EntityTypes {
		if !et.Valid() {
			return Filter{}, fmt.Errorf("%w: unknown entity type %q", ErrInvalidQuery, et)
		}
	}
	if p.ComplianceFlag != "" && !p.ComplianceFlag.Valid() {
		return Filter{}, fmt.Errorf("%w: unknown compliance flag %q", ErrInvalidQuery, p.ComplianceFlag)
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return Filter{}, fmt.Errorf("%w: end_date before start_date", ErrInvalidQuery)
	}

	f := Filter{
		UserID:         p.UserID,
		ActorID:        p.ActorID,
		Actions:        p.Actions,
		EntityTypes:    p.EntityTypes,
		EntityID:       p.EntityID,
		Severities:     p.Severities,
		ComplianceFlag: p.ComplianceFlag,
		Limit:          limit,
		Offset:         (page - 1) * limit,
		Ascending:      order == "asc",
	}
	if p.StartDate != nil {
		f.Since = *p.StartDate
	}
	if p.EndDate != nil {
		f.Until = *p.EndDate
	}
	return f, nil
}

// Query reads persisted entries. It does not see entries still in the queue.
func (s *Service) Query(ctx context.Context, p QueryParams) (*QueryResult, error) {
	f, err := p.Filter()
	if err != nil {
		return nil, err
	}

	entries, total, err := s.store.Query(ctx, f)
	if err != nil {
		s.report("query", err)
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	if entries == nil {
		entries = []*models.AuditLog{}
	}

	return &QueryResult{
		Data:    entries,
		Total:   total,
		Page:    f.Offset/f.Limit + 1,
		Limit:   f.Limit,
		HasMore: int64(f.Offset+len(entries)) < total,
	}, nil
}

// Get returns one persisted entry.
func (s *Service) Get(ctx context.Context, id string) (*models.AuditLog, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.report("query", err, "id", id)
		}
		return nil, fmt.Errorf("get audit entry %s: %w", id, err)
	}
	return entry, nil
}
