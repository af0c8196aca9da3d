package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
)

// MemoryStore implements Store in process memory. It backs the "memory" store driver
// used for local development and the service tests. Data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*models.AuditLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// InsertBatch stores copies of entries with fresh ids.
func (s *MemoryStore) InsertBatch(ctx context.Context, entries []*models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		cp := cloneEntry(e)
		if cp.ID == "" {
			cp.ID = uuid.New().String()
		}
		s.entries = append(s.entries, cp)
	}
	return nil
}

// Query filters, sorts by created_at and pages the stored entries.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]*models.AuditLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.AuditLog
	for _, e := range s.entries {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	sortByCreated(matched, filter.Ascending)

	total := int64(len(matched))
	start := min(max(filter.Offset, 0), len(matched))
	end := len(matched)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(matched))
	}

	page := make([]*models.AuditLog, 0, end-start)
	for _, e := range matched[start:end] {
		page = append(page, cloneEntry(e))
	}
	return page, total, nil
}

// Get returns a copy of the entry with id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ID == id {
			return cloneEntry(e), nil
		}
	}
	return nil, ErrNotFound
}

// ListByUser returns copies of the user's entries, newest first.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*models.AuditLog, error) {
	entries, _, err := s.Query(ctx, Filter{UserID: userID})
	return entries, err
}

// AnonymizeUser strips identifying fields from the user's entries.
func (s *MemoryStore) AnonymizeUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i, e := range s.entries {
		if e.UserID == nil || *e.UserID != userID {
			continue
		}
		cp := cloneEntry(e)
		cp.UserID, cp.ActorID = nil, nil
		cp.IPAddress, cp.UserAgent, cp.SessionID = nil, nil, nil
		cp.Details = map[string]any{"anonymized": true}
		s.entries[i] = cp
		n++
	}
	return n, nil
}

// ListExpired returns copies of the entries past the cutoff, oldest first.
func (s *MemoryStore) ListExpired(ctx context.Context, cutoff RetentionCutoff) ([]*models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AuditLog
	for _, e := range s.entries {
		if cutoff.Expired(e) {
			out = append(out, cloneEntry(e))
		}
	}
	sortByCreated(out, true)
	return out, nil
}

// DeleteExpired drops entries past the cutoff.
func (s *MemoryStore) DeleteExpired(ctx context.Context, cutoff RetentionCutoff) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var n int64
	for _, e := range s.entries {
		if cutoff.Expired(e) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return n, nil
}

// ScrubRequestContext clears ip_address and user_agent on old entries.
func (s *MemoryStore) ScrubRequestContext(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i, e := range s.entries {
		if !e.CreatedAt.Before(before) || (e.IPAddress == nil && e.UserAgent == nil) {
			continue
		}
		cp := cloneEntry(e)
		cp.IPAddress, cp.UserAgent = nil, nil
		s.entries[i] = cp
		n++
	}
	return n, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func sortByCreated(entries []*models.AuditLog, ascending bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		if ascending {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

// cloneEntry copies the entry and its top-level details map. Changes are shared since
// they are never modified after build.
func cloneEntry(e *models.AuditLog) *models.AuditLog {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	cp.ComplianceFlags = append([]models.ComplianceFlag(nil), e.ComplianceFlags...)
	return &cp
}
