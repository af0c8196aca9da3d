package audit

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/pkg/checksum"
)

// Verification outcomes reported by VerifyEntry.
const (
	HashValid      = "valid"
	HashMismatch   = "mismatch"
	HashMissing    = "unhashed"
	HashAnonymized = "anonymized"
)

// ComputeHash returns the tamper-detection digest of entry: SHA-256 over the canonical
// JSON of its user_id, action, entity_id, created_at and changes.
func ComputeHash(entry *models.AuditLog) (string, error) {
	payload := map[string]any{
		"user_id":    entry.UserID,
		"action":     entry.Action,
		"entity_id":  entry.EntityID,
		"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		"changes":    entry.Changes,
	}
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	return checksum.SumBytes(canonical), nil
}

// VerifyEntry recomputes the digest of a stored entry and compares it with its hash.
func VerifyEntry(entry *models.AuditLog) string {
	if entry.Hash == nil || *entry.Hash == "" {
		return HashMissing
	}
	if anonymized, _ := entry.Details["anonymized"].(bool); anonymized {
		return HashAnonymized
	}
	sum, err := ComputeHash(entry)
	if err != nil || sum != *entry.Hash {
		return HashMismatch
	}
	return HashValid
}

// canonicalJSON re-encodes v through a generic decode so that every object, including
// typed change values, is written with sorted keys and numbers in a single form.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
