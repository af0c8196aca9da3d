// Package diff computes structural change sets between two snapshots of the same
// record and provides the helpers used to summarize, count and redact them before
// they are embedded into an audit entry.
//
// A ChangeSet maps a field name to exactly one of three variants:
//
//	*FieldChange  scalar or whole-value replacement {from, to, field}
//	*ArrayChange  set-like partition of an array field {added, removed, unchanged}
//	ChangeSet     recursively diffed nested object
//
// The *Snapshot variant only appears under the CreatedKey / DeletedKey sentinels,
// which stand for whole-record creation or deletion.
package diff

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

const (
	// CreatedKey holds the full "after" snapshot when no "before" exists.
	CreatedKey = "_created"
	// DeletedKey holds the full "before" snapshot when no "after" exists.
	DeletedKey = "_deleted"
)

// Change is implemented by every ChangeSet value.
type Change interface {
	isChange()
}

// FieldChange records a scalar or whole-value replacement.
type FieldChange struct {
	From  any    `json:"from"`
	To    any    `json:"to"`
	Field string `json:"field"`
}

// ArrayChange partitions two versions of an array field.
type ArrayChange struct {
	Added     []any `json:"added,omitempty"`
	Removed   []any `json:"removed,omitempty"`
	Unchanged []any `json:"unchanged,omitempty"`
}

// Snapshot wraps a whole record stored under a sentinel key.
type Snapshot struct {
	Value any
}

// ChangeSet maps field names to their change.
type ChangeSet map[string]Change

func (*FieldChange) isChange() {}
func (*ArrayChange) isChange() {}
func (*Snapshot) isChange()    {}
func (ChangeSet) isChange()    {}

// MarshalJSON encodes the wrapped record as-is.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value)
}

// UnmarshalJSON rebuilds the typed variants from their stored JSON shape.
func (cs *ChangeSet) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*cs = nil
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode change set: %w", err)
	}

	out := make(ChangeSet, len(raw))
	for key, msg := range raw {
		change, err := decodeChange(key, msg)
		if err != nil {
			return fmt.Errorf("decode change %q: %w", key, err)
		}
		out[key] = change
	}
	*cs = out
	return nil
}

func decodeChange(key string, msg json.RawMessage) (Change, error) {
	if key == CreatedKey || key == DeletedKey {
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			return nil, err
		}
		return &Snapshot{Value: v}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(msg, &probe); err != nil {
		// Not an object: keep the raw value as a replacement with no known origin.
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			return nil, err
		}
		return &FieldChange{To: v, Field: key}, nil
	}

	switch {
	case isFieldChangeShape(probe):
		var fc FieldChange
		if err := json.Unmarshal(msg, &fc); err != nil {
			return nil, err
		}
		return &fc, nil
	case isArrayChangeShape(probe):
		var ac ArrayChange
		if err := json.Unmarshal(msg, &ac); err != nil {
			return nil, err
		}
		return &ac, nil
	default:
		var nested ChangeSet
		if err := json.Unmarshal(msg, &nested); err != nil {
			return nil, err
		}
		return nested, nil
	}
}

func isFieldChangeShape(obj map[string]json.RawMessage) bool {
	if _, ok := obj["field"]; !ok {
		return false
	}
	_, hasFrom := obj["from"]
	_, hasTo := obj["to"]
	return hasFrom || hasTo
}

func isArrayChangeShape(obj map[string]json.RawMessage) bool {
	if len(obj) == 0 {
		return false
	}
	for k, v := range obj {
		if k != "added" && k != "removed" && k != "unchanged" {
			return false
		}
		if trimmed := bytes.TrimSpace(v); len(trimmed) == 0 || trimmed[0] != '[' {
			return false
		}
	}
	return true
}
