package diff

import (
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// Summarize renders a change set as a short human-readable fragment list, e.g.
// "added 2 plugins, changed status from 'draft' to 'active'".
func Summarize(cs ChangeSet) string {
	if cs == nil {
		return "No changes"
	}
	if _, ok := cs[CreatedKey]; ok {
		return "Created"
	}
	if _, ok := cs[DeletedKey]; ok {
		return "Deleted"
	}

	keys := make([]string, 0, len(cs))
	for k := range cs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, field := range keys {
		switch c := cs[field].(type) {
		case *ArrayChange:
			if len(c.Added) > 0 {
				parts = append(parts, fmt.Sprintf("added %d %s", len(c.Added), field))
			}
			if len(c.Removed) > 0 {
				parts = append(parts, fmt.Sprintf("removed %d %s", len(c.Removed), field))
			}
		case *FieldChange:
			parts = append(parts, fmt.Sprintf("changed %s from '%s' to '%s'", field, formatValue(c.From), formatValue(c.To)))
		case ChangeSet:
			parts = append(parts, "updated "+field)
		}
	}

	if len(parts) == 0 {
		return "Updated"
	}
	return strings.Join(parts, ", ")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	if _, ok := asSlice(v); ok {
		return marshalOrPrint(v)
	}
	if _, ok := asObject(v); ok {
		return marshalOrPrint(v)
	}
	return fmt.Sprint(v)
}

func marshalOrPrint(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Count returns the number of atomic changes: each added or removed array item, each
// field replacement and each sentinel snapshot counts once.
func Count(cs ChangeSet) int {
	n := 0
	for _, change := range cs {
		switch c := change.(type) {
		case *ArrayChange:
			n += len(c.Added) + len(c.Removed)
		case *FieldChange, *Snapshot:
			n++
		case ChangeSet:
			n += Count(c)
		}
	}
	return n
}

// HasFieldChanged reports whether field has an entry in cs.
func HasFieldChanged(cs ChangeSet, field string) bool {
	_, ok := cs[field]
	return ok
}

// NewValue returns the "to" side of a field replacement, or nil.
func NewValue(cs ChangeSet, field string) any {
	if fc, ok := cs[field].(*FieldChange); ok {
		return fc.To
	}
	return nil
}

// OldValue returns the "from" side of a field replacement, or nil.
func OldValue(cs ChangeSet, field string) any {
	if fc, ok := cs[field].(*FieldChange); ok {
		return fc.From
	}
	return nil
}
