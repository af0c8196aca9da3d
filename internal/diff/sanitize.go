package diff

import "strings"

// Redacted replaces sensitive values.
const Redacted = "***REDACTED***"

// DefaultSensitiveFields are matched as case-insensitive substrings of field names.
var DefaultSensitiveFields = []string{"password", "token", "secret", "apiKey", "api_key"}

// Sanitize returns a copy of cs with every sensitive field redacted. With no explicit
// list DefaultSensitiveFields is used. Sentinel snapshots are scrubbed key by key.
func Sanitize(cs ChangeSet, sensitive ...string) ChangeSet {
	if cs == nil {
		return nil
	}
	if len(sensitive) == 0 {
		sensitive = DefaultSensitiveFields
	}
	needles := make([]string, len(sensitive))
	for i, s := range sensitive {
		needles[i] = strings.ToLower(s)
	}
	return sanitize(cs, needles)
}

func sanitize(cs ChangeSet, needles []string) ChangeSet {
	out := make(ChangeSet, len(cs))
	for key, change := range cs {
		if isSensitive(key, needles) {
			field := key
			if fc, ok := change.(*FieldChange); ok && fc.Field != "" {
				field = fc.Field
			}
			out[key] = &FieldChange{From: Redacted, To: Redacted, Field: field}
			continue
		}

		switch c := change.(type) {
		case ChangeSet:
			out[key] = sanitize(c, needles)
		case *FieldChange:
			out[key] = &FieldChange{From: scrubValue(c.From, needles), To: scrubValue(c.To, needles), Field: c.Field}
		case *ArrayChange:
			out[key] = &ArrayChange{
				Added:     scrubItems(c.Added, needles),
				Removed:   scrubItems(c.Removed, needles),
				Unchanged: scrubItems(c.Unchanged, needles),
			}
		case *Snapshot:
			out[key] = &Snapshot{Value: scrubValue(c.Value, needles)}
		default:
			out[key] = change
		}
	}
	return out
}

// scrubValue redacts sensitive keys at any depth of objects and arrays.
func scrubValue(v any, needles []string) any {
	if items, ok := asSlice(v); ok {
		return scrubItems(items, needles)
	}
	obj, ok := asObject(v)
	if !ok {
		return v
	}
	out := make(map[string]any, len(obj))
	for k, val := range obj {
		if isSensitive(k, needles) {
			out[k] = Redacted
			continue
		}
		out[k] = scrubValue(val, needles)
	}
	return out
}

func scrubItems(items []any, needles []string) []any {
	if items == nil {
		return nil
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = scrubValue(item, needles)
	}
	return out
}

func isSensitive(key string, needles []string) bool {
	lower := strings.ToLower(key)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
