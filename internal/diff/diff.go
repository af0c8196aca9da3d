package diff

import (
	"reflect"
	"sort"
)

type options struct {
	ignore     map[string]struct{}
	deep       bool
	fullArrays bool
}

// Option tunes Generate.
type Option func(*options)

// IgnoreFields skips the named fields at every nesting level.
func IgnoreFields(fields ...string) Option {
	return func(o *options) {
		for _, f := range fields {
			o.ignore[f] = struct{}{}
		}
	}
}

// ShallowCompare disables recursion into nested objects. Composite values are then
// equal only when they are the same reference.
func ShallowCompare() Option {
	return func(o *options) { o.deep = false }
}

// FullArrays records changed arrays as a plain from/to replacement instead of an
// added/removed partition.
func FullArrays() Option {
	return func(o *options) { o.fullArrays = true }
}

// Generate compares two snapshots of the same record. It returns nil when nothing
// changed after ignored fields are dropped.
func Generate(before, after map[string]any, opts ...Option) ChangeSet {
	o := &options{ignore: map[string]struct{}{}, deep: true}
	for _, opt := range opts {
		opt(o)
	}

	switch {
	case before == nil && after == nil:
		return nil
	case before == nil:
		return ChangeSet{CreatedKey: &Snapshot{Value: after}}
	case after == nil:
		return ChangeSet{DeletedKey: &Snapshot{Value: before}}
	}
	return o.diffObjects(before, after)
}

func (o *options) diffObjects(before, after map[string]any) ChangeSet {
	cs := ChangeSet{}
	for _, key := range unionKeys(before, after) {
		if _, skip := o.ignore[key]; skip {
			continue
		}
		oldVal, newVal := before[key], after[key]
		if o.equal(oldVal, newVal) {
			continue
		}

		oldArr, oldIsArr := asSlice(oldVal)
		newArr, newIsArr := asSlice(newVal)
		if oldIsArr && newIsArr {
			if o.fullArrays {
				cs[key] = &FieldChange{From: oldVal, To: newVal, Field: key}
				continue
			}
			ac := Arrays(oldArr, newArr, o.deep)
			if len(ac.Added) == 0 && len(ac.Removed) == 0 {
				continue
			}
			cs[key] = &ac
			continue
		}

		oldObj, oldIsObj := asObject(oldVal)
		newObj, newIsObj := asObject(newVal)
		if oldIsObj && newIsObj && o.deep {
			if nested := o.diffObjects(oldObj, newObj); len(nested) > 0 {
				cs[key] = nested
			}
			continue
		}

		cs[key] = &FieldChange{From: oldVal, To: newVal, Field: key}
	}

	if len(cs) == 0 {
		return nil
	}
	return cs
}

func (o *options) equal(a, b any) bool {
	if o.deep {
		return deepEqual(a, b)
	}
	return shallowEqual(a, b)
}

// Arrays partitions two arrays into added, removed and unchanged items. Membership is
// set-like: position does not matter. With deep=false composite items only match
// themselves by reference.
func Arrays(oldArr, newArr []any, deep bool) ArrayChange {
	eq := shallowEqual
	if deep {
		eq = deepEqual
	}

	var ac ArrayChange
	for _, item := range newArr {
		if containsFunc(oldArr, item, eq) {
			ac.Unchanged = append(ac.Unchanged, item)
		} else {
			ac.Added = append(ac.Added, item)
		}
	}
	for _, item := range oldArr {
		if !containsFunc(newArr, item, eq) {
			ac.Removed = append(ac.Removed, item)
		}
	}
	return ac
}

func containsFunc(items []any, target any, eq func(a, b any) bool) bool {
	for _, item := range items {
		if eq(item, target) {
			return true
		}
	}
	return false
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, m := range []map[string]any{a, b} {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}

	aArr, aIsArr := asSlice(a)
	bArr, bIsArr := asSlice(b)
	if aIsArr || bIsArr {
		if !aIsArr || !bIsArr || len(aArr) != len(bArr) {
			return false
		}
		for i := range aArr {
			if !deepEqual(aArr[i], bArr[i]) {
				return false
			}
		}
		return true
	}

	aObj, aIsObj := asObject(a)
	bObj, bIsObj := asObject(b)
	if aIsObj || bIsObj {
		if !aIsObj || !bIsObj || len(aObj) != len(bObj) {
			return false
		}
		for k, av := range aObj {
			bv, ok := bObj[k]
			if !ok || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

func shallowEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice, reflect.Map, reflect.Pointer, reflect.Func, reflect.Chan:
		return va.Kind() == vb.Kind() && va.Type() == vb.Type() &&
			va.Pointer() == vb.Pointer() && sameLen(va, vb)
	}
	return reflect.DeepEqual(a, b)
}

func sameLen(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Slice, reflect.Map, reflect.Chan:
		return a.Len() == b.Len()
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asObject(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
