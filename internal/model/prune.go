package model

import "reflect"

type removeField struct{}

// Remove marks a key for deletion in an update. Prune keeps it, and each
// document store translates it into its own delete operation.
var Remove any = removeField{}

// IsRemove reports whether v is the Remove marker.
func IsRemove(v any) bool {
	_, ok := v.(removeField)
	return ok
}

// Prune returns a copy of fields with every unset value removed. Unset
// means nil, a nil pointer, an empty string, or an empty slice or map
// (after its own elements were pruned). Booleans and numbers are kept
// even when zero; a pointer to a value is replaced by the value.
//
// The document store treats an absent key as "no value", so every patch
// goes through Prune before it is written.
func Prune(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if pruned, ok := pruneValue(v); ok {
			out[k] = pruned
		}
	}
	return out
}

func pruneValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case removeField:
		return t, true
	case string:
		return t, t != ""
	case map[string]any:
		m := Prune(t)
		return m, len(m) > 0
	case []any:
		items := make([]any, 0, len(t))
		for _, item := range t {
			if pruned, ok := pruneValue(item); ok {
				items = append(items, pruned)
			}
		}
		return items, len(items) > 0
	case []string:
		return t, len(t) > 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, false
		}
		return pruneValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Map:
		if rv.IsNil() || rv.Len() == 0 {
			return nil, false
		}
	}
	return v, true
}
