package pull

import (
	"encoding/json"
	"strings"
	"unicode"
)

// CamelToSnake converts a cloud camelCase field name to the store's
// snake_case column convention.
func CamelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Transform normalizes one cloud item into store column values:
// per-entity renames first, then the default camelCase -> snake_case rule,
// booleans to 0/1, and arrays/objects stringified for TEXT columns.
//
// The cloud has per-entity naming quirks (sizeId vs pizzaSizeId and the
// like); overrides enumerate those rather than guessing.
func Transform(item map[string]any, overrides map[string]string) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		col, ok := overrides[k]
		if !ok {
			col = CamelToSnake(k)
		}
		out[col] = coerce(v)
	}
	return out
}

func coerce(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}

// ExtractItems accepts either {items:[...]} or a bare array response body.
func ExtractItems(data any) []map[string]any {
	var raw []any
	switch t := data.(type) {
	case []any:
		raw = t
	case map[string]any:
		arr, _ := t["items"].([]any)
		raw = arr
	default:
		return nil
	}

	items := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

// ExtractDeletedIDs pulls the optional deletedIds list from an envelope body.
func ExtractDeletedIDs(data any) []string {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	arr, ok := m["deletedIds"].([]any)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	return ids
}
