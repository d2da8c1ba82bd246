package reducer

import (
	"encoding/json"

	"github.com/aidekit/scribe/pkg/page"
)

// validID enforces the entity id shape: short, lowercase, path-safe, and
// never the reserved root marker.
func validID(id string) bool {
	if id == "" || len(id) > page.MaxIDLen || id == page.RootParent {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}

// validEntityProps checks that every value is a JSON scalar or an array of
// scalars. Entity prop schemas are inferred from values, so nesting is
// refused at the gate.
func validEntityProps(props map[string]any) bool {
	for _, v := range props {
		if arr, ok := v.([]any); ok {
			for _, e := range arr {
				if !scalar(e) {
					return false
				}
			}
			continue
		}
		if !scalar(v) {
			return false
		}
	}
	return true
}

func scalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number, float64, int, int64:
		return true
	}
	return false
}

// mergeProps applies src onto dst with JSON merge-patch semantics: a null
// value deletes the key. Returns nil when the result is empty so snapshots
// never hold empty prop maps.
func mergeProps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = cloneJSON(v)
	}
	if len(dst) == 0 {
		return nil
	}
	return dst
}

// mergeSubmap merges src into the submap of parent stored at key, replacing
// any non-map value already there.
func mergeSubmap(parent map[string]any, key string, src map[string]any) {
	sub, _ := parent[key].(map[string]any)
	merged := mergeProps(sub, src)
	if merged == nil {
		delete(parent, key)
		return
	}
	parent[key] = merged
}

func cloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneJSON(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneJSON(e)
		}
		return out
	default:
		return v
	}
}
