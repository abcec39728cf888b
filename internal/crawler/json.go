package crawler

import (
	"math"
	"strconv"
	"strings"
)

// Helpers for picking fields out of decoded JSON trees. Upstream
// responses arrive as untyped map[string]any; a missing or mistyped
// step simply yields the zero value.

func dig(m map[string]any, keys ...string) any {
	var current any = m
	for _, key := range keys {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = node[key]
	}
	return current
}

func digMap(m map[string]any, keys ...string) (map[string]any, bool) {
	v, ok := dig(m, keys...).(map[string]any)
	return v, ok
}

func digSlice(m map[string]any, keys ...string) ([]any, bool) {
	v, ok := dig(m, keys...).([]any)
	return v, ok
}

// asString renders strings and whole numbers; upstream ids show up as
// both.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatFloat(s, 'f', 0, 64)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// fallbackMaxDepth caps the recursive fallback walkers so a
// pathological response cannot recurse away.
const fallbackMaxDepth = 10

// walkObjects visits every JSON object in the tree up to
// fallbackMaxDepth. visit returning true prunes descent below the
// matched object.
func walkObjects(node any, depth int, visit func(map[string]any) bool) {
	if depth > fallbackMaxDepth {
		return
	}
	switch v := node.(type) {
	case map[string]any:
		if visit(v) {
			return
		}
		for _, child := range v {
			walkObjects(child, depth+1, visit)
		}
	case []any:
		for _, item := range v {
			walkObjects(item, depth+1, visit)
		}
	}
}
