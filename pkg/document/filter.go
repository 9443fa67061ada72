package document

import (
	"math"
	"strings"
)

// IsPrivate reports whether a binding name is excluded from documents.
func IsPrivate(name string) bool {
	return strings.HasPrefix(name, "_")
}

// Representable reports whether v can be written as JSON without loss.
func Representable(v any) bool {
	switch t := v.(type) {
	case nil, bool, int64, string:
		return true
	case float64:
		return !math.IsNaN(t) && !math.IsInf(t, 0)
	case []any:
		for _, item := range t {
			if !Representable(item) {
				return false
			}
		}
		return true
	case *Map:
		ok := true
		t.Range(func(_ string, item any) bool {
			ok = Representable(item)
			return ok
		})
		return ok
	}
	return false
}

// Extract builds a Document from a script's final bindings. Private names and
// values that are not JSON-representable are dropped; order is preserved.
func Extract(bindings *Map) *Map {
	out := NewMap(bindings.Len())
	bindings.Range(func(name string, v any) bool {
		if IsPrivate(name) || !Representable(v) {
			return true
		}
		out.Set(name, v)
		return true
	})
	return out
}
