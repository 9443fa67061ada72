package document

import (
	"sort"
)

// Map is an insertion-ordered string-keyed mapping.
// Overwriting an existing key keeps its original position.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap creates an empty map with room for n entries.
func NewMap(n int) *Map {
	return &Map{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key. New keys are appended.
func (m *Map) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete removes key, preserving the order of the remaining entries.
func (m *Map) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns a copy of the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for every entry in order until fn returns false.
func (m *Map) Range(fn func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Update copies every entry of other into m. Later entries win.
func (m *Map) Update(other *Map) {
	other.Range(func(k string, v any) bool {
		m.Set(k, v)
		return true
	})
}

// Copy returns a shallow copy of m.
func (m *Map) Copy() *Map {
	out := NewMap(m.Len())
	out.Update(m)
	return out
}

// Clone returns a deep copy of m. Nested maps and lists are copied.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := NewMap(m.Len())
	m.Range(func(k string, v any) bool {
		out.Set(k, CloneValue(v))
		return true
	})
	return out
}

// CloneValue deep-copies a document value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case *Map:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

// ToGo converts m into plain Go maps for consumers that do not care about order.
func (m *Map) ToGo() map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v any) bool {
		out[k] = toGo(v)
		return true
	})
	return out
}

func toGo(v any) any {
	switch t := v.(type) {
	case *Map:
		return t.ToGo()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toGo(item)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether two values are structurally equal, including key order.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case *Map:
		y, ok := b.(*Map)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			if y.keys[i] != k || !Equal(x.values[k], y.values[k]) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// SortedKeys returns the keys of a plain Go map in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
