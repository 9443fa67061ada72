package script

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ringoldsdev/efemel/pkg/document"
)

// Module is an evaluated script as seen by importers.
type Module struct {
	Path     string
	Bindings *document.Map
}

// Function is the opaque value bound by def, class and lambda. It is never
// representable in a document.
type Function struct {
	Name string
	Kind string
}

// TypeName implements the type naming used in error messages.
func (f *Function) TypeName() string { return f.Kind }

// ModuleValue is the value bound by "import ref". Children hold submodules
// reached through dotted imports.
type ModuleValue struct {
	Name     string
	Module   *Module
	Children map[string]*ModuleValue
}

// TypeName implements the type naming used in error messages.
func (m *ModuleValue) TypeName() string { return "module" }

// clone returns a copy with its own Children map.
func (m *ModuleValue) clone() *ModuleValue {
	children := make(map[string]*ModuleValue, len(m.Children)+1)
	for k, v := range m.Children {
		children[k] = v
	}
	return &ModuleValue{Name: m.Name, Module: m.Module, Children: children}
}

func (m *ModuleValue) attr(name string) (any, bool) {
	if c, ok := m.Children[name]; ok {
		return c, true
	}
	if m.Module != nil {
		return m.Module.Bindings.Get(name)
	}
	return nil, false
}

// Builtin is a function implemented in Go.
type Builtin struct {
	Name string
	Fn   func(c *call) (any, error)
}

// TypeName implements the type naming used in error messages.
func (b *Builtin) TypeName() string { return "builtin_function_or_method" }

func typeName(v any) string { return document.TypeName(v) }

func truth(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case *document.Map:
		return t.Len() > 0
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64, bool:
		return true
	}
	return false
}

func equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		if ai, ok := a.(int64); ok {
			if bi, ok := b.(int64); ok {
				return ai == bi
			}
		}
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		return af == bf
	}
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *document.Map:
		y, ok := b.(*document.Map)
		if !ok || x.Len() != y.Len() {
			return false
		}
		same := true
		x.Range(func(k string, v any) bool {
			w, ok := y.Get(k)
			same = ok && equal(v, w)
			return same
		})
		return same
	}
	return a == b
}

// compare orders two values. ok is false when the types are not ordered.
func compare(a, b any) (int, bool) {
	if isNumber(a) && isNumber(b) {
		ai, aInt := a.(int64)
		bi, bInt := b.(int64)
		if aInt && bInt {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			}
			return 0, true
		}
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case []any:
		if y, ok := b.([]any); ok {
			for i := 0; i < len(x) && i < len(y); i++ {
				if equal(x[i], y[i]) {
					continue
				}
				return compare(x[i], y[i])
			}
			switch {
			case len(x) < len(y):
				return -1, true
			case len(x) > len(y):
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

func sortValues(items []any) error {
	var bad error
	sort.SliceStable(items, func(i, j int) bool {
		c, ok := compare(items[i], items[j])
		if !ok && bad == nil {
			bad = fmt.Errorf("'<' not supported between instances of '%s' and '%s'",
				typeName(items[i]), typeName(items[j]))
		}
		return c < 0
	})
	return bad
}

// str renders a value the way str() does.
func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return repr(v)
}

// repr renders a value the way repr() does.
func repr(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		switch {
		case math.IsInf(t, 1):
			return "inf"
		case math.IsInf(t, -1):
			return "-inf"
		case math.IsNaN(t):
			return "nan"
		}
		return document.FormatFloat(t)
	case string:
		return quote(t)
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = repr(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *document.Map:
		parts := make([]string, 0, t.Len())
		t.Range(func(k string, item any) bool {
			parts = append(parts, quote(k)+": "+repr(item))
			return true
		})
		return "{" + strings.Join(parts, ", ") + "}"
	case *Function:
		return fmt.Sprintf("<%s %s>", t.Kind, t.Name)
	case *ModuleValue:
		return fmt.Sprintf("<module '%s'>", t.Name)
	case *Builtin:
		return fmt.Sprintf("<built-in function %s>", t.Name)
	}
	return fmt.Sprintf("<%s>", typeName(v))
}

func quote(s string) string {
	q := "'"
	if strings.Contains(s, "'") && !strings.Contains(s, "\"") {
		q = "\""
	}
	var sb strings.Builder
	sb.WriteString(q)
	for _, r := range s {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case string(r) == q:
			sb.WriteString(`\` + q)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteString(q)
	return sb.String()
}

func length(v any) (int, bool) {
	switch t := v.(type) {
	case string:
		return utf8.RuneCountInString(t), true
	case []any:
		return len(t), true
	case *document.Map:
		return t.Len(), true
	}
	return 0, false
}

// iterate returns the items produced by iterating v: list elements, dict keys
// or string characters.
func iterate(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case *document.Map:
		keys := t.Keys()
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, true
	case string:
		out := make([]any, 0, len(t))
		for _, r := range t {
			out = append(out, string(r))
		}
		return out, true
	}
	return nil, false
}

func contains(container, item any) (bool, bool) {
	switch t := container.(type) {
	case []any:
		for _, v := range t {
			if equal(v, item) {
				return true, true
			}
		}
		return false, true
	case *document.Map:
		k, ok := document.KeyString(item)
		if !ok {
			return false, true
		}
		return t.Has(k), true
	case string:
		s, ok := item.(string)
		if !ok {
			return false, false
		}
		return strings.Contains(t, s), true
	}
	return false, false
}

func normalizeIndex(i int64, n int) (int, bool) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, false
	}
	return int(i), true
}

// sliceBounds computes Python slice indices for a sequence of length n.
func sliceBounds(lo, hi, step *int64, n int) (start, stop, stride int) {
	stride = 1
	if step != nil {
		stride = int(*step)
	}
	clamp := func(v int64, lower, upper int) int {
		if v < 0 {
			v += int64(n)
		}
		if v < int64(lower) {
			return lower
		}
		if v > int64(upper) {
			return upper
		}
		return int(v)
	}
	if stride > 0 {
		start, stop = 0, n
		if lo != nil {
			start = clamp(*lo, 0, n)
		}
		if hi != nil {
			stop = clamp(*hi, 0, n)
		}
		return start, stop, stride
	}
	start, stop = n-1, -1
	if lo != nil {
		start = clamp(*lo, -1, n-1)
	}
	if hi != nil {
		stop = clamp(*hi, -1, n-1)
	}
	return start, stop, stride
}

func sliceIndices(start, stop, stride int) []int {
	var out []int
	if stride > 0 {
		for i := start; i < stop; i += stride {
			out = append(out, i)
		}
		return out
	}
	for i := start; i > stop; i += stride {
		out = append(out, i)
	}
	return out
}
