package document

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// FromGo converts a decoded Go value (from JSON, YAML, HCL or a caller) into a
// document value. Plain maps are converted with their keys in lexical order.
func FromGo(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *Map:
		return t.Clone(), nil
	case bool, string, int64, float64:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return float64(t), nil
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return f, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			c, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		return FromGoMap(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			m[fmt.Sprint(k)] = item
		}
		return FromGoMap(m)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			c, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return FromGoMap(m)
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}

// FromGoMap converts a plain Go map into a Map with keys in lexical order.
func FromGoMap(m map[string]any) (*Map, error) {
	out := NewMap(len(m))
	for _, k := range SortedKeys(m) {
		c, err := FromGo(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out.Set(k, c)
	}
	return out, nil
}

// ParseScalar interprets a command-line value. Valid JSON is decoded, anything
// else is kept as a plain string.
func ParseScalar(raw string) any {
	var decoded any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err == nil && !dec.More() {
		if v, err := FromGo(decoded); err == nil {
			return v
		}
	}
	return raw
}

// TypeName returns the script-facing type name of a document value.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case []any:
		return "list"
	case *Map:
		return "dict"
	}
	if n, ok := v.(interface{ TypeName() string }); ok {
		return n.TypeName()
	}
	return fmt.Sprintf("%T", v)
}

// KeyString converts a mapping key to its string form, following JSON conventions
// for non-string scalars.
func KeyString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return FormatFloat(t), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case nil:
		return "null", true
	}
	return "", false
}
