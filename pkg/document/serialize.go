package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Serializer turns a document into bytes.
type Serializer interface {
	// Name identifies the format ("json", "yaml").
	Name() string
	// Extension is the output file suffix including the dot.
	Extension() string
	// Serialize renders doc. Output is deterministic for a given document.
	Serialize(doc *Map) ([]byte, error)
}

// SerializerFor returns the serializer registered for format.
func SerializerFor(format string) (Serializer, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return JSONSerializer{Indent: 2}, nil
	case "yaml", "yml":
		return YAMLSerializer{Indent: 2}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// JSONSerializer writes indented JSON with keys in document order.
type JSONSerializer struct {
	Indent int
}

// Name implements Serializer.
func (JSONSerializer) Name() string { return "json" }

// Extension implements Serializer.
func (JSONSerializer) Extension() string { return ".json" }

// Serialize implements Serializer. An empty document renders as {}.
func (s JSONSerializer) Serialize(doc *Map) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.encode(&buf, doc, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (s JSONSerializer) encode(buf *bytes.Buffer, v any, depth int) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("cannot encode %v as JSON", t)
		}
		buf.WriteString(FormatFloat(t))
	case string:
		encodeString(buf, t)
	case []any:
		if len(t) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				s.separator(buf)
			}
			s.newline(buf, depth+1)
			if err := s.encode(buf, item, depth+1); err != nil {
				return err
			}
		}
		s.newline(buf, depth)
		buf.WriteByte(']')
	case *Map:
		if t.Len() == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteByte('{')
		var err error
		i := 0
		t.Range(func(k string, item any) bool {
			if i > 0 {
				s.separator(buf)
			}
			i++
			s.newline(buf, depth+1)
			encodeString(buf, k)
			buf.WriteString(": ")
			if err = s.encode(buf, item, depth+1); err != nil {
				err = fmt.Errorf("%s: %w", k, err)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		s.newline(buf, depth)
		buf.WriteByte('}')
	default:
		return fmt.Errorf("cannot encode value of type %s as JSON", TypeName(v))
	}
	return nil
}

func (s JSONSerializer) separator(buf *bytes.Buffer) {
	buf.WriteByte(',')
	if s.Indent <= 0 {
		buf.WriteByte(' ')
	}
}

func (s JSONSerializer) newline(buf *bytes.Buffer, depth int) {
	if s.Indent <= 0 {
		return
	}
	buf.WriteByte('\n')
	buf.WriteString(strings.Repeat(" ", s.Indent*depth))
}

func encodeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encoder appends a newline.
	buf.Truncate(buf.Len() - 1)
}

// FormatFloat renders a float the way script authors expect to read it back:
// integral values keep a trailing ".0" and very large or small magnitudes use
// exponent notation.
func FormatFloat(f float64) string {
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// YAMLSerializer writes block-style YAML with keys in document order.
type YAMLSerializer struct {
	Indent int
}

// Name implements Serializer.
func (YAMLSerializer) Name() string { return "yaml" }

// Extension implements Serializer.
func (YAMLSerializer) Extension() string { return ".yaml" }

// Serialize implements Serializer.
func (s YAMLSerializer) Serialize(doc *Map) ([]byte, error) {
	node, err := toNode(doc)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(s.Indent)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalYAML lets a Map be embedded in values encoded by yaml.v3.
func (m *Map) MarshalYAML() (interface{}, error) {
	return toNode(m)
}

// MarshalJSON lets a Map be embedded in values encoded by encoding/json.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := (JSONSerializer{}).encode(&buf, m, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toNode(v any) (*yaml.Node, error) {
	switch t := v.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(t)}, nil
	case int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(t, 10)}, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("cannot encode %v as YAML", t)
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: FormatFloat(t)}, nil
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: t}, nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		if len(t) == 0 {
			n.Style = yaml.FlowStyle
		}
		for _, item := range t {
			c, err := toNode(item)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, c)
		}
		return n, nil
	case *Map:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if t.Len() == 0 {
			n.Style = yaml.FlowStyle
		}
		var err error
		t.Range(func(k string, item any) bool {
			var c *yaml.Node
			if c, err = toNode(item); err != nil {
				err = fmt.Errorf("%s: %w", k, err)
				return false
			}
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, c)
			return true
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot encode value of type %s as YAML", TypeName(v))
}
