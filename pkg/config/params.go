package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/mitchellh/copystructure"
	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/ringoldsdev/efemel/pkg/document"
)

// Evaluator evaluates a script params file. *modules.Engine implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, path, env string, params *document.Map) (*document.Map, error)
}

// Params accumulates run parameters. Later values replace earlier ones.
type Params struct {
	values          *document.Map
	scriptExtension string
}

// NewParams creates an empty parameter set. Params files ending in
// scriptExtension are evaluated as scripts; it defaults to ".py".
func NewParams(scriptExtension string) *Params {
	if scriptExtension == "" {
		scriptExtension = ".py"
	}
	return &Params{values: document.NewMap(0), scriptExtension: scriptExtension}
}

// Map returns the accumulated parameters.
func (p *Params) Map() *document.Map {
	return p.values
}

// Set converts v to a document value and stores it under name.
func (p *Params) Set(name string, v any) error {
	if name == "" {
		return fmt.Errorf("parameter name must not be empty")
	}
	converted, err := document.FromGo(v)
	if err != nil {
		return fmt.Errorf("parameter %s: %w", name, err)
	}
	p.values.Set(name, converted)
	return nil
}

// Merge stores every entry of m. The caller's map is deep-copied first so
// later changes to it do not leak into the run.
func (p *Params) Merge(m map[string]any) error {
	if len(m) == 0 {
		return nil
	}
	copied, err := copystructure.Copy(m)
	if err != nil {
		return fmt.Errorf("failed to copy parameters: %w", err)
	}
	converted, err := document.FromGoMap(copied.(map[string]any))
	if err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	p.values.Update(converted)
	return nil
}

// ParseFlags applies name=value flags. Values that are valid JSON are decoded,
// anything else is kept as a string.
func (p *Params) ParseFlags(flags []string) error {
	for _, flag := range flags {
		name, raw, ok := strings.Cut(flag, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid parameter %q: expected name=value", flag)
		}
		p.values.Set(name, document.ParseScalar(raw))
	}
	return nil
}

// LoadFile applies the parameters defined in path. Scripts are evaluated
// with evaluator without an environment; their public bindings become
// parameters.
func (p *Params) LoadFile(ctx context.Context, fs afero.Fs, path string, evaluator Evaluator) error {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		values *document.Map
		err    error
	)
	switch ext {
	case p.scriptExtension:
		if evaluator == nil {
			return fmt.Errorf("params file %s: no script evaluator configured", path)
		}
		values, err = evaluator.Evaluate(ctx, path, "", nil)
		if err == nil {
			values = values.Clone()
		}
	case ".json", ".yaml", ".yml", ".hcl":
		var data []byte
		data, err = afero.ReadFile(fs, path)
		if err != nil {
			return fmt.Errorf("failed to read params file %s: %w", path, err)
		}
		switch ext {
		case ".json":
			values, err = parseJSONParams(data)
		case ".hcl":
			values, err = parseHCLParams(data, path)
		default:
			values, err = parseYAMLParams(data)
		}
	default:
		return fmt.Errorf("params file %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("params file %s: %w", path, err)
	}

	p.values.Update(values)
	return nil
}

func parseJSONParams(data []byte) (*document.Map, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return document.FromGoMap(raw)
}

func parseYAMLParams(data []byte) (*document.Map, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML mapping: %w", err)
	}
	return document.FromGoMap(raw)
}

// parseHCLParams reads top-level attributes in file order. Blocks are not
// allowed and expressions may not reference variables or functions.
func parseHCLParams(data []byte, filename string) (*document.Map, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		ordered = append(ordered, attr)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Start.Byte < ordered[j].Range.Start.Byte
	})

	out := document.NewMap(len(ordered))
	for _, attr := range ordered {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		converted, err := ctyToDocument(val)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", attr.Name, err)
		}
		out.Set(attr.Name, converted)
	}
	return out, nil
}

// ctyToDocument converts a cty value into a document value. Whole numbers
// that fit become int64.
func ctyToDocument(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0)
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			converted, err := ctyToDocument(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := document.NewMap(0)
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			converted, err := ctyToDocument(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute '%s': %w", key.AsString(), err)
			}
			out.Set(key.AsString(), converted)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}
