package hooks

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/ringoldsdev/efemel/pkg/document"
)

// SourceExtension is the file extension of hook sources.
const SourceExtension = ".star"

// Loader registers hooks defined in Starlark files.
type Loader struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// NewLoader creates a loader reading from fs.
func NewLoader(fs afero.Fs, logger zerolog.Logger) *Loader {
	return &Loader{fs: fs, logger: logger.With().Str("component", "hooks").Logger()}
}

// Load registers the hooks found in paths. A directory contributes its
// *.star files in lexical order.
func (l *Loader) Load(p *Pipeline, paths ...string) error {
	for _, root := range paths {
		files, err := l.sources(root)
		if err != nil {
			return err
		}
		for _, file := range files {
			if err := l.LoadFile(p, file); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loader) sources(root string) ([]string, error) {
	info, err := l.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read hook source %s: %w", root, err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	entries, err := afero.ReadDir(l.fs, root)
	if err != nil {
		return nil, fmt.Errorf("failed to list hook directory %s: %w", root, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == SourceExtension {
			files = append(files, filepath.Join(root, entry.Name()))
		}
	}
	return files, nil
}

// LoadFile executes one hook source and registers its public functions under
// the point named by the file's stem, in definition order.
func (l *Loader) LoadFile(p *Pipeline, file string) error {
	src, err := afero.ReadFile(l.fs, file)
	if err != nil {
		return fmt.Errorf("failed to read hook source %s: %w", file, err)
	}
	point := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))

	globals, err := starlark.ExecFile(l.thread(file), file, src, predeclared())
	if err != nil {
		return fmt.Errorf("failed to load hooks from %s: %w", file, err)
	}
	globals.Freeze()

	var fns []*starlark.Function
	for name, v := range globals {
		fn, ok := v.(*starlark.Function)
		if !ok || document.IsPrivate(name) {
			continue
		}
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool {
		a, b := fns[i].Position(), fns[j].Position()
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Col < b.Col
	})

	for _, fn := range fns {
		before := strings.HasPrefix(fn.Name(), "before_")
		p.RegisterFrom(file, point, fn.Name(), l.wrap(file, fn), before)
	}
	l.logger.Debug().Str("source", file).Str("point", point).Int("hooks", len(fns)).Msg("loaded hooks")
	return nil
}

func (l *Loader) thread(file string) *starlark.Thread {
	return &starlark.Thread{
		Name: file,
		Print: func(_ *starlark.Thread, msg string) {
			l.logger.Info().Str("source", file).Msg(msg)
		},
	}
}

// wrap adapts a Starlark function taking a context dict. The function may
// edit the dict in place and return None, or return a replacement dict.
func (l *Loader) wrap(file string, fn *starlark.Function) Func {
	return func(hc *Context) error {
		arg, err := contextToStarlark(hc)
		if err != nil {
			return err
		}
		ret, err := starlark.Call(l.thread(file), fn, starlark.Tuple{arg}, nil)
		if err != nil {
			var evalErr *starlark.EvalError
			if errors.As(err, &evalErr) {
				return errors.New(evalErr.Backtrace())
			}
			return err
		}

		result := arg
		switch r := ret.(type) {
		case starlark.NoneType:
		case *starlark.Dict:
			result = r
		default:
			return fmt.Errorf("%s returned %s, want dict or None", fn.Name(), ret.Type())
		}
		return contextFromStarlark(result, hc)
	}
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   json.Module,
		"path": &starlarkstruct.Module{
			Name: "path",
			Members: starlark.StringDict{
				"join":     starlark.NewBuiltin("join", pathJoin),
				"dirname":  stringFunc("dirname", path.Dir),
				"basename": stringFunc("basename", path.Base),
				"ext":      stringFunc("ext", path.Ext),
				"stem": stringFunc("stem", func(p string) string {
					base := path.Base(p)
					return strings.TrimSuffix(base, path.Ext(base))
				}),
			},
		},
	}
}

func pathJoin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	parts := make([]string, len(args))
	for i, arg := range args {
		s, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d is %s, want string", b.Name(), i+1, arg.Type())
		}
		parts[i] = s
	}
	return starlark.String(path.Join(parts...)), nil
}

func stringFunc(name string, fn func(string) string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
			return nil, err
		}
		return starlark.String(fn(s)), nil
	})
}

func contextToStarlark(hc *Context) (*starlark.Dict, error) {
	data, err := toStarlarkValue(hc.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert data: %w", err)
	}
	fields, err := toStarlarkValue(hc.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to convert fields: %w", err)
	}

	d := starlark.NewDict(6)
	for _, kv := range []struct {
		key string
		val starlark.Value
	}{
		{"input_path", starlark.String(hc.InputPath)},
		{"output_path", starlark.String(hc.OutputPath)},
		{"output_dir", starlark.String(hc.OutputDir)},
		{"environment", starlark.String(hc.Environment)},
		{"data", data},
		{"fields", fields},
	} {
		if err := d.SetKey(starlark.String(kv.key), kv.val); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// contextFromStarlark copies the writable keys back into hc.
func contextFromStarlark(d *starlark.Dict, hc *Context) error {
	if v, ok, _ := d.Get(starlark.String("output_path")); ok {
		s, ok := starlark.AsString(v)
		if !ok {
			return fmt.Errorf("output_path is %s, want string", v.Type())
		}
		hc.OutputPath = s
	}

	if v, ok, _ := d.Get(starlark.String("data")); ok {
		data, err := fromStarlarkValue(v)
		if err != nil {
			return fmt.Errorf("failed to convert data: %w", err)
		}
		switch t := data.(type) {
		case nil:
			hc.Data = document.NewMap(0)
		case *document.Map:
			hc.Data = t
		default:
			return fmt.Errorf("data is %s, want dict", v.Type())
		}
	}

	if v, ok, _ := d.Get(starlark.String("fields")); ok {
		fields, err := fromStarlarkValue(v)
		if err != nil {
			return fmt.Errorf("failed to convert fields: %w", err)
		}
		switch t := fields.(type) {
		case nil:
			hc.Fields = nil
		case *document.Map:
			hc.Fields = make(map[string]any, t.Len())
			t.Range(func(k string, v any) bool {
				hc.Fields[k] = v
				return true
			})
		default:
			return fmt.Errorf("fields is %s, want dict", v.Type())
		}
	}
	return nil
}

// toStarlarkValue converts a document value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case *document.Map:
		if val == nil {
			return starlark.NewDict(0), nil
		}
		dict := starlark.NewDict(val.Len())
		var err error
		val.Range(func(k string, item any) bool {
			var sv starlark.Value
			if sv, err = toStarlarkValue(item); err != nil {
				return false
			}
			err = dict.SetKey(starlark.String(k), sv)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		return dict, nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for _, k := range document.SortedKeys(val) {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a document value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = gv
		}
		return list, nil
	case *starlark.Dict:
		m := document.NewMap(val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			m.Set(string(key), value)
		}
		return m, nil
	case *starlarkstruct.Struct:
		m := document.NewMap(len(val.AttrNames()))
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			m.Set(name, value)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
