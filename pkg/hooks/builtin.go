package hooks

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Builtin is a hook compiled into the binary.
type Builtin struct {
	Point string
	Fn    Func
}

// Builtins returns the compiled-in hooks keyed by name.
func Builtins() map[string]Builtin {
	return map[string]Builtin{
		"flatten_output_path": {Point: OutputFilename, Fn: FlattenOutputPath},
	}
}

// RegisterBuiltin registers the compiled-in hook called name.
func (p *Pipeline) RegisterBuiltin(name string) error {
	b, ok := Builtins()[name]
	if !ok {
		return fmt.Errorf("unknown builtin hook %q", name)
	}
	p.RegisterFrom("builtin", b.Point, name, b.Fn, false)
	return nil
}

// FlattenOutputPath places the output file at the output root, joining its
// directories into the file name: a/b/c.json becomes a_b_c.json.
func FlattenOutputPath(hc *Context) error {
	p := strings.Trim(path.Clean(filepath.ToSlash(hc.OutputPath)), "/")
	hc.OutputPath = strings.ReplaceAll(p, "/", "_")
	return nil
}
