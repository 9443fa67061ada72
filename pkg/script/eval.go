package script

import (
	"fmt"
	"math"
	"strings"

	"github.com/ringoldsdev/efemel/pkg/document"
)

// Importer supplies the modules referenced by import statements.
type Importer interface {
	Import(ref ModuleRef) (*Module, error)
}

// ImporterFunc adapts a function to the Importer interface.
type ImporterFunc func(ref ModuleRef) (*Module, error)

// Import implements Importer.
func (f ImporterFunc) Import(ref ModuleRef) (*Module, error) { return f(ref) }

// Options configures an evaluation.
type Options struct {
	// Params are pre-bound, read-only names. A same-name assignment in the
	// script shadows a parameter from that point on.
	Params *document.Map

	// Importer resolves import statements. Scripts that import fail when nil.
	Importer Importer
}

// Skipped records a statement that was parsed but not evaluated.
type Skipped struct {
	Line    int
	Keyword string
}

// Result is the outcome of evaluating a script.
type Result struct {
	// Bindings holds every name the script bound, in binding order. Injected
	// parameters appear only when the script rebinds them.
	Bindings *document.Map
	Skipped  []Skipped
}

// Evaluate parses and executes src.
func Evaluate(path, src string, opts Options) (*Result, error) {
	prog, err := Parse(path, src)
	if err != nil {
		return nil, err
	}
	return Exec(prog, opts)
}

// Exec executes a parsed program. Execution has no side effects beyond calls to
// the Importer, so identical inputs produce identical bindings.
func Exec(prog *Program, opts Options) (*Result, error) {
	in := &interp{
		path:     prog.Path,
		params:   opts.Params,
		bindings: document.NewMap(len(prog.Statements)),
		importer: opts.Importer,
	}
	if in.params == nil {
		in.params = document.NewMap(0)
	}

	res := &Result{Bindings: in.bindings}
	for _, stmt := range prog.Statements {
		if s, ok := stmt.(*SkippedStmt); ok {
			res.Skipped = append(res.Skipped, Skipped{Line: s.At.Line, Keyword: s.Keyword})
			continue
		}
		if err := in.exec(stmt); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type interp struct {
	path     string
	params   *document.Map
	bindings *document.Map
	importer Importer
	scopes   []map[string]any
}

func (in *interp) typeErr(at Position, format string, args ...any) error {
	return &TypeError{Path: in.path, Line: at.Line, Msg: fmt.Sprintf(format, args...)}
}

func (in *interp) valueErr(at Position, format string, args ...any) error {
	return &ValueError{Path: in.path, Line: at.Line, Msg: fmt.Sprintf(format, args...)}
}

func (in *interp) lookup(at Position, name string) (any, error) {
	for i := len(in.scopes) - 1; i >= 0; i-- {
		if v, ok := in.scopes[i][name]; ok {
			return v, nil
		}
	}
	if v, ok := in.bindings.Get(name); ok {
		return v, nil
	}
	if v, ok := in.params.Get(name); ok {
		return v, nil
	}
	if name == "params" {
		return in.params, nil
	}
	if b, ok := builtins[name]; ok {
		return b, nil
	}
	return nil, &NameError{Path: in.path, Line: at.Line, Name: name}
}

func (in *interp) exec(stmt Stmt) error {
	switch s := stmt.(type) {
	case *AssignStmt:
		v, err := in.eval(s.Value)
		if err != nil {
			return err
		}
		for _, target := range s.Targets {
			if err := in.assign(target, v); err != nil {
				return err
			}
		}
	case *AugAssignStmt:
		cur, err := in.eval(s.Target)
		if err != nil {
			return err
		}
		rhs, err := in.eval(s.Value)
		if err != nil {
			return err
		}
		v, err := in.binary(s.At, s.Op, cur, rhs)
		if err != nil {
			return err
		}
		return in.assign(s.Target, v)
	case *ImportFromStmt:
		return in.importFrom(s)
	case *ImportStmt:
		return in.importModules(s)
	case *DefStmt:
		in.bindings.Set(s.Name, &Function{Name: s.Name, Kind: s.Kind})
	default:
		return in.typeErr(stmt.Pos(), "unsupported statement %T", stmt)
	}
	return nil
}

func (in *interp) assign(target Expr, v any) error {
	switch t := target.(type) {
	case *Name:
		in.bindings.Set(t.ID, v)
		return nil
	case *ListExpr:
		items, ok := v.([]any)
		if !ok {
			return in.typeErr(t.At, "cannot unpack non-sequence %s", typeName(v))
		}
		if len(items) != len(t.Elems) {
			return in.valueErr(t.At, "expected %d values to unpack, got %d", len(t.Elems), len(items))
		}
		for i, elem := range t.Elems {
			in.bindings.Set(elem.(*Name).ID, items[i])
		}
		return nil
	case *IndexExpr:
		var keys []Expr
		var root Expr = t
		for {
			ix, ok := root.(*IndexExpr)
			if !ok {
				break
			}
			keys = append([]Expr{ix.Index}, keys...)
			root = ix.X
		}
		name := root.(*Name)
		cur, err := in.lookup(name.At, name.ID)
		if err != nil {
			return err
		}
		keyVals := make([]any, len(keys))
		for i, k := range keys {
			if keyVals[i], err = in.eval(k); err != nil {
				return err
			}
		}
		updated, err := in.setIn(t.At, cur, keyVals, v)
		if err != nil {
			return err
		}
		in.bindings.Set(name.ID, updated)
		return nil
	}
	return in.typeErr(target.Pos(), "cannot assign to %T", target)
}

// setIn returns a copy of container with the value at the key path replaced.
// Values are never modified in place.
func (in *interp) setIn(at Position, container any, keys []any, v any) (any, error) {
	switch c := container.(type) {
	case *document.Map:
		k, ok := document.KeyString(keys[0])
		if !ok {
			return nil, in.typeErr(at, "unhashable type: '%s'", typeName(keys[0]))
		}
		out := c.Copy()
		if len(keys) == 1 {
			out.Set(k, v)
			return out, nil
		}
		child, ok := c.Get(k)
		if !ok {
			return nil, in.valueErr(at, "KeyError: %s", quote(k))
		}
		nested, err := in.setIn(at, child, keys[1:], v)
		if err != nil {
			return nil, err
		}
		out.Set(k, nested)
		return out, nil
	case []any:
		i, ok := toInt(keys[0])
		if !ok {
			return nil, in.typeErr(at, "list indices must be integers, not %s", typeName(keys[0]))
		}
		idx, ok := normalizeIndex(i, len(c))
		if !ok {
			return nil, in.valueErr(at, "IndexError: list assignment index out of range")
		}
		out := make([]any, len(c))
		copy(out, c)
		if len(keys) == 1 {
			out[idx] = v
			return out, nil
		}
		nested, err := in.setIn(at, c[idx], keys[1:], v)
		if err != nil {
			return nil, err
		}
		out[idx] = nested
		return out, nil
	}
	return nil, in.typeErr(at, "'%s' object does not support item assignment", typeName(container))
}

func (in *interp) importModule(at Position, ref ModuleRef) (*Module, error) {
	if in.importer == nil {
		return nil, &importFailure{Path: in.path, Line: at.Line, Module: ref.String(),
			Err: fmt.Errorf("imports are not available")}
	}
	mod, err := in.importer.Import(ref)
	if err != nil {
		return nil, &importFailure{Path: in.path, Line: at.Line, Module: ref.String(), Err: err}
	}
	return mod, nil
}

func (in *interp) importFrom(s *ImportFromStmt) error {
	if len(s.Module.Parts) == 0 {
		// "from . import name" imports sibling modules.
		for _, n := range s.Names {
			ref := ModuleRef{Dots: s.Module.Dots, Parts: []string{n.Name}}
			mod, err := in.importModule(s.At, ref)
			if err != nil {
				return err
			}
			in.bindings.Set(aliasOr(n), &ModuleValue{Name: ref.String(), Module: mod})
		}
		return nil
	}

	mod, err := in.importModule(s.At, s.Module)
	if err != nil {
		return err
	}
	if s.Star {
		mod.Bindings.Range(func(k string, v any) bool {
			if !document.IsPrivate(k) {
				in.bindings.Set(k, v)
			}
			return true
		})
		return nil
	}
	for _, n := range s.Names {
		v, ok := mod.Bindings.Get(n.Name)
		if !ok {
			return &ImportError{Path: in.path, Line: s.At.Line, Module: s.Module.String(), Name: n.Name}
		}
		in.bindings.Set(aliasOr(n), v)
	}
	return nil
}

func aliasOr(n ImportName) string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Name
}

func (in *interp) importModules(s *ImportStmt) error {
	for _, m := range s.Modules {
		mod, err := in.importModule(s.At, m.Ref)
		if err != nil {
			return err
		}
		if m.Alias != "" {
			in.bindings.Set(m.Alias, &ModuleValue{Name: m.Ref.String(), Module: mod})
			continue
		}
		if len(m.Ref.Parts) == 1 {
			in.bindings.Set(m.Ref.Parts[0], &ModuleValue{Name: m.Ref.String(), Module: mod})
			continue
		}

		// "import a.b" binds a with b reachable as an attribute. Module values
		// may be shared with other modules' bindings, so the path is copied.
		rootName := m.Ref.Parts[0]
		root := &ModuleValue{Name: rootName, Children: make(map[string]*ModuleValue)}
		if existing, ok := in.bindings.Get(rootName); ok {
			if mv, ok := existing.(*ModuleValue); ok {
				root = mv.clone()
			}
		}
		node := root
		for i, part := range m.Ref.Parts[1:] {
			var child *ModuleValue
			if c, ok := node.Children[part]; ok {
				child = c.clone()
			} else {
				child = &ModuleValue{Name: strings.Join(m.Ref.Parts[:i+2], "."), Children: make(map[string]*ModuleValue)}
			}
			node.Children[part] = child
			node = child
		}
		node.Module = mod
		in.bindings.Set(rootName, root)
	}
	return nil
}

func (in *interp) eval(e Expr) (any, error) {
	switch x := e.(type) {
	case *Literal:
		return x.Value, nil
	case *Name:
		return in.lookup(x.At, x.ID)
	case *FString:
		return in.fstring(x)
	case *ListExpr:
		return in.list(x.Elems)
	case *DictExpr:
		return in.dict(x)
	case *Starred:
		return nil, in.typeErr(x.At, "can't use starred expression here")
	case *UnaryExpr:
		return in.unary(x)
	case *BinaryExpr:
		l, err := in.eval(x.X)
		if err != nil {
			return nil, err
		}
		r, err := in.eval(x.Y)
		if err != nil {
			return nil, err
		}
		return in.binary(x.At, x.Op, l, r)
	case *BoolExpr:
		l, err := in.eval(x.X)
		if err != nil {
			return nil, err
		}
		if (x.Op == "and") != truth(l) {
			return l, nil
		}
		return in.eval(x.Y)
	case *CompareExpr:
		return in.compareChain(x)
	case *CondExpr:
		c, err := in.eval(x.Cond)
		if err != nil {
			return nil, err
		}
		if truth(c) {
			return in.eval(x.Then)
		}
		return in.eval(x.Else)
	case *AttrExpr:
		v, err := in.eval(x.X)
		if err != nil {
			return nil, err
		}
		return in.attr(x.At, v, x.Name)
	case *IndexExpr:
		v, err := in.eval(x.X)
		if err != nil {
			return nil, err
		}
		k, err := in.eval(x.Index)
		if err != nil {
			return nil, err
		}
		return in.index(x.At, v, k)
	case *SliceExpr:
		return in.slice(x)
	case *CallExpr:
		return in.call(x)
	case *Comprehension:
		return in.comprehension(x)
	case *LambdaExpr:
		return &Function{Name: "<lambda>", Kind: "function"}, nil
	case *FormatPart:
		v, err := in.eval(x.X)
		if err != nil {
			return nil, err
		}
		s, err := in.formatField(x.At, v, x.Conv, x.Spec)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, in.typeErr(e.Pos(), "unsupported expression %T", e)
}

func (in *interp) fstring(x *FString) (any, error) {
	var sb strings.Builder
	for _, part := range x.Parts {
		v, err := in.eval(part)
		if err != nil {
			return nil, err
		}
		sb.WriteString(str(v))
	}
	return sb.String(), nil
}

func (in *interp) formatField(at Position, v any, conv byte, spec string) (string, error) {
	switch conv {
	case 'r', 'a':
		v = repr(v)
	case 's':
		v = str(v)
	}
	out, err := formatSpec(v, spec)
	if err != nil {
		return "", in.valueErr(at, "%v", err)
	}
	return out, nil
}

func (in *interp) list(elems []Expr) (any, error) {
	out := make([]any, 0, len(elems))
	for _, elem := range elems {
		if s, ok := elem.(*Starred); ok {
			v, err := in.eval(s.X)
			if err != nil {
				return nil, err
			}
			items, ok := iterate(v)
			if !ok {
				return nil, in.typeErr(s.At, "'%s' object is not iterable", typeName(v))
			}
			out = append(out, items...)
			continue
		}
		v, err := in.eval(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (in *interp) dict(x *DictExpr) (any, error) {
	out := document.NewMap(len(x.Items))
	for _, item := range x.Items {
		if item.Key == nil {
			v, err := in.eval(item.Value)
			if err != nil {
				return nil, err
			}
			m, ok := v.(*document.Map)
			if !ok {
				return nil, in.typeErr(item.Value.Pos(), "'%s' object is not a mapping", typeName(v))
			}
			out.Update(m)
			continue
		}
		k, err := in.eval(item.Key)
		if err != nil {
			return nil, err
		}
		ks, ok := document.KeyString(k)
		if !ok {
			return nil, in.typeErr(item.Key.Pos(), "unhashable type: '%s'", typeName(k))
		}
		v, err := in.eval(item.Value)
		if err != nil {
			return nil, err
		}
		out.Set(ks, v)
	}
	return out, nil
}

func (in *interp) unary(x *UnaryExpr) (any, error) {
	v, err := in.eval(x.X)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "not":
		return !truth(v), nil
	case "-":
		if i, ok := toInt(v); ok {
			if i == math.MinInt64 {
				return nil, in.overflow(x.At)
			}
			return -i, nil
		}
		if f, ok := v.(float64); ok {
			return -f, nil
		}
	case "+":
		if i, ok := toInt(v); ok {
			return i, nil
		}
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case "~":
		if i, ok := toInt(v); ok {
			return ^i, nil
		}
	}
	return nil, in.typeErr(x.At, "bad operand type for unary %s: '%s'", x.Op, typeName(v))
}

func bothInts(x, y any) (int64, int64, bool) {
	if _, ok := x.(float64); ok {
		return 0, 0, false
	}
	if _, ok := y.(float64); ok {
		return 0, 0, false
	}
	a, ok1 := toInt(x)
	b, ok2 := toInt(y)
	return a, b, ok1 && ok2
}

const maxRepeat = 1 << 20

func (in *interp) binary(at Position, op string, x, y any) (any, error) {
	a, b, ints := bothInts(x, y)
	fa, okA := toFloat(x)
	fb, okB := toFloat(y)
	nums := okA && okB

	switch op {
	case "+":
		switch {
		case ints:
			c := a + b
			if (a^c)&(b^c) < 0 {
				return nil, in.overflow(at)
			}
			return c, nil
		case nums:
			return fa + fb, nil
		}
		switch l := x.(type) {
		case string:
			if r, ok := y.(string); ok {
				return l + r, nil
			}
		case []any:
			if r, ok := y.([]any); ok {
				out := make([]any, 0, len(l)+len(r))
				return append(append(out, l...), r...), nil
			}
		}
	case "-":
		switch {
		case ints:
			c := a - b
			if (a^b)&(a^c) < 0 {
				return nil, in.overflow(at)
			}
			return c, nil
		case nums:
			return fa - fb, nil
		}
	case "*":
		switch {
		case ints:
			c, ok := mulInt(a, b)
			if !ok {
				return nil, in.overflow(at)
			}
			return c, nil
		case nums:
			return fa * fb, nil
		}
		if s, n, ok := seqTimes(x, y); ok {
			return in.repeat(at, s, n)
		}
		if s, n, ok := seqTimes(y, x); ok {
			return in.repeat(at, s, n)
		}
	case "/":
		if nums {
			if fb == 0 {
				return nil, in.valueErr(at, "ZeroDivisionError: division by zero")
			}
			return fa / fb, nil
		}
	case "//":
		if ints {
			if b == 0 {
				return nil, in.valueErr(at, "ZeroDivisionError: integer division or modulo by zero")
			}
			if a == math.MinInt64 && b == -1 {
				return nil, in.overflow(at)
			}
			q := a / b
			if (a%b != 0) && ((a < 0) != (b < 0)) {
				q--
			}
			return q, nil
		}
		if nums {
			if fb == 0 {
				return nil, in.valueErr(at, "ZeroDivisionError: float floor division by zero")
			}
			return math.Floor(fa / fb), nil
		}
	case "%":
		if ints {
			if b == 0 {
				return nil, in.valueErr(at, "ZeroDivisionError: integer division or modulo by zero")
			}
			m := a % b
			if m != 0 && ((m < 0) != (b < 0)) {
				m += b
			}
			return m, nil
		}
		if nums {
			if fb == 0 {
				return nil, in.valueErr(at, "ZeroDivisionError: float modulo")
			}
			m := math.Mod(fa, fb)
			if m != 0 && ((m < 0) != (fb < 0)) {
				m += fb
			}
			return m, nil
		}
	case "**":
		if ints && b >= 0 {
			result, base := int64(1), a
			for e := b; e > 0; e >>= 1 {
				var ok bool
				if e&1 == 1 {
					if result, ok = mulInt(result, base); !ok {
						return nil, in.overflow(at)
					}
				}
				if e > 1 {
					if base, ok = mulInt(base, base); !ok {
						return nil, in.overflow(at)
					}
				}
			}
			return result, nil
		}
		if nums {
			return math.Pow(fa, fb), nil
		}
	case "|":
		if l, ok := x.(*document.Map); ok {
			if r, ok := y.(*document.Map); ok {
				out := l.Copy()
				out.Update(r)
				return out, nil
			}
		}
		if ints {
			return a | b, nil
		}
	case "&":
		if ints {
			return a & b, nil
		}
	case "^":
		if ints {
			return a ^ b, nil
		}
	case "<<":
		if ints && b >= 0 {
			if a == 0 {
				return int64(0), nil
			}
			if b >= 63 || (a<<uint(b))>>uint(b) != a {
				return nil, in.overflow(at)
			}
			return a << uint(b), nil
		}
	case ">>":
		if ints && b >= 0 {
			if b >= 64 {
				b = 63
			}
			return a >> uint(b), nil
		}
	}
	return nil, in.typeErr(at, "unsupported operand type(s) for %s: '%s' and '%s'", op, typeName(x), typeName(y))
}

// mulInt multiplies and reports whether the product fits in an int64.
func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	c := a * b
	return c, c/b == a
}

func (in *interp) overflow(at Position) error {
	return in.valueErr(at, "OverflowError: integer result too large")
}

func seqTimes(seq, n any) (any, int64, bool) {
	switch seq.(type) {
	case string, []any:
	default:
		return nil, 0, false
	}
	if _, ok := n.(float64); ok {
		return nil, 0, false
	}
	count, ok := toInt(n)
	return seq, count, ok
}

func (in *interp) repeat(at Position, seq any, n int64) (any, error) {
	if n < 0 {
		n = 0
	}
	switch s := seq.(type) {
	case string:
		if n > maxRepeat || int64(len(s))*n > maxRepeat {
			return nil, in.valueErr(at, "repetition result too large")
		}
		return strings.Repeat(s, int(n)), nil
	case []any:
		if n > maxRepeat || int64(len(s))*n > maxRepeat {
			return nil, in.valueErr(at, "repetition result too large")
		}
		out := make([]any, 0, len(s)*int(n))
		for i := int64(0); i < n; i++ {
			out = append(out, s...)
		}
		return out, nil
	}
	return nil, in.typeErr(at, "can't multiply sequence of type '%s'", typeName(seq))
}

func (in *interp) compareChain(x *CompareExpr) (any, error) {
	left, err := in.eval(x.Operands[0])
	if err != nil {
		return nil, err
	}
	for i, op := range x.Ops {
		right, err := in.eval(x.Operands[i+1])
		if err != nil {
			return nil, err
		}
		ok, err := in.compareOp(x.At, op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func (in *interp) compareOp(at Position, op string, a, b any) (bool, error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	case "is":
		return identical(a, b), nil
	case "is not":
		return !identical(a, b), nil
	case "in", "not in":
		found, ok := contains(b, a)
		if !ok {
			return false, in.typeErr(at, "argument of type '%s' is not iterable", typeName(b))
		}
		return found == (op == "in"), nil
	}
	c, ok := compare(a, b)
	if !ok {
		return false, in.typeErr(at, "'%s' not supported between instances of '%s' and '%s'", op, typeName(a), typeName(b))
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, in.typeErr(at, "unknown comparison %s", op)
}

func identical(a, b any) bool {
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		return ok && len(x) == len(y) && (len(x) == 0 || &x[0] == &y[0])
	case nil, bool, int64, float64, string, *document.Map, *Function, *ModuleValue, *Builtin:
		return a == b
	}
	return false
}

func (in *interp) attr(at Position, v any, name string) (any, error) {
	if mv, ok := v.(*ModuleValue); ok {
		if a, ok := mv.attr(name); ok {
			return a, nil
		}
		return nil, &AttributeError{Path: in.path, Line: at.Line, Type: "module", Name: name}
	}
	if m, ok := lookupMethod(v, name); ok {
		return &Builtin{Name: name, Fn: func(c *call) (any, error) { return m(c, v) }}, nil
	}
	return nil, &AttributeError{Path: in.path, Line: at.Line, Type: typeName(v), Name: name}
}

func (in *interp) index(at Position, v, k any) (any, error) {
	switch c := v.(type) {
	case *document.Map:
		ks, ok := document.KeyString(k)
		if !ok {
			return nil, in.typeErr(at, "unhashable type: '%s'", typeName(k))
		}
		item, ok := c.Get(ks)
		if !ok {
			return nil, in.valueErr(at, "KeyError: %s", quote(ks))
		}
		return item, nil
	case []any:
		i, ok := toInt(k)
		if !ok {
			return nil, in.typeErr(at, "list indices must be integers, not %s", typeName(k))
		}
		idx, ok := normalizeIndex(i, len(c))
		if !ok {
			return nil, in.valueErr(at, "IndexError: list index out of range")
		}
		return c[idx], nil
	case string:
		i, ok := toInt(k)
		if !ok {
			return nil, in.typeErr(at, "string indices must be integers, not %s", typeName(k))
		}
		runes := []rune(c)
		idx, ok := normalizeIndex(i, len(runes))
		if !ok {
			return nil, in.valueErr(at, "IndexError: string index out of range")
		}
		return string(runes[idx]), nil
	}
	return nil, in.typeErr(at, "'%s' object is not subscriptable", typeName(v))
}

func (in *interp) optionalInt(e Expr) (*int64, error) {
	if e == nil {
		return nil, nil
	}
	v, err := in.eval(e)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	i, ok := toInt(v)
	if !ok {
		return nil, in.typeErr(e.Pos(), "slice indices must be integers or None, not %s", typeName(v))
	}
	return &i, nil
}

func (in *interp) slice(x *SliceExpr) (any, error) {
	v, err := in.eval(x.X)
	if err != nil {
		return nil, err
	}
	lo, err := in.optionalInt(x.Lo)
	if err != nil {
		return nil, err
	}
	hi, err := in.optionalInt(x.Hi)
	if err != nil {
		return nil, err
	}
	step, err := in.optionalInt(x.Step)
	if err != nil {
		return nil, err
	}
	if step != nil && *step == 0 {
		return nil, in.valueErr(x.At, "slice step cannot be zero")
	}

	switch s := v.(type) {
	case []any:
		start, stop, stride := sliceBounds(lo, hi, step, len(s))
		out := []any{}
		for _, i := range sliceIndices(start, stop, stride) {
			out = append(out, s[i])
		}
		return out, nil
	case string:
		runes := []rune(s)
		start, stop, stride := sliceBounds(lo, hi, step, len(runes))
		var sb strings.Builder
		for _, i := range sliceIndices(start, stop, stride) {
			sb.WriteRune(runes[i])
		}
		return sb.String(), nil
	}
	return nil, in.typeErr(x.At, "'%s' object is not subscriptable", typeName(v))
}

func (in *interp) call(x *CallExpr) (any, error) {
	fn, err := in.eval(x.Fn)
	if err != nil {
		return nil, err
	}
	args, err := in.list(x.Args)
	if err != nil {
		return nil, err
	}
	kwargs := document.NewMap(len(x.Kwargs))
	for _, kw := range x.Kwargs {
		v, err := in.eval(kw.Value)
		if err != nil {
			return nil, err
		}
		if kw.Name != "" {
			kwargs.Set(kw.Name, v)
			continue
		}
		m, ok := v.(*document.Map)
		if !ok {
			return nil, in.typeErr(kw.Value.Pos(), "argument after ** must be a mapping, not %s", typeName(v))
		}
		kwargs.Update(m)
	}

	switch f := fn.(type) {
	case *Builtin:
		return f.Fn(&call{in: in, at: x.At, name: f.Name, args: args.([]any), kwargs: kwargs})
	case *Function:
		return nil, in.typeErr(x.At, "%s '%s' cannot be called: function bodies are not evaluated", f.Kind, f.Name)
	}
	return nil, in.typeErr(x.At, "'%s' object is not callable", typeName(fn))
}

func (in *interp) comprehension(x *Comprehension) (any, error) {
	var list []any
	var dict *document.Map
	if x.Dict {
		dict = document.NewMap(0)
	} else {
		list = []any{}
	}

	scope := map[string]any{}
	in.scopes = append(in.scopes, scope)
	defer func() { in.scopes = in.scopes[:len(in.scopes)-1] }()

	var loop func(i int) error
	loop = func(i int) error {
		if i == len(x.Clauses) {
			if x.Dict {
				k, err := in.eval(x.Key)
				if err != nil {
					return err
				}
				ks, ok := document.KeyString(k)
				if !ok {
					return in.typeErr(x.Key.Pos(), "unhashable type: '%s'", typeName(k))
				}
				v, err := in.eval(x.Value)
				if err != nil {
					return err
				}
				dict.Set(ks, v)
				return nil
			}
			v, err := in.eval(x.Value)
			if err != nil {
				return err
			}
			list = append(list, v)
			return nil
		}

		clause := x.Clauses[i]
		iter, err := in.eval(clause.Iter)
		if err != nil {
			return err
		}
		items, ok := iterate(iter)
		if !ok {
			return in.typeErr(clause.Iter.Pos(), "'%s' object is not iterable", typeName(iter))
		}
	items:
		for _, item := range items {
			if len(clause.Targets) == 1 {
				scope[clause.Targets[0]] = item
			} else {
				parts, ok := item.([]any)
				if !ok || len(parts) != len(clause.Targets) {
					return in.valueErr(clause.Iter.Pos(), "cannot unpack %s into %d names", typeName(item), len(clause.Targets))
				}
				for j, name := range clause.Targets {
					scope[name] = parts[j]
				}
			}
			for _, cond := range clause.Ifs {
				c, err := in.eval(cond)
				if err != nil {
					return err
				}
				if !truth(c) {
					continue items
				}
			}
			if err := loop(i + 1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := loop(0); err != nil {
		return nil, err
	}
	if x.Dict {
		return dict, nil
	}
	return list, nil
}
