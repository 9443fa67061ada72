package script

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/ringoldsdev/efemel/pkg/document"
)

// call carries the arguments of a builtin or method invocation.
type call struct {
	in     *interp
	at     Position
	name   string
	args   []any
	kwargs *document.Map
}

func (c *call) typeErr(format string, args ...any) error {
	return c.in.typeErr(c.at, format, args...)
}

func (c *call) valueErr(format string, args ...any) error {
	return c.in.valueErr(c.at, format, args...)
}

// arity checks the positional argument count; hi < 0 means unbounded.
func (c *call) arity(lo, hi int) error {
	if c.kwargs.Len() > 0 {
		return c.typeErr("%s() takes no keyword arguments", c.name)
	}
	n := len(c.args)
	if n < lo || (hi >= 0 && n > hi) {
		switch {
		case lo == hi:
			return c.typeErr("%s() takes exactly %d argument(s) (%d given)", c.name, lo, n)
		case n < lo:
			return c.typeErr("%s() takes at least %d argument(s) (%d given)", c.name, lo, n)
		default:
			return c.typeErr("%s() takes at most %d argument(s) (%d given)", c.name, hi, n)
		}
	}
	return nil
}

func (c *call) str(i int) (string, error) {
	s, ok := c.args[i].(string)
	if !ok {
		return "", c.typeErr("%s() argument %d must be str, not %s", c.name, i+1, typeName(c.args[i]))
	}
	return s, nil
}

var builtins map[string]*Builtin

func init() {
	builtins = make(map[string]*Builtin)
	for name, fn := range map[string]func(c *call) (any, error){
		"abs":       builtinAbs,
		"all":       builtinAll,
		"any":       builtinAny,
		"bool":      builtinBool,
		"dict":      builtinDict,
		"enumerate": builtinEnumerate,
		"float":     builtinFloat,
		"globals":   builtinGlobals,
		"int":       builtinInt,
		"len":       builtinLen,
		"list":      builtinList,
		"max":       func(c *call) (any, error) { return minMax(c, 1) },
		"min":       func(c *call) (any, error) { return minMax(c, -1) },
		"range":     builtinRange,
		"repr":      builtinRepr,
		"reversed":  builtinReversed,
		"round":     builtinRound,
		"sorted":    builtinSorted,
		"str":       builtinStr,
		"sum":       builtinSum,
		"tuple":     builtinList,
		"zip":       builtinZip,
	} {
		builtins[name] = &Builtin{Name: name, Fn: fn}
	}
}

func builtinAbs(c *call) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	switch v := c.args[0].(type) {
	case int64:
		if v == math.MinInt64 {
			return nil, c.in.overflow(c.at)
		}
		if v < 0 {
			return -v, nil
		}
		return v, nil
	case float64:
		return math.Abs(v), nil
	case bool:
		i, _ := toInt(v)
		return i, nil
	}
	return nil, c.typeErr("bad operand type for abs(): '%s'", typeName(c.args[0]))
}

func builtinAll(c *call) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	items, ok := iterate(c.args[0])
	if !ok {
		return nil, c.typeErr("'%s' object is not iterable", typeName(c.args[0]))
	}
	for _, item := range items {
		if !truth(item) {
			return false, nil
		}
	}
	return true, nil
}

func builtinAny(c *call) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	items, ok := iterate(c.args[0])
	if !ok {
		return nil, c.typeErr("'%s' object is not iterable", typeName(c.args[0]))
	}
	for _, item := range items {
		if truth(item) {
			return true, nil
		}
	}
	return false, nil
}

func builtinBool(c *call) (any, error) {
	if err := c.arity(0, 1); err != nil {
		return nil, err
	}
	if len(c.args) == 0 {
		return false, nil
	}
	return truth(c.args[0]), nil
}

func builtinDict(c *call) (any, error) {
	if len(c.args) > 1 {
		return nil, c.typeErr("dict expected at most 1 argument, got %d", len(c.args))
	}
	out := document.NewMap(c.kwargs.Len())
	if len(c.args) == 1 {
		switch src := c.args[0].(type) {
		case *document.Map:
			out.Update(src)
		case []any:
			for _, item := range src {
				pair, ok := item.([]any)
				if !ok || len(pair) != 2 {
					return nil, c.valueErr("dictionary update sequence element has wrong length")
				}
				k, ok := document.KeyString(pair[0])
				if !ok {
					return nil, c.typeErr("unhashable type: '%s'", typeName(pair[0]))
				}
				out.Set(k, pair[1])
			}
		default:
			return nil, c.typeErr("'%s' object is not iterable", typeName(src))
		}
	}
	out.Update(c.kwargs)
	return out, nil
}

func builtinEnumerate(c *call) (any, error) {
	start := int64(0)
	if v, ok := c.kwargs.Get("start"); ok {
		s, ok := toInt(v)
		if !ok {
			return nil, c.typeErr("enumerate() start must be an integer")
		}
		start = s
		c.kwargs = document.NewMap(0)
	}
	if err := c.arity(1, 2); err != nil {
		return nil, err
	}
	if len(c.args) == 2 {
		s, ok := toInt(c.args[1])
		if !ok {
			return nil, c.typeErr("enumerate() start must be an integer")
		}
		start = s
	}
	items, ok := iterate(c.args[0])
	if !ok {
		return nil, c.typeErr("'%s' object is not iterable", typeName(c.args[0]))
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = []any{start + int64(i), item}
	}
	return out, nil
}

func builtinFloat(c *call) (any, error) {
	if err := c.arity(0, 1); err != nil {
		return nil, err
	}
	if len(c.args) == 0 {
		return 0.0, nil
	}
	switch v := c.args[0].(type) {
	case string:
		s := strings.TrimSpace(strings.ToLower(v))
		switch s {
		case "inf", "+inf", "infinity":
			return math.Inf(1), nil
		case "-inf", "-infinity":
			return math.Inf(-1), nil
		case "nan":
			return math.NaN(), nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, "_", ""), 64)
		if err != nil {
			return nil, c.valueErr("could not convert string to float: %s", quote(v))
		}
		return f, nil
	default:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	}
	return nil, c.typeErr("float() argument must be a string or a number, not '%s'", typeName(c.args[0]))
}

// builtinGlobals returns the parameters overlaid with the bindings made so far.
func builtinGlobals(c *call) (any, error) {
	if err := c.arity(0, 0); err != nil {
		return nil, err
	}
	out := c.in.params.Copy()
	out.Update(c.in.bindings)
	return out, nil
}

func builtinInt(c *call) (any, error) {
	base := int64(10)
	if v, ok := c.kwargs.Get("base"); ok {
		b, ok := toInt(v)
		if !ok {
			return nil, c.typeErr("int() base must be an integer")
		}
		base = b
		c.kwargs = document.NewMap(0)
	}
	if err := c.arity(0, 2); err != nil {
		return nil, err
	}
	if len(c.args) == 0 {
		return int64(0), nil
	}
	if len(c.args) == 2 {
		b, ok := toInt(c.args[1])
		if !ok {
			return nil, c.typeErr("int() base must be an integer")
		}
		base = b
	}
	switch v := c.args[0].(type) {
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), "_", "")
		i, err := strconv.ParseInt(s, int(base), 64)
		if err != nil {
			return nil, c.valueErr("invalid literal for int() with base %d: %s", base, quote(v))
		}
		return i, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, c.valueErr("cannot convert float %s to integer", repr(v))
		}
		if v >= math.MaxInt64 || v < math.MinInt64 {
			return nil, c.in.overflow(c.at)
		}
		return int64(v), nil
	default:
		if i, ok := toInt(v); ok {
			return i, nil
		}
	}
	return nil, c.typeErr("int() argument must be a string or a number, not '%s'", typeName(c.args[0]))
}

func builtinLen(c *call) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	n, ok := length(c.args[0])
	if !ok {
		return nil, c.typeErr("object of type '%s' has no len()", typeName(c.args[0]))
	}
	return int64(n), nil
}

func builtinList(c *call) (any, error) {
	if err := c.arity(0, 1); err != nil {
		return nil, err
	}
	if len(c.args) == 0 {
		return []any{}, nil
	}
	items, ok := iterate(c.args[0])
	if !ok {
		return nil, c.typeErr("'%s' object is not iterable", typeName(c.args[0]))
	}
	out := make([]any, len(items))
	copy(out, items)
	return out, nil
}

func minMax(c *call, sign int) (any, error) {
	if err := c.arity(1, -1); err != nil {
		return nil, err
	}
	items := c.args
	if len(items) == 1 {
		var ok bool
		if items, ok = iterate(c.args[0]); !ok {
			return nil, c.typeErr("'%s' object is not iterable", typeName(c.args[0]))
		}
	}
	if len(items) == 0 {
		return nil, c.valueErr("%s() arg is an empty sequence", c.name)
	}
	best := items[0]
	for _, item := range items[1:] {
		cmp, ok := compare(item, best)
		if !ok {
			return nil, c.typeErr("'%s' not supported between instances of '%s' and '%s'",
				map[int]string{1: ">", -1: "<"}[sign], typeName(item), typeName(best))
		}
		if cmp*sign > 0 {
			best = item
		}
	}
	return best, nil
}

const maxRange = 1 << 20

func builtinRange(c *call) (any, error) {
	if err := c.arity(1, 3); err != nil {
		return nil, err
	}
	bounds := make([]int64, len(c.args))
	for i, a := range c.args {
		v, ok := toInt(a)
		if !ok {
			return nil, c.typeErr("'%s' object cannot be interpreted as an integer", typeName(a))
		}
		bounds[i] = v
	}
	start, stop, step := int64(0), int64(0), int64(1)
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	case 3:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	}
	if step == 0 {
		return nil, c.valueErr("range() arg 3 must not be zero")
	}
	out := []any{}
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		if len(out) >= maxRange {
			return nil, c.valueErr("range() result too large")
		}
		out = append(out, i)
	}
	return out, nil
}

func builtinRepr(c *call) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	return repr(c.args[0]), nil
}

func builtinReversed(c *call) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	items, ok := iterate(c.args[0])
	if !ok {
		return nil, c.typeErr("'%s' object is not reversible", typeName(c.args[0]))
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out, nil
}

func builtinRound(c *call) (any, error) {
	if err := c.arity(1, 2); err != nil {
		return nil, err
	}
	f, ok := toFloat(c.args[0])
	if !ok {
		return nil, c.typeErr("type %s doesn't define __round__ method", typeName(c.args[0]))
	}
	if len(c.args) == 1 || c.args[1] == nil {
		return int64(math.RoundToEven(f)), nil
	}
	digits, ok := toInt(c.args[1])
	if !ok {
		return nil, c.typeErr("'%s' object cannot be interpreted as an integer", typeName(c.args[1]))
	}
	if i, isInt := c.args[0].(int64); isInt && digits >= 0 {
		return i, nil
	}
	scale := math.Pow(10, float64(digits))
	return math.RoundToEven(f*scale) / scale, nil
}

func builtinSorted(c *call) (any, error) {
	reverse := false
	if v, ok := c.kwargs.Get("reverse"); ok {
		reverse = truth(v)
		c.kwargs.Delete("reverse")
	}
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	items, ok := iterate(c.args[0])
	if !ok {
		return nil, c.typeErr("'%s' object is not iterable", typeName(c.args[0]))
	}
	out := make([]any, len(items))
	copy(out, items)
	if err := sortValues(out); err != nil {
		return nil, c.typeErr("%v", err)
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func builtinStr(c *call) (any, error) {
	if err := c.arity(0, 1); err != nil {
		return nil, err
	}
	if len(c.args) == 0 {
		return "", nil
	}
	return str(c.args[0]), nil
}

func builtinSum(c *call) (any, error) {
	if err := c.arity(1, 2); err != nil {
		return nil, err
	}
	items, ok := iterate(c.args[0])
	if !ok {
		return nil, c.typeErr("'%s' object is not iterable", typeName(c.args[0]))
	}
	var total any = int64(0)
	if len(c.args) == 2 {
		total = c.args[1]
	}
	for _, item := range items {
		var err error
		if total, err = c.in.binary(c.at, "+", total, item); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func builtinZip(c *call) (any, error) {
	if err := c.arity(0, -1); err != nil {
		return nil, err
	}
	lists := make([][]any, len(c.args))
	shortest := -1
	for i, a := range c.args {
		items, ok := iterate(a)
		if !ok {
			return nil, c.typeErr("zip argument #%d must support iteration", i+1)
		}
		lists[i] = items
		if shortest < 0 || len(items) < shortest {
			shortest = len(items)
		}
	}
	out := []any{}
	for i := 0; i < shortest; i++ {
		row := make([]any, len(lists))
		for j := range lists {
			row[j] = lists[j][i]
		}
		out = append(out, row)
	}
	return out, nil
}

type method func(c *call, recv any) (any, error)

var (
	dictMethods map[string]method
	strMethods  map[string]method
	listMethods map[string]method
)

func init() {
	dictMethods = map[string]method{
		"get":        dictGet,
		"keys":       func(c *call, recv any) (any, error) { return dictView(c, recv, 0) },
		"values":     func(c *call, recv any) (any, error) { return dictView(c, recv, 1) },
		"items":      func(c *call, recv any) (any, error) { return dictView(c, recv, 2) },
		"copy":       dictCopy,
		"update":     immutable,
		"pop":        immutable,
		"setdefault": immutable,
		"clear":      immutable,
	}
	listMethods = map[string]method{
		"copy":   listCopy,
		"index":  listIndex,
		"count":  listCount,
		"append": immutable,
		"extend": immutable,
		"insert": immutable,
		"pop":    immutable,
		"remove": immutable,
		"sort":   immutable,
	}
	strMethods = map[string]method{
		"upper":      strUnary(strings.ToUpper),
		"lower":      strUnary(strings.ToLower),
		"title":      strUnary(titleCase),
		"capitalize": strUnary(capitalize),
		"strip":      strTrim(strings.TrimSpace, strings.Trim),
		"lstrip":     strTrim(func(s string) string { return strings.TrimLeftFunc(s, unicode.IsSpace) }, strings.TrimLeft),
		"rstrip":     strTrim(func(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) }, strings.TrimRight),
		"replace":    strReplace,
		"split":      strSplit,
		"join":       strJoin,
		"startswith": strAffix(strings.HasPrefix),
		"endswith":   strAffix(strings.HasSuffix),
		"format":     strFormat,
		"zfill":      strZfill,
	}
}

func lookupMethod(v any, name string) (method, bool) {
	var table map[string]method
	switch v.(type) {
	case *document.Map:
		table = dictMethods
	case []any:
		table = listMethods
	case string:
		table = strMethods
	default:
		return nil, false
	}
	m, ok := table[name]
	return m, ok
}

func immutable(c *call, recv any) (any, error) {
	return nil, c.typeErr("'%s' object cannot be modified in place; %s() is not supported, build a new value instead",
		typeName(recv), c.name)
}

func dictGet(c *call, recv any) (any, error) {
	if err := c.arity(1, 2); err != nil {
		return nil, err
	}
	k, ok := document.KeyString(c.args[0])
	if !ok {
		return nil, c.typeErr("unhashable type: '%s'", typeName(c.args[0]))
	}
	if v, ok := recv.(*document.Map).Get(k); ok {
		return v, nil
	}
	if len(c.args) == 2 {
		return c.args[1], nil
	}
	return nil, nil
}

func dictView(c *call, recv any, kind int) (any, error) {
	if err := c.arity(0, 0); err != nil {
		return nil, err
	}
	m := recv.(*document.Map)
	out := make([]any, 0, m.Len())
	m.Range(func(k string, v any) bool {
		switch kind {
		case 0:
			out = append(out, k)
		case 1:
			out = append(out, v)
		default:
			out = append(out, []any{k, v})
		}
		return true
	})
	return out, nil
}

func dictCopy(c *call, recv any) (any, error) {
	if err := c.arity(0, 0); err != nil {
		return nil, err
	}
	return recv.(*document.Map).Copy(), nil
}

func listCopy(c *call, recv any) (any, error) {
	if err := c.arity(0, 0); err != nil {
		return nil, err
	}
	items := recv.([]any)
	out := make([]any, len(items))
	copy(out, items)
	return out, nil
}

func listIndex(c *call, recv any) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	for i, item := range recv.([]any) {
		if equal(item, c.args[0]) {
			return int64(i), nil
		}
	}
	return nil, c.valueErr("%s is not in list", repr(c.args[0]))
}

func listCount(c *call, recv any) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	n := int64(0)
	for _, item := range recv.([]any) {
		if equal(item, c.args[0]) {
			n++
		}
	}
	return n, nil
}

func strUnary(fn func(string) string) method {
	return func(c *call, recv any) (any, error) {
		if err := c.arity(0, 0); err != nil {
			return nil, err
		}
		return fn(recv.(string)), nil
	}
}

func titleCase(s string) string {
	var sb strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				sb.WriteRune(unicode.ToLower(r))
			} else {
				sb.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		sb.WriteRune(r)
	}
	return sb.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func strTrim(space func(string) string, cutset func(string, string) string) method {
	return func(c *call, recv any) (any, error) {
		if err := c.arity(0, 1); err != nil {
			return nil, err
		}
		if len(c.args) == 0 || c.args[0] == nil {
			return space(recv.(string)), nil
		}
		chars, err := c.str(0)
		if err != nil {
			return nil, err
		}
		return cutset(recv.(string), chars), nil
	}
}

func strReplace(c *call, recv any) (any, error) {
	if err := c.arity(2, 3); err != nil {
		return nil, err
	}
	old, err := c.str(0)
	if err != nil {
		return nil, err
	}
	repl, err := c.str(1)
	if err != nil {
		return nil, err
	}
	n := -1
	if len(c.args) == 3 {
		count, ok := toInt(c.args[2])
		if !ok {
			return nil, c.typeErr("replace() count must be an integer")
		}
		n = int(count)
	}
	return strings.Replace(recv.(string), old, repl, n), nil
}

func strSplit(c *call, recv any) (any, error) {
	if err := c.arity(0, 2); err != nil {
		return nil, err
	}
	s := recv.(string)
	limit := -1
	if len(c.args) == 2 {
		n, ok := toInt(c.args[1])
		if !ok {
			return nil, c.typeErr("split() maxsplit must be an integer")
		}
		limit = int(n)
	}
	var parts []string
	if len(c.args) == 0 || c.args[0] == nil {
		parts = strings.Fields(s)
		if limit >= 0 && len(parts) > limit+1 {
			head := parts[:limit]
			rest := s
			for _, h := range head {
				rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
				rest = rest[len(h):]
			}
			parts = append(head, strings.TrimLeftFunc(rest, unicode.IsSpace))
		}
	} else {
		sep, err := c.str(0)
		if err != nil {
			return nil, err
		}
		if sep == "" {
			return nil, c.valueErr("empty separator")
		}
		if limit >= 0 {
			parts = strings.SplitN(s, sep, limit+1)
		} else {
			parts = strings.Split(s, sep)
		}
	}
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func strJoin(c *call, recv any) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	items, ok := iterate(c.args[0])
	if !ok {
		return nil, c.typeErr("can only join an iterable")
	}
	parts := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, c.typeErr("sequence item %d: expected str instance, %s found", i, typeName(item))
		}
		parts[i] = s
	}
	return strings.Join(parts, recv.(string)), nil
}

func strAffix(test func(string, string) bool) method {
	return func(c *call, recv any) (any, error) {
		if err := c.arity(1, 1); err != nil {
			return nil, err
		}
		s := recv.(string)
		candidates := []any{c.args[0]}
		if list, ok := c.args[0].([]any); ok {
			candidates = list
		}
		for _, cand := range candidates {
			affix, ok := cand.(string)
			if !ok {
				return nil, c.typeErr("%s arg must be str or a tuple of str, not %s", c.name, typeName(cand))
			}
			if test(s, affix) {
				return true, nil
			}
		}
		return false, nil
	}
}

func strZfill(c *call, recv any) (any, error) {
	if err := c.arity(1, 1); err != nil {
		return nil, err
	}
	width, ok := toInt(c.args[0])
	if !ok {
		return nil, c.typeErr("zfill() width must be an integer")
	}
	s := recv.(string)
	pad := int(width) - len([]rune(s))
	if pad <= 0 {
		return s, nil
	}
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	return sign + strings.Repeat("0", pad) + s, nil
}

// strFormat implements str.format with automatic, positional and keyword fields.
func strFormat(c *call, recv any) (any, error) {
	tmpl := recv.(string)
	var sb strings.Builder
	auto := 0
	for i := 0; i < len(tmpl); i++ {
		ch := tmpl[i]
		switch {
		case ch == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			sb.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			sb.WriteByte('}')
			i++
		case ch == '}':
			return nil, c.valueErr("single '}' encountered in format string")
		case ch == '{':
			end, exprEnd, conv, spec, err := scanField(tmpl, i+1)
			if err != nil {
				return nil, c.valueErr("%v", err)
			}
			field := tmpl[i+1 : exprEnd]
			var v any
			switch {
			case field == "":
				if auto >= len(c.args) {
					return nil, c.valueErr("Replacement index %d out of range for positional args tuple", auto)
				}
				v = c.args[auto]
				auto++
			case isDigits(field):
				n, _ := strconv.Atoi(field)
				if n >= len(c.args) {
					return nil, c.valueErr("Replacement index %d out of range for positional args tuple", n)
				}
				v = c.args[n]
			default:
				var ok bool
				if v, ok = c.kwargs.Get(field); !ok {
					return nil, c.valueErr("KeyError: %s", quote(field))
				}
			}
			out, err := c.in.formatField(c.at, v, conv, spec)
			if err != nil {
				return nil, err
			}
			sb.WriteString(out)
			i = end
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String(), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// formatSpec applies a format specification:
// [[fill]align][sign][0][width][,][.precision][type].
func formatSpec(v any, spec string) (string, error) {
	if spec == "" {
		return str(v), nil
	}
	fill, align := ' ', byte(0)
	rs := []rune(spec)
	i := 0
	if len(rs) >= 2 && strings.ContainsRune("<>^=", rs[1]) {
		fill, align = rs[0], byte(rs[1])
		i = 2
	} else if len(rs) >= 1 && strings.ContainsRune("<>^=", rs[0]) {
		align = byte(rs[0])
		i = 1
	}
	sign := byte('-')
	if i < len(rs) && strings.ContainsRune("+- ", rs[i]) {
		sign = byte(rs[i])
		i++
	}
	if i < len(rs) && rs[i] == '0' {
		if align == 0 {
			fill, align = '0', '='
		}
		i++
	}
	width := 0
	for i < len(rs) && rs[i] >= '0' && rs[i] <= '9' {
		width = width*10 + int(rs[i]-'0')
		i++
	}
	grouping := false
	if i < len(rs) && (rs[i] == ',' || rs[i] == '_') {
		grouping = true
		i++
	}
	precision := -1
	if i < len(rs) && rs[i] == '.' {
		i++
		precision = 0
		for i < len(rs) && rs[i] >= '0' && rs[i] <= '9' {
			precision = precision*10 + int(rs[i]-'0')
			i++
		}
	}
	verb := byte(0)
	if i < len(rs) {
		verb = byte(rs[i])
		i++
	}
	if i != len(rs) {
		return "", fmt.Errorf("invalid format specifier %q", spec)
	}

	var body string
	numeric := false
	negative := false
	switch verb {
	case 0, 's':
		if verb == 0 && precision >= 0 {
			if f, ok := v.(float64); ok {
				numeric = true
				negative = f < 0
				body = strconv.FormatFloat(math.Abs(f), 'g', precision, 64)
				break
			}
		}
		if verb == 0 && isNumber(v) {
			if _, isBool := v.(bool); !isBool {
				numeric = true
				f, _ := toFloat(v)
				negative = f < 0
				body = strings.TrimPrefix(str(v), "-")
				break
			}
		}
		if verb == 's' {
			if _, ok := v.(string); !ok {
				return "", fmt.Errorf("unknown format code 's' for object of type '%s'", typeName(v))
			}
		}
		body = str(v)
		if precision >= 0 && len([]rune(body)) > precision {
			body = string([]rune(body)[:precision])
		}
	case 'd', 'x', 'X', 'o', 'b':
		n, ok := v.(int64)
		if !ok {
			if b, isBool := v.(bool); isBool {
				n, _ = toInt(b)
			} else {
				return "", fmt.Errorf("unknown format code '%c' for object of type '%s'", verb, typeName(v))
			}
		}
		numeric = true
		negative = n < 0
		if negative {
			n = -n
		}
		base := map[byte]int{'d': 10, 'x': 16, 'X': 16, 'o': 8, 'b': 2}[verb]
		body = strconv.FormatInt(n, base)
		if verb == 'X' {
			body = strings.ToUpper(body)
		}
	case 'f', 'F', 'e', 'E', 'g', 'G', '%':
		f, ok := toFloat(v)
		if !ok {
			return "", fmt.Errorf("unknown format code '%c' for object of type '%s'", verb, typeName(v))
		}
		numeric = true
		negative = f < 0 || (f == 0 && math.Signbit(f))
		f = math.Abs(f)
		if precision < 0 {
			precision = 6
		}
		switch verb {
		case '%':
			body = strconv.FormatFloat(f*100, 'f', precision, 64) + "%"
		case 'F':
			body = strings.ToUpper(strconv.FormatFloat(f, 'f', precision, 64))
		case 'g', 'G':
			if precision == 0 {
				precision = 1
			}
			body = strconv.FormatFloat(f, byte(verb), precision, 64)
		default:
			body = strconv.FormatFloat(f, byte(verb), precision, 64)
		}
	default:
		return "", fmt.Errorf("unknown format code '%c'", verb)
	}

	if numeric && grouping {
		body = groupThousands(body)
	}
	prefix := ""
	if numeric {
		switch {
		case negative:
			prefix = "-"
		case sign == '+':
			prefix = "+"
		case sign == ' ':
			prefix = " "
		}
	}
	if align == 0 {
		if numeric {
			align = '>'
		} else {
			align = '<'
		}
	}

	pad := width - len([]rune(prefix+body))
	if pad <= 0 {
		return prefix + body, nil
	}
	fills := strings.Repeat(string(fill), pad)
	switch align {
	case '<':
		return prefix + body + fills, nil
	case '^':
		left := strings.Repeat(string(fill), pad/2)
		right := strings.Repeat(string(fill), pad-pad/2)
		return left + prefix + body + right, nil
	case '=':
		return prefix + fills + body, nil
	}
	return fills + prefix + body, nil
}

func groupThousands(s string) string {
	intPart, rest := s, ""
	if i := strings.IndexAny(s, ".e%"); i >= 0 {
		intPart, rest = s[:i], s[i:]
	}
	if len(intPart) <= 3 {
		return s
	}
	var sb strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		sb.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(intPart[i : i+3])
	}
	return sb.String() + rest
}
