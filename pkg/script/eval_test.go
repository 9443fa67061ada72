package script

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ringoldsdev/efemel/pkg/document"
)

func params(kv ...any) *document.Map {
	m := document.NewMap(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1])
	}
	return m
}

func evalDoc(t *testing.T, src string, opts Options) string {
	t.Helper()
	res, err := Evaluate("test.py", src, opts)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	out, err := document.JSONSerializer{}.Serialize(document.Extract(res.Bindings))
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	return string(out[:len(out)-1])
}

func TestEvaluateDocuments(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		params *document.Map
		want   string
	}{
		{
			name: "literals keep declaration order",
			src: `name = "app"
port = 8080
ratio = 0.5
enabled = True
nothing = None
tags = ["a", 'b']
`,
			want: `{"name": "app", "port": 8080, "ratio": 0.5, "enabled": true, "nothing": null, "tags": ["a", "b"]}`,
		},
		{
			name: "dict spread and merge",
			src: `base = {"a": 1, "b": 2}
over = {**base, "b": 3, "c": 4}
merged = base | {"a": 10}
`,
			want: `{"base": {"a": 1, "b": 2}, "over": {"a": 1, "b": 3, "c": 4}, "merged": {"a": 10, "b": 2}}`,
		},
		{
			name: "params default",
			src:  `x = params.get("x", "default")`,
			want: `{"x": "default"}`,
		},
		{
			name:   "params override",
			src:    `x = params.get("x", "default")`,
			params: params("x", "custom"),
			want:   `{"x": "custom"}`,
		},
		{
			name:   "globals lookup with default",
			src:    "y = globals().get(\"y\", 5)\nz = globals().get(\"z\", 5)",
			params: params("z", int64(1)),
			want:   `{"y": 5, "z": 1}`,
		},
		{
			name:   "params are not exported unless rebound",
			src:    `host = db_host`,
			params: params("db_host", "db.local", "unused", true),
			want:   `{"host": "db.local"}`,
		},
		{
			name:   "local binding shadows parameter",
			src:    "a = x\nx = 2\nb = x",
			params: params("x", int64(1)),
			want:   `{"a": 1, "x": 2, "b": 2}`,
		},
		{
			name: "private names and callables are dropped",
			src: `_hidden = 1
__dunder = 2
def build():
    return {"x": 1}

class Config:
    pass

visible = 3
fn = build
handler = lambda x: x
`,
			want: `{"visible": 3}`,
		},
		{
			name: "skipped statements do not bind",
			src: `print("hello")
if True:
    y = 1
else:
    y = 2
for i in range(3):
    pass
z = 3
`,
			want: `{"z": 3}`,
		},
		{
			name: "comprehensions",
			src: `squares = [i * i for i in range(4) if i != 2]
inverted = {v: k for k, v in {"a": "x", "b": "y"}.items()}
`,
			want: `{"squares": [0, 1, 9], "inverted": {"x": "a", "y": "b"}}`,
		},
		{
			name: "f-strings and format",
			src: `name = "db"
port = 5432
url = f"{name}:{port}/{0.5:.2f}"
label = "{} {who}!".format("hello", who="world")
padded = f"{port:>6}|{name!r}"
`,
			want: `{"name": "db", "port": 5432, "url": "db:5432/0.50", "label": "hello world!", "padded": "  5432|'db'"}`,
		},
		{
			name: "subscript assignment copies",
			src: `cfg = {"a": {"b": 1}}
alias = cfg
cfg["a"]["b"] = 2
cfg["new"] = [1, 2]
`,
			want: `{"cfg": {"a": {"b": 2}, "new": [1, 2]}, "alias": {"a": {"b": 1}}}`,
		},
		{
			name: "augmented assignment and unpacking",
			src: `n = 1
n += 2
items = [1]
items += [2]
a, b = "x", "y"
`,
			want: `{"n": 3, "items": [1, 2], "a": "x", "b": "y"}`,
		},
		{
			name: "arithmetic",
			src: `a = 7 // 2
b = -7 // 2
c = 7 % -3
d = 2 ** 10
e = 1 / 2
f = -2 ** 2
g = 3 * "ab"
h = 1 + 2.0
`,
			want: `{"a": 3, "b": -4, "c": -2, "d": 1024, "e": 0.5, "f": -4, "g": "ababab", "h": 3.0}`,
		},
		{
			name:   "conditionals and boolean values",
			src:    "mode = \"prod\" if env == \"prod\" else \"dev\"\nflag = debug and \"yes\" or \"no\"\ninside = 2 in [1, 2] and \"k\" not in {\"a\": 1}\nchain = 1 < 2 <= 2",
			params: params("env", "prod", "debug", false),
			want:   `{"mode": "prod", "flag": "no", "inside": true, "chain": true}`,
		},
		{
			name: "string and list helpers",
			src: `parts = "a,b,c".split(",")
joined = "-".join(parts)
upper = joined.upper()
count = len(parts)
first = parts[0]
last = parts[-1]
middle = parts[1:]
ordered = sorted([3, 1, 2], reverse=True)
`,
			want: `{"parts": ["a", "b", "c"], "joined": "a-b-c", "upper": "A-B-C", "count": 3, "first": "a", "last": "c", "middle": ["b", "c"], "ordered": [3, 2, 1]}`,
		},
		{
			name: "list spread and implicit string concatenation",
			src: `base = [1, 2]
full = [0, *base, 3]
text = ("abc"
        "def")
`,
			want: `{"base": [1, 2], "full": [0, 1, 2, 3], "text": "abcdef"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalDoc(t, tt.src, Options{Params: tt.params})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected document (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateSkippedStatements(t *testing.T) {
	res, err := Evaluate("test.py", "print(1)\nif x:\n    y = 1\nz = 1\n", Options{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	want := []Skipped{{Line: 1, Keyword: "expression"}, {Line: 2, Keyword: "if"}}
	if diff := cmp.Diff(want, res.Skipped); diff != "" {
		t.Errorf("unexpected skipped statements (-want +got):\n%s", diff)
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		check func(t *testing.T, err error)
	}{
		{
			name: "undefined name",
			src:  "a = 1\nb = missing\n",
			check: func(t *testing.T, err error) {
				var ne *NameError
				if !errors.As(err, &ne) {
					t.Fatalf("Expected NameError, got %v", err)
				}
				if ne.Name != "missing" || ne.Line != 2 {
					t.Errorf("Expected missing at line 2, got %s at line %d", ne.Name, ne.Line)
				}
			},
		},
		{
			name: "syntax error",
			src:  "a = (1,\nb = 2\n",
			check: func(t *testing.T, err error) {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("Expected ParseError, got %v", err)
				}
			},
		},
		{
			name: "bad operands",
			src:  `x = 1 + "a"`,
			check: func(t *testing.T, err error) {
				var te *TypeError
				if !errors.As(err, &te) {
					t.Fatalf("Expected TypeError, got %v", err)
				}
			},
		},
		{
			name: "in-place mutation",
			src:  "d = {}\ny = d.update({})\n",
			check: func(t *testing.T, err error) {
				var te *TypeError
				if !errors.As(err, &te) {
					t.Fatalf("Expected TypeError, got %v", err)
				}
			},
		},
		{
			name: "missing key",
			src:  "d = {}\ny = d[\"k\"]\n",
			check: func(t *testing.T, err error) {
				var ve *ValueError
				if !errors.As(err, &ve) {
					t.Fatalf("Expected ValueError, got %v", err)
				}
			},
		},
		{
			name: "calling a def",
			src:  "def f():\n    return 1\nx = f()\n",
			check: func(t *testing.T, err error) {
				var te *TypeError
				if !errors.As(err, &te) {
					t.Fatalf("Expected TypeError, got %v", err)
				}
			},
		},
		{
			name:  "power overflow",
			src:   "x = 2 ** 64\n",
			check: expectOverflow,
		},
		{
			name:  "addition overflow",
			src:   "y = 9223372036854775807 + 1\n",
			check: expectOverflow,
		},
		{
			name:  "large power",
			src:   "z = 10 ** 30\n",
			check: expectOverflow,
		},
		{
			name:  "subtraction overflow",
			src:   "m = -9223372036854775807 - 2\n",
			check: expectOverflow,
		},
		{
			name:  "multiplication overflow",
			src:   "p = 4611686018427387904 * 2\n",
			check: expectOverflow,
		},
		{
			name:  "negation overflow",
			src:   "n = -9223372036854775807 - 1\nk = -n\n",
			check: expectOverflow,
		},
		{
			name:  "shift overflow",
			src:   "s = 1 << 64\n",
			check: expectOverflow,
		},
		{
			name:  "float to int overflow",
			src:   "i = int(1e30)\n",
			check: expectOverflow,
		},
		{
			name:  "abs overflow",
			src:   "a = abs(-9223372036854775807 - 1)\n",
			check: expectOverflow,
		},
		{
			name: "import without importer",
			src:  "from common import x\n",
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate("test.py", tt.src, Options{})
			tt.check(t, err)
		})
	}
}

func expectOverflow(t *testing.T, err error) {
	t.Helper()
	var ve *ValueError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValueError, got %v", err)
	}
	if !strings.Contains(ve.Msg, "OverflowError") {
		t.Errorf("Expected OverflowError, got %q", ve.Msg)
	}
}

func TestIntegerArithmeticLimits(t *testing.T) {
	got := evalDoc(t, "a = 2 ** 62\nb = 9223372036854775807 - 1 + 1\nc = -9223372036854775807 - 1\nd = 3037000499 * 3037000499\ne = 1 << 62\n", Options{})
	want := `{"a": 4611686018427387904, "b": 9223372036854775807, "c": -9223372036854775808, "d": 9223372030926249001, "e": 4611686018427387904}`
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestEvaluateImports(t *testing.T) {
	common := &Module{Path: "common.py", Bindings: params("shared", int64(1), "_priv", int64(2), "other", "o")}
	nested := &Module{Path: "pkg/net.py", Bindings: params("port", int64(80))}

	var requested []string
	importer := ImporterFunc(func(ref ModuleRef) (*Module, error) {
		requested = append(requested, ref.String())
		switch ref.String() {
		case "common", ".common":
			return common, nil
		case "pkg.net":
			return nested, nil
		}
		return nil, fmt.Errorf("no module named %s", ref)
	})

	src := `from common import shared
from .common import other as renamed
from common import *
import common as c
import pkg.net
val = c.shared
port = pkg.net.port
`
	got := evalDoc(t, src, Options{Importer: importer})
	want := `{"shared": 1, "renamed": "o", "other": "o", "val": 1, "port": 80}`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected document (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"common", ".common", "common", "common", "pkg.net"}, requested); diff != "" {
		t.Errorf("unexpected import requests (-want +got):\n%s", diff)
	}

	_, err := Evaluate("test.py", "from common import nope\n", Options{Importer: importer})
	var ie *ImportError
	if !errors.As(err, &ie) {
		t.Fatalf("Expected ImportError, got %v", err)
	}
	if ie.Name != "nope" {
		t.Errorf("Expected missing name nope, got %s", ie.Name)
	}

	sentinel := errors.New("boom")
	_, err = Evaluate("test.py", "import broken\n", Options{Importer: ImporterFunc(func(ModuleRef) (*Module, error) {
		return nil, sentinel
	})})
	if !errors.Is(err, sentinel) {
		t.Errorf("Expected importer error to be preserved, got %v", err)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	src := `base = {"b": 1, "a": 2}
derived = {**base, "c": [x * 2 for x in range(3)]}
label = f"{derived}"
`
	first := evalDoc(t, src, Options{})
	for i := 0; i < 5; i++ {
		if got := evalDoc(t, src, Options{}); got != first {
			t.Fatalf("Expected identical output, got %s and %s", first, got)
		}
	}
}
