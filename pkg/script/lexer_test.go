package script

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tokenTypes(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func TestTokenizeIndentation(t *testing.T) {
	src := "a = 1\nif x:\n    b = 2\n\n    # comment\nc = 3\n"
	toks, err := Tokenize("test.py", src)
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}

	want := []TokenType{
		NAME, OP, INT, NEWLINE,
		KEYWORD, NAME, OP, NEWLINE,
		INDENT, NAME, OP, INT, NEWLINE,
		DEDENT, NAME, OP, INT, NEWLINE,
		EOF,
	}
	if diff := cmp.Diff(want, tokenTypes(toks)); diff != "" {
		t.Errorf("unexpected token types (-want +got):\n%s", diff)
	}
}

func TestTokenizeBracketsJoinLines(t *testing.T) {
	src := "x = [\n  1,\n  2,\n]\ny = 3"
	toks, err := Tokenize("test.py", src)
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}

	want := []TokenType{
		NAME, OP, OP, INT, OP, INT, OP, OP, NEWLINE,
		NAME, OP, INT, NEWLINE,
		EOF,
	}
	if diff := cmp.Diff(want, tokenTypes(toks)); diff != "" {
		t.Errorf("unexpected token types (-want +got):\n%s", diff)
	}
}

func TestTokenizeLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`'a\nb'`, "a\nb"},
		{`r'\d+'`, `\d+`},
		{`"""x
y"""`, "x\ny"},
		{`'\x41\u00e9'`, "Aé"},
		{`0x1F`, int64(31)},
		{`1_000`, int64(1000)},
		{`1.5e3`, 1500.0},
		{`.5`, 0.5},
	}
	for _, tt := range tests {
		toks, err := Tokenize("test.py", tt.src)
		if err != nil {
			t.Errorf("Tokenize(%s) failed: %v", tt.src, err)
			continue
		}
		if toks[0].Literal != tt.want {
			t.Errorf("Tokenize(%s): expected %#v, got %#v", tt.src, tt.want, toks[0].Literal)
		}
	}
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated string", "a = 'abc\n"},
		{"bad dedent", "if x:\n    a = 1\n  b = 2\n"},
		{"unclosed bracket", "a = [1, 2\n"},
		{"unmatched bracket", "a = 1)\n"},
		{"invalid character", "a = 1 $ 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize("bad.py", tt.src)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected ParseError, got %v", err)
			}
			if pe.Path != "bad.py" {
				t.Errorf("Expected path bad.py, got %s", pe.Path)
			}
		})
	}
}
