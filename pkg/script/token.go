package script

import "fmt"

// TokenType classifies a lexical token.
type TokenType int

const (
	EOF TokenType = iota
	NEWLINE
	INDENT
	DEDENT
	NAME
	KEYWORD
	INT
	FLOAT
	STRING
	OP
)

var tokenNames = map[TokenType]string{
	EOF:     "EOF",
	NEWLINE: "NEWLINE",
	INDENT:  "INDENT",
	DEDENT:  "DEDENT",
	NAME:    "NAME",
	KEYWORD: "KEYWORD",
	INT:     "INT",
	FLOAT:   "FLOAT",
	STRING:  "STRING",
	OP:      "OP",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Token is a lexical token with its source position.
type Token struct {
	Type    TokenType
	Lexeme  string
	Literal any
	Line    int
	Col     int
}

func (t Token) String() string {
	switch t.Type {
	case EOF, NEWLINE, INDENT, DEDENT:
		return t.Type.String()
	}
	return fmt.Sprintf("%q", t.Lexeme)
}

var keywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

// Operators ordered longest first so the lexer takes the longest match.
var operators = []string{
	"**=", "//=", ">>=", "<<=", "...",
	"**", "//", "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=", "%=", "|=",
	"&=", "^=", "@=", "->", ":=", "<<", ">>",
	"+", "-", "*", "/", "%", "|", "&", "^", "~", "<", ">", "(", ")", "[",
	"]", "{", "}", ",", ":", ".", ";", "=", "@",
}
