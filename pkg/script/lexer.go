package script

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// fstring is the literal payload of an f-string token: the raw body with escape
// sequences already processed. The parser splits it into parts.
type fstring struct {
	body string
}

// Lexer converts source text into tokens, tracking indentation and bracket depth.
type Lexer struct {
	path    string
	src     string
	pos     int
	line    int
	col     int
	depth   int
	indents []int
	tokens  []Token
}

// Tokenize lexes src. path is only used for error positions.
func Tokenize(path, src string) ([]Token, error) {
	l := &Lexer{path: path, src: src, line: 1, col: 1, indents: []int{0}}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

func (l *Lexer) errorf(line, col int, format string, args ...any) error {
	return newParseError(l.path, line, col, format, args...)
}

func (l *Lexer) peekByte(offset int) byte {
	if l.pos+offset < len(l.src) {
		return l.src[l.pos+offset]
	}
	return 0
}

func (l *Lexer) advance() {
	if l.pos >= len(l.src) {
		return
	}
	if l.src[l.pos] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.pos++
}

func (l *Lexer) emit(tt TokenType, lexeme string, literal any, line, col int) {
	l.tokens = append(l.tokens, Token{Type: tt, Lexeme: lexeme, Literal: literal, Line: line, Col: col})
}

func (l *Lexer) lastType() TokenType {
	if len(l.tokens) == 0 {
		return NEWLINE
	}
	return l.tokens[len(l.tokens)-1].Type
}

func (l *Lexer) run() error {
	atLineStart := true
	for {
		if atLineStart && l.depth == 0 {
			blank, err := l.indentation()
			if err != nil {
				return err
			}
			if blank {
				if l.pos >= len(l.src) {
					break
				}
				continue
			}
			atLineStart = false
		}
		if l.pos >= len(l.src) {
			break
		}

		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\f' || c == '\r':
			l.advance()
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance()
			}
		case c == '\n':
			l.advance()
			if l.depth == 0 {
				if l.lastType() != NEWLINE {
					l.emit(NEWLINE, "\n", nil, l.line-1, l.col)
				}
				atLineStart = true
			}
		case c == '\\':
			line, col := l.line, l.col
			l.advance()
			if l.peekByte(0) == '\r' {
				l.advance()
			}
			if l.peekByte(0) != '\n' {
				return l.errorf(line, col, "unexpected character after line continuation")
			}
			l.advance()
		case isDigit(c) || (c == '.' && isDigit(l.peekByte(1))):
			if err := l.number(); err != nil {
				return err
			}
		case c == '"' || c == '\'':
			if err := l.str(""); err != nil {
				return err
			}
		case c == '_' || c < utf8.RuneSelf && unicode.IsLetter(rune(c)) || c >= utf8.RuneSelf:
			if err := l.name(); err != nil {
				return err
			}
		default:
			if err := l.operator(); err != nil {
				return err
			}
		}
	}

	if l.depth > 0 {
		return l.errorf(l.line, l.col, "unexpected EOF: unclosed bracket")
	}
	if l.lastType() != NEWLINE && l.lastType() != DEDENT {
		l.emit(NEWLINE, "", nil, l.line, l.col)
	}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.emit(DEDENT, "", nil, l.line, l.col)
	}
	l.emit(EOF, "", nil, l.line, l.col)
	return nil
}

// indentation measures the leading whitespace of a line and emits INDENT or
// DEDENT tokens. It reports blank (whitespace or comment only) lines, which are
// consumed entirely.
func (l *Lexer) indentation() (bool, error) {
	width := 0
scan:
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ':
			width++
		case '\t':
			width += 8 - width%8
		case '\f':
			width = 0
		default:
			break scan
		}
		l.advance()
	}
	if l.pos >= len(l.src) {
		return true, nil
	}
	switch l.src[l.pos] {
	case '\n', '\r', '#':
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.advance()
		}
		l.advance()
		return true, nil
	}

	current := l.indents[len(l.indents)-1]
	switch {
	case width > current:
		l.indents = append(l.indents, width)
		l.emit(INDENT, "", nil, l.line, l.col)
	case width < current:
		for width < l.indents[len(l.indents)-1] {
			l.indents = l.indents[:len(l.indents)-1]
			l.emit(DEDENT, "", nil, l.line, l.col)
		}
		if width != l.indents[len(l.indents)-1] {
			return false, l.errorf(l.line, l.col, "unindent does not match any outer indentation level")
		}
	}
	return false, nil
}

func (l *Lexer) name() error {
	line, col, start := l.line, l.col, l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		for i := 0; i < size; i++ {
			l.advance()
		}
	}
	word := l.src[start:l.pos]
	if word == "" {
		r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
		return l.errorf(line, col, "invalid character %q", r)
	}

	if q := l.peekByte(0); (q == '"' || q == '\'') && isStringPrefix(word) {
		l.pos, l.line, l.col = start, line, col
		return l.str(word)
	}

	if keywords[word] {
		l.emit(KEYWORD, word, nil, line, col)
	} else {
		l.emit(NAME, word, nil, line, col)
	}
	return nil
}

func isStringPrefix(word string) bool {
	switch strings.ToLower(word) {
	case "r", "u", "b", "f", "rb", "br", "fr", "rf":
		return true
	}
	return false
}

func (l *Lexer) number() error {
	line, col, start := l.line, l.col, l.pos
	if l.src[l.pos] == '0' && strings.ContainsRune("xXoObB", rune(l.peekByte(1))) {
		l.advance()
		l.advance()
		for l.pos < len(l.src) && (isHexDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
			l.advance()
		}
		text := l.src[start:l.pos]
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return l.errorf(line, col, "invalid integer literal %s", text)
		}
		l.emit(INT, text, v, line, col)
		return nil
	}

	isFloat := false
	digits := func() {
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
			l.advance()
		}
	}
	digits()
	if l.peekByte(0) == '.' {
		isFloat = true
		l.advance()
		digits()
	}
	if c := l.peekByte(0); c == 'e' || c == 'E' {
		next := l.peekByte(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peekByte(2))) {
			isFloat = true
			l.advance()
			if next == '+' || next == '-' {
				l.advance()
			}
			digits()
		}
	}
	if c := l.peekByte(0); c == 'j' || c == 'J' {
		return l.errorf(line, col, "complex literals are not supported")
	}

	text := l.src[start:l.pos]
	clean := strings.ReplaceAll(text, "_", "")
	if isFloat {
		v, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return l.errorf(line, col, "invalid float literal %s", text)
		}
		l.emit(FLOAT, text, v, line, col)
		return nil
	}
	v, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return l.errorf(line, col, "invalid integer literal %s", text)
	}
	l.emit(INT, text, v, line, col)
	return nil
}

func (l *Lexer) str(prefix string) error {
	line, col, start := l.line, l.col, l.pos
	for range prefix {
		l.advance()
	}
	lower := strings.ToLower(prefix)
	raw := strings.Contains(lower, "r")
	format := strings.Contains(lower, "f")

	quote := l.src[l.pos]
	triple := l.peekByte(1) == quote && l.peekByte(2) == quote
	if triple {
		l.advance()
		l.advance()
	}
	l.advance()

	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return l.errorf(line, col, "unterminated string literal")
		}
		c := l.src[l.pos]
		if c == quote {
			if !triple {
				l.advance()
				break
			}
			if l.peekByte(1) == quote && l.peekByte(2) == quote {
				l.advance()
				l.advance()
				l.advance()
				break
			}
		}
		if c == '\n' && !triple {
			return l.errorf(line, col, "unterminated string literal")
		}
		if c == '\\' {
			if raw {
				sb.WriteByte(c)
				l.advance()
				if l.pos < len(l.src) {
					sb.WriteByte(l.src[l.pos])
					l.advance()
				}
				continue
			}
			if err := l.escape(&sb); err != nil {
				return err
			}
			continue
		}
		sb.WriteByte(c)
		l.advance()
	}

	lexeme := l.src[start:l.pos]
	if format {
		l.emit(STRING, lexeme, fstring{body: sb.String()}, line, col)
		return nil
	}
	l.emit(STRING, lexeme, sb.String(), line, col)
	return nil
}

func (l *Lexer) escape(sb *strings.Builder) error {
	line, col := l.line, l.col
	l.advance()
	if l.pos >= len(l.src) {
		return l.errorf(line, col, "unterminated string literal")
	}
	c := l.src[l.pos]
	simple := map[byte]string{
		'\\': "\\", '\'': "'", '"': "\"", 'a': "\a", 'b': "\b",
		'f': "\f", 'n': "\n", 'r': "\r", 't': "\t", 'v': "\v",
	}
	if s, ok := simple[c]; ok {
		sb.WriteString(s)
		l.advance()
		return nil
	}
	switch {
	case c == '\n':
		l.advance()
		return nil
	case c >= '0' && c <= '7':
		n := 0
		for i := 0; i < 3 && l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7'; i++ {
			n = n*8 + int(l.src[l.pos]-'0')
			l.advance()
		}
		sb.WriteRune(rune(n))
		return nil
	case c == 'x' || c == 'u' || c == 'U':
		width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		l.advance()
		if l.pos+width > len(l.src) {
			return l.errorf(line, col, "truncated \\%c escape", c)
		}
		v, err := strconv.ParseUint(l.src[l.pos:l.pos+width], 16, 32)
		if err != nil || !utf8.ValidRune(rune(v)) {
			return l.errorf(line, col, "invalid \\%c escape", c)
		}
		for i := 0; i < width; i++ {
			l.advance()
		}
		sb.WriteRune(rune(v))
		return nil
	}
	sb.WriteByte('\\')
	return nil
}

func (l *Lexer) operator() error {
	line, col := l.line, l.col
	for _, op := range operators {
		if strings.HasPrefix(l.src[l.pos:], op) {
			for range op {
				l.advance()
			}
			switch op {
			case "(", "[", "{":
				l.depth++
			case ")", "]", "}":
				if l.depth == 0 {
					return l.errorf(line, col, "unmatched %q", op)
				}
				l.depth--
			}
			l.emit(OP, op, nil, line, col)
			return nil
		}
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return l.errorf(line, col, "invalid character %q", r)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
