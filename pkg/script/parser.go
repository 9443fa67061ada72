package script

import (
	"strings"
)

// Parser builds a Program from tokens using precedence climbing for
// expressions.
type Parser struct {
	path string
	toks []Token
	pos  int
}

// Parse parses a script.
func Parse(path, src string) (*Program, error) {
	toks, err := Tokenize(path, src)
	if err != nil {
		return nil, err
	}
	p := &Parser{path: path, toks: toks}
	return p.parseProgram()
}

// Binding powers. Exponentiation and postfix operators bind tighter than
// everything here and are handled outside the climbing loop.
var binaryPrec = map[string]int{
	"or":  1,
	"and": 2,
	"|":   5,
	"^":   6,
	"&":   7,
	"<<":  8,
	">>":  8,
	"+":   9,
	"-":   9,
	"*":   10,
	"/":   10,
	"//":  10,
	"%":   10,
	"@":   10,
}

const (
	precNot     = 3
	precCompare = 4
)

var augOps = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/", "//=": "//", "%=": "%",
	"|=": "|", "**=": "**",
}

var compoundKeywords = map[string]bool{
	"if": true, "elif": true, "else": true, "for": true, "while": true,
	"try": true, "except": true, "finally": true, "with": true,
}

func (p *Parser) peek() Token { return p.toks[p.pos] }

func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset < len(p.toks) {
		return p.toks[p.pos+offset]
	}
	return p.toks[len(p.toks)-1]
}

func (p *Parser) next() Token {
	t := p.toks[p.pos]
	if t.Type != EOF {
		p.pos++
	}
	return t
}

func (p *Parser) at(tt TokenType) bool { return p.peek().Type == tt }

func (p *Parser) isOp(op string) bool {
	t := p.peek()
	return t.Type == OP && t.Lexeme == op
}

func (p *Parser) isKw(kw string) bool {
	t := p.peek()
	return t.Type == KEYWORD && t.Lexeme == kw
}

func (p *Parser) errorf(t Token, format string, args ...any) error {
	return newParseError(p.path, t.Line, t.Col, format, args...)
}

func (p *Parser) unexpected(t Token) error {
	return p.errorf(t, "unexpected %s", t)
}

func (p *Parser) expectOp(op string) (Token, error) {
	if !p.isOp(op) {
		return Token{}, p.errorf(p.peek(), "expected %q, found %s", op, p.peek())
	}
	return p.next(), nil
}

func (p *Parser) expectKw(kw string) error {
	if !p.isKw(kw) {
		return p.errorf(p.peek(), "expected %q, found %s", kw, p.peek())
	}
	p.next()
	return nil
}

func (p *Parser) expectName() (Token, error) {
	if !p.at(NAME) {
		return Token{}, p.errorf(p.peek(), "expected name, found %s", p.peek())
	}
	return p.next(), nil
}

func pos(t Token) Position { return Position{Line: t.Line, Col: t.Col} }

func (p *Parser) parseProgram() (*Program, error) {
	prog := &Program{Path: p.path}
	for !p.at(EOF) {
		switch p.peek().Type {
		case NEWLINE:
			p.next()
			continue
		case INDENT:
			return nil, p.errorf(p.peek(), "unexpected indent")
		case DEDENT:
			return nil, p.errorf(p.peek(), "unexpected dedent")
		}
		stmts, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		prog.Statements = append(prog.Statements, stmts...)
	}
	return prog, nil
}

func (p *Parser) parseStatement() ([]Stmt, error) {
	t := p.peek()

	if t.Type == OP && t.Lexeme == "@" {
		// Decorator lines are dropped; the def/class they decorate follows.
		p.skipLine()
		return nil, nil
	}

	if t.Type == NAME && (t.Lexeme == "match" || t.Lexeme == "case") && p.lineEndsWithColon() {
		if err := p.skipBlock(); err != nil {
			return nil, err
		}
		return []Stmt{&SkippedStmt{At: pos(t), Keyword: t.Lexeme}}, nil
	}

	if t.Type == KEYWORD {
		switch {
		case t.Lexeme == "from" || t.Lexeme == "import":
			stmt, err := p.parseImport()
			if err != nil {
				return nil, err
			}
			if err := p.endSimple(); err != nil {
				return nil, err
			}
			return []Stmt{stmt}, nil
		case t.Lexeme == "def" || t.Lexeme == "class" || t.Lexeme == "async":
			return p.parseDef()
		case compoundKeywords[t.Lexeme]:
			if err := p.skipBlock(); err != nil {
				return nil, err
			}
			return []Stmt{&SkippedStmt{At: pos(t), Keyword: t.Lexeme}}, nil
		case t.Lexeme == "lambda" || t.Lexeme == "not" || t.Lexeme == "None" ||
			t.Lexeme == "True" || t.Lexeme == "False" || t.Lexeme == "await":
			// expression statement
		default:
			return p.parseSkippedSimple()
		}
	}

	var stmts []Stmt
	for {
		stmt, err := p.parseSimple()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if !p.isOp(";") {
			break
		}
		p.next()
		if p.at(NEWLINE) || p.at(EOF) {
			break
		}
		if p.peek().Type == KEYWORD && !isExprKeyword(p.peek().Lexeme) {
			more, err := p.parseSkippedSimple()
			if err != nil {
				return nil, err
			}
			return append(stmts, more...), nil
		}
	}
	if err := p.endSimple(); err != nil {
		return nil, err
	}
	return stmts, nil
}

func isExprKeyword(kw string) bool {
	switch kw {
	case "lambda", "not", "None", "True", "False", "await":
		return true
	}
	return false
}

func (p *Parser) endSimple() error {
	if p.at(EOF) {
		return nil
	}
	if !p.at(NEWLINE) {
		return p.unexpected(p.peek())
	}
	p.next()
	return nil
}

// skipLine drops tokens up to and including the end of the logical line.
func (p *Parser) skipLine() {
	for !p.at(NEWLINE) && !p.at(EOF) {
		p.next()
	}
	if p.at(NEWLINE) {
		p.next()
	}
}

// skipBlock drops a compound statement: its header line and, if present, its
// indented body.
func (p *Parser) skipBlock() error {
	p.skipLine()
	if !p.at(INDENT) {
		return nil
	}
	depth := 0
	for {
		t := p.next()
		switch t.Type {
		case INDENT:
			depth++
		case DEDENT:
			depth--
			if depth == 0 {
				return nil
			}
		case EOF:
			return p.errorf(t, "unexpected EOF in block")
		}
	}
}

func (p *Parser) lineEndsWithColon() bool {
	i := p.pos
	for i < len(p.toks) && p.toks[i].Type != NEWLINE && p.toks[i].Type != EOF {
		i++
	}
	if i == p.pos || i >= len(p.toks) {
		return false
	}
	last := p.toks[i-1]
	return last.Type == OP && last.Lexeme == ":" && i+1 < len(p.toks) && p.toks[i+1].Type == INDENT
}

func (p *Parser) parseSkippedSimple() ([]Stmt, error) {
	t := p.next()
	depth := 0
	for !p.at(NEWLINE) && !p.at(EOF) {
		c := p.peek()
		if c.Type == OP {
			switch c.Lexeme {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			case ";":
				if depth == 0 {
					p.next()
					stmts, err := p.parseStatement()
					if err != nil {
						return nil, err
					}
					return append([]Stmt{&SkippedStmt{At: pos(t), Keyword: t.Lexeme}}, stmts...), nil
				}
			}
		}
		p.next()
	}
	if err := p.endSimple(); err != nil {
		return nil, err
	}
	return []Stmt{&SkippedStmt{At: pos(t), Keyword: t.Lexeme}}, nil
}

func (p *Parser) parseDef() ([]Stmt, error) {
	t := p.next()
	kind := t.Lexeme
	if kind == "async" {
		if !p.isKw("def") {
			if err := p.skipBlock(); err != nil {
				return nil, err
			}
			return []Stmt{&SkippedStmt{At: pos(t), Keyword: "async"}}, nil
		}
		p.next()
		kind = "def"
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	if err := p.skipBlock(); err != nil {
		return nil, err
	}
	if kind == "def" {
		kind = "function"
	}
	return []Stmt{&DefStmt{At: pos(t), Kind: kind, Name: name.Lexeme}}, nil
}

func (p *Parser) parseModuleRef() (ModuleRef, error) {
	var ref ModuleRef
	for p.isOp(".") || p.isOp("...") {
		ref.Dots += len(p.next().Lexeme)
	}
	if p.at(NAME) {
		for {
			name, err := p.expectName()
			if err != nil {
				return ref, err
			}
			ref.Parts = append(ref.Parts, name.Lexeme)
			if !p.isOp(".") {
				break
			}
			p.next()
		}
	}
	if ref.Dots == 0 && len(ref.Parts) == 0 {
		return ref, p.errorf(p.peek(), "expected module name, found %s", p.peek())
	}
	return ref, nil
}

func (p *Parser) parseImport() (Stmt, error) {
	t := p.next()
	if t.Lexeme == "import" {
		stmt := &ImportStmt{At: pos(t)}
		for {
			ref, err := p.parseModuleRef()
			if err != nil {
				return nil, err
			}
			if ref.Relative() {
				return nil, p.errorf(t, "relative imports require the 'from' form")
			}
			m := ImportModule{Ref: ref}
			if p.isKw("as") {
				p.next()
				alias, err := p.expectName()
				if err != nil {
					return nil, err
				}
				m.Alias = alias.Lexeme
			}
			stmt.Modules = append(stmt.Modules, m)
			if !p.isOp(",") {
				return stmt, nil
			}
			p.next()
		}
	}

	ref, err := p.parseModuleRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("import"); err != nil {
		return nil, err
	}
	stmt := &ImportFromStmt{At: pos(t), Module: ref}
	if p.isOp("*") {
		p.next()
		stmt.Star = true
		return stmt, nil
	}

	paren := p.isOp("(")
	if paren {
		p.next()
	}
	for {
		if paren && p.isOp(")") {
			break
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		in := ImportName{Name: name.Lexeme}
		if p.isKw("as") {
			p.next()
			alias, err := p.expectName()
			if err != nil {
				return nil, err
			}
			in.Alias = alias.Lexeme
		}
		stmt.Names = append(stmt.Names, in)
		if !p.isOp(",") {
			break
		}
		p.next()
		if !paren && (p.at(NEWLINE) || p.at(EOF)) {
			return nil, p.errorf(p.peek(), "trailing comma not allowed without surrounding parentheses")
		}
	}
	if paren {
		if _, err := p.expectOp(")"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseSimple() (Stmt, error) {
	t := p.peek()
	first, err := p.parseExprList()
	if err != nil {
		return nil, err
	}

	switch {
	case p.isOp("="):
		targets := []Expr{first}
		var value Expr
		for p.isOp("=") {
			p.next()
			value, err = p.parseExprList()
			if err != nil {
				return nil, err
			}
			if p.isOp("=") {
				targets = append(targets, value)
			}
		}
		for _, target := range targets {
			if isAttrTarget(target) {
				return &SkippedStmt{At: pos(t), Keyword: "attribute assignment"}, nil
			}
			if err := p.checkTarget(target, true); err != nil {
				return nil, err
			}
		}
		return &AssignStmt{At: pos(t), Targets: targets, Value: value}, nil

	case p.peek().Type == OP && augOps[p.peek().Lexeme] != "":
		op := augOps[p.next().Lexeme]
		if err := p.checkTarget(first, false); err != nil {
			return nil, err
		}
		value, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		return &AugAssignStmt{At: pos(t), Target: first, Op: op, Value: value}, nil

	case p.isOp(":"):
		// Annotated assignment; the annotation is parsed and ignored.
		p.next()
		if _, err := p.parseExpr(); err != nil {
			return nil, err
		}
		if err := p.checkTarget(first, false); err != nil {
			return nil, err
		}
		if !p.isOp("=") {
			return &SkippedStmt{At: pos(t), Keyword: "annotation"}, nil
		}
		p.next()
		value, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		return &AssignStmt{At: pos(t), Targets: []Expr{first}, Value: value}, nil
	}

	return &SkippedStmt{At: pos(t), Keyword: "expression"}, nil
}

// checkTarget validates an assignment target: a name, a subscript rooted at a
// name or, when allowed, a tuple of names.
func (p *Parser) checkTarget(e Expr, allowTuple bool) error {
	switch t := e.(type) {
	case *Name:
		return nil
	case *IndexExpr:
		root := t.X
		for {
			switch r := root.(type) {
			case *IndexExpr:
				root = r.X
				continue
			case *Name:
				return nil
			}
			break
		}
	case *ListExpr:
		if allowTuple {
			for _, elem := range t.Elems {
				if _, ok := elem.(*Name); !ok {
					return newParseError(p.path, elem.Pos().Line, elem.Pos().Col, "only names can be unpacked")
				}
			}
			return nil
		}
	}
	at := e.Pos()
	return newParseError(p.path, at.Line, at.Col, "cannot assign to expression")
}

func isAttrTarget(e Expr) bool {
	for {
		switch t := e.(type) {
		case *AttrExpr:
			return true
		case *IndexExpr:
			e = t.X
		default:
			return false
		}
	}
}

// canStartExpr reports whether t may begin an expression.
func canStartExpr(t Token) bool {
	switch t.Type {
	case NAME, INT, FLOAT, STRING:
		return true
	case KEYWORD:
		return isExprKeyword(t.Lexeme)
	case OP:
		switch t.Lexeme {
		case "(", "[", "{", "-", "+", "~", "*":
			return true
		}
	}
	return false
}

// parseExprList parses a comma-separated expression list. More than one
// element, or a trailing comma, yields a tuple.
func (p *Parser) parseExprList() (Expr, error) {
	t := p.peek()
	first, err := p.parseExprOrStar()
	if err != nil {
		return nil, err
	}
	if !p.isOp(",") {
		return first, nil
	}
	elems := []Expr{first}
	for p.isOp(",") {
		p.next()
		if !canStartExpr(p.peek()) {
			break
		}
		e, err := p.parseExprOrStar()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return &ListExpr{At: pos(t), Elems: elems}, nil
}

func (p *Parser) parseExprOrStar() (Expr, error) {
	if p.isOp("*") {
		t := p.next()
		x, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		return &Starred{At: pos(t), X: x}, nil
	}
	return p.parseExpr()
}

// parseExpr parses a full expression including conditionals and lambdas.
func (p *Parser) parseExpr() (Expr, error) {
	if p.isKw("lambda") {
		return p.parseLambda()
	}
	t := p.peek()
	x, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if !p.isKw("if") {
		return x, nil
	}
	p.next()
	cond, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("else"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &CondExpr{At: pos(t), Cond: cond, Then: x, Else: els}, nil
}

func (p *Parser) parseLambda() (Expr, error) {
	t := p.next()
	depth := 0
	for {
		c := p.peek()
		if c.Type == EOF || c.Type == NEWLINE {
			return nil, p.errorf(c, "expected ':' in lambda")
		}
		if c.Type == OP {
			switch c.Lexeme {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			case ":":
				if depth == 0 {
					p.next()
					if _, err := p.parseExpr(); err != nil {
						return nil, err
					}
					return &LambdaExpr{At: pos(t)}, nil
				}
			}
		}
		p.next()
	}
}

// compareOp consumes a comparison operator if one is next.
func (p *Parser) compareOp() (string, bool) {
	t := p.peek()
	switch {
	case t.Type == OP:
		switch t.Lexeme {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			return t.Lexeme, true
		}
	case t.Type == KEYWORD && t.Lexeme == "in":
		p.next()
		return "in", true
	case t.Type == KEYWORD && t.Lexeme == "not":
		n := p.peekAt(1)
		if n.Type == KEYWORD && n.Lexeme == "in" {
			p.next()
			p.next()
			return "not in", true
		}
	case t.Type == KEYWORD && t.Lexeme == "is":
		p.next()
		if p.isKw("not") {
			p.next()
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *Parser) isCompareNext() bool {
	t := p.peek()
	switch t.Type {
	case OP:
		switch t.Lexeme {
		case "==", "!=", "<", "<=", ">", ">=":
			return true
		}
	case KEYWORD:
		switch t.Lexeme {
		case "in", "is":
			return true
		case "not":
			n := p.peekAt(1)
			return n.Type == KEYWORD && n.Lexeme == "in"
		}
	}
	return false
}

func (p *Parser) binaryOp() (string, int) {
	t := p.peek()
	if t.Type != OP && t.Type != KEYWORD {
		return "", -1
	}
	if t.Type == KEYWORD && t.Lexeme != "and" && t.Lexeme != "or" {
		return "", -1
	}
	prec, ok := binaryPrec[t.Lexeme]
	if !ok {
		return "", -1
	}
	return t.Lexeme, prec
}

func (p *Parser) parseBinary(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		if p.isCompareNext() {
			if precCompare <= minPrec {
				return left, nil
			}
			cmp := &CompareExpr{At: left.Pos(), Operands: []Expr{left}}
			for p.isCompareNext() {
				op, _ := p.compareOp()
				right, err := p.parseBinary(precCompare)
				if err != nil {
					return nil, err
				}
				cmp.Ops = append(cmp.Ops, op)
				cmp.Operands = append(cmp.Operands, right)
			}
			left = cmp
			continue
		}

		op, prec := p.binaryOp()
		if prec <= minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(prec)
		if err != nil {
			return nil, err
		}
		if op == "and" || op == "or" {
			left = &BoolExpr{At: left.Pos(), Op: op, X: left, Y: right}
		} else {
			left = &BinaryExpr{At: left.Pos(), Op: op, X: left, Y: right}
		}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	t := p.peek()
	if t.Type == KEYWORD && t.Lexeme == "not" {
		p.next()
		x, err := p.parseBinary(precNot)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{At: pos(t), Op: "not", X: x}, nil
	}
	if t.Type == OP && (t.Lexeme == "-" || t.Lexeme == "+" || t.Lexeme == "~") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{At: pos(t), Op: t.Lexeme, X: x}, nil
	}
	return p.parsePower()
}

func (p *Parser) parsePower() (Expr, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if !p.isOp("**") {
		return base, nil
	}
	t := p.next()
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{At: pos(t), Op: "**", X: base, Y: exp}, nil
}

func (p *Parser) parsePostfix() (Expr, error) {
	x, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("."):
			t := p.next()
			name, err := p.expectName()
			if err != nil {
				return nil, err
			}
			x = &AttrExpr{At: pos(t), X: x, Name: name.Lexeme}
		case p.isOp("("):
			x, err = p.parseCall(x)
			if err != nil {
				return nil, err
			}
		case p.isOp("["):
			x, err = p.parseSubscript(x)
			if err != nil {
				return nil, err
			}
		default:
			return x, nil
		}
	}
}

func (p *Parser) parseCall(fn Expr) (Expr, error) {
	t := p.next()
	call := &CallExpr{At: pos(t), Fn: fn}
	for !p.isOp(")") {
		switch {
		case p.isOp("**"):
			p.next()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Kwargs = append(call.Kwargs, Keyword{Value: v})
		case p.at(NAME) && p.peekAt(1).Type == OP && p.peekAt(1).Lexeme == "=":
			name := p.next()
			p.next()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Kwargs = append(call.Kwargs, Keyword{Name: name.Lexeme, Value: v})
		default:
			if len(call.Kwargs) > 0 && !p.isOp("*") {
				return nil, p.errorf(p.peek(), "positional argument follows keyword argument")
			}
			arg, err := p.parseExprOrStar()
			if err != nil {
				return nil, err
			}
			if p.isKw("for") {
				arg, err = p.parseComprehension(pos(p.peek()), false, nil, arg)
				if err != nil {
					return nil, err
				}
			}
			call.Args = append(call.Args, arg)
		}
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	if _, err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseSubscript(x Expr) (Expr, error) {
	t := p.next()
	var lo, hi, step Expr
	var err error
	if !p.isOp(":") {
		lo, err = p.parseExprList()
		if err != nil {
			return nil, err
		}
		if !p.isOp(":") {
			if _, err := p.expectOp("]"); err != nil {
				return nil, err
			}
			return &IndexExpr{At: pos(t), X: x, Index: lo}, nil
		}
	}
	p.next()
	if !p.isOp(":") && !p.isOp("]") {
		if hi, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if p.isOp(":") {
		p.next()
		if !p.isOp("]") {
			if step, err = p.parseExpr(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return &SliceExpr{At: pos(t), X: x, Lo: lo, Hi: hi, Step: step}, nil
}

func (p *Parser) parseAtom() (Expr, error) {
	t := p.peek()
	switch t.Type {
	case NAME:
		p.next()
		return &Name{At: pos(t), ID: t.Lexeme}, nil
	case INT, FLOAT:
		p.next()
		return &Literal{At: pos(t), Value: t.Literal}, nil
	case STRING:
		return p.parseStrings()
	case KEYWORD:
		switch t.Lexeme {
		case "True":
			p.next()
			return &Literal{At: pos(t), Value: true}, nil
		case "False":
			p.next()
			return &Literal{At: pos(t), Value: false}, nil
		case "None":
			p.next()
			return &Literal{At: pos(t), Value: nil}, nil
		case "lambda":
			return p.parseLambda()
		}
	case OP:
		switch t.Lexeme {
		case "(":
			return p.parseParen()
		case "[":
			return p.parseList()
		case "{":
			return p.parseDict()
		}
	}
	return nil, p.unexpected(t)
}

func (p *Parser) parseParen() (Expr, error) {
	t := p.next()
	if p.isOp(")") {
		p.next()
		return &ListExpr{At: pos(t)}, nil
	}
	first, err := p.parseExprOrStar()
	if err != nil {
		return nil, err
	}
	if p.isKw("for") {
		comp, err := p.parseComprehension(pos(t), false, nil, first)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return comp, nil
	}
	if p.isOp(")") {
		p.next()
		if _, ok := first.(*Starred); ok {
			return nil, p.errorf(t, "cannot use starred expression here")
		}
		return first, nil
	}
	elems := []Expr{first}
	for p.isOp(",") {
		p.next()
		if p.isOp(")") {
			break
		}
		e, err := p.parseExprOrStar()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if _, err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return &ListExpr{At: pos(t), Elems: elems}, nil
}

func (p *Parser) parseList() (Expr, error) {
	t := p.next()
	list := &ListExpr{At: pos(t)}
	if p.isOp("]") {
		p.next()
		return list, nil
	}
	first, err := p.parseExprOrStar()
	if err != nil {
		return nil, err
	}
	if p.isKw("for") {
		comp, err := p.parseComprehension(pos(t), false, nil, first)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectOp("]"); err != nil {
			return nil, err
		}
		return comp, nil
	}
	list.Elems = append(list.Elems, first)
	for p.isOp(",") {
		p.next()
		if p.isOp("]") {
			break
		}
		e, err := p.parseExprOrStar()
		if err != nil {
			return nil, err
		}
		list.Elems = append(list.Elems, e)
	}
	if _, err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Parser) parseDict() (Expr, error) {
	t := p.next()
	dict := &DictExpr{At: pos(t)}
	first := true
	for !p.isOp("}") {
		if p.isOp("**") {
			p.next()
			v, err := p.parseBinary(0)
			if err != nil {
				return nil, err
			}
			dict.Items = append(dict.Items, DictItem{Value: v})
		} else {
			k, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if !p.isOp(":") {
				return nil, p.errorf(p.peek(), "set literals are not supported")
			}
			p.next()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if first && p.isKw("for") {
				comp, err := p.parseComprehension(pos(t), true, k, v)
				if err != nil {
					return nil, err
				}
				if _, err := p.expectOp("}"); err != nil {
					return nil, err
				}
				return comp, nil
			}
			dict.Items = append(dict.Items, DictItem{Key: k, Value: v})
		}
		first = false
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	if _, err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return dict, nil
}

func (p *Parser) parseComprehension(at Position, dict bool, key, value Expr) (Expr, error) {
	comp := &Comprehension{At: at, Dict: dict, Key: key, Value: value}
	if !dict {
		comp.Key = nil
	}
	for p.isKw("for") {
		p.next()
		var clause CompClause
		paren := p.isOp("(")
		if paren {
			p.next()
		}
		for {
			name, err := p.expectName()
			if err != nil {
				return nil, err
			}
			clause.Targets = append(clause.Targets, name.Lexeme)
			if !p.isOp(",") {
				break
			}
			p.next()
		}
		if paren {
			if _, err := p.expectOp(")"); err != nil {
				return nil, err
			}
		}
		if err := p.expectKw("in"); err != nil {
			return nil, err
		}
		iter, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		clause.Iter = iter
		for p.isKw("if") {
			p.next()
			cond, err := p.parseBinary(0)
			if err != nil {
				return nil, err
			}
			clause.Ifs = append(clause.Ifs, cond)
		}
		comp.Clauses = append(comp.Clauses, clause)
	}
	return comp, nil
}

// parseStrings joins adjacent string literals, splitting f-strings into parts.
func (p *Parser) parseStrings() (Expr, error) {
	first := p.peek()
	var parts []Expr
	var text strings.Builder
	formatted := false

	flush := func(at Position) {
		if text.Len() > 0 {
			parts = append(parts, &Literal{At: at, Value: text.String()})
			text.Reset()
		}
	}

	for p.at(STRING) {
		t := p.next()
		switch lit := t.Literal.(type) {
		case string:
			text.WriteString(lit)
		case fstring:
			formatted = true
			if err := p.splitFString(t, lit.body, &text, &parts, flush); err != nil {
				return nil, err
			}
		}
	}

	if !formatted {
		return &Literal{At: pos(first), Value: text.String()}, nil
	}
	flush(pos(first))
	return &FString{At: pos(first), Parts: parts}, nil
}

func (p *Parser) splitFString(t Token, body string, text *strings.Builder, parts *[]Expr, flush func(Position)) error {
	at := pos(t)
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '{' && i+1 < len(body) && body[i+1] == '{':
			text.WriteByte('{')
			i++
		case c == '}' && i+1 < len(body) && body[i+1] == '}':
			text.WriteByte('}')
			i++
		case c == '}':
			return p.errorf(t, "single '}' is not allowed in f-string")
		case c == '{':
			end, exprEnd, conv, spec, err := scanField(body, i+1)
			if err != nil {
				return p.errorf(t, "%s", err.Error())
			}
			src := strings.TrimSpace(body[i+1 : exprEnd])
			if src == "" {
				return p.errorf(t, "f-string: empty expression not allowed")
			}
			x, err := p.subExpr(src, t)
			if err != nil {
				return err
			}
			flush(at)
			*parts = append(*parts, &FormatPart{At: at, X: x, Conv: conv, Spec: spec})
			i = end
		default:
			text.WriteByte(c)
		}
	}
	return nil
}

type fieldError string

func (e fieldError) Error() string { return string(e) }

// scanField finds the end of an f-string replacement field starting after '{'.
// It returns the index of the closing brace, the end of the expression text,
// the conversion character and the format spec.
func scanField(body string, start int) (end, exprEnd int, conv byte, spec string, err error) {
	depth := 0
	var quote byte
	exprEnd = -1
	for i := start; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']':
			depth--
		case '}':
			if depth > 0 {
				depth--
				continue
			}
			if exprEnd < 0 {
				exprEnd = i
			}
			return i, exprEnd, conv, spec, nil
		case '!':
			if depth == 0 && exprEnd < 0 && i+1 < len(body) && body[i+1] != '=' {
				exprEnd = i
				conv = body[i+1]
				if conv != 'r' && conv != 's' && conv != 'a' {
					return 0, 0, 0, "", fieldError("f-string: invalid conversion character")
				}
				i++
			}
		case ':':
			if depth == 0 {
				if exprEnd < 0 {
					exprEnd = i
				}
				closing := strings.IndexByte(body[i+1:], '}')
				if closing < 0 {
					return 0, 0, 0, "", fieldError("f-string: expecting '}'")
				}
				spec = body[i+1 : i+1+closing]
				return i + 1 + closing, exprEnd, conv, spec, nil
			}
		}
	}
	return 0, 0, 0, "", fieldError("f-string: expecting '}'")
}

func (p *Parser) subExpr(src string, at Token) (Expr, error) {
	toks, err := Tokenize(p.path, "("+src+")")
	if err != nil {
		return nil, p.errorf(at, "f-string: %v", err)
	}
	for i := range toks {
		toks[i].Line, toks[i].Col = at.Line, at.Col
	}
	sub := &Parser{path: p.path, toks: toks}
	x, err := sub.parseExpr()
	if err != nil {
		return nil, err
	}
	if !sub.at(NEWLINE) && !sub.at(EOF) {
		return nil, sub.unexpected(sub.peek())
	}
	return x, nil
}
