package script

import "strings"

// Position locates a node in its source file.
type Position struct {
	Line int
	Col  int
}

// Program is a parsed script.
type Program struct {
	Path       string
	Statements []Stmt
}

// Stmt is a top-level statement.
type Stmt interface {
	Pos() Position
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Pos() Position
	exprNode()
}

// ModuleRef is an import target as written in source: leading dots for
// explicit relative imports followed by dotted name parts.
type ModuleRef struct {
	Dots  int
	Parts []string
}

func (r ModuleRef) String() string {
	return strings.Repeat(".", r.Dots) + strings.Join(r.Parts, ".")
}

// Relative reports whether the reference starts with dots.
func (r ModuleRef) Relative() bool { return r.Dots > 0 }

// Statements.
type (
	// AssignStmt binds the value to every target, left to right.
	AssignStmt struct {
		At      Position
		Targets []Expr
		Value   Expr
	}

	// AugAssignStmt is name op= value.
	AugAssignStmt struct {
		At     Position
		Target Expr
		Op     string
		Value  Expr
	}

	// ImportFromStmt is "from ref import names" or "from ref import *".
	ImportFromStmt struct {
		At     Position
		Module ModuleRef
		Names  []ImportName
		Star   bool
	}

	// ImportStmt is "import ref [as alias], ...".
	ImportStmt struct {
		At      Position
		Modules []ImportModule
	}

	// DefStmt is a def or class block. Only the name is bound.
	DefStmt struct {
		At   Position
		Kind string
		Name string
	}

	// SkippedStmt is a statement that binds nothing and is not evaluated.
	SkippedStmt struct {
		At      Position
		Keyword string
	}
)

// ImportName is one "name [as alias]" clause.
type ImportName struct {
	Name  string
	Alias string
}

// ImportModule is one "ref [as alias]" clause.
type ImportModule struct {
	Ref   ModuleRef
	Alias string
}

func (s *AssignStmt) Pos() Position     { return s.At }
func (s *AugAssignStmt) Pos() Position  { return s.At }
func (s *ImportFromStmt) Pos() Position { return s.At }
func (s *ImportStmt) Pos() Position     { return s.At }
func (s *DefStmt) Pos() Position        { return s.At }
func (s *SkippedStmt) Pos() Position    { return s.At }

func (*AssignStmt) stmtNode()     {}
func (*AugAssignStmt) stmtNode()  {}
func (*ImportFromStmt) stmtNode() {}
func (*ImportStmt) stmtNode()     {}
func (*DefStmt) stmtNode()        {}
func (*SkippedStmt) stmtNode()    {}

// Expressions.
type (
	Literal struct {
		At    Position
		Value any
	}

	Name struct {
		At Position
		ID string
	}

	// FString is an f-string: literal text interleaved with expressions.
	FString struct {
		At    Position
		Parts []Expr
	}

	// ListExpr covers list and tuple displays. Elements may be *Starred.
	ListExpr struct {
		At    Position
		Elems []Expr
	}

	// DictExpr is a dict display. Items with a nil Key are ** spreads.
	DictExpr struct {
		At    Position
		Items []DictItem
	}

	Starred struct {
		At Position
		X  Expr
	}

	UnaryExpr struct {
		At Position
		Op string
		X  Expr
	}

	BinaryExpr struct {
		At Position
		Op string
		X  Expr
		Y  Expr
	}

	// BoolExpr is a short-circuiting and/or.
	BoolExpr struct {
		At Position
		Op string
		X  Expr
		Y  Expr
	}

	// CompareExpr is a possibly chained comparison: a < b <= c.
	CompareExpr struct {
		At       Position
		Ops      []string
		Operands []Expr
	}

	CondExpr struct {
		At   Position
		Cond Expr
		Then Expr
		Else Expr
	}

	AttrExpr struct {
		At   Position
		X    Expr
		Name string
	}

	IndexExpr struct {
		At    Position
		X     Expr
		Index Expr
	}

	// SliceExpr is a[lo:hi:step]; nil bounds are omitted.
	SliceExpr struct {
		At   Position
		X    Expr
		Lo   Expr
		Hi   Expr
		Step Expr
	}

	CallExpr struct {
		At     Position
		Fn     Expr
		Args   []Expr
		Kwargs []Keyword
	}

	// Comprehension is a list or dict comprehension. Value is nil for lists.
	Comprehension struct {
		At      Position
		Dict    bool
		Key     Expr
		Value   Expr
		Clauses []CompClause
	}

	// LambdaExpr evaluates to an opaque function value.
	LambdaExpr struct {
		At Position
	}
)

// DictItem is a key/value pair or, with a nil Key, a ** spread of Value.
type DictItem struct {
	Key   Expr
	Value Expr
}

// Keyword is a name=value call argument.
type Keyword struct {
	Name  string
	Value Expr
}

// CompClause is one "for targets in iter" clause with its trailing if filters.
type CompClause struct {
	Targets []string
	Iter    Expr
	Ifs     []Expr
}

func (e *Literal) Pos() Position       { return e.At }
func (e *Name) Pos() Position          { return e.At }
func (e *FString) Pos() Position       { return e.At }
func (e *ListExpr) Pos() Position      { return e.At }
func (e *DictExpr) Pos() Position      { return e.At }
func (e *Starred) Pos() Position       { return e.At }
func (e *UnaryExpr) Pos() Position     { return e.At }
func (e *BinaryExpr) Pos() Position    { return e.At }
func (e *BoolExpr) Pos() Position      { return e.At }
func (e *CompareExpr) Pos() Position   { return e.At }
func (e *CondExpr) Pos() Position      { return e.At }
func (e *AttrExpr) Pos() Position      { return e.At }
func (e *IndexExpr) Pos() Position     { return e.At }
func (e *SliceExpr) Pos() Position     { return e.At }
func (e *CallExpr) Pos() Position      { return e.At }
func (e *Comprehension) Pos() Position { return e.At }
func (e *LambdaExpr) Pos() Position    { return e.At }

func (*Literal) exprNode()       {}
func (*Name) exprNode()          {}
func (*FString) exprNode()       {}
func (*ListExpr) exprNode()      {}
func (*DictExpr) exprNode()      {}
func (*Starred) exprNode()       {}
func (*UnaryExpr) exprNode()     {}
func (*BinaryExpr) exprNode()    {}
func (*BoolExpr) exprNode()      {}
func (*CompareExpr) exprNode()   {}
func (*CondExpr) exprNode()      {}
func (*AttrExpr) exprNode()      {}
func (*IndexExpr) exprNode()     {}
func (*SliceExpr) exprNode()     {}
func (*CallExpr) exprNode()      {}
func (*Comprehension) exprNode() {}
func (*LambdaExpr) exprNode()    {}

// FormatPart is a replacement field inside an f-string.
type FormatPart struct {
	At   Position
	X    Expr
	Conv byte
	Spec string
}

func (e *FormatPart) Pos() Position { return e.At }
func (*FormatPart) exprNode()       {}
