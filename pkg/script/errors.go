package script

import "fmt"

// ParseError reports malformed script syntax.
type ParseError struct {
	Path string
	Line int
	Col  int
	Msg  string
}

func newParseError(path string, line, col int, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: syntax error: %s", e.Path, e.Line, e.Col, e.Msg)
}

// NameError reports a reference to a name that is neither bound, imported,
// supplied as a parameter nor a builtin.
type NameError struct {
	Path string
	Line int
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("%s:%d: name '%s' is not defined (missing parameter? use --param %s=value)",
		e.Path, e.Line, e.Name, e.Name)
}

// TypeError reports an operation applied to values of the wrong type.
type TypeError struct {
	Path string
	Line int
	Msg  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s:%d: type error: %s", e.Path, e.Line, e.Msg)
}

// ValueError reports an operation applied to a value of the right type but an
// unusable content, such as a missing key or division by zero.
type ValueError struct {
	Path string
	Line int
	Msg  string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

// ImportError reports a name missing from an imported module.
type ImportError struct {
	Path   string
	Line   int
	Module string
	Name   string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%s:%d: cannot import name '%s' from '%s'", e.Path, e.Line, e.Name, e.Module)
}

// importFailure wraps an error returned by the Importer with the position of
// the import statement. errors.As still reaches the cause.
type importFailure struct {
	Path   string
	Line   int
	Module string
	Err    error
}

func (e *importFailure) Error() string {
	return fmt.Sprintf("%s:%d: importing %s: %v", e.Path, e.Line, e.Module, e.Err)
}

func (e *importFailure) Unwrap() error { return e.Err }

// AttributeError reports access to an attribute a value does not have.
type AttributeError struct {
	Path string
	Line int
	Type string
	Name string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("%s:%d: '%s' object has no attribute '%s'", e.Path, e.Line, e.Type, e.Name)
}
