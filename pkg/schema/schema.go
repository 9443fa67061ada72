package schema

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/spf13/afero"

	"github.com/ringoldsdev/efemel/pkg/document"
)

// DocumentDefinition is the definition documents are unified with when present.
const DocumentDefinition = "#Document"

// Issue is a single schema mismatch.
type Issue struct {
	Path    string `json:"path,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationError reports every mismatch between a document and a schema.
type ValidationError struct {
	Schema string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("document does not match schema %s: %s", e.Schema, strings.Join(parts, "; "))
}

// Schema is a compiled CUE schema.
type Schema struct {
	// cue.Context is not safe for concurrent use.
	mu     sync.Mutex
	ctx    *cue.Context
	value  cue.Value
	source string
}

// Load reads and compiles a schema file.
func Load(fs afero.Fs, path string) (*Schema, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return Compile(path, string(content))
}

// Compile compiles schema source. name is used in positions and error messages.
func Compile(name, source string) (*Schema, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(source, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, &ValidationError{Schema: name, Issues: convertCUEErrors(err)}
	}

	def := val.LookupPath(cue.ParsePath(DocumentDefinition))
	if def.Exists() {
		val = def
	}

	return &Schema{ctx: ctx, value: val, source: name}, nil
}

// Source returns the name the schema was compiled from.
func (s *Schema) Source() string {
	return s.source
}

// Validate unifies doc with the schema and requires the result to be concrete.
func (s *Schema) Validate(doc *document.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataVal := s.ctx.Encode(doc.ToGo())
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	unified := s.value.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Schema: s.source, Issues: convertCUEErrors(err)}
	}

	return nil
}

func convertCUEErrors(err error) []Issue {
	var issues []Issue

	for _, e := range errors.Errors(err) {
		issue := Issue{
			Path: strings.Join(e.Path(), "."),
		}

		if pos := errors.Positions(e); len(pos) > 0 {
			issue.File = pos[0].Filename()
			issue.Line = pos[0].Line()
			issue.Column = pos[0].Column()
		}

		format, args := e.Msg()
		issue.Message = fmt.Sprintf(format, args...)

		issues = append(issues, issue)
	}

	if len(issues) == 0 {
		issues = append(issues, Issue{Message: err.Error()})
	}

	return issues
}
