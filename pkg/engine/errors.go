package engine

import (
	"errors"
	"fmt"

	"github.com/ringoldsdev/efemel/pkg/document"
	"github.com/ringoldsdev/efemel/pkg/hooks"
	"github.com/ringoldsdev/efemel/pkg/modules"
	"github.com/ringoldsdev/efemel/pkg/policy"
	"github.com/ringoldsdev/efemel/pkg/schema"
	"github.com/ringoldsdev/efemel/pkg/script"
)

// Kind classifies a per-file failure.
type Kind string

const (
	KindParse           Kind = "ParseError"
	KindName            Kind = "NameError"
	KindType            Kind = "TypeError"
	KindValue           Kind = "ValueError"
	KindImport          Kind = "ImportError"
	KindAttribute       Kind = "AttributeError"
	KindModuleNotFound  Kind = "ModuleNotFoundError"
	KindCircularImport  Kind = "CircularImportError"
	KindUnwrapType      Kind = "UnwrapTypeError"
	KindHookExecution   Kind = "HookExecutionError"
	KindSchema          Kind = "SchemaError"
	KindPolicyViolation Kind = "PolicyViolation"
	KindRead            Kind = "ReadError"
	KindWrite           Kind = "WriteError"
	KindSerialize       Kind = "SerializeError"
	KindInternal        Kind = "InternalError"
)

// Pipeline stages, recorded on FileError.
const (
	StageEvaluate  = "evaluate"
	StageSelect    = "select"
	StageHooks     = "hooks"
	StageSchema    = "schema"
	StagePolicy    = "policy"
	StageSerialize = "serialize"
	StageWrite     = "write"
)

// FileError is a classified failure of one entry file.
type FileError struct {
	// Kind is the error classification.
	Kind Kind `json:"kind"`

	// Path is the entry file.
	Path string `json:"path"`

	// Stage is the pipeline stage that failed.
	Stage string `json:"stage,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// NewFileError classifies err raised while processing path.
func NewFileError(path string, err error) *FileError {
	return &FileError{Kind: Classify(err), Path: path, Err: err}
}

// WithStage records the failing stage.
func (e *FileError) WithStage(stage string) *FileError {
	e.Stage = stage
	return e
}

// WithKind overrides the classification.
func (e *FileError) WithKind(kind Kind) *FileError {
	e.Kind = kind
	return e
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileError) Unwrap() error {
	return e.Err
}

// Is matches another *FileError of the same kind.
func (e *FileError) Is(target error) bool {
	t, ok := target.(*FileError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Classify maps an error to its Kind. Errors from imported modules keep the
// kind of their cause.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var (
		fileErr   *FileError
		hookErr   *hooks.ExecutionError
		circular  *modules.CircularImportError
		notFound  *modules.ModuleNotFoundError
		missing   *modules.NotFoundError
		parseErr  *script.ParseError
		nameErr   *script.NameError
		typeErr   *script.TypeError
		valueErr  *script.ValueError
		importErr *script.ImportError
		attrErr   *script.AttributeError
		unwrapErr *document.UnwrapTypeError
		schemaErr *schema.ValidationError
		violation *policy.ViolationError
	)
	switch {
	case errors.As(err, &fileErr):
		return fileErr.Kind
	case errors.As(err, &hookErr):
		return KindHookExecution
	case errors.As(err, &circular):
		return KindCircularImport
	case errors.As(err, &notFound):
		return KindModuleNotFound
	case errors.As(err, &missing):
		return KindRead
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &nameErr):
		return KindName
	case errors.As(err, &typeErr):
		return KindType
	case errors.As(err, &valueErr):
		return KindValue
	case errors.As(err, &importErr):
		return KindImport
	case errors.As(err, &attrErr):
		return KindAttribute
	case errors.As(err, &unwrapErr):
		return KindUnwrapType
	case errors.As(err, &schemaErr):
		return KindSchema
	case errors.As(err, &violation):
		return KindPolicyViolation
	}
	return KindInternal
}

// IsKind reports whether err is a FileError of kind.
func IsKind(err error, kind Kind) bool {
	var e *FileError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrNoEntryFiles is returned when discovery matches nothing.
var ErrNoEntryFiles = errors.New("no entry files matched")

// ErrNoOverrides is returned by strict environment checks when an
// environment has no override modules.
var ErrNoOverrides = errors.New("no override modules for environment")
