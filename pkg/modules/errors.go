package modules

import (
	"fmt"
	"strings"
)

// ModuleNotFoundError is returned when neither the environment-specific nor the
// default file exists for an import.
type ModuleNotFoundError struct {
	Module      string
	Importer    string
	Environment string
	Tried       []string
}

func (e *ModuleNotFoundError) Error() string {
	msg := fmt.Sprintf("no module named '%s' (imported from %s", e.Module, e.Importer)
	if e.Environment != "" {
		msg += fmt.Sprintf(", environment %q", e.Environment)
	}
	return msg + "; tried " + strings.Join(e.Tried, ", ") + ")"
}

// CircularImportError is returned when a module is referenced while its own
// evaluation is still in progress. Chain lists the resolved paths from the
// entry file to the repeated module.
type CircularImportError struct {
	Chain []string
}

func (e *CircularImportError) Error() string {
	return "circular import detected: " + strings.Join(e.Chain, " -> ")
}

// NotFoundError is returned when a source file does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("source file not found: %s", e.Path)
}
