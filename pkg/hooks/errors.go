package hooks

import "fmt"

// ExecutionError wraps an error raised by a hook function.
type ExecutionError struct {
	Point string
	Hook  string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("hook %s (%s) failed: %v", e.Hook, e.Point, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
