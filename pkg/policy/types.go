package policy

import (
	"fmt"
	"strings"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that fail the document.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that fail the document.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity fails the document.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// ParseSeverity parses a severity name. Unknown names are reported as an error.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with efemel.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation represents a single deny result.
type Violation struct {
	Policy   string         `json:"policy"`
	Path     string         `json:"path"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Details  map[string]any `json:"details,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s", v.Policy, v.Message)
}

// ViolationError is returned by Check when blocking violations were found.
type ViolationError struct {
	Path       string
	Violations []Violation
}

func (e *ViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("policy violations in %s: %s", e.Path, strings.Join(parts, "; "))
}

// Input is the document passed to policies as input.
type Input struct {
	Path        string         `json:"path"`
	Environment string         `json:"environment"`
	Document    map[string]any `json:"document"`
}
