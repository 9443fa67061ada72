package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Loader reads policies from .rego and .json files.
type Loader struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(fs afero.Fs, logger zerolog.Logger) *Loader {
	return &Loader{
		fs:     fs,
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(paths []string) ([]Policy, error) {
	var allPolicies []Policy

	for _, path := range paths {
		policies, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		allPolicies = append(allPolicies, policies...)
	}

	l.logger.Debug().
		Int("total", len(allPolicies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return allPolicies, nil
}

func (l *Loader) loadFromPath(path string) ([]Policy, error) {
	info, err := l.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(path)
	}

	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}

	return []Policy{*policy}, nil
}

// loadFromDirectory loads all .rego and .json files below a directory in
// lexical order. Unreadable files are logged and skipped.
func (l *Loader) loadFromDirectory(dirPath string) ([]Policy, error) {
	var policies []Policy

	err := afero.Walk(l.fs, dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isPolicyFile(path) {
			return nil
		}

		policy, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}

		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

func (l *Loader) loadFromFile(filePath string) (*Policy, error) {
	data, err := afero.ReadFile(l.fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policy *Policy

	switch {
	case strings.HasSuffix(filePath, ".rego"):
		policy, err = parseRegoFile(filePath, data)
	case strings.HasSuffix(filePath, ".json"):
		policy, err = parseJSONFile(filePath, data)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Debug().
		Str("path", filePath).
		Str("policy", policy.Name).
		Msg("Policy loaded from file")

	return policy, nil
}

func parseRegoFile(filePath string, data []byte) (*Policy, error) {
	description, severity := extractHeader(string(data))

	policy := &Policy{
		Name:        strings.TrimSuffix(filepath.Base(filePath), ".rego"),
		Description: description,
		Rego:        string(data),
		Severity:    SeverityError,
		Enabled:     true,
		Source:      filePath,
	}

	if severity != "" {
		sev, err := ParseSeverity(severity)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filePath, err)
		}
		policy.Severity = sev
	}

	return policy, nil
}

// parseJSONFile parses a JSON policy definition. Policies defined in JSON are
// enabled unless they say otherwise.
func parseJSONFile(filePath string, data []byte) (*Policy, error) {
	policy := Policy{Enabled: true}
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}

	if policy.Name == "" {
		policy.Name = strings.TrimSuffix(filepath.Base(filePath), ".json")
	}
	if policy.Rego == "" {
		return nil, fmt.Errorf("%s: policy %s has no rego code", filePath, policy.Name)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityError
	} else if _, err := ParseSeverity(string(policy.Severity)); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	policy.Source = filePath

	return &policy, nil
}

// extractHeader reads the leading comment block of a Rego file. A
// "severity: <level>" line sets the severity; other lines form the description.
func extractHeader(content string) (string, string) {
	var description strings.Builder
	var severity string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			// package, imports and comments before them are all header
			if strings.HasPrefix(trimmed, "package ") || strings.HasPrefix(trimmed, "import ") {
				continue
			}
			break
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if rest, ok := strings.CutPrefix(comment, "severity:"); ok {
			severity = strings.TrimSpace(rest)
			continue
		}
		if comment == "" {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}

	return description.String(), severity
}
