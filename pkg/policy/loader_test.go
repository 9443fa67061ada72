package policy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func TestLoaderRegoHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := `# Replicas must be redundant.
# severity: warning
package efemel.replicas

import rego.v1

deny contains "x" if { false }
`
	if err := afero.WriteFile(fs, "p/replicas.rego", []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	policies, err := NewLoader(fs, zerolog.Nop()).LoadFromPaths([]string{"p/replicas.rego"})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "replicas" {
		t.Errorf("Expected name replicas, got %s", p.Name)
	}
	if p.Description != "Replicas must be redundant." {
		t.Errorf("Expected description, got %q", p.Description)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected warning severity, got %s", p.Severity)
	}
	if !p.Enabled {
		t.Error("Expected loaded policy to be enabled")
	}
}

func TestLoaderDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"p/b.rego":          "package b\ndeny contains \"x\" if { false }",
		"p/nested/a.rego":   "package a\ndeny contains \"x\" if { false }",
		"p/readme.md":       "ignored",
		"p/custom.json":     `{"name": "custom", "rego": "package c\ndeny contains \"x\" if { false }", "severity": "critical"}`,
		"p/bad/broken.json": `{`,
	}
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	policies, err := NewLoader(fs, zerolog.Nop()).LoadFromPaths([]string{"p"})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	names := make([]string, len(policies))
	for i, p := range policies {
		names[i] = p.Name
	}
	want := []string{"b", "custom", "a"}
	if len(names) != len(want) {
		t.Fatalf("Expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, names)
			break
		}
	}

	if policies[1].Severity != SeverityCritical {
		t.Errorf("Expected critical severity from JSON, got %s", policies[1].Severity)
	}
}

func TestLoaderErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := NewLoader(fs, zerolog.Nop())

	if _, err := l.LoadFromPaths([]string{"missing"}); err == nil {
		t.Error("Expected error for missing path")
	}

	if err := afero.WriteFile(fs, "bad.rego", []byte("# severity: urgent\npackage x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LoadFromPaths([]string{"bad.rego"}); err == nil {
		t.Error("Expected error for unknown severity")
	}
}
