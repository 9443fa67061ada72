package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/ringoldsdev/efemel/pkg/document"
)

const replicasPolicy = `package efemel.replicas

import rego.v1

# Production services need redundancy.
deny contains msg if {
	input.environment == "prod"
	input.document.replicas < 2
	msg := sprintf("%s: prod needs at least 2 replicas", [input.path])
}
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e
}

func doc(kv ...any) *document.Map {
	m := document.NewMap(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1])
	}
	return m
}

func TestNewEngineBuiltinsDisabled(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) != len(BuiltinPolicies()) {
		t.Fatalf("Expected %d built-in policies, got %d", len(BuiltinPolicies()), len(policies))
	}
	for _, p := range policies {
		if p.Enabled {
			t.Errorf("Expected built-in policy %s to be disabled", p.Name)
		}
		if !p.Builtin {
			t.Errorf("Expected policy %s to be marked built-in", p.Name)
		}
	}
	if e.Enabled() != 0 {
		t.Errorf("Expected 0 enabled policies, got %d", e.Enabled())
	}

	if err := e.Check(context.Background(), "empty.py", document.NewMap(0)); err != nil {
		t.Errorf("Expected no violations with only disabled policies, got %v", err)
	}
}

func TestCheckEnvironment(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Add(ctx, Policy{Name: "replicas", Rego: replicasPolicy, Severity: SeverityError, Enabled: true}); err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	d := doc("name", "api", "replicas", int64(1))

	if err := e.Check(ctx, "api.py", d); err != nil {
		t.Errorf("Expected no violation without environment, got %v", err)
	}

	e.SetEnvironment("prod")
	err := e.Check(ctx, "api.py", d)

	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ViolationError, got %T (%v)", err, err)
	}

	want := []Violation{{
		Policy:   "replicas",
		Path:     "api.py",
		Message:  "api.py: prod needs at least 2 replicas",
		Severity: SeverityError,
	}}
	if diff := cmp.Diff(want, verr.Violations); diff != "" {
		t.Errorf("Violations mismatch (-want +got):\n%s", diff)
	}

	if err := e.Check(ctx, "api.py", doc("replicas", int64(3))); err != nil {
		t.Errorf("Expected no violation for 3 replicas, got %v", err)
	}
}

func TestCheckWarningsDoNotBlock(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.EnablePolicy("no-null-values"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	d := doc("name", "api", "owner", nil)

	violations, err := e.Evaluate(ctx, "api.py", d)
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("Expected 1 violation, got %d", len(violations))
	}
	if violations[0].Severity != SeverityWarning {
		t.Errorf("Expected warning severity, got %s", violations[0].Severity)
	}
	if violations[0].Details["key"] != "owner" {
		t.Errorf("Expected key detail owner, got %v", violations[0].Details["key"])
	}

	if err := e.Check(ctx, "api.py", d); err != nil {
		t.Errorf("Expected warnings not to block, got %v", err)
	}
}

func TestBuiltinPlaintextSecrets(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.EnablePolicy("no-plaintext-secrets"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	db := document.NewMap(2)
	db.Set("host", "localhost")
	db.Set("password", "hunter2")

	err := e.Check(ctx, "db.py", doc("database", db, "api_token", "${API_TOKEN}"))

	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ViolationError, got %T (%v)", err, err)
	}
	if len(verr.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %d: %v", len(verr.Violations), verr.Violations)
	}
	if !strings.Contains(verr.Violations[0].Message, "database.password") {
		t.Errorf("Expected message to name database.password, got %q", verr.Violations[0].Message)
	}
}

func TestBuiltinNonEmptyDocument(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.EnablePolicy("non-empty-document"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	if err := e.Check(ctx, "empty.py", document.NewMap(0)); err == nil {
		t.Error("Expected empty document to be denied")
	}
	if err := e.Check(ctx, "full.py", doc("a", int64(1))); err != nil {
		t.Errorf("Expected non-empty document to pass, got %v", err)
	}
}

func TestViolationObjectSeverityOverride(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rego := `package efemel.override

import rego.v1

deny contains {"message": "soft", "severity": "info"} if {
	input.document.soft
}
`
	if err := e.Add(ctx, Policy{Name: "override", Rego: rego, Severity: SeverityError, Enabled: true}); err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	if err := e.Check(ctx, "x.py", doc("soft", true)); err != nil {
		t.Errorf("Expected info severity not to block, got %v", err)
	}
}

func TestAddInvalidPolicy(t *testing.T) {
	e := newTestEngine(t)

	err := e.Add(context.Background(), Policy{Name: "broken", Rego: "package broken\ndeny contains msg if {", Enabled: true})
	if err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := e.GetPolicy("broken"); err == nil {
		t.Error("Expected broken policy not to be registered")
	}
}

func TestEnableUnknownPolicy(t *testing.T) {
	e := newTestEngine(t)
	if err := e.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestLoadAndReloadPolicies(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	if err := afero.WriteFile(fs, "policies/replicas.rego", []byte(replicasPolicy), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t)
	e.SetEnvironment("prod")
	if err := e.EnablePolicy("no-null-values"); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadPolicies(ctx, fs, []string{"policies"}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	p, err := e.GetPolicy("replicas")
	if err != nil {
		t.Fatalf("Expected replicas policy, got %v", err)
	}
	if !p.Enabled || p.Severity != SeverityError || p.Source != "policies/replicas.rego" {
		t.Errorf("Unexpected policy: %+v", p)
	}

	if err := e.Check(ctx, "api.py", doc("replicas", int64(1))); err == nil {
		t.Error("Expected violation before reload")
	}

	if err := fs.Remove("policies/replicas.rego"); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadPolicies(ctx, fs, []string{"policies"}); err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}

	if _, err := e.GetPolicy("replicas"); err == nil {
		t.Error("Expected replicas policy to be gone after reload")
	}
	nulls, err := e.GetPolicy("no-null-values")
	if err != nil || !nulls.Enabled {
		t.Errorf("Expected built-in policy to stay enabled, got %+v, %v", nulls, err)
	}
}
