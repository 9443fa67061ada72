package hooks

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ringoldsdev/efemel/pkg/document"
)

func recorder(calls *[]string, name string) Func {
	return func(hc *Context) error {
		*calls = append(*calls, name)
		return nil
	}
}

func TestInvokeOrder(t *testing.T) {
	p := NewPipeline()
	var calls []string
	p.Register(OutputFilename, "first", recorder(&calls, "first"), false)
	p.Register(OutputFilename, "before_a", recorder(&calls, "before_a"), true)
	p.Register(OutputFilename, "second", recorder(&calls, "second"), false)
	p.Register(OutputFilename, "before_b", recorder(&calls, "before_b"), true)
	p.Register(ProcessData, "other", recorder(&calls, "other"), false)

	if _, err := p.Invoke(OutputFilename, &Context{}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	want := []string{"before_a", "before_b", "first", "second"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("Call order mismatch (-want +got):\n%s", diff)
	}
}

func TestInvokeStopsOnError(t *testing.T) {
	p := NewPipeline()
	var calls []string
	boom := errors.New("boom")
	p.Register(OutputFilename, "ok", recorder(&calls, "ok"), false)
	p.Register(OutputFilename, "fails", func(*Context) error { return boom }, false)
	p.Register(OutputFilename, "never", recorder(&calls, "never"), false)

	_, err := p.Invoke(OutputFilename, &Context{})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Expected ExecutionError, got %v", err)
	}
	if execErr.Hook != "fails" || execErr.Point != OutputFilename {
		t.Errorf("Expected hook fails at %s, got %s at %s", OutputFilename, execErr.Hook, execErr.Point)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected error to wrap the hook error, got %v", err)
	}
	if diff := cmp.Diff([]string{"ok"}, calls); diff != "" {
		t.Errorf("Call mismatch (-want +got):\n%s", diff)
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	p := NewPipeline()
	p.Register(ProcessData, "panics", func(hc *Context) error {
		var m map[string]int
		m["x"] = 1
		return nil
	}, false)

	_, err := p.Invoke(ProcessData, &Context{})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Expected ExecutionError, got %v", err)
	}
}

func TestInvokeWithoutHooks(t *testing.T) {
	p := NewPipeline()
	hc := &Context{OutputPath: "a.json"}
	got, err := p.Invoke(OutputFilename, hc)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != hc || got.OutputPath != "a.json" {
		t.Errorf("Expected the context to be returned unchanged, got %+v", got)
	}
}

func TestRegistrationManagement(t *testing.T) {
	p := NewPipeline()
	noop := func(*Context) error { return nil }
	p.Register(OutputFilename, "rename", noop, false)
	p.Register(OutputFilename, "before_prefix", noop, true)
	p.Register(ProcessData, "strip", noop, false)

	want := []Registration{
		{Point: OutputFilename, Name: "before_prefix", Before: true},
		{Point: OutputFilename, Name: "rename"},
		{Point: ProcessData, Name: "strip"},
	}
	if diff := cmp.Diff(want, p.List()); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	if got := p.Count(OutputFilename); got != 2 {
		t.Errorf("Expected 2 output_filename hooks, got %d", got)
	}
	if !p.Remove(OutputFilename, "rename") {
		t.Error("Expected Remove to find rename")
	}
	if p.Remove(OutputFilename, "rename") {
		t.Error("Expected second Remove to report nothing removed")
	}
	if got := p.Count(OutputFilename); got != 1 {
		t.Errorf("Expected 1 output_filename hook, got %d", got)
	}

	p.Clear(ProcessData)
	if diff := cmp.Diff([]string{OutputFilename}, p.Points()); diff != "" {
		t.Errorf("Points mismatch (-want +got):\n%s", diff)
	}
	p.Clear()
	if got := len(p.List()); got != 0 {
		t.Errorf("Expected no registrations, got %d", got)
	}
}

func TestFlattenOutputPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"app.json", "app.json"},
		{"services/api/app.json", "services_api_app.json"},
		{"./services/app.json", "services_app.json"},
		{filepath.Join("deploy", "prod", "app.json"), "deploy_prod_app.json"},
	}
	for _, tt := range tests {
		hc := &Context{OutputPath: tt.in}
		if err := FlattenOutputPath(hc); err != nil {
			t.Fatalf("FlattenOutputPath failed: %v", err)
		}
		if hc.OutputPath != tt.want {
			t.Errorf("FlattenOutputPath(%q): expected %q, got %q", tt.in, tt.want, hc.OutputPath)
		}
	}
}

func TestRegisterBuiltin(t *testing.T) {
	p := NewPipeline()
	if err := p.RegisterBuiltin("flatten_output_path"); err != nil {
		t.Fatalf("RegisterBuiltin failed: %v", err)
	}
	if err := p.RegisterBuiltin("missing"); err == nil {
		t.Error("Expected an error for an unknown builtin")
	}
	hc, err := p.Invoke(OutputFilename, &Context{OutputPath: "a/b.json"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if hc.OutputPath != "a_b.json" {
		t.Errorf("Expected a_b.json, got %s", hc.OutputPath)
	}
}

func TestContextClone(t *testing.T) {
	data := document.NewMap(1)
	data.Set("nested", []any{int64(1)})
	hc := &Context{
		InputPath: "app.py",
		Data:      data,
		Fields:    map[string]any{"tags": []any{"a"}},
	}

	clone, err := hc.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	clone.Data.Set("extra", true)
	clone.Fields["tags"].([]any)[0] = "changed"

	if hc.Data.Has("extra") {
		t.Error("Expected original data to be unchanged")
	}
	if got := hc.Fields["tags"].([]any)[0]; got != "a" {
		t.Errorf("Expected original field a, got %v", got)
	}
	if clone.InputPath != "app.py" {
		t.Errorf("Expected input path app.py, got %s", clone.InputPath)
	}
}
