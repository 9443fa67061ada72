package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/ringoldsdev/efemel/pkg/document"
)

const serviceSchema = `
#Document: {
	name:     string
	replicas: int & >=1
	tags?: [...string]
}
`

func doc(kv ...any) *document.Map {
	m := document.NewMap(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1])
	}
	return m
}

func TestValidate(t *testing.T) {
	s, err := Compile("service.cue", serviceSchema)
	if err != nil {
		t.Fatalf("Failed to compile schema: %v", err)
	}

	tests := []struct {
		name    string
		doc     *document.Map
		wantErr string
	}{
		{
			name: "valid",
			doc:  doc("name", "api", "replicas", int64(3), "tags", []any{"a", "b"}),
		},
		{
			name:    "out of bound",
			doc:     doc("name", "api", "replicas", int64(0)),
			wantErr: "replicas",
		},
		{
			name:    "wrong type",
			doc:     doc("name", int64(1), "replicas", int64(1)),
			wantErr: "name",
		},
		{
			name:    "missing field",
			doc:     doc("replicas", int64(1)),
			wantErr: "name",
		},
		{
			name:    "closed definition",
			doc:     doc("name", "api", "replicas", int64(1), "extra", true),
			wantErr: "extra",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.doc)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected *ValidationError, got %T (%v)", err, err)
			}
			if len(verr.Issues) == 0 {
				t.Fatal("Expected at least one issue")
			}
			if verr.Schema != "service.cue" {
				t.Errorf("Expected schema service.cue, got %s", verr.Schema)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error to mention %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateRootValueIsOpen(t *testing.T) {
	s, err := Compile("root.cue", `port: int & <65536`)
	if err != nil {
		t.Fatalf("Failed to compile schema: %v", err)
	}

	if err := s.Validate(doc("port", int64(8080), "host", "localhost")); err != nil {
		t.Errorf("Expected undeclared fields to be allowed, got %v", err)
	}

	if err := s.Validate(doc("port", int64(70000))); err == nil {
		t.Error("Expected out of range port to fail")
	}
}

func TestCompileError(t *testing.T) {
	_, err := Compile("broken.cue", `a: {`)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %T (%v)", err, err)
	}
	if verr.Issues[0].File != "broken.cue" {
		t.Errorf("Expected issue in broken.cue, got %q", verr.Issues[0].File)
	}
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "schemas/service.cue", []byte(serviceSchema), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(fs, "schemas/service.cue")
	if err != nil {
		t.Fatalf("Failed to load schema: %v", err)
	}
	if s.Source() != "schemas/service.cue" {
		t.Errorf("Expected source schemas/service.cue, got %s", s.Source())
	}
	if err := s.Validate(doc("name", "api", "replicas", int64(2))); err != nil {
		t.Errorf("Expected valid document, got %v", err)
	}

	if _, err := Load(fs, "schemas/missing.cue"); err == nil {
		t.Error("Expected error for missing schema file")
	}
}
