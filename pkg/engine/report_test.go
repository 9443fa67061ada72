package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestReportStatus(t *testing.T) {
	ok := FileResult{Path: "a.py", Output: "out/a.json"}
	fail := Failure{Path: "b.py", Kind: KindName, Message: "name 'x' is not defined"}

	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{"empty", Report{}, StatusSucceeded},
		{"succeeded", Report{Succeeded: []FileResult{ok}}, StatusSucceeded},
		{"partial", Report{Succeeded: []FileResult{ok}, Failed: []Failure{fail}}, StatusPartial},
		{"failed", Report{Failed: []Failure{fail}}, StatusFailed},
		{"cancelled", Report{Succeeded: []FileResult{ok}, Skipped: []string{"c.py"}}, StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.Status(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestReportErr(t *testing.T) {
	r := &Report{Succeeded: []FileResult{{Path: "a.py"}}}
	if err := r.Err(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	cause := errors.New("disk full")
	r.Failed = []Failure{
		{Path: "b.py", Kind: KindWrite, Err: NewFileError("b.py", cause).WithKind(KindWrite)},
		{Path: "c.py", Kind: KindParse, Message: "unexpected EOF"},
	}
	err := r.Err()
	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected aggregated error to wrap the write cause")
	}
	if !strings.Contains(err.Error(), "c.py: ParseError: unexpected EOF") {
		t.Errorf("Expected message for c.py, got %v", err)
	}
}

func TestReportTree(t *testing.T) {
	r := &Report{
		RunID:     "run-1",
		DryRun:    true,
		Succeeded: []FileResult{{Path: "a.py", Output: "dist/a.json"}},
		Failed:    []Failure{{Path: "b.py", Kind: KindName, Message: "boom"}},
		Skipped:   []string{"c.py"},
	}

	tree := r.Tree()
	for _, want := range []string{
		"run run-1: cancelled (3 files",
		"dry run (1)",
		"a.py -> dist/a.json",
		"failed (1)",
		"b.py [NameError] boom",
		"skipped (1)",
		"c.py",
	} {
		if !strings.Contains(tree, want) {
			t.Errorf("Expected tree to contain %q, got:\n%s", want, tree)
		}
	}
}
