package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ringoldsdev/efemel/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testReport(id string, started time.Time) *engine.Report {
	return &engine.Report{
		RunID:       id,
		Environment: "prod",
		StartedAt:   started,
		Duration:    1500 * time.Millisecond,
		Succeeded: []engine.FileResult{
			{Path: "configs/app.py", Output: "output/app.json", Bytes: 42, Duration: 10 * time.Millisecond},
			{Path: "configs/db.py", Output: "output/db.json", Bytes: 17, Duration: 5 * time.Millisecond},
		},
		Failed: []engine.Failure{
			{
				Path:     "configs/broken.py",
				Kind:     engine.KindParse,
				Stage:    "evaluate",
				Message:  "unexpected token",
				Duration: time.Millisecond,
			},
		},
		Skipped:     []string{"configs/late.py"},
		Evaluations: 5,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "file_results"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestSaveReport(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	report := testReport("run-001", started)
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("failed to save report: %v", err)
	}

	run, err := store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != engine.StatusCancelled {
		t.Errorf("expected status %s, got %s", engine.StatusCancelled, run.Status)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("expected started at %v, got %v", started, run.StartedAt)
	}
	if run.Duration != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %v", run.Duration)
	}
	if run.Succeeded != 2 || run.Failed != 1 || run.Skipped != 1 || run.Evaluations != 5 {
		t.Errorf("unexpected counts: %+v", run)
	}
	if run.Environment != "prod" || run.DryRun {
		t.Errorf("unexpected environment or dry run: %+v", run)
	}
	if run.Error == nil {
		t.Error("expected error message to be recorded")
	}

	files, err := store.ListFiles(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to list files: %v", err)
	}
	want := []*FileRecord{
		{RunID: "run-001", Path: "configs/app.py", Status: FileStatusSucceeded, Output: "output/app.json", Bytes: 42, Duration: 10 * time.Millisecond},
		{RunID: "run-001", Path: "configs/db.py", Status: FileStatusSucceeded, Output: "output/db.json", Bytes: 17, Duration: 5 * time.Millisecond},
		{RunID: "run-001", Path: "configs/broken.py", Status: FileStatusFailed, Kind: string(engine.KindParse), Stage: "evaluate", Message: "unexpected token", Duration: time.Millisecond},
		{RunID: "run-001", Path: "configs/late.py", Status: FileStatusSkipped},
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	if err := store.SaveReport(ctx, report); err == nil {
		t.Error("expected error when saving the same run twice")
	}
}

func TestSaveSuccessfulReport(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	report := &engine.Report{
		RunID:     "run-ok",
		DryRun:    true,
		StartedAt: time.Now(),
		Succeeded: []engine.FileResult{{Path: "a.py", Output: "output/a.json"}},
	}
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("failed to save report: %v", err)
	}

	run, err := store.GetRun(ctx, "run-ok")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != engine.StatusSucceeded || !run.DryRun || run.Error != nil {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		report := testReport(id, base.Add(time.Duration(i)*time.Hour))
		if id == "run-b" {
			report.Environment = "staging"
			report.Failed = nil
			report.Skipped = nil
		}
		if err := store.SaveReport(ctx, report); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	ids := func(runs []*Run) []string {
		out := make([]string, len(runs))
		for i, r := range runs {
			out[i] = r.ID
		}
		return out
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   []string
	}{
		{name: "all newest first", filter: RunFilter{}, want: []string{"run-c", "run-b", "run-a"}},
		{name: "limit", filter: RunFilter{Limit: 2}, want: []string{"run-c", "run-b"}},
		{name: "offset", filter: RunFilter{Limit: 2, Offset: 2}, want: []string{"run-a"}},
		{name: "environment", filter: RunFilter{Environment: "staging"}, want: []string{"run-b"}},
		{name: "status", filter: RunFilter{Status: engine.StatusCancelled}, want: []string{"run-c", "run-a"}},
		{name: "no match", filter: RunFilter{Environment: "qa"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(runs)); diff != "" {
				t.Errorf("runs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeleteAndPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-1", "run-2", "run-3", "run-4"} {
		if err := store.SaveReport(ctx, testReport(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	if err := store.DeleteRun(ctx, "run-4"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-4"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	files, err := store.ListFiles(ctx, "run-4")
	if err != nil {
		t.Fatalf("failed to list files: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected file records to cascade, got %d", len(files))
	}
	if err := store.DeleteRun(ctx, "run-4"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}

	removed, err := store.PruneRuns(ctx, 1)
	if err != nil {
		t.Fatalf("failed to prune runs: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 runs pruned, got %d", removed)
	}
	runs, err := store.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-3" {
		t.Errorf("expected only run-3 to remain, got %v", runs)
	}

	if _, err := store.PruneRuns(ctx, -1); err == nil {
		t.Error("expected error for negative keep")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.SaveReport(ctx, testReport("run-file", time.Now())); err != nil {
		t.Fatalf("failed to save report: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, "run-file"); err != nil {
		t.Errorf("expected run to persist, got %v", err)
	}
}
