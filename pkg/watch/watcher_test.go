package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

const waitTimeout = 5 * time.Second

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func startWatcher(t *testing.T, opts Options) <-chan []string {
	t.Helper()
	opts.Logger = zerolog.Nop()
	if opts.Debounce == 0 {
		opts.Debounce = 50 * time.Millisecond
	}
	w, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan []string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(_ context.Context, changed []string) {
			calls <- changed
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case changed := <-calls:
		if changed != nil {
			t.Fatalf("Expected initial call without changes, got %v", changed)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for the initial run")
	}
	return calls
}

func nextBatch(t *testing.T, calls <-chan []string) []string {
	t.Helper()
	select {
	case changed := <-calls:
		return changed
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for a change batch")
		return nil
	}
}

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "app.py")
	db := filepath.Join(dir, "db.py")
	writeFile(t, app, "x = 1\n")

	calls := startWatcher(t, Options{Paths: []string{dir}, Extensions: []string{".py"}, Debounce: 200 * time.Millisecond})

	writeFile(t, app, "x = 2\n")
	writeFile(t, db, "y = 1\n")
	writeFile(t, app, "x = 3\n")

	changed := nextBatch(t, calls)
	if diff := cmp.Diff([]string{app, db}, changed); diff != "" {
		t.Errorf("Changed files mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherFiltersFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "output")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatal(err)
	}
	calls := startWatcher(t, Options{
		Paths:      []string{dir},
		Extensions: []string{".py", ".star"},
		Ignore:     []string{out},
	})

	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(out, "generated.py"), "ignored = True\n")
	hook := filepath.Join(dir, "hooks.star")
	writeFile(t, hook, "def process_data(ctx):\n    pass\n")

	changed := nextBatch(t, calls)
	if diff := cmp.Diff([]string{hook}, changed); diff != "" {
		t.Errorf("Changed files mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	calls := startWatcher(t, Options{Paths: []string{dir}, Extensions: []string{".py"}})

	sub := filepath.Join(dir, "services")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	// Give the watcher time to register the new directory before writing.
	path := filepath.Join(sub, "api.py")
	deadline := time.Now().Add(waitTimeout)
	for {
		writeFile(t, path, "port = 80\n")
		select {
		case changed := <-calls:
			if diff := cmp.Diff([]string{path}, changed); diff != "" {
				t.Errorf("Changed files mismatch (-want +got):\n%s", diff)
			}
			return
		case <-time.After(200 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for a change in the new directory")
		}
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("Expected error without paths")
	}
	if _, err := New(Options{Paths: []string{filepath.Join(t.TempDir(), "missing")}, Logger: zerolog.Nop()}); err == nil {
		t.Error("Expected error when no path can be watched")
	}
}
