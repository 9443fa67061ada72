package writers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalWriter writes documents to a directory. Files are written to a
// temporary name and renamed into place.
type LocalWriter struct {
	fs   afero.Fs
	root string
}

// NewLocalWriter creates a writer rooted at dir.
func NewLocalWriter(fs afero.Fs, dir string) *LocalWriter {
	if dir == "" {
		dir = "."
	}
	return &LocalWriter{fs: fs, root: filepath.Clean(dir)}
}

// Prepare creates the output directory.
func (w *LocalWriter) Prepare(ctx context.Context) error {
	if err := w.fs.MkdirAll(w.root, 0o755); err != nil {
		return &WriteError{Op: "prepare", Path: w.root, Err: err}
	}
	return nil
}

// Write stores data below the output directory.
func (w *LocalWriter) Write(ctx context.Context, data []byte, path string) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", &WriteError{Op: "write", Path: path, Err: err}
	}

	target := filepath.Join(w.root, filepath.FromSlash(clean))
	dir := filepath.Dir(target)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return "", &WriteError{Op: "write", Path: target, Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	tmp, err := afero.TempFile(w.fs, dir, "."+filepath.Base(target)+"-*")
	if err != nil {
		return "", &WriteError{Op: "write", Path: target, Err: err}
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = w.fs.Chmod(tmpName, 0o644)
	}
	if werr == nil {
		werr = w.fs.Rename(tmpName, target)
	}
	if werr != nil {
		_ = w.fs.Remove(tmpName)
		return "", &WriteError{Op: "write", Path: target, Err: werr}
	}

	return target, nil
}

// Location returns the output directory.
func (w *LocalWriter) Location() string {
	return w.root
}

// Close implements Writer.
func (w *LocalWriter) Close() error {
	return nil
}
