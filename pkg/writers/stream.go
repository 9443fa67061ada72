package writers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// StreamWriter writes every document to one stream, each preceded by a
// "==> path <==" header line.
type StreamWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStreamWriter creates a writer that streams documents to out.
func NewStreamWriter(out io.Writer) *StreamWriter {
	return &StreamWriter{out: out}
}

// Prepare implements Writer.
func (w *StreamWriter) Prepare(ctx context.Context) error {
	return nil
}

// Write implements Writer.
func (w *StreamWriter) Write(ctx context.Context, data []byte, path string) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", &WriteError{Op: "write", Path: path, Err: err}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "==> %s <==\n", clean)
	buf.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		buf.WriteByte('\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return "", &WriteError{Op: "write", Path: clean, Err: err}
	}
	return clean, nil
}

// Location implements Writer.
func (w *StreamWriter) Location() string {
	return "-"
}

// Close implements Writer.
func (w *StreamWriter) Close() error {
	return nil
}
