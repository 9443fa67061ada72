package writers

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Writer stores documents below an output root.
type Writer interface {
	// Prepare creates the output root. It is called once before a run.
	Prepare(ctx context.Context) error

	// Write stores data at the slash-separated path relative to the output
	// root and returns its final location.
	Write(ctx context.Context, data []byte, path string) (string, error)

	// Location describes the output root.
	Location() string

	// Close releases connections held by the writer.
	Close() error
}

// WriteError represents a failed writer operation.
type WriteError struct {
	// Op is the operation that failed (e.g., "prepare", "write", "connect")
	Op string

	// Path is the output path, if any.
	Path string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool
}

func (e *WriteError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed.
func (e *WriteError) Temporary() bool {
	return e.IsTemporary
}

// Options configures writers created by New.
type Options struct {
	// Fs backs local writers. Defaults to the OS filesystem.
	Fs afero.Fs

	// Stdout receives documents when the output is "-".
	Stdout io.Writer

	// SFTP holds defaults for sftp:// outputs. Host, port, user and root are
	// taken from the URL.
	SFTP SFTPConfig

	// S3 holds defaults for s3:// outputs. Bucket and prefix are taken from
	// the URL; endpoint, region and insecure may be set as query parameters.
	S3 S3Config

	Logger zerolog.Logger
}

// New creates the writer for an output location.
func New(out string, opts Options) (Writer, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	switch {
	case out == "":
		return NewLocalWriter(opts.Fs, "."), nil
	case out == "-":
		return NewStreamWriter(opts.Stdout), nil
	case !strings.Contains(out, "://"):
		return NewLocalWriter(opts.Fs, out), nil
	}

	u, err := url.Parse(out)
	if err != nil {
		return nil, fmt.Errorf("invalid output location %q: %w", out, err)
	}

	switch u.Scheme {
	case "file":
		return NewLocalWriter(opts.Fs, filepath.FromSlash(u.Path)), nil

	case "sftp":
		cfg := opts.SFTP
		cfg.Host = u.Hostname()
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid port in %q: %w", out, err)
			}
			cfg.Port = port
		}
		if u.User != nil {
			cfg.User = u.User.Username()
			if pw, ok := u.User.Password(); ok {
				cfg.Password = pw
				cfg.AuthMethod = AuthMethodPassword
			}
		}
		cfg.Root = u.Path
		return NewSFTPWriter(cfg, opts.Logger)

	case "s3":
		cfg := opts.S3
		cfg.Bucket = u.Host
		cfg.Prefix = strings.Trim(u.Path, "/")
		q := u.Query()
		if v := q.Get("endpoint"); v != "" {
			cfg.Endpoint = v
		}
		if v := q.Get("region"); v != "" {
			cfg.Region = v
		}
		if v := q.Get("insecure"); v != "" {
			insecure, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid insecure flag in %q: %w", out, err)
			}
			cfg.UseSSL = !insecure
		}
		return NewS3Writer(cfg, opts.Logger)
	}

	return nil, fmt.Errorf("unsupported output scheme %q", u.Scheme)
}

// CleanPath validates an output path and returns it in clean slash form.
func CleanPath(p string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	switch {
	case p == "" || clean == ".":
		return "", fmt.Errorf("empty output path")
	case path.IsAbs(clean) || filepath.IsAbs(p):
		return "", fmt.Errorf("output path %q must be relative", p)
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return "", fmt.Errorf("output path %q escapes the output root", p)
	}
	return clean, nil
}
