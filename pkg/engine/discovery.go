package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// Discoverer lists entry files matching a glob pattern.
type Discoverer struct {
	fs        afero.Fs
	extension string
	exclude   []string
}

// NewDiscoverer creates a discoverer for scripts with the given extension.
// Files whose path relative to the base directory matches an exclude pattern
// are skipped.
func NewDiscoverer(fs afero.Fs, extension string, exclude []string) *Discoverer {
	return &Discoverer{fs: fs, extension: extension, exclude: exclude}
}

// List returns the files under baseDir matching pattern, in lexical order.
// Package initializers are never entry files.
func (d *Discoverer) List(pattern, baseDir string) ([]string, error) {
	pattern = filepath.ToSlash(pattern)
	if !strings.HasSuffix(pattern, d.extension) {
		return nil, fmt.Errorf("pattern %q must end with %s", pattern, d.extension)
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	for _, ex := range d.exclude {
		if !doublestar.ValidatePattern(filepath.ToSlash(ex)) {
			return nil, fmt.Errorf("invalid exclude pattern %q", ex)
		}
	}
	if baseDir == "" {
		baseDir = "."
	}

	root, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", baseDir, err)
	}
	fsys := afero.NewIOFS(afero.NewBasePathFs(d.fs, root))

	matches, err := doublestar.Glob(fsys, strings.TrimPrefix(pattern, "./"), doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to match %q: %w", pattern, err)
	}

	var files []string
	for _, rel := range matches {
		if filepath.Base(rel) == "__init__"+d.extension || d.excluded(rel) {
			continue
		}
		files = append(files, filepath.Join(baseDir, filepath.FromSlash(rel)))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoEntryFiles, pattern, baseDir)
	}
	sort.Strings(files)
	return files, nil
}

// Overrides returns the environment-specific modules for env found below
// dirs, in lexical order. Missing directories are ignored.
func (d *Discoverer) Overrides(env string, dirs ...string) ([]string, error) {
	if env == "" {
		return nil, nil
	}
	pattern := "**/*." + env + d.extension
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid environment name %q", env)
	}

	seen := make(map[string]bool)
	var found []string
	for _, dir := range dirs {
		root, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
		}
		if ok, _ := afero.DirExists(d.fs, root); !ok {
			continue
		}
		fsys := afero.NewIOFS(afero.NewBasePathFs(d.fs, root))
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", dir, err)
		}
		for _, rel := range matches {
			path := filepath.Join(root, filepath.FromSlash(rel))
			if !seen[path] {
				seen[path] = true
				found = append(found, path)
			}
		}
	}
	sort.Strings(found)
	return found, nil
}

func (d *Discoverer) excluded(rel string) bool {
	for _, ex := range d.exclude {
		if ok, _ := doublestar.Match(filepath.ToSlash(ex), rel); ok {
			return true
		}
	}
	return false
}
