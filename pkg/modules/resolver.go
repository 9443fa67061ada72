package modules

import (
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/ringoldsdev/efemel/pkg/script"
)

// DefaultExtension is the file extension of configuration scripts.
const DefaultExtension = ".py"

// Resolution is the outcome of resolving an import.
type Resolution struct {
	Path string
	// Override is true when an environment-specific file was chosen.
	Override bool
}

// Resolver maps import references to script files.
type Resolver struct {
	fs         afero.Fs
	extension  string
	searchPath []string
}

// NewResolver creates a resolver. Absolute (non-dotted) imports are looked up
// next to the importing file first and then in each search path directory.
func NewResolver(fs afero.Fs, extension string, searchPath []string) *Resolver {
	if extension == "" {
		extension = DefaultExtension
	}
	paths := make([]string, 0, len(searchPath))
	for _, p := range searchPath {
		paths = append(paths, filepath.Clean(p))
	}
	return &Resolver{fs: fs, extension: extension, searchPath: paths}
}

// Extension returns the script file extension.
func (r *Resolver) Extension() string { return r.extension }

// Resolve finds the file for ref imported from the script at importer. In each
// candidate directory <module>.<env><ext> is tried before <module><ext>, then
// the package form <module>/__init__<ext>.
func (r *Resolver) Resolve(ref script.ModuleRef, importer, env string) (Resolution, error) {
	var tried []string
	for _, dir := range r.candidateDirs(ref, importer) {
		base := filepath.Join(append([]string{dir}, ref.Parts...)...)
		for _, c := range r.candidates(base, env) {
			tried = append(tried, c.Path)
			if r.isFile(c.Path) {
				return c, nil
			}
		}
	}
	return Resolution{}, &ModuleNotFoundError{
		Module:      ref.String(),
		Importer:    importer,
		Environment: env,
		Tried:       tried,
	}
}

func (r *Resolver) candidateDirs(ref script.ModuleRef, importer string) []string {
	dir := filepath.Dir(importer)
	if ref.Relative() {
		for i := 1; i < ref.Dots; i++ {
			dir = filepath.Dir(dir)
		}
		return []string{dir}
	}

	dirs := []string{dir}
	seen := map[string]bool{dir: true}
	for _, p := range r.searchPath {
		if !seen[p] {
			seen[p] = true
			dirs = append(dirs, p)
		}
	}
	return dirs
}

func (r *Resolver) candidates(base, env string) []Resolution {
	var out []Resolution
	if env != "" {
		out = append(out, Resolution{Path: base + "." + env + r.extension, Override: true})
	}
	out = append(out, Resolution{Path: base + r.extension})
	if env != "" {
		out = append(out, Resolution{Path: filepath.Join(base, "__init__."+env+r.extension), Override: true})
	}
	out = append(out, Resolution{Path: filepath.Join(base, "__init__"+r.extension)})
	return out
}

func (r *Resolver) isFile(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && !info.IsDir()
}
