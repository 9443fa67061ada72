package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is used when Options.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Paths are files or directories to watch. Directories are watched
	// recursively.
	Paths []string

	// Extensions limits the files whose changes trigger a run, e.g. ".py".
	// Empty means every file.
	Extensions []string

	// Ignore lists directories whose contents never trigger a run, such as
	// the output directory.
	Ignore []string

	Debounce time.Duration
	Logger   zerolog.Logger
}

// Func is called with the changed files of a batch, sorted. The first call
// has no changed files.
type Func func(ctx context.Context, changed []string)

// Watcher watches source paths.
type Watcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	ignore  []string
	logger  zerolog.Logger
}

// New creates a watcher and registers opts.Paths.
func New(opts Options) (*Watcher, error) {
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("no paths to watch")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher: watcher,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "watch").Logger(),
	}
	for _, dir := range opts.Ignore {
		if abs, err := filepath.Abs(dir); err == nil {
			w.ignore = append(w.ignore, abs)
		}
	}

	watched := 0
	for _, path := range opts.Paths {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("failed to stat path for watching")
			continue
		}
		if info.IsDir() {
			err = w.watchDirectory(path)
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("failed to watch path")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return nil, fmt.Errorf("none of the paths could be watched")
	}

	w.logger.Info().Int("paths", watched).Dur("debounce", opts.Debounce).Msg("watching for changes")
	return w, nil
}

// watchDirectory adds dir and its subdirectories to the watcher.
func (w *Watcher) watchDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) || (path != dir && strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range w.ignore {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) relevant(path string) bool {
	if w.ignored(path) {
		return false
	}
	if len(w.opts.Extensions) == 0 {
		return true
	}
	for _, ext := range w.opts.Extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Run calls fn once and then after every debounced batch of changes until
// ctx is cancelled. Calls never overlap; changes arriving while fn runs are
// delivered in the next batch. Run closes the watcher before returning.
func (w *Watcher) Run(ctx context.Context, fn Func) error {
	defer w.watcher.Close()

	fn(ctx, nil)

	timer := time.NewTimer(w.opts.Debounce)
	stopTimer(timer)
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event, pending, timer)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("watcher error")

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			sort.Strings(changed)
			clear(pending)

			w.logger.Info().Strs("changed", changed).Msg("change detected, re-running")
			fn(ctx, changed)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, pending map[string]struct{}, timer *time.Timer) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.ignored(event.Name) {
			if err := w.watchDirectory(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
			}
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !w.relevant(event.Name) {
		return
	}

	w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("source file changed")
	pending[event.Name] = struct{}{}

	stopTimer(timer)
	timer.Reset(w.opts.Debounce)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// Close stops watching without running.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
