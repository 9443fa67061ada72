package modules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/ringoldsdev/efemel/pkg/document"
	"github.com/ringoldsdev/efemel/pkg/script"
	"github.com/ringoldsdev/efemel/pkg/telemetry"
)

const defaultProgramCacheSize = 512

// Recorder receives evaluation measurements. telemetry.Metrics implements it.
type Recorder interface {
	RecordModuleEvaluation(environment string, duration time.Duration, err error)
}

// Options configures an Engine.
type Options struct {
	// Fs is the filesystem scripts are read from. Defaults to the OS filesystem.
	Fs afero.Fs

	// Extension is the script file extension, ".py" by default.
	Extension string

	// SearchPath lists directories searched for non-relative imports after the
	// importing file's own directory.
	SearchPath []string

	// ProgramCacheSize bounds the number of parsed programs kept between runs.
	ProgramCacheSize int

	Logger   zerolog.Logger
	Tracer   *telemetry.Tracer
	Recorder Recorder
}

type programKey struct {
	path    string
	size    int64
	modTime time.Time
}

// Engine evaluates entry scripts and their imports. Evaluation results are
// memoized per run; parsed programs are reused across runs while the source
// file is unchanged.
type Engine struct {
	fs       afero.Fs
	resolver *Resolver
	programs *lru.Cache[programKey, *script.Program]
	logger   zerolog.Logger
	tracer   *telemetry.Tracer
	recorder Recorder

	mu    sync.RWMutex
	cache *Cache

	evaluations atomic.Int64
	overrides   atomic.Int64
}

// NewEngine creates an engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.ProgramCacheSize <= 0 {
		opts.ProgramCacheSize = defaultProgramCacheSize
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NopTracer()
	}
	programs, err := lru.New[programKey, *script.Program](opts.ProgramCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}

	return &Engine{
		fs:       opts.Fs,
		resolver: NewResolver(opts.Fs, opts.Extension, opts.SearchPath),
		programs: programs,
		logger:   opts.Logger.With().Str("component", "modules").Logger(),
		tracer:   opts.Tracer,
		recorder: opts.Recorder,
		cache:    NewCache(),
	}, nil
}

// Reset discards all memoized evaluations. Call it at the start of each run.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.cache = NewCache()
	e.mu.Unlock()
	e.evaluations.Store(0)
	e.overrides.Store(0)
}

// Cache returns the cache of the current run.
func (e *Engine) Cache() *Cache {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache
}

// Evaluations returns the number of module evaluations performed this run.
func (e *Engine) Evaluations() int64 { return e.evaluations.Load() }

// Overrides returns how many imports this run resolved to an
// environment-specific file.
func (e *Engine) Overrides() int64 { return e.overrides.Load() }

// Evaluate evaluates the entry script at path under env and returns its
// document. The entry file itself is never redirected; env only affects
// imports. The returned document is shared with the cache and must not be
// modified.
func (e *Engine) Evaluate(ctx context.Context, path, env string, params *document.Map) (*document.Map, error) {
	module, err := e.EvaluateModule(ctx, path, env, params)
	if err != nil {
		return nil, err
	}
	return document.Extract(module.Bindings), nil
}

// EvaluateModule is like Evaluate but returns all bindings.
func (e *Engine) EvaluateModule(ctx context.Context, path, env string, params *document.Map) (*script.Module, error) {
	if params == nil {
		params = document.NewMap(0)
	}
	cache := e.Cache()
	return e.load(ctx, cache, cache.NewChain(), filepath.Clean(path), env, params)
}

func (e *Engine) load(ctx context.Context, cache *Cache, chain *Chain, path, env string, params *document.Map) (*script.Module, error) {
	return cache.GetOrEvaluate(chain, Key{Path: path, Environment: env}, func() (*script.Module, error) {
		ctx, span := e.tracer.StartModuleSpan(ctx, path, env)
		defer span.End()

		start := time.Now()
		e.evaluations.Add(1)
		module, err := e.exec(ctx, cache, chain, path, env, params)
		duration := time.Since(start)

		if e.recorder != nil {
			e.recorder.RecordModuleEvaluation(env, duration, err)
		}
		if err != nil {
			telemetry.RecordError(span, err)
			e.logger.Debug().Err(err).Str("path", path).Str("environment", env).Msg("module evaluation failed")
			return nil, err
		}
		telemetry.RecordSuccess(span)
		return module, nil
	})
}

func (e *Engine) exec(ctx context.Context, cache *Cache, chain *Chain, path, env string, params *document.Map) (*script.Module, error) {
	prog, err := e.program(path)
	if err != nil {
		return nil, err
	}

	importer := script.ImporterFunc(func(ref script.ModuleRef) (*script.Module, error) {
		res, err := e.resolver.Resolve(ref, path, env)
		if err != nil {
			return nil, err
		}
		if res.Override {
			e.overrides.Add(1)
		}
		e.logger.Trace().
			Str("importer", path).
			Str("module", ref.String()).
			Str("resolved", res.Path).
			Bool("override", res.Override).
			Msg("resolved import")
		return e.load(ctx, cache, chain, res.Path, env, params)
	})

	result, err := script.Exec(prog, script.Options{Params: params, Importer: importer})
	if err != nil {
		return nil, err
	}
	if len(result.Skipped) > 0 {
		e.logger.Debug().Str("path", path).Int("skipped", len(result.Skipped)).Msg("skipped unsupported statements")
	}
	return &script.Module{Path: path, Bindings: result.Bindings}, nil
}

// program returns the parsed program for path, reusing a previous parse while
// the file's size and modification time are unchanged.
func (e *Engine) program(path string) (*script.Program, error) {
	info, err := e.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	key := programKey{path: path, size: info.Size(), modTime: info.ModTime()}
	if prog, ok := e.programs.Get(key); ok {
		return prog, nil
	}

	src, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	prog, err := script.Parse(path, string(src))
	if err != nil {
		return nil, err
	}
	e.programs.Add(key, prog)
	return prog, nil
}
