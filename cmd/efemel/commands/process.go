package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ringoldsdev/efemel/pkg/config"
	"github.com/ringoldsdev/efemel/pkg/document"
	"github.com/ringoldsdev/efemel/pkg/engine"
	"github.com/ringoldsdev/efemel/pkg/hooks"
	"github.com/ringoldsdev/efemel/pkg/modules"
	"github.com/ringoldsdev/efemel/pkg/policy"
	"github.com/ringoldsdev/efemel/pkg/schema"
	"github.com/ringoldsdev/efemel/pkg/stores"
	"github.com/ringoldsdev/efemel/pkg/telemetry"
	"github.com/ringoldsdev/efemel/pkg/watch"
	"github.com/ringoldsdev/efemel/pkg/writers"
)

// processFlags holds the process flags. Only flags set on the command line
// override the configuration.
type processFlags struct {
	out            string
	env            string
	strictEnv      bool
	baseDir        string
	searchPath     []string
	extension      string
	params         []string
	paramsFiles    []string
	pick           []string
	unwrap         []string
	hooks          []string
	builtinHooks   []string
	disabledHooks  []string
	flatten        bool
	workers        int
	format         string
	dryRun         bool
	schema         string
	policies       []string
	policyBuiltins []string
	exclude        []string
	history        string
	watch          bool
	metricsAddr    string
	trace          string
	traceEndpoint  string
}

func newProcessCommand(global *globalOptions, info BuildInfo) *cobra.Command {
	flags := &processFlags{}

	cmd := &cobra.Command{
		Use:   "process [pattern]",
		Short: "Evaluate scripts and write their documents",
		Long: `Evaluate every script matching a glob pattern and write one document per
script.

The pattern is matched relative to the base directory and must end with the
script extension. Output files mirror the script paths below the output root
with the extension replaced. Package initializers (__init__.py) are never
processed.

With --env, imports first look for an environment-specific module
(db.prod.py for "import db" under --env prod) and fall back to the default.

The command exits non-zero when any file fails.`,
		Example: `  # Process all scripts below configs/
  efemel process "configs/**/*.py" --out output

  # Production build with parameters
  efemel process "**/*.py" --env prod --param replicas=3 --params-file params.hcl

  # Extract one binding per file as YAML on stdout
  efemel process "services/*.py" --unwrap service --format yaml --out -

  # Upload to S3 after schema and policy checks
  efemel process "**/*.py" --schema schema.cue --policy policies/ --out s3://configs/prod

  # Re-run on every change, exposing metrics
  efemel process "**/*.py" --watch --metrics-addr :9090`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			cfg, err := loadConfig(fs, global)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Pattern = args[0]
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}
			if cfg.Pattern == "" {
				return fmt.Errorf("no pattern given: pass one as an argument or set 'pattern' in the config file")
			}
			applyLogging(cfg, global, cmd.ErrOrStderr())
			if err := cfg.Validate(); err != nil {
				return err
			}

			tel, err := newTelemetry(cfg, info)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(ctx)
			}()

			p, err := newProcessor(cmd.Context(), fs, cfg, flags.params, tel, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			if cfg.Watch.Enabled {
				return p.watch(cmd.Context())
			}
			return p.runOnce(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.out, "out", "o", "", "output directory, - for stdout, sftp://user@host/dir or s3://bucket/prefix (default \"output\")")
	f.StringVarP(&flags.env, "env", "e", "", "environment used to redirect imports")
	f.BoolVar(&flags.strictEnv, "strict-env", false, "fail when the environment has no override modules")
	f.StringVar(&flags.baseDir, "base-dir", "", "directory the pattern is matched in (default: working directory)")
	f.StringSliceVar(&flags.searchPath, "search-path", nil, "directories searched for absolute imports (default: base directory)")
	f.StringVar(&flags.extension, "extension", "", "script file extension (default \".py\")")
	f.StringArrayVarP(&flags.params, "param", "p", nil, "parameter as name=value; value is parsed as JSON when valid (repeatable)")
	f.StringArrayVar(&flags.paramsFiles, "params-file", nil, "parameters from a .py, .json, .yaml or .hcl file (repeatable)")
	f.StringArrayVar(&flags.pick, "pick", nil, "keep only this top-level key (repeatable)")
	f.StringArrayVar(&flags.unwrap, "unwrap", nil, "merge the contents of this top-level mapping into the document (repeatable)")
	f.StringArrayVar(&flags.hooks, "hooks", nil, "Starlark hook file or directory (repeatable)")
	f.StringArrayVar(&flags.builtinHooks, "builtin-hook", nil, "register a builtin hook by name (repeatable)")
	f.StringArrayVar(&flags.disabledHooks, "disable-hook", nil, "drop a loaded hook given as point:name, or every hook of a point (repeatable)")
	f.BoolVar(&flags.flatten, "flatten", false, "write every document at the output root, joining directories with _")
	f.IntVarP(&flags.workers, "workers", "j", 0, "parallel workers; 0 uses every CPU, 1 processes in order")
	f.StringVarP(&flags.format, "format", "f", "", "output format: json or yaml (default \"json\")")
	f.BoolVar(&flags.dryRun, "dry-run", false, "run every stage but do not write documents")
	f.StringVar(&flags.schema, "schema", "", "CUE schema documents must satisfy")
	f.StringArrayVar(&flags.policies, "policy", nil, "Rego policy file or directory (repeatable)")
	f.StringArrayVar(&flags.policyBuiltins, "policy-builtin", nil, "enable a builtin policy by name (repeatable)")
	f.StringArrayVar(&flags.exclude, "exclude", nil, "skip scripts matching this glob (repeatable)")
	f.StringVar(&flags.history, "history", "", "record runs in this SQLite database")
	f.BoolVarP(&flags.watch, "watch", "w", false, "re-run when sources change")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address in watch mode")
	f.StringVar(&flags.trace, "trace", "", "trace exporter: none, stdout or otlp")
	f.StringVar(&flags.traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")

	return cmd
}

// apply copies the flags set on the command line onto cfg.
func (pf *processFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("out") {
		cfg.Out = pf.out
	}
	if changed("env") {
		cfg.Environment = pf.env
	}
	if changed("strict-env") {
		cfg.StrictEnv = pf.strictEnv
	}
	if changed("base-dir") {
		cfg.BaseDir = pf.baseDir
	}
	if changed("extension") {
		cfg.Extension = pf.extension
	}
	if changed("search-path") {
		cfg.SearchPath = pf.searchPath
	}
	if changed("params-file") {
		cfg.ParamsFiles = append(cfg.ParamsFiles, pf.paramsFiles...)
	}
	if changed("pick") {
		cfg.Pick = pf.pick
	}
	if changed("unwrap") {
		cfg.Unwrap = pf.unwrap
	}
	if changed("hooks") {
		cfg.Hooks = append(cfg.Hooks, pf.hooks...)
	}
	if changed("builtin-hook") {
		cfg.BuiltinHooks = append(cfg.BuiltinHooks, pf.builtinHooks...)
	}
	if changed("disable-hook") {
		cfg.DisabledHooks = append(cfg.DisabledHooks, pf.disabledHooks...)
	}
	if changed("flatten") {
		cfg.Flatten = pf.flatten
	}
	if changed("workers") {
		cfg.Workers = pf.workers
	}
	if changed("format") {
		cfg.Format = pf.format
	}
	if changed("dry-run") {
		cfg.DryRun = pf.dryRun
	}
	if changed("schema") {
		cfg.Schema = pf.schema
	}
	if changed("policy") {
		cfg.Policies = append(cfg.Policies, pf.policies...)
	}
	if changed("policy-builtin") {
		cfg.PolicyBuiltins = append(cfg.PolicyBuiltins, pf.policyBuiltins...)
	}
	if changed("exclude") {
		cfg.Exclude = append(cfg.Exclude, pf.exclude...)
	}
	if changed("history") {
		cfg.History = pf.history
	}
	if changed("watch") {
		cfg.Watch.Enabled = pf.watch
	}
	if changed("metrics-addr") {
		cfg.Telemetry.Metrics.Enabled = pf.metricsAddr != ""
		cfg.Telemetry.Metrics.ListenAddress = pf.metricsAddr
	}
	if changed("trace") {
		switch pf.trace {
		case "none", "":
			cfg.Telemetry.Tracing.Enabled = false
		case "stdout", "otlp":
			cfg.Telemetry.Tracing.Enabled = true
			cfg.Telemetry.Tracing.Exporter = pf.trace
		default:
			return fmt.Errorf("invalid --trace %q: must be none, stdout or otlp", pf.trace)
		}
	}
	if changed("trace-endpoint") {
		cfg.Telemetry.Tracing.Endpoint = pf.traceEndpoint
	}

	if changed("param") {
		// Parsed again per run, after params files.
		if err := config.NewParams(cfg.Extension).ParseFlags(pf.params); err != nil {
			return err
		}
	}
	return nil
}

// processor wires the packages together for one process command.
type processor struct {
	fs     afero.Fs
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	stderr io.Writer

	baseDir    string
	searchPath []string

	modules      *modules.Engine
	discoverer   *engine.Discoverer
	orchestrator *engine.Orchestrator
	writer       writers.Writer
	history      *stores.SQLiteStore
	flagParams   []string
}

func newProcessor(ctx context.Context, fs afero.Fs, cfg *config.Config, flagParams []string, tel *telemetry.Telemetry, stdout, stderr io.Writer) (*processor, error) {
	logger := tel.Logger.Zerolog()

	p := &processor{
		fs:         fs,
		cfg:        cfg,
		tel:        tel,
		logger:     logger,
		stderr:     stderr,
		baseDir:    cfg.BaseDir,
		flagParams: flagParams,
	}
	if p.baseDir == "" {
		p.baseDir = "."
	}
	p.searchPath = cfg.SearchPath
	if len(p.searchPath) == 0 {
		p.searchPath = []string{p.baseDir}
	}

	var err error
	p.modules, err = modules.NewEngine(modules.Options{
		Fs:         fs,
		Extension:  cfg.Extension,
		SearchPath: p.searchPath,
		Logger:     logger,
		Tracer:     tel.Tracer,
		Recorder:   tel.Metrics,
	})
	if err != nil {
		return nil, err
	}
	p.discoverer = engine.NewDiscoverer(fs, cfg.Extension, cfg.Exclude)
	p.orchestrator = engine.NewOrchestrator(p.modules, logger).
		WithTracer(tel.Tracer).
		WithMetrics(tel.Metrics).
		WithEvents(tel.Events)

	tel.Events.Subscribe(func(e telemetry.Event) {
		logger.Trace().Str("event", e.Type).Str("run_id", e.RunID).Str("path", e.Path).Msg(e.Message)
	}, nil)

	if !cfg.DryRun {
		p.writer, err = writers.New(cfg.Out, writers.Options{
			Fs:     fs,
			Stdout: stdout,
			SFTP:   cfg.SFTP,
			S3:     cfg.S3,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.History != "" {
		p.history, err = stores.Open(ctx, cfg.History)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
	}
	return p, nil
}

// Close releases the writer and the history database.
func (p *processor) Close() {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to close writer")
		}
	}
	if p.history != nil {
		if err := p.history.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to close history")
		}
	}
}

// runOptions builds the per-run stages. Hooks, schema, policies and params are
// reloaded on every run so watch mode picks up their changes.
func (p *processor) runOptions(ctx context.Context) (engine.RunOptions, error) {
	cfg := p.cfg

	params := config.NewParams(cfg.Extension)
	if err := params.Merge(cfg.Params); err != nil {
		return engine.RunOptions{}, err
	}
	for _, file := range cfg.ParamsFiles {
		if err := params.LoadFile(ctx, p.fs, file, p.modules); err != nil {
			return engine.RunOptions{}, err
		}
	}
	if err := params.ParseFlags(p.flagParams); err != nil {
		return engine.RunOptions{}, err
	}

	pipeline, err := buildPipeline(p.fs, p.logger, cfg)
	if err != nil {
		return engine.RunOptions{}, err
	}

	serializer, err := document.SerializerFor(cfg.Format)
	if err != nil {
		return engine.RunOptions{}, err
	}

	opts := engine.RunOptions{
		Environment: cfg.Environment,
		Params:      params.Map(),
		Pick:        cfg.Pick,
		Unwrap:      cfg.Unwrap,
		Workers:     cfg.Workers,
		DryRun:      cfg.DryRun,
		BaseDir:     p.baseDir,
		OutputDir:   cfg.Out,
		Serializer:  serializer,
		Hooks:       pipeline,
	}
	if p.writer != nil {
		opts.Writer = p.writer
	}

	if cfg.Schema != "" {
		s, err := schema.Load(p.fs, cfg.Schema)
		if err != nil {
			return engine.RunOptions{}, err
		}
		opts.Schema = s
	}

	if len(cfg.Policies) > 0 || len(cfg.PolicyBuiltins) > 0 {
		pe, err := policy.NewEngine(p.logger)
		if err != nil {
			return engine.RunOptions{}, err
		}
		pe.SetEnvironment(cfg.Environment)
		if err := pe.LoadPolicies(ctx, p.fs, cfg.Policies); err != nil {
			return engine.RunOptions{}, err
		}
		for _, name := range cfg.PolicyBuiltins {
			if err := pe.EnablePolicy(name); err != nil {
				return engine.RunOptions{}, err
			}
		}
		opts.Policy = pe
	}

	return opts, nil
}

// checkEnvironment fails when strict_env is set and no override module
// exists for the environment.
func (p *processor) checkEnvironment() error {
	env := p.cfg.Environment
	if env == "" || !p.cfg.StrictEnv {
		return nil
	}
	dirs := append([]string{p.baseDir}, p.searchPath...)
	found, err := p.discoverer.Overrides(env, dirs...)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("%w %q", engine.ErrNoOverrides, env)
	}
	p.logger.Debug().Str("environment", env).Int("overrides", len(found)).Msg("environment overrides found")
	return nil
}

// run executes one run and records it.
func (p *processor) run(ctx context.Context) (*engine.Report, error) {
	if err := p.checkEnvironment(); err != nil {
		return nil, err
	}
	entries, err := p.discoverer.List(p.cfg.Pattern, p.baseDir)
	if err != nil {
		return nil, err
	}
	opts, err := p.runOptions(ctx)
	if err != nil {
		return nil, err
	}

	report, err := p.orchestrator.Run(ctx, entries, opts)
	if err != nil {
		return nil, err
	}

	stats := p.modules.Cache().Stats()
	p.tel.Metrics.RecordCache(stats.Hits, stats.Misses)

	if env := p.cfg.Environment; env != "" && p.modules.Overrides() == 0 {
		p.logger.Warn().
			Str("environment", env).
			Msg("no import was redirected to an environment-specific module; every import used its default")
	}

	if p.history != nil {
		if err := p.history.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			p.logger.Error().Err(err).Msg("failed to record run history")
		}
	}

	fmt.Fprintln(p.stderr, report.Tree())
	return report, nil
}

func (p *processor) runOnce(ctx context.Context) error {
	report, err := p.run(ctx)
	if err != nil {
		return err
	}
	if len(report.Skipped) > 0 && ctx.Err() != nil {
		return &ExitError{Code: 130, Err: ctx.Err()}
	}
	if err := report.Err(); err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	return nil
}

func (p *processor) watch(ctx context.Context) error {
	server, err := p.tel.Metrics.StartMetricsServer(p.logger)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.StopMetricsServer(shutdownCtx, server)
	}()

	paths := append([]string{p.baseDir}, p.searchPath...)
	paths = append(paths, p.cfg.Hooks...)
	paths = append(paths, p.cfg.Policies...)
	paths = append(paths, p.cfg.ParamsFiles...)
	if p.cfg.Schema != "" {
		paths = append(paths, p.cfg.Schema)
	}

	var ignore []string
	if !p.cfg.DryRun && isLocalOutput(p.cfg.Out) {
		ignore = append(ignore, strings.TrimPrefix(p.cfg.Out, "file://"))
	}

	w, err := watch.New(watch.Options{
		Paths:      dedupe(paths),
		Extensions: []string{p.cfg.Extension, hooks.SourceExtension, ".rego", ".cue", ".json", ".yaml", ".yml", ".hcl"},
		Ignore:     ignore,
		Debounce:   p.cfg.Watch.Debounce,
		Logger:     p.logger,
	})
	if err != nil {
		return err
	}

	return w.Run(ctx, func(ctx context.Context, _ []string) {
		if _, err := p.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error().Err(err).Msg("run failed")
		}
		// Spans are exported per rebuild; the provider only shuts down on exit.
		if err := p.tel.Tracer.ForceFlush(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("failed to flush spans")
		}
	})
}

func isLocalOutput(out string) bool {
	return out != "-" && (!strings.Contains(out, "://") || strings.HasPrefix(out, "file://"))
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		key := filepath.Clean(p)
		if !seen[key] {
			seen[key] = true
			out = append(out, p)
		}
	}
	return out
}
