package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ringoldsdev/efemel/pkg/document"
	"github.com/ringoldsdev/efemel/pkg/hooks"
	"github.com/ringoldsdev/efemel/pkg/telemetry"
)

// Evaluator produces the document of an entry file. *modules.Engine
// implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, path, env string, params *document.Map) (*document.Map, error)
}

// Writer stores a serialized document at a path relative to its output root
// and returns the final location.
type Writer interface {
	Write(ctx context.Context, data []byte, path string) (string, error)
}

// Preparer is implemented by writers that must set up their output root
// before a run. A Prepare error aborts the run.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Validator checks a document against a schema.
type Validator interface {
	Validate(doc *document.Map) error
}

// Policy checks a document against policy rules.
type Policy interface {
	Check(ctx context.Context, path string, doc *document.Map) error
}

// Recorder receives run metrics. *telemetry.Metrics implements it.
type Recorder interface {
	RecordRunStarted(environment string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordFile(environment, outcome string, duration time.Duration)
	SetQueuedFiles(count int)
}

// EventPublisher receives run events. *telemetry.EventPublisher implements it.
type EventPublisher interface {
	PublishRunStarted(runID, environment string, files int) error
	PublishRunCompleted(runID, status string, duration time.Duration) error
	PublishFileProcessed(runID, path, output string, duration time.Duration) error
	PublishFileFailed(runID, path, kind, message string) error
}

// RunOptions configures one run.
type RunOptions struct {
	// Environment redirects imports to environment-specific modules.
	Environment string

	// Params are injected into every evaluated module.
	Params *document.Map

	Pick   []string
	Unwrap []string

	// Workers bounds parallelism. One or less processes files sequentially in
	// entry order; zero means runtime.NumCPU.
	Workers int

	// DryRun runs every stage except the writer.
	DryRun bool

	// BaseDir is the directory entry paths are relative to when deriving
	// output paths.
	BaseDir string

	// OutputDir is reported to hooks and used for dry-run output locations.
	OutputDir string

	// Serializer defaults to two-space indented JSON.
	Serializer document.Serializer

	Hooks  *hooks.Pipeline
	Schema Validator
	Policy Policy
	Writer Writer
}

// Orchestrator processes entry files with a bounded worker pool.
type Orchestrator struct {
	evaluator Evaluator
	logger    zerolog.Logger
	tracer    *telemetry.Tracer
	metrics   Recorder
	events    EventPublisher
}

// NewOrchestrator creates an orchestrator around evaluator.
func NewOrchestrator(evaluator Evaluator, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		evaluator: evaluator,
		logger:    logger.With().Str("component", "engine").Logger(),
		tracer:    telemetry.NopTracer(),
	}
}

// WithTracer sets the tracer used for run and file spans.
func (o *Orchestrator) WithTracer(tracer *telemetry.Tracer) *Orchestrator {
	o.tracer = tracer
	return o
}

// WithMetrics sets the metrics recorder.
func (o *Orchestrator) WithMetrics(metrics Recorder) *Orchestrator {
	o.metrics = metrics
	return o
}

// WithEvents sets the event publisher.
func (o *Orchestrator) WithEvents(events EventPublisher) *Orchestrator {
	o.events = events
	return o
}

type outcome struct {
	dispatched bool
	result     FileResult
	failure    *Failure
}

// Run processes entries and returns the report. File failures are recorded in
// the report and never returned as an error; an error means the run could not
// start. Cancelling ctx stops dispatching; files already started run to
// completion and the rest are listed as skipped.
func (o *Orchestrator) Run(ctx context.Context, entries []string, opts RunOptions) (*Report, error) {
	if opts.Serializer == nil {
		opts.Serializer = document.JSONSerializer{Indent: 2}
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewPipeline()
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	if !opts.DryRun {
		if opts.Writer == nil {
			return nil, errors.New("no writer configured")
		}
		if p, ok := opts.Writer.(Preparer); ok {
			if err := p.Prepare(ctx); err != nil {
				return nil, fmt.Errorf("failed to prepare output: %w", err)
			}
		}
	}
	if r, ok := o.evaluator.(interface{ Reset() }); ok {
		r.Reset()
	}

	report := &Report{
		RunID:       uuid.New().String(),
		Environment: opts.Environment,
		DryRun:      opts.DryRun,
		StartedAt:   time.Now(),
		Succeeded:   []FileResult{},
		Failed:      []Failure{},
	}
	ctx, span := o.tracer.StartRunSpan(ctx, report.RunID, opts.Environment, len(entries))
	defer span.End()

	logCtx := o.logger.With().Str("run_id", report.RunID)
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logCtx = logCtx.Str("trace_id", traceID)
	}
	logger := logCtx.Logger()

	if o.metrics != nil {
		o.metrics.RecordRunStarted(opts.Environment)
	}
	o.publish(func(ep EventPublisher) error {
		return ep.PublishRunStarted(report.RunID, opts.Environment, len(entries))
	})
	logger.Info().
		Int("files", len(entries)).
		Int("workers", opts.Workers).
		Str("environment", opts.Environment).
		Bool("dry_run", opts.DryRun).
		Msg("run started")

	outcomes := make([]outcome, len(entries))
	if opts.Workers <= 1 || len(entries) <= 1 {
		o.runSequential(ctx, report.RunID, entries, opts, outcomes)
	} else {
		o.runParallel(ctx, report.RunID, entries, opts, outcomes)
	}

	for i, oc := range outcomes {
		switch {
		case !oc.dispatched:
			report.Skipped = append(report.Skipped, entries[i])
		case oc.failure != nil:
			report.Failed = append(report.Failed, *oc.failure)
		default:
			report.Succeeded = append(report.Succeeded, oc.result)
		}
	}
	report.Duration = time.Since(report.StartedAt)
	if ev, ok := o.evaluator.(interface{ Evaluations() int64 }); ok {
		report.Evaluations = ev.Evaluations()
	}

	status := report.Status()
	span.SetAttributes(telemetry.AttrRunStatus.String(status))
	if status == StatusSucceeded {
		telemetry.RecordSuccess(span)
	} else {
		telemetry.RecordError(span, fmt.Errorf("run %s", status))
	}
	if o.metrics != nil {
		o.metrics.RecordRunCompleted(status, report.Duration)
	}
	o.publish(func(ep EventPublisher) error {
		return ep.PublishRunCompleted(report.RunID, status, report.Duration)
	})
	logger.Info().
		Str("status", status).
		Int("succeeded", len(report.Succeeded)).
		Int("failed", len(report.Failed)).
		Int("skipped", len(report.Skipped)).
		Int64("evaluations", report.Evaluations).
		Dur("duration", report.Duration).
		Msg("run completed")

	return report, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, runID string, entries []string, opts RunOptions, outcomes []outcome) {
	fileCtx := context.WithoutCancel(ctx)
	for i, path := range entries {
		if ctx.Err() != nil {
			return
		}
		if o.metrics != nil {
			o.metrics.SetQueuedFiles(len(entries) - i - 1)
		}
		outcomes[i] = o.process(fileCtx, runID, path, opts)
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, runID string, entries []string, opts RunOptions, outcomes []outcome) {
	workers := opts.Workers
	if len(entries) < workers {
		workers = len(entries)
	}

	fileCtx := context.WithoutCancel(ctx)
	queue := make(chan int)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range queue {
				outcomes[i] = o.process(fileCtx, runID, entries[i], opts)
			}
			return nil
		})
	}

dispatch:
	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case queue <- i:
			if o.metrics != nil {
				o.metrics.SetQueuedFiles(len(entries) - i - 1)
			}
		}
	}
	close(queue)
	_ = g.Wait()
}

// process runs one entry file through every stage.
func (o *Orchestrator) process(ctx context.Context, runID, path string, opts RunOptions) outcome {
	start := time.Now()
	ctx, span := o.tracer.StartFileSpan(ctx, path)
	defer span.End()

	result, ferr := o.processFile(ctx, path, opts)
	duration := time.Since(start)

	if ferr != nil {
		span.SetAttributes(telemetry.AttrErrorKind.String(string(ferr.Kind)))
		telemetry.RecordError(span, ferr)
		o.logger.Warn().
			Str("run_id", runID).
			Str("path", path).
			Str("kind", string(ferr.Kind)).
			Str("stage", ferr.Stage).
			Dur("duration", duration).
			Err(ferr.Err).
			Msg("file failed")
		if o.metrics != nil {
			o.metrics.RecordFile(opts.Environment, string(ferr.Kind), duration)
		}
		o.publish(func(ep EventPublisher) error {
			return ep.PublishFileFailed(runID, path, string(ferr.Kind), ferr.Err.Error())
		})
		return outcome{dispatched: true, failure: &Failure{
			Path:     path,
			Kind:     ferr.Kind,
			Stage:    ferr.Stage,
			Message:  ferr.Err.Error(),
			Duration: duration,
			Err:      ferr,
		}}
	}

	result.Duration = duration
	span.SetAttributes(telemetry.AttrOutputPath.String(result.Output))
	telemetry.RecordSuccess(span)
	o.logger.Debug().
		Str("run_id", runID).
		Str("path", path).
		Str("output", result.Output).
		Dur("duration", duration).
		Msg("file processed")
	if o.metrics != nil {
		o.metrics.RecordFile(opts.Environment, "ok", duration)
	}
	o.publish(func(ep EventPublisher) error {
		return ep.PublishFileProcessed(runID, path, result.Output, duration)
	})
	return outcome{dispatched: true, result: result}
}

func (o *Orchestrator) processFile(ctx context.Context, path string, opts RunOptions) (FileResult, *FileError) {
	doc, err := o.evaluator.Evaluate(ctx, path, opts.Environment, opts.Params)
	if err != nil {
		return FileResult{}, NewFileError(path, err).WithStage(StageEvaluate)
	}

	selected, err := document.Select(doc, opts.Pick, opts.Unwrap)
	if err != nil {
		return FileResult{}, NewFileError(path, err).WithStage(StageSelect)
	}

	hc := &hooks.Context{
		InputPath:   path,
		OutputPath:  OutputPath(path, opts.BaseDir, opts.Serializer.Extension()),
		OutputDir:   opts.OutputDir,
		Environment: opts.Environment,
		Data:        selected,
		Fields:      map[string]any{},
	}
	// Evaluated values are shared with the module cache; any hook point may
	// mutate hc.Data, so hooks get their own copy.
	if len(opts.Hooks.Points()) > 0 {
		if hc, err = hc.Clone(); err != nil {
			return FileResult{}, NewFileError(path, err).WithStage(StageHooks)
		}
	}
	if _, err := opts.Hooks.Invoke(hooks.ProcessData, hc); err != nil {
		return FileResult{}, NewFileError(path, err).WithStage(StageHooks)
	}
	if hc.Data == nil {
		hc.Data = document.NewMap(0)
	}

	if opts.Schema != nil {
		if err := opts.Schema.Validate(hc.Data); err != nil {
			return FileResult{}, NewFileError(path, err).WithStage(StageSchema)
		}
	}
	if opts.Policy != nil {
		if err := opts.Policy.Check(ctx, path, hc.Data); err != nil {
			return FileResult{}, NewFileError(path, err).WithStage(StagePolicy)
		}
	}

	content, err := opts.Serializer.Serialize(hc.Data)
	if err != nil {
		return FileResult{}, NewFileError(path, err).WithKind(KindSerialize).WithStage(StageSerialize)
	}

	if _, err := opts.Hooks.Invoke(hooks.OutputFilename, hc); err != nil {
		return FileResult{}, NewFileError(path, err).WithStage(StageHooks)
	}
	if hc.OutputPath == "" {
		err := &hooks.ExecutionError{Point: hooks.OutputFilename, Err: errors.New("empty output path")}
		return FileResult{}, NewFileError(path, err).WithStage(StageHooks)
	}

	if opts.DryRun {
		return FileResult{
			Path:   path,
			Output: filepath.Join(opts.OutputDir, filepath.FromSlash(hc.OutputPath)),
			Bytes:  len(content),
		}, nil
	}
	output, err := opts.Writer.Write(ctx, content, hc.OutputPath)
	if err != nil {
		return FileResult{}, NewFileError(path, err).WithKind(KindWrite).WithStage(StageWrite)
	}
	return FileResult{Path: path, Output: output, Bytes: len(content)}, nil
}

func (o *Orchestrator) publish(fn func(EventPublisher) error) {
	if o.events == nil {
		return
	}
	if err := fn(o.events); err != nil {
		o.logger.Debug().Err(err).Msg("failed to publish event")
	}
}

// OutputPath derives the slash-separated output path of an entry file: its path
// relative to baseDir with the extension replaced.
func OutputPath(path, baseDir, extension string) string {
	if baseDir == "" {
		baseDir = "."
	}
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + extension
	return filepath.ToSlash(rel)
}
