// Package telemetry provides logging, tracing, metrics and run events for efemel.
//
// Structured logging uses zerolog. Every component receives a child logger
// carrying a component field:
//
//	logger, _ := telemetry.NewLogger(cfg.Logging)
//	engineLog := logger.NewComponentLogger("engine").Zerolog()
//
// Tracing uses OpenTelemetry with a stdout or OTLP/gRPC exporter. Spans are
// started for each run, each entry file and each module evaluation:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, env, len(files))
//	defer span.End()
//
// Metrics are Prometheus collectors on a private registry. All recorders are
// no-ops when metrics are disabled, so callers never check for nil:
//
//	tel.Metrics.RecordFile("prod", "ok", time.Since(start))
//
// In watch mode the registry is served over HTTP:
//
//	srv, err := tel.Metrics.StartMetricsServer(logger.Zerolog())
//
// Run events (run started, file processed, file failed, run completed) are
// delivered to subscribers from a single goroutine in publish order.
package telemetry
