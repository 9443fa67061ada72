package telemetry

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// Telemetry bundles the logger, tracer, metrics and event publisher.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates all telemetry components from cfg.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Shutdown drains events and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if err := t.Events.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
