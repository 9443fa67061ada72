package telemetry

import (
	"fmt"
	"io"
	"time"
)

// Config contains the telemetry configuration.
type Config struct {
	// ServiceName identifies the process in traces.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Environment is the efemel environment of the run, if any.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`

	// Format is console or json.
	Format string `mapstructure:"format" validate:"omitempty,oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output"`

	// NoColor disables colors in console format.
	NoColor bool `mapstructure:"no_color"`

	// EnableCaller adds file:line caller information.
	EnableCaller bool `mapstructure:"caller"`

	// EnableSampling enables burst sampling for high-frequency messages.
	EnableSampling     bool `mapstructure:"sampling"`
	SamplingInitial    int  `mapstructure:"sampling_initial"`
	SamplingThereafter int  `mapstructure:"sampling_thereafter"`

	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string `mapstructure:"time_format"`

	// Writer overrides Output when set.
	Writer io.Writer `mapstructure:"-"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Exporter is stdout, otlp or none.
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP collector address.
	Endpoint string `mapstructure:"endpoint"`

	SamplingRate       float64           `mapstructure:"sampling_rate"`
	MaxExportBatchSize int               `mapstructure:"max_export_batch_size"`
	ExportTimeout      time.Duration     `mapstructure:"export_timeout"`
	Headers            map[string]string `mapstructure:"headers"`
	Insecure           bool              `mapstructure:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// ListenAddress is the address of the /metrics endpoint in watch mode.
	ListenAddress string `mapstructure:"listen_address"`

	Path      string    `mapstructure:"path"`
	Namespace string    `mapstructure:"namespace"`
	Buckets   []float64 `mapstructure:"buckets"`
}

// EventsConfig configures run event publishing.
type EventsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "efemel",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "efemel",
			Buckets: []float64{
				0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5,
			},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}
