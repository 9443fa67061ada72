package commands

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/ringoldsdev/efemel/pkg/config"
	"github.com/ringoldsdev/efemel/pkg/telemetry"
)

// loadConfig reads efemel.yaml, .env and EFEMEL_* variables for the project
// in the working directory.
func loadConfig(fs afero.Fs, opts *globalOptions) (*config.Config, error) {
	return config.NewLoader(fs).Load(".", opts.configPath)
}

// applyLogging resolves the logging flags onto cfg.
func applyLogging(cfg *config.Config, opts *globalOptions, stderr io.Writer) {
	logging := &cfg.Telemetry.Logging
	if opts.logLevel != "" {
		logging.Level = opts.logLevel
	}
	if opts.verbose {
		logging.Level = "debug"
	}
	if opts.logFormat != "" {
		logging.Format = opts.logFormat
	}
	if logging.Format == "" {
		logging.Format = "json"
		if isTerminal(stderr) {
			logging.Format = "console"
		}
	}
	logging.Writer = stderr
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newTelemetry creates the logger, tracer, metrics and events for a command.
func newTelemetry(cfg *config.Config, info BuildInfo) (*telemetry.Telemetry, error) {
	tc := cfg.Telemetry
	tc.ServiceVersion = info.Version
	tc.Environment = cfg.Environment
	return telemetry.NewTelemetry(&tc)
}

// newLogger creates the logger for commands that do not need the rest of the
// telemetry.
func newLogger(cfg *config.Config, opts *globalOptions, stderr io.Writer) (zerolog.Logger, error) {
	applyLogging(cfg, opts, stderr)
	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return zerolog.Nop(), err
	}
	return logger.Zerolog(), nil
}
