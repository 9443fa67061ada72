package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// ExitError makes the process exit with Code. Its cause has already been
// reported.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// globalOptions are the persistent flags shared by all commands.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	verbose    bool
}

// Execute runs the root command
func Execute(ctx context.Context, info BuildInfo) error {
	return newRootCommand(info).ExecuteContext(ctx)
}

func newRootCommand(info BuildInfo) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "efemel",
		Short: "efemel - configuration scripts to structured documents",
		Long: `efemel evaluates configuration scripts written in a small Python-like
language and writes the public bindings of each script as a JSON or YAML
document.

Features:
  - Environment-specific imports (module.<env>.py overrides module.py)
  - Parameters from flags, JSON, YAML, HCL and script files
  - Pick and unwrap projections
  - Starlark hooks for data and output file names
  - CUE schema and Rego policy checks
  - Local, stdout, SFTP and S3 outputs`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default: efemel.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (console, json); defaults to console on a terminal")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newProcessCommand(opts, info))
	rootCmd.AddCommand(newHooksCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newInfoCommand(info))

	return rootCmd
}
