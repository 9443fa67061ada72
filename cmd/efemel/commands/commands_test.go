package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/ringoldsdev/efemel/pkg/config"
	"github.com/ringoldsdev/efemel/pkg/engine"
	"github.com/ringoldsdev/efemel/pkg/hooks"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	t.Chdir(dir)
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(BuildInfo{Version: "test", Commit: "abc", BuildDate: "today"})
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--log-format", "json", "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestProcessWritesDocuments(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"configs/app.py":      "from common import region\nname = \"app\"\nzone = region\n",
		"configs/common.py":   "region = \"eu\"\n",
		"configs/__init__.py": "",
	})

	_, stderr, err := execute(t, "process", "configs/*.py", "--out", "build", "--search-path", "configs", "--exclude", "configs/common.py")
	if err != nil {
		t.Fatalf("process failed: %v\n%s", err, stderr)
	}

	data, err := os.ReadFile(filepath.Join(dir, "build", "configs", "app.json"))
	if err != nil {
		t.Fatalf("Expected output file: %v", err)
	}
	if !strings.Contains(string(data), `"zone": "eu"`) {
		t.Errorf("Expected region in output, got %s", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "build", "configs", "common.json")); !os.IsNotExist(err) {
		t.Errorf("Expected excluded file to produce no output, got %v", err)
	}
	if !strings.Contains(stderr, "succeeded") {
		t.Errorf("Expected run report on stderr, got %q", stderr)
	}
}

func TestProcessStdoutAndParams(t *testing.T) {
	writeProject(t, map[string]string{
		"efemel.yaml": "format: yaml\nparams:\n  replicas: 1\n",
		"svc.py":      "replicas = params.get(\"replicas\", 0)\n",
	})

	stdout, stderr, err := execute(t, "process", "*.py", "--out", "-", "--param", "replicas=3")
	if err != nil {
		t.Fatalf("process failed: %v\n%s", err, stderr)
	}
	if !strings.Contains(stdout, "replicas: 3") {
		t.Errorf("Expected flag param to win over config, got %q", stdout)
	}
}

func TestProcessFailureExitCode(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"good.py": "x = 1\n",
		"bad.py":  "import missing\n",
	})

	_, _, err := execute(t, "process", "*.py", "--out", "build")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected ExitError, got %v", err)
	}
	if exitErr.Code != 1 {
		t.Errorf("Expected exit code 1, got %d", exitErr.Code)
	}
	if _, err := os.Stat(filepath.Join(dir, "build", "good.json")); err != nil {
		t.Errorf("Expected the good file to be written: %v", err)
	}
}

func TestProcessStrictEnv(t *testing.T) {
	writeProject(t, map[string]string{
		"app.py": "x = 1\n",
	})

	_, _, err := execute(t, "process", "*.py", "--dry-run", "--env", "prod", "--strict-env")
	if !errors.Is(err, engine.ErrNoOverrides) {
		t.Fatalf("Expected ErrNoOverrides, got %v", err)
	}

	writeProject(t, map[string]string{
		"app.py":     "import db\nx = db.host\n",
		"db.py":      "host = \"localhost\"\n",
		"db.prod.py": "host = \"prod-db\"\n",
	})
	if _, stderr, err := execute(t, "process", "app.py", "--dry-run", "--env", "prod", "--strict-env"); err != nil {
		t.Fatalf("Expected strict run to succeed, got %v\n%s", err, stderr)
	}
}

func TestProcessRequiresPattern(t *testing.T) {
	writeProject(t, nil)
	if _, _, err := execute(t, "process"); err == nil || !strings.Contains(err.Error(), "no pattern") {
		t.Errorf("Expected missing pattern error, got %v", err)
	}
}

func TestProcessFlagsApply(t *testing.T) {
	flags := &processFlags{}
	cmd := &cobra.Command{}
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "")
	cmd.Flags().IntVarP(&flags.workers, "workers", "j", 0, "")
	cmd.Flags().StringArrayVar(&flags.hooks, "hooks", nil, "")
	cmd.Flags().StringVar(&flags.trace, "trace", "", "")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "")
	cmd.Flags().StringVar(&flags.format, "format", "", "")
	if err := cmd.Flags().Parse([]string{"-o", "dist", "--hooks", "extra.star", "--trace", "stdout", "--metrics-addr", ":9999"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg := config.Default()
	cfg.Workers = 3
	cfg.Format = "yaml"
	cfg.Hooks = []string{"hooks/"}
	if err := flags.apply(cmd, cfg); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if cfg.Out != "dist" {
		t.Errorf("Expected out 'dist', got %q", cfg.Out)
	}
	if cfg.Workers != 3 || cfg.Format != "yaml" {
		t.Errorf("Expected unset flags to keep config values, got workers=%d format=%q", cfg.Workers, cfg.Format)
	}
	if diff := cmp.Diff([]string{"hooks/", "extra.star"}, cfg.Hooks); diff != "" {
		t.Errorf("Hooks mismatch (-want +got):\n%s", diff)
	}
	if !cfg.Telemetry.Tracing.Enabled || cfg.Telemetry.Tracing.Exporter != "stdout" {
		t.Errorf("Expected stdout tracing, got %+v", cfg.Telemetry.Tracing)
	}
	if !cfg.Telemetry.Metrics.Enabled || cfg.Telemetry.Metrics.ListenAddress != ":9999" {
		t.Errorf("Expected metrics on :9999, got %+v", cfg.Telemetry.Metrics)
	}

	if err := cmd.Flags().Set("trace", "jaeger"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := flags.apply(cmd, config.Default()); err == nil {
		t.Error("Expected error for unknown trace exporter")
	}
}

func TestApplyLogging(t *testing.T) {
	tests := []struct {
		name       string
		opts       globalOptions
		wantLevel  string
		wantFormat string
	}{
		{name: "defaults off a terminal", wantLevel: "info", wantFormat: "json"},
		{name: "explicit format", opts: globalOptions{logFormat: "console"}, wantLevel: "info", wantFormat: "console"},
		{name: "level", opts: globalOptions{logLevel: "warn"}, wantLevel: "warn", wantFormat: "json"},
		{name: "verbose wins", opts: globalOptions{logLevel: "warn", verbose: true}, wantLevel: "debug", wantFormat: "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			var buf bytes.Buffer
			applyLogging(cfg, &tt.opts, &buf)
			if cfg.Telemetry.Logging.Level != tt.wantLevel {
				t.Errorf("Expected level %q, got %q", tt.wantLevel, cfg.Telemetry.Logging.Level)
			}
			if cfg.Telemetry.Logging.Format != tt.wantFormat {
				t.Errorf("Expected format %q, got %q", tt.wantFormat, cfg.Telemetry.Logging.Format)
			}
			if cfg.Telemetry.Logging.Writer != &buf {
				t.Error("Expected logs to go to the given writer")
			}
		})
	}
}

func TestHooksList(t *testing.T) {
	writeProject(t, map[string]string{
		"hooks/output_filename.star": "def before_lower(ctx):\n    return ctx\n\ndef suffix(ctx):\n    return ctx\n",
	})

	stdout, stderr, err := execute(t, "hooks", "list", "--hooks", "hooks", "--flatten")
	if err != nil {
		t.Fatalf("hooks list failed: %v\n%s", err, stderr)
	}
	for _, want := range []string{"hooks (3)", hooks.OutputFilename, "before_lower (before)", "suffix", "flatten_output_path"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, stdout)
		}
	}
	if strings.Index(stdout, "before_lower") > strings.Index(stdout, "flatten_output_path") {
		t.Errorf("Expected before hooks listed first, got:\n%s", stdout)
	}
}

func TestHooksListDisabled(t *testing.T) {
	writeProject(t, map[string]string{
		"hooks/output_filename.star": "def before_lower(ctx):\n    return ctx\n\ndef suffix(ctx):\n    return ctx\n",
		"hooks/process_data.star":    "def tag(ctx):\n    return ctx\n",
	})

	stdout, stderr, err := execute(t, "hooks", "list", "--hooks", "hooks",
		"--disable-hook", "output_filename:suffix", "--disable-hook", "process_data")
	if err != nil {
		t.Fatalf("hooks list failed: %v\n%s", err, stderr)
	}
	if !strings.Contains(stdout, "hooks (1)") || !strings.Contains(stdout, "before_lower") {
		t.Errorf("Expected only before_lower to remain, got:\n%s", stdout)
	}
	for _, gone := range []string{"suffix", "tag", hooks.ProcessData} {
		if strings.Contains(stdout, gone) {
			t.Errorf("Expected %q to be disabled, got:\n%s", gone, stdout)
		}
	}
}

func TestProcessDisableHook(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"hooks/output_filename.star": "def rename(ctx):\n    ctx[\"output_path\"] = \"renamed.json\"\n",
		"app.py":                     "x = 1\n",
	})

	if _, stderr, err := execute(t, "process", "app.py", "--out", "build", "--hooks", "hooks",
		"--disable-hook", "output_filename:rename"); err != nil {
		t.Fatalf("process failed: %v\n%s", err, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "build", "app.json")); err != nil {
		t.Errorf("Expected output at the default path: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "build", "renamed.json")); !os.IsNotExist(err) {
		t.Errorf("Expected disabled hook not to run, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	writeProject(t, map[string]string{
		"a.py": "x = 1\n",
	})

	if _, stderr, err := execute(t, "process", "*.py", "--dry-run", "--history", "runs.db"); err != nil {
		t.Fatalf("process failed: %v\n%s", err, stderr)
	}

	stdout, _, err := execute(t, "history", "--history", "runs.db", "--files")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(stdout, "runs (1)") || !strings.Contains(stdout, "dry-run") || !strings.Contains(stdout, "a.py") {
		t.Errorf("Unexpected history output:\n%s", stdout)
	}

	if _, _, err := execute(t, "history"); err == nil {
		t.Error("Expected error without a history database")
	}
}

func TestInfo(t *testing.T) {
	stdout, _, err := execute(t, "info")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	for _, want := range []string{"efemel test", "abc", "flatten_output_path", "builtin policies"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, stdout)
		}
	}
}

func TestIsLocalOutput(t *testing.T) {
	tests := map[string]bool{
		"output":              true,
		"file:///tmp/out":     true,
		"-":                   false,
		"s3://bucket/prefix":  false,
		"sftp://host/configs": false,
	}
	for out, want := range tests {
		if got := isLocalOutput(out); got != want {
			t.Errorf("isLocalOutput(%q): expected %v, got %v", out, want, got)
		}
	}
}
