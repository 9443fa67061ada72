package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ringoldsdev/efemel/pkg/telemetry"
	"github.com/ringoldsdev/efemel/pkg/writers"
)

const (
	// EnvPrefix prefixes environment variables that override settings.
	EnvPrefix = "EFEMEL_"

	// DotEnvFile is read from the project directory when present.
	DotEnvFile = ".env"
)

// ProjectFiles are the project file names tried in order.
var ProjectFiles = []string{"efemel.yaml", "efemel.yml"}

// Config is the complete efemel configuration.
type Config struct {
	// Pattern selects entry files, e.g. "configs/**/*.py".
	Pattern string `mapstructure:"pattern"`

	// Out is a directory, "-" for stdout, or an sftp:// or s3:// URL.
	Out string `mapstructure:"out" validate:"required"`

	// Environment redirects imports to environment-specific modules.
	Environment string `mapstructure:"env" validate:"omitempty,excludesall=/\\"`

	// StrictEnv fails a run when Environment is set but no override file for
	// it exists under BaseDir or SearchPath.
	StrictEnv bool `mapstructure:"strict_env"`

	// BaseDir is the directory Pattern is matched in and output paths are
	// relative to. Defaults to the working directory.
	BaseDir string `mapstructure:"base_dir"`

	Extension  string   `mapstructure:"extension" validate:"required,startswith=."`
	SearchPath []string `mapstructure:"search_path"`

	Params      map[string]any `mapstructure:"params"`
	ParamsFiles []string       `mapstructure:"params_files"`

	Pick   []string `mapstructure:"pick"`
	Unwrap []string `mapstructure:"unwrap"`

	// Hooks lists Starlark hook files.
	Hooks []string `mapstructure:"hooks"`

	// BuiltinHooks names compiled-in hooks to register.
	BuiltinHooks []string `mapstructure:"builtin_hooks"`

	// Flatten registers the flatten_output_path builtin hook.
	Flatten bool `mapstructure:"flatten"`

	// DisabledHooks unregisters hooks after loading. An entry is either
	// point:name or a bare point, which drops every hook of that point.
	DisabledHooks []string `mapstructure:"disabled_hooks"`

	// Workers bounds parallelism; zero uses every CPU.
	Workers int `mapstructure:"workers" validate:"gte=0"`

	Format string `mapstructure:"format" validate:"oneof=json yaml yml"`
	DryRun bool   `mapstructure:"dry_run"`

	// Schema is a CUE file documents must satisfy.
	Schema string `mapstructure:"schema"`

	// Policies lists Rego files and directories.
	Policies []string `mapstructure:"policies"`

	// PolicyBuiltins names builtin policies to enable.
	PolicyBuiltins []string `mapstructure:"policy_builtins"`

	Exclude []string `mapstructure:"exclude"`

	// History is the SQLite database runs are recorded in.
	History string `mapstructure:"history"`

	Watch WatchConfig        `mapstructure:"watch"`
	SFTP  writers.SFTPConfig `mapstructure:"sftp"`
	S3    writers.S3Config   `mapstructure:"s3"`

	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" validate:"gte=0"`
}

// Default returns the built-in defaults. The log format is left empty so the
// CLI can pick one based on the terminal.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	tel.Logging.Format = ""

	return &Config{
		Out:       "output",
		Extension: ".py",
		Format:    "json",
		Params:    make(map[string]any),
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		SFTP:      writers.DefaultSFTPConfig(),
		S3:        writers.DefaultS3Config(),
		Telemetry: *tel,
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Loader reads configuration from a project directory and the environment.
type Loader struct {
	fs      afero.Fs
	environ func() []string
}

// NewLoader creates a loader reading files from fs and variables from the
// process environment.
func NewLoader(fs afero.Fs) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{fs: fs, environ: os.Environ}
}

// WithEnviron replaces the process environment source.
func (l *Loader) WithEnviron(environ func() []string) *Loader {
	l.environ = environ
	return l
}

// Load builds the configuration for the project in dir. When file is empty
// the project files in dir are tried; a missing project file is not an
// error. Flags are applied by the caller afterwards, followed by Validate.
func (l *Loader) Load(dir, file string) (*Config, error) {
	cfg := Default()

	raw, err := l.readProjectFile(dir, file)
	if err != nil {
		return nil, err
	}

	env, err := l.environment(dir)
	if err != nil {
		return nil, err
	}
	applyEnv(raw, env)

	if err := decode(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) readProjectFile(dir, file string) (map[string]any, error) {
	candidates := ProjectFiles
	explicit := file != ""
	if explicit {
		candidates = []string{file}
	}

	for _, name := range candidates {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, name)
		}
		data, err := afero.ReadFile(l.fs, path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && !explicit {
				continue
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		raw := make(map[string]any)
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		return raw, nil
	}
	return make(map[string]any), nil
}

// environment merges the .env file of dir with the process environment.
// Process variables win.
func (l *Loader) environment(dir string) (map[string]string, error) {
	env := make(map[string]string)

	data, err := afero.ReadFile(l.fs, filepath.Join(dir, DotEnvFile))
	switch {
	case err == nil:
		parsed, err := godotenv.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", DotEnvFile, err)
		}
		for k, v := range parsed {
			env[k] = v
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", DotEnvFile, err)
	}

	if l.environ != nil {
		for _, kv := range l.environ() {
			k, v, ok := strings.Cut(kv, "=")
			if ok {
				env[k] = v
			}
		}
	}
	return env, nil
}

// applyEnv copies EFEMEL_* variables into raw.
func applyEnv(raw map[string]any, env map[string]string) {
	for k, v := range env {
		if !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		parts := strings.Split(strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), "__")
		target := raw
		for _, part := range parts[:len(parts)-1] {
			next, ok := target[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				target[part] = next
			}
			target = next
		}
		if last := parts[len(parts)-1]; last != "" {
			target[last] = v
		}
	}
}

func decode(raw map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}
