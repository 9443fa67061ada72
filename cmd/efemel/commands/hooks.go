package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/ringoldsdev/efemel/pkg/config"
	"github.com/ringoldsdev/efemel/pkg/hooks"
)

func newHooksCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect hooks",
		Long: `Inspect the hooks a process run would invoke.

Hooks run at two points:
  - process_data: transforms each evaluated document before serialization
  - output_filename: rewrites each output path

Starlark hook files are named after the point they extend, for example
hooks/output_filename.star. Every public function in the file is a hook;
functions whose name starts with before_ run ahead of the others.`,
	}

	cmd.AddCommand(newHooksListCommand(global))
	return cmd
}

func newHooksListCommand(global *globalOptions) *cobra.Command {
	var (
		paths    []string
		builtins []string
		disabled []string
		flatten  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered hooks in invocation order",
		Example: `  # Hooks configured in efemel.yaml
  efemel hooks list

  # Hooks from a directory plus a builtin
  efemel hooks list --hooks hooks/ --builtin-hook flatten_output_path

  # What remains after dropping one hook
  efemel hooks list --disable-hook output_filename:suffix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			cfg, err := loadConfig(fs, global)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, global, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			cfg.Hooks = append(cfg.Hooks, paths...)
			cfg.BuiltinHooks = append(cfg.BuiltinHooks, builtins...)
			cfg.DisabledHooks = append(cfg.DisabledHooks, disabled...)
			cfg.Flatten = cfg.Flatten || flatten

			pipeline, err := buildPipeline(fs, logger, cfg)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), hooksTree(pipeline).String())
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&paths, "hooks", nil, "Starlark hook file or directory (repeatable)")
	cmd.Flags().StringArrayVar(&builtins, "builtin-hook", nil, "builtin hook name (repeatable)")
	cmd.Flags().StringArrayVar(&disabled, "disable-hook", nil, "drop a loaded hook given as point:name, or every hook of a point (repeatable)")
	cmd.Flags().BoolVar(&flatten, "flatten", false, "include the flatten_output_path builtin")
	return cmd
}

// buildPipeline registers the builtin and Starlark hooks named by cfg, then
// drops the disabled ones.
func buildPipeline(fs afero.Fs, logger zerolog.Logger, cfg *config.Config) (*hooks.Pipeline, error) {
	pipeline := hooks.NewPipeline()
	for _, name := range cfg.BuiltinHooks {
		if err := pipeline.RegisterBuiltin(name); err != nil {
			return nil, err
		}
	}
	if cfg.Flatten {
		if err := pipeline.RegisterBuiltin("flatten_output_path"); err != nil {
			return nil, err
		}
	}
	if len(cfg.Hooks) > 0 {
		if err := hooks.NewLoader(fs, logger).Load(pipeline, cfg.Hooks...); err != nil {
			return nil, err
		}
	}

	for _, entry := range cfg.DisabledHooks {
		point, name, ok := strings.Cut(entry, ":")
		if !ok {
			pipeline.Clear(point)
			continue
		}
		if !pipeline.Remove(point, name) {
			logger.Warn().Str("point", point).Str("hook", name).Msg("disabled hook is not registered")
		}
	}
	return pipeline, nil
}

func hooksTree(p *hooks.Pipeline) treeprint.Tree {
	regs := p.List()
	tree := treeprint.NewWithRoot(fmt.Sprintf("hooks (%d)", len(regs)))
	branches := make(map[string]treeprint.Tree)
	for _, r := range regs {
		branch, ok := branches[r.Point]
		if !ok {
			branch = tree.AddBranch(r.Point)
			branches[r.Point] = branch
		}
		source := r.Source
		if source == "" {
			source = "builtin"
		}
		label := r.Name
		if r.Before {
			label += " (before)"
		}
		branch.AddMetaNode(source, label)
	}
	return tree
}
