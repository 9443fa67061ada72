package commands

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/ringoldsdev/efemel/pkg/hooks"
	"github.com/ringoldsdev/efemel/pkg/policy"
)

func newInfoCommand(info BuildInfo) *cobra.Command {
	var deps bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show build information and builtins",
		RunE: func(cmd *cobra.Command, args []string) error {
			tree := treeprint.NewWithRoot("efemel " + info.Version)
			tree.AddMetaNode("commit", info.Commit)
			tree.AddMetaNode("built", info.BuildDate)
			tree.AddMetaNode("go", fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH))

			builtinHooks := tree.AddBranch("builtin hooks")
			for _, name := range sortedKeys(hooks.Builtins()) {
				builtinHooks.AddNode(name)
			}

			builtinPolicies := tree.AddBranch("builtin policies")
			for _, p := range policy.BuiltinPolicies() {
				builtinPolicies.AddMetaNode(p.Name, p.Description)
			}

			if deps {
				if bi, ok := debug.ReadBuildInfo(); ok {
					branch := tree.AddBranch("dependencies")
					for _, dep := range bi.Deps {
						branch.AddMetaNode(dep.Version, dep.Path)
					}
				}
			}

			fmt.Fprint(cmd.OutOrStdout(), tree.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&deps, "deps", false, "list module dependencies")
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
