package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/ringoldsdev/efemel/pkg/stores"
)

func newHistoryCommand(global *globalOptions) *cobra.Command {
	var (
		dbPath string
		env    string
		status string
		limit  int
		files  bool
		asJSON bool
		prune  int
		runID  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		Long: `Show runs recorded by process --history, newest first.

Use --run to show the files of one run and --prune to keep only the most
recent runs.`,
		Example: `  # Last 10 runs
  efemel history --history runs.db --limit 10

  # Failed production runs as JSON
  efemel history --history runs.db --env prod --status failed --json

  # Files of one run
  efemel history --history runs.db --run 3f0c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(afero.NewOsFs(), global)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("history") {
				cfg.History = dbPath
			}
			if cfg.History == "" {
				return fmt.Errorf("no history database: pass --history or set 'history' in the config file")
			}

			store, err := stores.Open(cmd.Context(), cfg.History)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if prune > 0 {
				n, err := store.PruneRuns(cmd.Context(), prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pruned %d runs\n", n)
				return nil
			}

			if runID != "" {
				run, err := store.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				records, err := store.ListFiles(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, struct {
						*stores.Run
						Files []*stores.FileRecord `json:"files"`
					}{run, records})
				}
				tree := treeprint.NewWithRoot(runLabel(run))
				addFiles(tree, records)
				fmt.Fprint(out, tree.String())
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), stores.RunFilter{
				Environment: env,
				Status:      status,
				Limit:       limit,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, runs)
			}

			tree := treeprint.NewWithRoot(fmt.Sprintf("runs (%d)", len(runs)))
			for _, run := range runs {
				branch := tree.AddBranch(runLabel(run))
				if files {
					records, err := store.ListFiles(cmd.Context(), run.ID)
					if err != nil {
						return err
					}
					addFiles(branch, records)
				}
			}
			fmt.Fprint(out, tree.String())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dbPath, "history", "", "SQLite database written by process --history")
	f.StringVarP(&env, "env", "e", "", "only runs for this environment")
	f.StringVar(&status, "status", "", "only runs with this status (succeeded, partial, failed, cancelled)")
	f.IntVarP(&limit, "limit", "n", 20, "maximum number of runs; 0 lists all")
	f.BoolVar(&files, "files", false, "include the files of each run")
	f.StringVar(&runID, "run", "", "show a single run with its files")
	f.BoolVar(&asJSON, "json", false, "print JSON")
	f.IntVar(&prune, "prune", 0, "delete all but the N most recent runs")
	return cmd
}

func runLabel(run *stores.Run) string {
	label := fmt.Sprintf("%s %s %s (%d ok, %d failed, %d skipped, %s)",
		run.StartedAt.Format("2006-01-02 15:04:05"), run.ID, run.Status,
		run.Succeeded, run.Failed, run.Skipped, run.Duration.Round(time.Millisecond))
	if run.Environment != "" {
		label += " env=" + run.Environment
	}
	if run.DryRun {
		label += " dry-run"
	}
	return label
}

func addFiles(tree treeprint.Tree, records []*stores.FileRecord) {
	for _, r := range records {
		switch r.Status {
		case stores.FileStatusSucceeded:
			tree.AddMetaNode(r.Status, fmt.Sprintf("%s -> %s", r.Path, r.Output))
		case stores.FileStatusFailed:
			tree.AddMetaNode(r.Status, fmt.Sprintf("%s: %s: %s", r.Path, r.Kind, r.Message))
		default:
			tree.AddMetaNode(r.Status, r.Path)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
