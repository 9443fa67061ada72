package engine

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xlab/treeprint"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// FileResult is a successfully processed entry file.
type FileResult struct {
	Path     string        `json:"path"`
	Output   string        `json:"output"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Failure is a failed entry file.
type Failure struct {
	Path     string        `json:"path"`
	Kind     Kind          `json:"kind"`
	Stage    string        `json:"stage,omitempty"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
	Err      *FileError    `json:"-"`
}

// Report is the outcome of a run. Succeeded and Failed keep entry order.
type Report struct {
	RunID       string        `json:"run_id"`
	Environment string        `json:"environment,omitempty"`
	DryRun      bool          `json:"dry_run"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Succeeded   []FileResult  `json:"succeeded"`
	Failed      []Failure     `json:"failed"`

	// Skipped lists entry files never dispatched because the run was cancelled.
	Skipped []string `json:"skipped,omitempty"`

	// Evaluations is the number of distinct module evaluations of the run.
	Evaluations int64 `json:"evaluations"`
}

// Total returns the number of entry files of the run.
func (r *Report) Total() int {
	return len(r.Succeeded) + len(r.Failed) + len(r.Skipped)
}

// OK reports whether every entry file succeeded.
func (r *Report) OK() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

// Status summarizes the run outcome.
func (r *Report) Status() string {
	switch {
	case len(r.Skipped) > 0:
		return StatusCancelled
	case len(r.Failed) == 0:
		return StatusSucceeded
	case len(r.Succeeded) > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Err returns all file failures as one error, or nil.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, f := range r.Failed {
		if f.Err != nil {
			result = multierror.Append(result, f.Err)
			continue
		}
		result = multierror.Append(result, fmt.Errorf("%s: %s: %s", f.Path, f.Kind, f.Message))
	}
	return result.ErrorOrNil()
}

// Tree renders the report for terminal output.
func (r *Report) Tree() string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("run %s: %s (%d files, %s)",
		r.RunID, r.Status(), r.Total(), r.Duration.Round(time.Millisecond)))

	if len(r.Succeeded) > 0 {
		label := "written"
		if r.DryRun {
			label = "dry run"
		}
		ok := tree.AddBranch(fmt.Sprintf("%s (%d)", label, len(r.Succeeded)))
		for _, s := range r.Succeeded {
			ok.AddNode(fmt.Sprintf("%s -> %s", s.Path, s.Output))
		}
	}
	if len(r.Failed) > 0 {
		failed := tree.AddBranch(fmt.Sprintf("failed (%d)", len(r.Failed)))
		for _, f := range r.Failed {
			failed.AddNode(fmt.Sprintf("%s [%s] %s", f.Path, f.Kind, f.Message))
		}
	}
	if len(r.Skipped) > 0 {
		skipped := tree.AddBranch(fmt.Sprintf("skipped (%d)", len(r.Skipped)))
		for _, s := range r.Skipped {
			skipped.AddNode(s)
		}
	}
	return tree.String()
}
