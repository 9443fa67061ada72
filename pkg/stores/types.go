package stores

import (
	"time"
)

// FileStatus is the outcome of one entry file.
type FileStatus string

const (
	FileStatusSucceeded FileStatus = "succeeded"
	FileStatusFailed    FileStatus = "failed"
	FileStatusSkipped   FileStatus = "skipped"
)

// Run is a recorded run.
type Run struct {
	ID          string        `json:"id"`
	Environment string        `json:"environment,omitempty"`
	Status      string        `json:"status"`
	DryRun      bool          `json:"dry_run"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Evaluations int64         `json:"evaluations"`

	// Error is the aggregated failure message, if any file failed.
	Error *string `json:"error,omitempty"`
}

// FileRecord is the recorded outcome of one entry file of a run.
type FileRecord struct {
	RunID    string        `json:"run_id"`
	Path     string        `json:"path"`
	Status   FileStatus    `json:"status"`
	Output   string        `json:"output,omitempty"`
	Bytes    int           `json:"bytes,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Stage    string        `json:"stage,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Environment string
	Status      string
	Limit       int
	Offset      int
}
