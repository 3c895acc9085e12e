// Package report keeps the history of ccextractor runs so a caller can
// look a run up again by its ID.
package report

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the type of a run.
type Kind string

const (
	// Extract is a caption extraction run.
	Extract Kind = "extract"
	// Version is a --version probe.
	Version Kind = "version"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == Extract || k == Version
}

// ErrNotFound is returned by Load for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Store persists and retrieves run records.
type Store interface {
	Save(rec *Record) error
	Load(runID string) (*Record, error)
}

// Record is the stored form of one run.
type Record struct {
	ID      string   `json:"id"`
	Kind    Kind     `json:"kind"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	WorkDir string   `json:"working_dir"`

	ExitCode *int   `json:"exit_code,omitempty"`
	Signal   string `json:"signal,omitempty"`
	TimedOut bool   `json:"timed_out"`

	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdout_truncated"`
	StderrTruncated bool   `json:"stderr_truncated"`
	StdoutBytes     int64  `json:"stdout_bytes"`
	StderrBytes     int64  `json:"stderr_bytes"`

	InputPath  string `json:"input_path,omitempty"`
	OutputFile string `json:"output_file,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Expect returns an error if the run's Kind does not match want.
func (r *Record) Expect(want Kind) error {
	if r.Kind != want {
		return fmt.Errorf("run %s is a %s run, not a %s run", r.ID, r.Kind, want)
	}
	return nil
}

// Succeeded reports whether the process exited with code 0 on its own.
func (r *Record) Succeeded() bool {
	return !r.TimedOut && r.ExitCode != nil && *r.ExitCode == 0
}
