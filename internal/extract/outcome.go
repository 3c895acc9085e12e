package extract

import (
	"time"

	"github.com/deixis/ccxmcp/internal/command"
	"github.com/deixis/ccxmcp/internal/report"
	"github.com/deixis/ccxmcp/internal/runner"
)

// Outcome is the structured result of one extraction.
type Outcome struct {
	RunID    string
	ExitCode *int   // nil when the process was killed by a signal
	Signal   string // e.g. "SIGKILL"; empty on a normal exit
	TimedOut bool

	Stdout          string // captions when no output file was requested
	Stderr          string // ccextractor's progress and diagnostics
	StdoutTruncated bool
	StderrTruncated bool
	StdoutBytes     int64 // bytes written by the process, retained or not
	StderrBytes     int64

	InputPath  string
	OutputFile string // set only when an output path was requested
	Command    string // shell-quoted display form
	Args       []string
	WorkDir    string

	StartedAt time.Time
	Duration  time.Duration
}

// PrimaryText returns the captured stdout when it holds the captions. When
// an output file was requested the captions are in the file and ok is false.
func (o *Outcome) PrimaryText() (text string, ok bool) {
	if o.OutputFile != "" {
		return "", false
	}
	return o.Stdout, true
}

// Succeeded reports whether ccextractor exited with code 0 on its own.
func (o *Outcome) Succeeded() bool {
	return !o.TimedOut && o.ExitCode != nil && *o.ExitCode == 0
}

// assemble combines a finished process with the invocation that started it.
func assemble(res *runner.Result, req command.Request, inv *command.Invocation, cmdline string) *Outcome {
	return &Outcome{
		RunID:           res.RunID,
		ExitCode:        res.ExitCode,
		Signal:          res.Signal,
		TimedOut:        res.TimedOut,
		Stdout:          res.Stdout.Text,
		Stderr:          res.Stderr.Text,
		StdoutTruncated: res.Stdout.Truncated,
		StderrTruncated: res.Stderr.Truncated,
		StdoutBytes:     res.Stdout.TotalBytes,
		StderrBytes:     res.Stderr.TotalBytes,
		InputPath:       req.InputPath,
		OutputFile:      inv.OutputFile,
		Command:         cmdline,
		Args:            inv.Args,
		WorkDir:         inv.WorkDir,
		StartedAt:       res.StartedAt,
		Duration:        res.Duration,
	}
}

func (o *Outcome) record() *report.Record {
	return &report.Record{
		ID:              o.RunID,
		Kind:            report.Extract,
		Command:         o.Command,
		Args:            o.Args,
		WorkDir:         o.WorkDir,
		ExitCode:        o.ExitCode,
		Signal:          o.Signal,
		TimedOut:        o.TimedOut,
		Stdout:          o.Stdout,
		Stderr:          o.Stderr,
		StdoutTruncated: o.StdoutTruncated,
		StderrTruncated: o.StderrTruncated,
		StdoutBytes:     o.StdoutBytes,
		StderrBytes:     o.StderrBytes,
		InputPath:       o.InputPath,
		OutputFile:      o.OutputFile,
		StartedAt:       o.StartedAt,
		DurationMS:      o.Duration.Milliseconds(),
	}
}

// Plan is the dry-run view of a request: what would be executed.
type Plan struct {
	Command    string
	Args       []string
	WorkDir    string
	OutputFile string
	Warnings   []string
}

// VersionInfo is the result of asking ccextractor for its version.
type VersionInfo struct {
	RunID    string
	ExitCode *int
	TimedOut bool
	Text     string // trimmed text of the stream the version was read from
	Version  string // semantic version found in Text, empty if none
	Source   string // "stdout" or "stderr"
}

// BatchItem is the result of one request in a batch. Exactly one of
// Outcome and Err is set.
type BatchItem struct {
	InputPath string
	Outcome   *Outcome
	Err       error
}
