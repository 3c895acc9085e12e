package runner

import (
	"errors"
	"fmt"
	"time"
)

// Result holds the output of one ccextractor process.
type Result struct {
	RunID     string
	Args      []string
	Dir       string
	ExitCode  *int   // nil when the process reported no exit code (killed by a signal)
	Signal    string // terminating signal, e.g. "SIGKILL"
	Stdout    Capture
	Stderr    Capture
	TimedOut  bool // the process was killed because the timeout elapsed
	StartedAt time.Time
	Duration  time.Duration
}

// Truncated reports whether either stream lost output.
func (r *Result) Truncated() bool {
	return r.Stdout.Truncated || r.Stderr.Truncated
}

// ErrSpawn matches every *SpawnError via errors.Is.
var ErrSpawn = errors.New("spawn failed")

// SpawnError reports that the binary could not be started at all.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Binary == "" {
		return fmt.Sprintf("%v: %v", ErrSpawn, e.Err)
	}
	return fmt.Sprintf("starting %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }
