// Package runner executes ccextractor with a timeout, forced termination
// and bounded capture of its output streams.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// waitDelay bounds how long Wait keeps copying output once the process
// has exited, in case a helper still holds the pipes open.
const waitDelay = 500 * time.Millisecond

// Runner spawns the configured binary. The zero Timeout disables the
// timer; callers normally set it from configuration.
type Runner struct {
	Binary    string
	Timeout   time.Duration
	MaxOutput int           // bytes retained per stream
	KillGrace time.Duration // 0: SIGKILL immediately on timeout
	Log       zerolog.Logger
}

// Run starts Binary with args in dir and returns once the process has
// exited on its own or has been killed after timeout (Runner.Timeout when
// zero). A process that cannot be started yields a *SpawnError. If ctx is
// cancelled the process is killed and the partial result is returned
// together with ctx.Err().
func (r *Runner) Run(ctx context.Context, args []string, dir string, timeout time.Duration) (*Result, error) {
	if r.Binary == "" {
		return nil, &SpawnError{Err: errors.New("no binary configured")}
	}
	if timeout <= 0 {
		timeout = r.Timeout
	}

	runID := uuid.New().String()
	log := r.Log.With().Str("run_id", runID).Str("binary", r.Binary).Logger()

	stdout := NewTailBuffer(r.MaxOutput)
	stderr := NewTailBuffer(r.MaxOutput)

	cmd := exec.Command(r.Binary, args...)
	cmd.Dir = dir
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("spawn failed")
		return nil, &SpawnError{Binary: r.Binary, Err: err}
	}
	log.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Str("dir", dir).Dur("timeout", timeout).Msg("process started")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var (
		waitErr  error
		timedOut bool
		ctxErr   error
	)
	select {
	case waitErr = <-done:
	case <-expired:
		select {
		case waitErr = <-done:
		default:
			timedOut = true
			log.Info().Dur("timeout", timeout).Msg("timeout reached, terminating process")
			waitErr = r.terminate(cmd, done)
		}
	case <-ctx.Done():
		ctxErr = ctx.Err()
		log.Info().Err(ctxErr).Msg("caller cancelled, terminating process")
		waitErr = r.terminate(cmd, done)
	}

	res := &Result{
		RunID:     runID,
		Args:      args,
		Dir:       dir,
		Stdout:    stdout.Capture(),
		Stderr:    stderr.Capture(),
		TimedOut:  timedOut,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if st := cmd.ProcessState; st != nil {
		if code := st.ExitCode(); code >= 0 {
			res.ExitCode = &code
		}
		res.Signal = exitSignal(st)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil, errors.As(waitErr, &exitErr):
	case errors.Is(waitErr, exec.ErrWaitDelay):
		log.Warn().Msg("output still open after exit, pipes closed")
	default:
		log.Warn().Err(waitErr).Msg("wait failed")
	}

	event := log.Info()
	if res.ExitCode != nil {
		event = event.Int("exit_code", *res.ExitCode)
	}
	event.Str("signal", res.Signal).
		Bool("timed_out", timedOut).
		Dur("duration", res.Duration).
		Int64("stdout_bytes", res.Stdout.TotalBytes).
		Int64("stderr_bytes", res.Stderr.TotalBytes).
		Msg("process finished")

	if ctxErr != nil {
		return res, fmt.Errorf("run %s: %w", runID, ctxErr)
	}
	return res, nil
}

// terminate kills the process group and waits for the process to be
// reaped. With a KillGrace the group is first asked to stop.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error) error {
	if r.KillGrace > 0 {
		_ = interruptGroup(cmd.Process)
		grace := time.NewTimer(r.KillGrace)
		defer grace.Stop()
		select {
		case err := <-done:
			return err
		case <-grace.C:
		}
	}
	// The process may already have exited; killing it again is harmless.
	_ = killGroup(cmd.Process)
	return <-done
}
