// Package extract implements the caller-facing operations: extraction,
// version reporting, dry runs, batches and run lookup. It validates
// requests, drives the runner and records every run.
package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/deixis/ccxmcp/internal/command"
	"github.com/deixis/ccxmcp/internal/config"
	"github.com/deixis/ccxmcp/internal/metrics"
	"github.com/deixis/ccxmcp/internal/report"
	"github.com/deixis/ccxmcp/internal/runner"
)

// MaxBatch bounds the number of requests accepted by ExtractBatch.
const MaxBatch = 64

// Version text sources.
const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"
)

// CommandRunner runs the ccextractor binary. *runner.Runner implements it.
type CommandRunner interface {
	Run(ctx context.Context, args []string, dir string, timeout time.Duration) (*runner.Result, error)
}

// Service is safe for concurrent use.
type Service struct {
	binary      string
	run         CommandRunner
	store       report.Store
	metrics     *metrics.Metrics
	log         zerolog.Logger
	maxParallel int

	mu        sync.RWMutex
	workDir   string
	workDirOK bool // workDir was configured explicitly and must not follow roots
}

// Options wires a Service. Store and Metrics are optional.
type Options struct {
	Config  *config.Config
	Runner  CommandRunner
	Store   report.Store
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// New creates a Service from opts.
func New(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Service{
		binary:      cfg.Binary(),
		run:         opts.Runner,
		store:       opts.Store,
		metrics:     opts.Metrics,
		log:         opts.Log,
		maxParallel: cfg.MaxParallel(),
		workDir:     cfg.WorkDir(),
		workDirOK:   cfg.WorkDirSet(),
	}
}

// DefaultWorkDir returns the directory used when a request names none.
func (s *Service) DefaultWorkDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workDir
}

// AdoptRoot makes dir the default working directory unless one was
// configured explicitly. It reports whether dir was adopted.
func (s *Service) AdoptRoot(dir string) bool {
	if dir == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workDirOK {
		return false
	}
	s.workDir = dir
	return true
}

// Extract runs ccextractor for req. A rejected request returns an error
// matching command.ErrInvalidRequest and a binary that cannot be started
// one matching runner.ErrSpawn; neither starts or leaves a process. A
// timeout or non-zero exit is reported in the Outcome, not as an error.
// If ctx is cancelled the partial Outcome is returned with ctx's error.
func (s *Service) Extract(ctx context.Context, req command.Request) (*Outcome, error) {
	if err := validate(req); err != nil {
		s.metrics.CountRejected(metrics.OpExtract, metrics.ResultInvalid)
		return nil, err
	}
	inv, err := command.Prepare(req, s.DefaultWorkDir())
	if err != nil {
		s.metrics.CountRejected(metrics.OpExtract, metrics.ResultInvalid)
		return nil, err
	}
	cmdline := command.CommandLine(s.binary, inv.Args)
	s.log.Debug().Str("command", cmdline).Str("dir", inv.WorkDir).Msg("extract")

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	res, runErr := s.run.Run(ctx, inv.Args, inv.WorkDir, timeout)
	if res == nil {
		if runErr == nil {
			runErr = errors.New("runner returned no result")
		}
		s.metrics.CountRejected(metrics.OpExtract, classifyError(runErr))
		return nil, runErr
	}

	out := assemble(res, req, inv, cmdline)
	s.save(out.record())
	s.observe(metrics.OpExtract, res, runErr)
	return out, runErr
}

// Version asks ccextractor for its version. The text is read from stdout
// and, if that is blank, from stderr; Source names the stream used.
func (s *Service) Version(ctx context.Context) (*VersionInfo, error) {
	args := command.VersionArgs()
	res, err := s.run.Run(ctx, args, "", 0)
	if res == nil {
		if err == nil {
			err = errors.New("runner returned no result")
		}
		s.metrics.CountRejected(metrics.OpVersion, classifyError(err))
		return nil, err
	}
	s.observe(metrics.OpVersion, res, err)

	info := &VersionInfo{
		RunID:    res.RunID,
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Text:     strings.TrimSpace(res.Stdout.Text),
		Source:   SourceStdout,
	}
	if info.Text == "" {
		info.Text = strings.TrimSpace(res.Stderr.Text)
		info.Source = SourceStderr
	}
	info.Version = parseVersion(info.Text)

	s.save(&report.Record{
		ID:              res.RunID,
		Kind:            report.Version,
		Command:         command.CommandLine(s.binary, args),
		Args:            args,
		WorkDir:         res.Dir,
		ExitCode:        res.ExitCode,
		Signal:          res.Signal,
		TimedOut:        res.TimedOut,
		Stdout:          res.Stdout.Text,
		Stderr:          res.Stderr.Text,
		StdoutTruncated: res.Stdout.Truncated,
		StderrTruncated: res.Stderr.Truncated,
		StdoutBytes:     res.Stdout.TotalBytes,
		StderrBytes:     res.Stderr.TotalBytes,
		StartedAt:       res.StartedAt,
		DurationMS:      res.Duration.Milliseconds(),
	})
	return info, err
}

// DryRun builds req without running anything or touching the filesystem.
// The same request always yields the same Plan.
func (s *Service) DryRun(req command.Request) (*Plan, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	inv, err := command.Build(req, s.DefaultWorkDir())
	if err != nil {
		return nil, err
	}
	return &Plan{
		Command:    command.CommandLine(s.binary, inv.Args),
		Args:       inv.Args,
		WorkDir:    inv.WorkDir,
		OutputFile: inv.OutputFile,
		Warnings:   command.Warnings(req, inv),
	}, nil
}

// ExtractBatch runs independent extractions, at most max_parallel at a
// time. Results keep the order of reqs. A failing item does not stop the
// others.
func (s *Service) ExtractBatch(ctx context.Context, reqs []command.Request) ([]BatchItem, error) {
	switch {
	case len(reqs) == 0:
		return nil, command.Invalid(errors.New("items: at least one request is required"))
	case len(reqs) > MaxBatch:
		return nil, command.Invalid(fmt.Errorf("items: at most %d requests are allowed, got %d", MaxBatch, len(reqs)))
	}

	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.maxParallel)
	for i, req := range reqs {
		items[i].InputPath = req.InputPath
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			out, err := s.Extract(ctx, req)
			items[i].Outcome, items[i].Err = out, err
			if err != nil && out != nil {
				// Cancelled mid-run: report the error, drop the partial outcome.
				items[i].Outcome = nil
			}
			return nil
		})
	}
	_ = g.Wait()
	return items, ctx.Err()
}

// recentLister is implemented by stores that can enumerate cached runs.
type recentLister interface {
	Recent() []*report.Record
}

// Inspect loads a previously recorded run. A non-empty kind rejects runs
// of any other kind.
func (s *Service) Inspect(runID string, kind report.Kind) (*report.Record, error) {
	if s.store == nil {
		return nil, errors.New("run history is disabled")
	}
	problems := command.Invalid()
	runID = strings.TrimSpace(runID)
	if runID == "" {
		problems.Add(errors.New("run_id is required"))
	}
	if kind != "" && !kind.Valid() {
		problems.Add(fmt.Errorf("kind must be %q or %q, got %q", report.Extract, report.Version, kind))
	}
	if err := problems.ErrorOrNil(); err != nil {
		return nil, err
	}

	rec, err := s.store.Load(runID)
	if err != nil {
		return nil, err
	}
	if kind != "" {
		if err := rec.Expect(kind); err != nil {
			return nil, command.Invalid(err)
		}
	}
	return rec, nil
}

// Recent returns recently recorded runs, newest first, when the store
// supports listing. A non-empty kind keeps only runs of that kind.
func (s *Service) Recent(kind report.Kind) []*report.Record {
	l, ok := s.store.(recentLister)
	if !ok {
		return nil
	}
	recs := l.Recent()
	if kind == "" {
		return recs
	}
	out := make([]*report.Record, 0, len(recs))
	for _, r := range recs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func (s *Service) save(rec *report.Record) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(rec); err != nil {
		s.log.Warn().Err(err).Str("run_id", rec.ID).Msg("saving run record")
	}
}

func (s *Service) observe(op string, res *runner.Result, err error) {
	result := metrics.ResultOK
	switch {
	case err != nil:
		result = metrics.ResultCancelled
	case res.TimedOut:
		result = metrics.ResultTimeout
	case res.ExitCode == nil || *res.ExitCode != 0:
		result = metrics.ResultNonZero
	}
	s.metrics.ObserveRun(op, result, res.Duration)
	s.metrics.ObserveTruncation(res.Stdout.Truncated, res.Stderr.Truncated)
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, runner.ErrSpawn):
		return metrics.ResultSpawnError
	case errors.Is(err, command.ErrInvalidRequest):
		return metrics.ResultInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ResultCancelled
	}
	return metrics.ResultSpawnError
}

// validate checks the fields Build does not: every problem is reported.
func validate(req command.Request) error {
	problems := command.Invalid()
	if strings.TrimSpace(req.InputPath) == "" {
		problems.Add(errors.New("input_path is required"))
	}
	maxSecs := int(config.MaxTimeout / time.Second)
	if req.TimeoutSeconds < 0 || req.TimeoutSeconds > maxSecs {
		problems.Add(fmt.Errorf("timeout_seconds must be between 1 and %d, got %d", maxSecs, req.TimeoutSeconds))
	}
	for i, arg := range req.ExtraArgs {
		if strings.ContainsRune(arg, 0) {
			problems.Add(fmt.Errorf("extra_args[%d] contains a NUL byte", i))
		}
	}
	return problems.ErrorOrNil()
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?`)

// parseVersion extracts the first dotted version number from text and
// normalizes it, e.g. "CCExtractor 0.94" gives "0.94.0".
func parseVersion(text string) string {
	for _, m := range versionPattern.FindAllString(text, -1) {
		if v, err := semver.NewVersion(m); err == nil {
			return v.String()
		}
	}
	return ""
}
