package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/deixis/ccxmcp/internal/command"
	"github.com/deixis/ccxmcp/internal/extract"
)

// exitTimedOut matches timeout(1).
const exitTimedOut = 124

type requestFlags struct {
	output  string
	format  string
	workDir string
	timeout int
	json    bool
}

func (f *requestFlags) register(cmd *cobra.Command, withTimeout bool) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write captions to this file instead of stdout")
	cmd.Flags().StringVar(&f.format, "format", "", "output format ("+strings.Join(command.Formats(), ", ")+")")
	cmd.Flags().StringVar(&f.workDir, "workdir", "", "directory to run ccextractor in")
	cmd.Flags().BoolVar(&f.json, "json", false, "output the result as JSON")
	if withTimeout {
		cmd.Flags().IntVar(&f.timeout, "timeout", 0, "kill ccextractor after this many seconds (default from config)")
	}
}

// request builds a Request from the input path, the flags and any
// arguments given after "--".
func (f *requestFlags) request(cmd *cobra.Command, args []string) command.Request {
	var extra []string
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		extra = args[dash:]
	}
	return command.Request{
		InputPath:      args[0],
		OutputPath:     f.output,
		Format:         f.format,
		ExtraArgs:      extra,
		TimeoutSeconds: f.timeout,
		WorkDir:        f.workDir,
	}
}

func inputArgs(cmd *cobra.Command, args []string) error {
	n := len(args)
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		n = dash
	}
	if n != 1 {
		return fmt.Errorf("expected exactly one input file before \"--\", got %d", n)
	}
	return nil
}

func newExtractCmd(a *app) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "extract <input> [-- ccextractor args...]",
		Short: "Extract captions from a media file",
		Long: `Extract captions from a media file.

Captions go to stdout unless --output is given; ccextractor's diagnostics go
to stderr. The exit status is ccextractor's, or 124 when it was killed after
the timeout.`,
		Args: inputArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.svc.Extract(cmd.Context(), flags.request(cmd, args))
			if err != nil && out == nil {
				return err
			}

			if flags.json {
				if err := writeJSON(cmd.OutOrStdout(), outcomeJSON(out)); err != nil {
					return err
				}
			} else {
				if text, ok := out.PrimaryText(); ok {
					fmt.Fprint(cmd.OutOrStdout(), text)
				}
				fmt.Fprint(cmd.ErrOrStderr(), out.Stderr)
				fmt.Fprintln(cmd.ErrOrStderr(), summary(out))
			}
			if err != nil {
				return err
			}
			return exitStatus(out)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newDryRunCmd(a *app) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "dry-run <input> [-- ccextractor args...]",
		Short: "Print the command extract would run, without running it",
		Args:  inputArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.svc.DryRun(flags.request(cmd, args))
			if err != nil {
				return err
			}
			if flags.json {
				warnings := plan.Warnings
				if warnings == nil {
					warnings = []string{}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"command":     plan.Command,
					"args":        plan.Args,
					"working_dir": plan.WorkDir,
					"warnings":    warnings,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), plan.Command)
			for _, w := range plan.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func exitStatus(o *extract.Outcome) error {
	switch {
	case o.TimedOut:
		return &exitError{code: exitTimedOut}
	case o.ExitCode == nil:
		return &exitError{code: 1}
	case *o.ExitCode != 0:
		return &exitError{code: *o.ExitCode}
	}
	return nil
}

func summary(o *extract.Outcome) string {
	var state string
	switch {
	case o.TimedOut:
		state = "timed out"
	case o.ExitCode == nil:
		state = "killed by " + o.Signal
	default:
		state = fmt.Sprintf("exit %d", *o.ExitCode)
	}
	line := fmt.Sprintf("ccxmcp: run %s: %s in %s, stdout %s, stderr %s",
		o.RunID, state, o.Duration.Round(time.Millisecond),
		humanize.Bytes(uint64(o.StdoutBytes)), humanize.Bytes(uint64(o.StderrBytes)))
	if o.StdoutTruncated || o.StderrTruncated {
		line += " (truncated)"
	}
	if o.OutputFile != "" {
		line += ", captions in " + o.OutputFile
	}
	return line
}

func outcomeJSON(o *extract.Outcome) map[string]any {
	m := map[string]any{
		"run_id":           o.RunID,
		"diagnostic_text":  o.Stderr,
		"timed_out":        o.TimedOut,
		"stdout_truncated": o.StdoutTruncated,
		"stderr_truncated": o.StderrTruncated,
		"command":          o.Command,
		"duration_ms":      o.Duration.Milliseconds(),
	}
	if o.ExitCode != nil {
		m["exit_code"] = *o.ExitCode
	}
	if o.Signal != "" {
		m["signal"] = o.Signal
	}
	if o.OutputFile != "" {
		m["output_file"] = o.OutputFile
	}
	if text, ok := o.PrimaryText(); ok {
		m["primary_text"] = text
	}
	return m
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return nil
}
