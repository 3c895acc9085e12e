package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/ccxmcp/internal/command"
	"github.com/deixis/ccxmcp/internal/extract"
)

type extractParams struct {
	InputPath      string   `json:"input_path" jsonschema:"path of the media file to read captions from"`
	OutputPath     string   `json:"output_path,omitempty" jsonschema:"file to write captions to; relative paths resolve against the working directory. Omit to return captions in primary_text"`
	Format         string   `json:"format,omitempty" jsonschema:"output format: srt (default), webvtt, webvtt-full, sami, ass, ssa, ttxt, txt, smptett, scc, ccd, dvdraw, mcc, spupng or g608"`
	ExtraArgs      []string `json:"extra_args,omitempty" jsonschema:"additional ccextractor arguments, passed verbatim after the generated ones"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" jsonschema:"kill the process after this many seconds (1 to 3600); defaults to the server setting"`
	WorkingDir     string   `json:"working_dir,omitempty" jsonschema:"directory to run ccextractor in; created if missing"`
}

func (p extractParams) request() command.Request {
	return command.Request{
		InputPath:      p.InputPath,
		OutputPath:     p.OutputPath,
		Format:         p.Format,
		ExtraArgs:      p.ExtraArgs,
		TimeoutSeconds: p.TimeoutSeconds,
		WorkDir:        p.WorkingDir,
	}
}

type extractOutput struct {
	RunID           string  `json:"run_id" jsonschema:"ID for ccx_inspect"`
	ExitCode        *int    `json:"exit_code,omitempty" jsonschema:"process exit code; absent when the process was killed by a signal"`
	Signal          string  `json:"signal,omitempty" jsonschema:"signal that terminated the process"`
	OutputFile      string  `json:"output_file,omitempty" jsonschema:"resolved output path, present when output_path was given"`
	PrimaryText     *string `json:"primary_text,omitempty" jsonschema:"captured stdout holding the captions; absent when output_path was given"`
	DiagnosticText  string  `json:"diagnostic_text" jsonschema:"captured stderr"`
	TimedOut        bool    `json:"timed_out"`
	StdoutTruncated bool    `json:"stdout_truncated"`
	StderrTruncated bool    `json:"stderr_truncated"`
	Command         string  `json:"command" jsonschema:"the command line that was run"`
	DurationMS      int64   `json:"duration_ms"`
}

func newExtractOutput(o *extract.Outcome) extractOutput {
	out := extractOutput{
		RunID:           o.RunID,
		ExitCode:        o.ExitCode,
		Signal:          o.Signal,
		OutputFile:      o.OutputFile,
		DiagnosticText:  o.Stderr,
		TimedOut:        o.TimedOut,
		StdoutTruncated: o.StdoutTruncated,
		StderrTruncated: o.StderrTruncated,
		Command:         o.Command,
		DurationMS:      o.Duration.Milliseconds(),
	}
	if text, ok := o.PrimaryText(); ok {
		out.PrimaryText = &text
	}
	return out
}

func (h *handler) extractHandler(ctx context.Context, req *mcp.CallToolRequest, params extractParams) (*mcp.CallToolResult, extractOutput, error) {
	outcome, err := h.svc.Extract(ctx, params.request())
	if err != nil {
		return errorResult[extractOutput](toolError(err))
	}
	return textResult(formatExtract(outcome), newExtractOutput(outcome))
}

func formatExtract(o *extract.Outcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", status(o))
	fmt.Fprintf(&b, "Run: %s\n", o.RunID)
	fmt.Fprintf(&b, "Command: %s\n", o.Command)
	fmt.Fprintf(&b, "Duration: %s\n", o.Duration.Round(time.Millisecond))
	if o.OutputFile != "" {
		fmt.Fprintf(&b, "Output file: %s\n", o.OutputFile)
	}
	fmt.Fprintf(&b, "Stdout: %s%s\n", humanize.Bytes(uint64(o.StdoutBytes)), truncNote(o.StdoutTruncated))
	fmt.Fprintf(&b, "Stderr: %s%s\n", humanize.Bytes(uint64(o.StderrBytes)), truncNote(o.StderrTruncated))

	if text, ok := o.PrimaryText(); ok && text != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Captions:")
		fmt.Fprint(&b, ensureNewline(text))
	}
	if o.Stderr != "" && !o.Succeeded() {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Diagnostics:")
		fmt.Fprint(&b, ensureNewline(o.Stderr))
	}
	return b.String()
}

func status(o *extract.Outcome) string {
	switch {
	case o.TimedOut:
		return "TIMEOUT"
	case o.ExitCode == nil:
		return fmt.Sprintf("KILLED (%s)", o.Signal)
	case *o.ExitCode == 0:
		return "OK"
	}
	return fmt.Sprintf("FAIL (exit %d)", *o.ExitCode)
}

func truncNote(truncated bool) string {
	if truncated {
		return " (truncated, tail kept)"
	}
	return ""
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
