package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/ccxmcp/internal/command"
	"github.com/deixis/ccxmcp/internal/report"
)

type inspectParams struct {
	RunID string `json:"run_id,omitempty" jsonschema:"the run ID from a ccx_extract or ccx_report_version result; omit to list recent runs"`
	Kind  string `json:"kind,omitempty" jsonschema:"only accept or list runs of this kind: extract or version"`
}

type inspectOutput struct {
	Run    *runView   `json:"run,omitempty"`
	Recent []runBrief `json:"recent,omitempty"`
}

type runView struct {
	ID              string   `json:"id"`
	Kind            string   `json:"kind"`
	Command         string   `json:"command"`
	Args            []string `json:"args,omitempty"`
	WorkingDir      string   `json:"working_dir,omitempty"`
	ExitCode        *int     `json:"exit_code,omitempty"`
	Signal          string   `json:"signal,omitempty"`
	TimedOut        bool     `json:"timed_out"`
	Stdout          string   `json:"stdout"`
	Stderr          string   `json:"stderr"`
	StdoutTruncated bool     `json:"stdout_truncated"`
	StderrTruncated bool     `json:"stderr_truncated"`
	InputPath       string   `json:"input_path,omitempty"`
	OutputFile      string   `json:"output_file,omitempty"`
	StartedAt       string   `json:"started_at" jsonschema:"RFC 3339 start time"`
	DurationMS      int64    `json:"duration_ms"`
}

type runBrief struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Command   string `json:"command"`
	Succeeded bool   `json:"succeeded"`
	StartedAt string `json:"started_at"`
}

func newRunView(r *report.Record) *runView {
	return &runView{
		ID:              r.ID,
		Kind:            string(r.Kind),
		Command:         r.Command,
		Args:            r.Args,
		WorkingDir:      r.WorkDir,
		ExitCode:        r.ExitCode,
		Signal:          r.Signal,
		TimedOut:        r.TimedOut,
		Stdout:          r.Stdout,
		Stderr:          r.Stderr,
		StdoutTruncated: r.StdoutTruncated,
		StderrTruncated: r.StderrTruncated,
		InputPath:       r.InputPath,
		OutputFile:      r.OutputFile,
		StartedAt:       r.StartedAt.Format(time.RFC3339),
		DurationMS:      r.DurationMS,
	}
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, inspectOutput, error) {
	kind := report.Kind(strings.TrimSpace(params.Kind))
	if strings.TrimSpace(params.RunID) == "" {
		if kind != "" && !kind.Valid() {
			return errorResult[inspectOutput](fmt.Sprintf("kind must be %q or %q, got %q", report.Extract, report.Version, kind))
		}
		return h.listRecent(kind)
	}

	rec, err := h.svc.Inspect(params.RunID, kind)
	if err != nil {
		switch {
		case errors.Is(err, report.ErrNotFound):
			return errorResult[inspectOutput](fmt.Sprintf("No run %s. Run IDs are kept for the lifetime of the server.", params.RunID))
		case errors.Is(err, command.ErrInvalidRequest):
			return errorResult[inspectOutput](toolError(err))
		}
		return errorResult[inspectOutput](fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	return textResult(formatInspectOutput(rec), inspectOutput{Run: newRunView(rec)})
}

func (h *handler) listRecent(kind report.Kind) (*mcp.CallToolResult, inspectOutput, error) {
	recs := h.svc.Recent(kind)
	if len(recs) == 0 {
		return textResult("No runs recorded yet.", inspectOutput{})
	}

	out := inspectOutput{Recent: make([]runBrief, 0, len(recs))}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent runs (%d):\n", len(recs))
	for _, r := range recs {
		out.Recent = append(out.Recent, runBrief{
			ID:        r.ID,
			Kind:      string(r.Kind),
			Command:   r.Command,
			Succeeded: r.Succeeded(),
			StartedAt: r.StartedAt.Format(time.RFC3339),
		})
		state := "ok"
		if !r.Succeeded() {
			state = "failed"
		}
		fmt.Fprintf(&b, "  %s  %-7s  %-6s  %s  %s\n", r.ID, r.Kind, state, humanize.Time(r.StartedAt), r.Command)
	}
	return textResult(b.String(), out)
}

func formatInspectOutput(r *report.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s)\n", r.ID, r.Kind)
	fmt.Fprintf(&b, "Command: %s\n", r.Command)
	if r.WorkDir != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", r.WorkDir)
	}
	fmt.Fprintf(&b, "Started: %s (%s)\n", r.StartedAt.Format(time.RFC3339), humanize.Time(r.StartedAt))
	fmt.Fprintf(&b, "Duration: %s\n", (time.Duration(r.DurationMS) * time.Millisecond).String())
	switch {
	case r.TimedOut:
		fmt.Fprintln(&b, "Status: TIMEOUT")
	case r.ExitCode == nil:
		fmt.Fprintf(&b, "Status: KILLED (%s)\n", r.Signal)
	default:
		fmt.Fprintf(&b, "Exit code: %d\n", *r.ExitCode)
	}
	if r.OutputFile != "" {
		fmt.Fprintf(&b, "Output file: %s\n", r.OutputFile)
	}

	section := func(name, text string, truncated bool, total int64) {
		fmt.Fprintln(&b)
		note := ""
		if truncated {
			note = fmt.Sprintf(", truncated from %s", humanize.Bytes(uint64(total)))
		}
		fmt.Fprintf(&b, "%s%s:\n", name, note)
		if text == "" {
			fmt.Fprintln(&b, "    (empty)")
			return
		}
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	section("Stdout", r.Stdout, r.StdoutTruncated, r.StdoutBytes)
	section("Stderr", r.Stderr, r.StderrTruncated, r.StderrBytes)

	return b.String()
}
