package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type versionParams struct{}

type versionOutput struct {
	RunID       string `json:"run_id"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	VersionText string `json:"version_text" jsonschema:"what ccextractor printed for --version"`
	Version     string `json:"version,omitempty" jsonschema:"semantic version parsed from version_text"`
	Source      string `json:"source" jsonschema:"stream version_text was read from: stdout or stderr"`
}

func (h *handler) versionHandler(ctx context.Context, req *mcp.CallToolRequest, _ versionParams) (*mcp.CallToolResult, versionOutput, error) {
	info, err := h.svc.Version(ctx)
	if err != nil {
		return errorResult[versionOutput](toolError(err))
	}

	out := versionOutput{
		RunID:       info.RunID,
		ExitCode:    info.ExitCode,
		VersionText: info.Text,
		Version:     info.Version,
		Source:      info.Source,
	}

	var b strings.Builder
	if info.Version != "" {
		fmt.Fprintf(&b, "CCExtractor %s\n", info.Version)
	}
	if info.TimedOut {
		fmt.Fprintln(&b, "Status: TIMEOUT")
	} else if info.ExitCode != nil && *info.ExitCode != 0 {
		fmt.Fprintf(&b, "Exit code: %d\n", *info.ExitCode)
	}
	fmt.Fprintf(&b, "Output (%s):\n%s\n", info.Source, info.Text)
	return textResult(b.String(), out)
}
