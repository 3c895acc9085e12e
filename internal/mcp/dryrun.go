package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/ccxmcp/internal/command"
)

type dryRunParams struct {
	InputPath  string   `json:"input_path" jsonschema:"path of the media file to read captions from"`
	OutputPath string   `json:"output_path,omitempty" jsonschema:"file the captions would be written to"`
	Format     string   `json:"format,omitempty" jsonschema:"output format hint, as for ccx_extract"`
	ExtraArgs  []string `json:"extra_args,omitempty" jsonschema:"additional ccextractor arguments"`
	WorkingDir string   `json:"working_dir,omitempty" jsonschema:"directory ccextractor would run in"`
}

type dryRunOutput struct {
	Command    string   `json:"command" jsonschema:"shell-quoted command line"`
	Args       []string `json:"args,omitempty" jsonschema:"argument vector after the binary"`
	WorkingDir string   `json:"working_dir"`
	OutputFile string   `json:"output_file,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

func (h *handler) dryRunHandler(ctx context.Context, req *mcp.CallToolRequest, params dryRunParams) (*mcp.CallToolResult, dryRunOutput, error) {
	plan, err := h.svc.DryRun(command.Request{
		InputPath:  params.InputPath,
		OutputPath: params.OutputPath,
		Format:     params.Format,
		ExtraArgs:  params.ExtraArgs,
		WorkDir:    params.WorkingDir,
	})
	if err != nil {
		return errorResult[dryRunOutput](toolError(err))
	}

	out := dryRunOutput{
		Command:    plan.Command,
		Args:       plan.Args,
		WorkingDir: plan.WorkDir,
		OutputFile: plan.OutputFile,
		Warnings:   plan.Warnings,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", plan.Command)
	fmt.Fprintf(&b, "Working directory: %s\n", plan.WorkDir)
	if len(plan.Warnings) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Warnings:")
		for _, w := range plan.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	return textResult(b.String(), out)
}
