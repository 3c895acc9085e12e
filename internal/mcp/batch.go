package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/ccxmcp/internal/command"
)

type batchParams struct {
	Items []extractParams `json:"items" jsonschema:"extraction requests, each as for ccx_extract"`
}

type batchOutput struct {
	Results []batchResult `json:"results,omitempty"`
}

type batchResult struct {
	InputPath string         `json:"input_path"`
	Outcome   *extractOutput `json:"outcome,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (h *handler) batchHandler(ctx context.Context, req *mcp.CallToolRequest, params batchParams) (*mcp.CallToolResult, batchOutput, error) {
	reqs := make([]command.Request, len(params.Items))
	for i, item := range params.Items {
		reqs[i] = item.request()
	}

	items, err := h.svc.ExtractBatch(ctx, reqs)
	if err != nil {
		return errorResult[batchOutput](toolError(err))
	}

	out := batchOutput{Results: make([]batchResult, len(items))}
	var b strings.Builder
	failed := 0
	for i, item := range items {
		r := batchResult{InputPath: item.InputPath}
		switch {
		case item.Err != nil:
			failed++
			r.Error = toolError(item.Err)
			fmt.Fprintf(&b, "%d. %s: ERROR %s\n", i+1, item.InputPath, firstLine(r.Error))
		default:
			o := newExtractOutput(item.Outcome)
			r.Outcome = &o
			if !item.Outcome.Succeeded() {
				failed++
			}
			fmt.Fprintf(&b, "%d. %s: %s (run %s)\n", i+1, item.InputPath, status(item.Outcome), item.Outcome.RunID)
		}
		out.Results[i] = r
	}
	header := fmt.Sprintf("Batch: %d items, %d succeeded, %d failed\n\n", len(items), len(items)-failed, failed)
	return textResult(header+b.String(), out)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
