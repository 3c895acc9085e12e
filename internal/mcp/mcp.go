// Package mcp provides the ccxmcp MCP server, registering all tools
// and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/deixis/ccxmcp"
	"github.com/deixis/ccxmcp/internal/command"
	"github.com/deixis/ccxmcp/internal/config"
	"github.com/deixis/ccxmcp/internal/extract"
	"github.com/deixis/ccxmcp/internal/runner"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	svc *extract.Service
	log zerolog.Logger
}

// NewServer creates an MCP server with all ccxmcp tools registered.
func NewServer(svc *extract.Service, log zerolog.Logger) *mcp.Server {
	h := &handler{svc: svc, log: log}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkDirFromRoots(ctx, req.Session)
		},
		RootsListChangedHandler: func(ctx context.Context, req *mcp.RootsListChangedRequest) {
			h.updateWorkDirFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "ccxmcp", Version: ccxmcp.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ccx_extract",
		Description: `Extract captions from a media file with CCExtractor.

Without output_path the captions are returned in primary_text; with it they are written
to output_file and only diagnostics are returned. The run is recorded for ccx_inspect.
A non-zero exit code or a timeout is reported in the result, not as a tool error.`,
		InputSchema: requestSchema[extractParams](),
	}, h.extractHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ccx_report_version",
		Description: "Report the installed CCExtractor version.",
	}, h.versionHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ccx_dry_run",
		Description: `Show the command ccx_extract would run for the same parameters, with warnings.

Nothing is executed and nothing is written to disk.`,
		InputSchema: requestSchema[dryRunParams](),
	}, h.dryRunHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ccx_extract_batch",
		Description: fmt.Sprintf(`Run up to %d independent extractions in parallel.

Each item takes the same parameters as ccx_extract. Results are returned in item order;
a failing item reports its error without affecting the others.`, extract.MaxBatch),
		InputSchema: batchSchema(),
	}, h.batchHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ccx_inspect",
		Description: `Show a recorded run by run_id, including its full captured output.

Without run_id, lists the most recent runs. kind (extract or version) restricts both.`,
	}, h.inspectHandler)

	return s
}

// updateWorkDirFromRoots queries the client for MCP roots and makes the
// first file root the default working directory, unless one was
// configured explicitly.
func (h *handler) updateWorkDirFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		h.log.Debug().Err(err).Msg("listing roots")
		return
	}
	for _, root := range roots.Roots {
		u, err := url.Parse(root.URI)
		if err != nil || u.Scheme != "file" || u.Path == "" {
			continue
		}
		if h.svc.AdoptRoot(u.Path) {
			h.log.Info().Str("workdir", u.Path).Msg("working directory set from client root")
		}
		return
	}
}

// requestSchema infers the input schema of T and tightens the request
// fields the inference cannot express.
func requestSchema[T any]() *jsonschema.Schema {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("inferring schema: %v", err))
	}
	boundRequest(s)
	return s
}

func batchSchema() *jsonschema.Schema {
	s, err := jsonschema.For[batchParams](nil)
	if err != nil {
		panic(fmt.Sprintf("inferring schema: %v", err))
	}
	if items, ok := s.Properties["items"]; ok {
		minItems, maxItems := 1, extract.MaxBatch
		items.MinItems = &minItems
		items.MaxItems = &maxItems
		if items.Items != nil {
			boundRequest(items.Items)
		}
	}
	return s
}

func boundRequest(s *jsonschema.Schema) {
	if p, ok := s.Properties["input_path"]; ok {
		minLen := 1
		p.MinLength = &minLen
	}
	if p, ok := s.Properties["timeout_seconds"]; ok {
		lo, hi := 1.0, float64(config.MaxTimeout/time.Second)
		p.Minimum = &lo
		p.Maximum = &hi
	}
}

// toolError maps a service error to the text shown to the model.
func toolError(err error) string {
	var spawn *runner.SpawnError
	switch {
	case errors.Is(err, command.ErrInvalidRequest):
		return err.Error()
	case errors.As(err, &spawn):
		return fmt.Sprintf("%v\nIs ccextractor installed and on PATH? Set CCX_BINARY to its location otherwise.", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("cancelled: %v", err)
	}
	return err.Error()
}

// textResult is a helper to build a text tool result carrying structured output.
func textResult[Out any](text string, out Out) (*mcp.CallToolResult, Out, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, out, nil
}

// errorResult is a helper to build an error tool result.
func errorResult[Out any](text string) (*mcp.CallToolResult, Out, error) {
	var zero Out
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, zero, nil
}
