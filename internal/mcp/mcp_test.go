package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/ccxmcp/internal/config"
	"github.com/deixis/ccxmcp/internal/extract"
	"github.com/deixis/ccxmcp/internal/report"
	"github.com/deixis/ccxmcp/internal/runner"
)

// fakeCCExtractor mimics the ccextractor command line closely enough for
// the tools: --version, -o <file>, --stdout and a few failure modes keyed
// on the input path.
const fakeCCExtractor = `if [ "$1" = "--version" ]; then echo "CCExtractor 0.94"; exit 0; fi
in="$1"; shift
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
  esac
  shift
done
case "$in" in
  *slow*) echo "scanning" >&2; sleep 30 ;;
  *broken*) echo "Error: unable to open input" >&2; exit 2 ;;
esac
if [ -n "$out" ]; then
  printf '1\n00:00:01,000 --> 00:00:02,000\nHELLO\n' > "$out"
else
  printf '1\n00:00:01,000 --> 00:00:02,000\nHELLO\n'
fi
echo "100% done" >&2`

type fixture struct {
	cs      *mcp.ClientSession
	svc     *extract.Service
	workDir string
}

type setupOptions struct {
	cfg   *config.Config
	roots []*mcp.Root
}

// setup creates a full ccxmcp MCP server + client over in-memory transports,
// backed by a fake ccextractor script.
func setup(t *testing.T, opts setupOptions) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := opts.cfg
	if cfg == nil {
		cfg = &config.Config{RawWorkDir: filepath.Join(t.TempDir(), "work")}
	}
	if cfg.RawBinary == "" {
		bin := filepath.Join(t.TempDir(), "ccextractor")
		require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+fakeCCExtractor+"\n"), 0o755))
		cfg.RawBinary = bin
	}

	r := &runner.Runner{
		Binary:    cfg.Binary(),
		Timeout:   cfg.Timeout(),
		MaxOutput: cfg.MaxOutputBytes(),
		Log:       zerolog.Nop(),
	}
	store := report.NewLRUStore(5, report.NewDiskStore(t.TempDir()))
	svc := extract.New(extract.Options{Config: cfg, Runner: r, Store: store, Log: zerolog.Nop()})
	server := NewServer(svc, zerolog.Nop())

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	client.AddRoots(opts.roots...)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return &fixture{cs: cs, svc: svc, workDir: cfg.WorkDir()}
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool(%s)", name)
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// structured decodes the structured content of r into T.
func structured[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	var out T
	data, err := json.Marshal(r.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

// assertRejected accepts either form of refusal: a protocol error from
// input validation or a tool error result.
func assertRejected(t *testing.T, res *mcp.CallToolResult, err error) {
	t.Helper()
	if err != nil {
		return
	}
	require.NotNil(t, res)
	assert.True(t, res.IsError, "expected the call to be rejected, got:\n%s", resultText(res))
}

func TestListTools(t *testing.T) {
	f := setup(t, setupOptions{})
	res, err := f.cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ccx_extract", "ccx_report_version", "ccx_dry_run", "ccx_extract_batch", "ccx_inspect"}, names)
}

// --- ccx_extract ---

func TestCCXExtract_Stdout(t *testing.T) {
	f := setup(t, setupOptions{})
	res := callTool(t, f.cs, "ccx_extract", map[string]any{"input_path": "/media/show.ts"})
	text := resultText(res)
	require.False(t, res.IsError, text)

	assert.Contains(t, text, "Status: OK")
	assert.Contains(t, text, "HELLO")

	out := structured[extractOutput](t, res)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)
	require.NotNil(t, out.PrimaryText)
	assert.Contains(t, *out.PrimaryText, "00:00:01,000 --> 00:00:02,000")
	assert.Equal(t, "100% done\n", out.DiagnosticText)
	assert.Empty(t, out.OutputFile)
	assert.False(t, out.TimedOut)
	assert.NotEmpty(t, out.RunID)
	assert.True(t, strings.HasSuffix(out.Command, "/media/show.ts --stdout"), out.Command)
}

func TestCCXExtract_OutputFile(t *testing.T) {
	f := setup(t, setupOptions{})
	res := callTool(t, f.cs, "ccx_extract", map[string]any{
		"input_path":  "/media/show.ts",
		"output_path": "show.srt",
	})
	require.False(t, res.IsError, resultText(res))

	out := structured[extractOutput](t, res)
	want := filepath.Join(f.workDir, "show.srt")
	assert.Equal(t, want, out.OutputFile)
	assert.Nil(t, out.PrimaryText, "primary_text omitted when writing to a file")

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), "HELLO")
}

func TestCCXExtract_NonZeroExitIsNotToolError(t *testing.T) {
	f := setup(t, setupOptions{})
	res := callTool(t, f.cs, "ccx_extract", map[string]any{"input_path": "/media/broken.ts"})
	text := resultText(res)
	assert.False(t, res.IsError)
	assert.Contains(t, text, "FAIL (exit 2)")
	assert.Contains(t, text, "unable to open input")

	out := structured[extractOutput](t, res)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 2, *out.ExitCode)
}

func TestCCXExtract_Timeout(t *testing.T) {
	f := setup(t, setupOptions{})
	start := time.Now()
	res := callTool(t, f.cs, "ccx_extract", map[string]any{
		"input_path":      "/media/slow.ts",
		"timeout_seconds": 1,
	})
	assert.Less(t, time.Since(start), 5*time.Second)
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "Status: TIMEOUT")

	out := structured[extractOutput](t, res)
	assert.True(t, out.TimedOut)
	assert.Nil(t, out.ExitCode)
	assert.Contains(t, out.DiagnosticText, "scanning")
}

func TestCCXExtract_MissingInputPath(t *testing.T) {
	f := setup(t, setupOptions{})
	res, err := f.cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "ccx_extract",
		Arguments: map[string]any{"output_path": "x.srt"},
	})
	assertRejected(t, res, err)
}

func TestCCXExtract_TimeoutOutOfRange(t *testing.T) {
	f := setup(t, setupOptions{})
	res, err := f.cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "ccx_extract",
		Arguments: map[string]any{"input_path": "/in.ts", "timeout_seconds": 7200},
	})
	assertRejected(t, res, err)
	assert.Empty(t, f.svc.Recent(""), "nothing was run")
}

func TestCCXExtract_BinaryMissing(t *testing.T) {
	f := setup(t, setupOptions{cfg: &config.Config{
		RawBinary:  "/nonexistent/ccextractor",
		RawWorkDir: t.TempDir(),
	}})
	res := callTool(t, f.cs, "ccx_extract", map[string]any{"input_path": "/in.ts"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "CCX_BINARY")
}

// --- ccx_report_version ---

func TestCCXReportVersion(t *testing.T) {
	f := setup(t, setupOptions{})
	res := callTool(t, f.cs, "ccx_report_version", nil)
	require.False(t, res.IsError, resultText(res))

	out := structured[versionOutput](t, res)
	assert.Equal(t, "CCExtractor 0.94", out.VersionText)
	assert.Equal(t, "0.94.0", out.Version)
	assert.Equal(t, "stdout", out.Source)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)
}

// --- ccx_dry_run ---

func TestCCXDryRun(t *testing.T) {
	f := setup(t, setupOptions{})
	args := map[string]any{
		"input_path":  "/media/my show.ts",
		"output_path": "show.vtt",
		"format":      "WebVTT",
		"extra_args":  []string{"-latin1"},
	}
	first := callTool(t, f.cs, "ccx_dry_run", args)
	require.False(t, first.IsError, resultText(first))
	second := callTool(t, f.cs, "ccx_dry_run", args)

	out := structured[dryRunOutput](t, first)
	assert.Equal(t, out, structured[dryRunOutput](t, second))

	resolved := filepath.Join(f.workDir, "show.vtt")
	assert.Equal(t, []string{"/media/my show.ts", "-o", resolved, "--out", "webvtt", "-latin1"}, out.Args)
	assert.Contains(t, out.Command, "'/media/my show.ts'")
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, resultText(first), "Warnings:")

	assert.NoDirExists(t, f.workDir, "dry run touches nothing")
	assert.Empty(t, f.svc.Recent(""))
}

// --- ccx_extract_batch ---

func TestCCXExtractBatch(t *testing.T) {
	f := setup(t, setupOptions{})
	res := callTool(t, f.cs, "ccx_extract_batch", map[string]any{
		"items": []map[string]any{
			{"input_path": "/media/a.ts"},
			{"input_path": "/media/broken.ts"},
			{"input_path": "/media/c.ts", "output_path": "c.srt"},
		},
	})
	text := resultText(res)
	require.False(t, res.IsError, text)
	assert.Contains(t, text, "3 items, 2 succeeded, 1 failed")

	out := structured[batchOutput](t, res)
	require.Len(t, out.Results, 3)
	assert.Equal(t, "/media/a.ts", out.Results[0].InputPath)
	assert.Equal(t, "/media/broken.ts", out.Results[1].InputPath)
	assert.Equal(t, "/media/c.ts", out.Results[2].InputPath)

	require.NotNil(t, out.Results[1].Outcome)
	assert.Equal(t, 2, *out.Results[1].Outcome.ExitCode)
	require.NotNil(t, out.Results[2].Outcome)
	assert.Equal(t, filepath.Join(f.workDir, "c.srt"), out.Results[2].Outcome.OutputFile)
}

func TestCCXExtractBatch_Empty(t *testing.T) {
	f := setup(t, setupOptions{})
	res, err := f.cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "ccx_extract_batch",
		Arguments: map[string]any{"items": []any{}},
	})
	assertRejected(t, res, err)
}

// --- ccx_inspect ---

func TestCCXInspect_AfterExtract(t *testing.T) {
	f := setup(t, setupOptions{})
	res := callTool(t, f.cs, "ccx_extract", map[string]any{"input_path": "/media/broken.ts"})
	runID := structured[extractOutput](t, res).RunID
	require.NotEmpty(t, runID)

	insp := callTool(t, f.cs, "ccx_inspect", map[string]any{"run_id": runID})
	text := resultText(insp)
	require.False(t, insp.IsError, text)
	assert.Contains(t, text, "Run: "+runID+" (extract)")
	assert.Contains(t, text, "Exit code: 2")
	assert.Contains(t, text, "unable to open input")

	out := structured[inspectOutput](t, insp)
	require.NotNil(t, out.Run)
	assert.Equal(t, "/media/broken.ts", out.Run.InputPath)
}

func TestCCXInspect_ListsRecent(t *testing.T) {
	f := setup(t, setupOptions{})
	empty := callTool(t, f.cs, "ccx_inspect", nil)
	assert.Contains(t, resultText(empty), "No runs recorded yet.")

	callTool(t, f.cs, "ccx_extract", map[string]any{"input_path": "/media/a.ts"})
	callTool(t, f.cs, "ccx_report_version", nil)

	res := callTool(t, f.cs, "ccx_inspect", nil)
	out := structured[inspectOutput](t, res)
	require.Len(t, out.Recent, 2)
	assert.Equal(t, "version", out.Recent[0].Kind)
	assert.Equal(t, "extract", out.Recent[1].Kind)
	assert.True(t, out.Recent[1].Succeeded)
}

func TestCCXInspect_Kind(t *testing.T) {
	f := setup(t, setupOptions{})
	res := callTool(t, f.cs, "ccx_extract", map[string]any{"input_path": "/media/a.ts"})
	runID := structured[extractOutput](t, res).RunID
	callTool(t, f.cs, "ccx_report_version", nil)

	insp := callTool(t, f.cs, "ccx_inspect", map[string]any{"run_id": runID, "kind": "extract"})
	require.False(t, insp.IsError, resultText(insp))

	wrong := callTool(t, f.cs, "ccx_inspect", map[string]any{"run_id": runID, "kind": "version"})
	assert.True(t, wrong.IsError)
	assert.Contains(t, resultText(wrong), "not a version run")

	list := callTool(t, f.cs, "ccx_inspect", map[string]any{"kind": "version"})
	out := structured[inspectOutput](t, list)
	require.Len(t, out.Recent, 1)
	assert.Equal(t, "version", out.Recent[0].Kind)

	bad := callTool(t, f.cs, "ccx_inspect", map[string]any{"kind": "subtitle"})
	assert.True(t, bad.IsError)
	assert.Contains(t, resultText(bad), "kind must be")
}

func TestCCXInspect_UnknownRun(t *testing.T) {
	f := setup(t, setupOptions{})
	res := callTool(t, f.cs, "ccx_inspect", map[string]any{"run_id": "0d4c8e9a-1f5b-4c3e-8a7d-2b6f9e0c1d3a"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "No run")
}

// --- roots ---

func TestRootsSetWorkDir(t *testing.T) {
	root := t.TempDir()
	f := setup(t, setupOptions{
		cfg:   &config.Config{},
		roots: []*mcp.Root{{URI: "file://" + root, Name: "project"}},
	})
	require.Eventually(t, func() bool {
		return f.svc.DefaultWorkDir() == root
	}, 2*time.Second, 10*time.Millisecond)

	res := callTool(t, f.cs, "ccx_dry_run", map[string]any{"input_path": "/in.ts", "output_path": "x.srt"})
	out := structured[dryRunOutput](t, res)
	assert.Equal(t, filepath.Join(root, "x.srt"), out.OutputFile)
}

func TestRootsIgnoredWhenWorkDirConfigured(t *testing.T) {
	configured := t.TempDir()
	f := setup(t, setupOptions{
		cfg:   &config.Config{RawWorkDir: configured},
		roots: []*mcp.Root{{URI: "file://" + t.TempDir()}},
	})

	// Give the initialized handler a chance to run.
	res := callTool(t, f.cs, "ccx_dry_run", map[string]any{"input_path": "/in.ts"})
	require.False(t, res.IsError)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, configured, f.svc.DefaultWorkDir())
}
