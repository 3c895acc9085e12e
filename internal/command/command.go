// Package command turns structured extraction requests into the argument
// vector passed to ccextractor. Building is pure: nothing is executed and,
// apart from Prepare, nothing on disk is touched.
package command

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// Flags understood by ccextractor that the builder emits itself.
const (
	FlagOutput  = "-o"
	FlagStdout  = "--stdout"
	FlagFormat  = "--out"
	FlagVersion = "--version"
)

// Request is a single extraction request as received from a caller.
type Request struct {
	InputPath      string   // required
	OutputPath     string   // empty: captions are written to stdout
	Format         string   // output format hint, e.g. "webvtt"
	ExtraArgs      []string // appended verbatim after the built flags
	TimeoutSeconds int      // 0: use the configured default
	WorkDir        string   // empty: use the configured default
}

// Invocation is the result of building a Request.
type Invocation struct {
	Args       []string
	WorkDir    string
	OutputFile string // resolved -o target; empty when writing to stdout
}

// formats maps a format hint to the value passed with --out. srt is
// ccextractor's default and needs no flag.
var formats = map[string]string{
	"webvtt":      "webvtt",
	"webvtt-full": "webvtt-full",
	"sami":        "sami",
	"ass":         "ass",
	"ssa":         "ssa",
	"ttxt":        "ttxt",
	"txt":         "txt",
	"smptett":     "smptett",
	"scc":         "scc",
	"ccd":         "ccd",
	"dvdraw":      "dvdraw",
	"mcc":         "mcc",
	"spupng":      "spupng",
	"g608":        "g608",
}

// Formats returns the recognised format hints, sorted, srt included.
func Formats() []string {
	names := make([]string, 0, len(formats)+1)
	names = append(names, "srt")
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// formatFlag returns the --out value for hint and whether the hint is known.
func formatFlag(hint string) (value string, known bool) {
	key := strings.ToLower(strings.TrimSpace(hint))
	if key == "" || key == "srt" {
		return "", true
	}
	value, known = formats[key]
	return value, known
}

// Build produces the argument vector for req. Relative working and output
// directories are resolved against defaultWorkDir.
func Build(req Request, defaultWorkDir string) (*Invocation, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return nil, Invalid(errors.New("input_path is required"))
	}

	dir, err := resolveWorkDir(req.WorkDir, defaultWorkDir)
	if err != nil {
		return nil, Invalid(fmt.Errorf("working_dir: %w", err))
	}

	inv := &Invocation{WorkDir: dir}
	args := []string{req.InputPath}

	if req.OutputPath != "" {
		inv.OutputFile = resolvePath(dir, req.OutputPath)
		args = append(args, FlagOutput, inv.OutputFile)
	} else {
		args = append(args, FlagStdout)
	}

	if value, _ := formatFlag(req.Format); value != "" {
		args = append(args, FlagFormat, value)
	}

	inv.Args = append(args, req.ExtraArgs...)
	return inv, nil
}

// Prepare builds req and makes sure the working directory exists. Failure
// to create the directory is not reported here; an unusable directory
// makes the spawn fail instead.
func Prepare(req Request, defaultWorkDir string) (*Invocation, error) {
	inv, err := Build(req, defaultWorkDir)
	if err != nil {
		return nil, err
	}
	_ = EnsureDir(inv.WorkDir)
	return inv, nil
}

// EnsureDir creates dir and its parents. It tolerates concurrent creation.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	return nil
}

// VersionArgs returns the arguments asking ccextractor for its version.
func VersionArgs() []string {
	return []string{FlagVersion}
}

// CommandLine renders binary and args as a copy-pasteable shell command.
func CommandLine(binary string, args []string) string {
	return shellescape.QuoteCommand(append([]string{binary}, args...))
}

// Warnings returns advisory notes about req as built into inv. The result
// depends only on its inputs.
func Warnings(req Request, inv *Invocation) []string {
	warnings := []string{}

	if !filepath.IsAbs(req.InputPath) {
		warnings = append(warnings, fmt.Sprintf(
			"input path %q is not absolute; it will be resolved against the working directory %s",
			req.InputPath, inv.WorkDir))
	}
	if req.OutputPath != "" && !filepath.IsAbs(req.OutputPath) {
		warnings = append(warnings, fmt.Sprintf(
			"output path %q is not absolute; output will be written to %s",
			req.OutputPath, inv.OutputFile))
	}
	if _, known := formatFlag(req.Format); !known {
		warnings = append(warnings, fmt.Sprintf(
			"format %q is not recognised and is ignored; pass format flags through extra_args (known: %s)",
			req.Format, strings.Join(Formats(), ", ")))
	}
	for _, flag := range []string{FlagOutput, FlagStdout} {
		if slices.Contains(req.ExtraArgs, flag) {
			warnings = append(warnings, fmt.Sprintf(
				"extra_args contains %s, which overrides the output destination chosen from output_path", flag))
		}
	}

	return warnings
}

func resolveWorkDir(dir, fallback string) (string, error) {
	if dir == "" {
		dir = fallback
	}
	if dir == "" {
		return "", errors.New("no working directory configured")
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir), nil
	}
	return filepath.Abs(dir)
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
