// Package logging builds the zerolog logger shared by the server and CLI.
// Logs always go to stderr: in stdio mode stdout carries the MCP protocol.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Options selects the level and encoding.
type Options struct {
	Level  string // trace, debug, info, warn, error; empty means info
	Format string // auto, console or json; auto picks console on a terminal
}

// New returns a logger writing to stderr.
func New(opts Options) (zerolog.Logger, error) {
	return NewWriter(os.Stderr, opts)
}

// NewWriter returns a logger writing to w. Format "auto" uses the console
// writer only when w is a terminal.
func NewWriter(w io.Writer, opts Options) (zerolog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := w
	switch strings.ToLower(opts.Format) {
	case "", "auto":
		if isTerminal(w) {
			out = consoleWriter(w)
		}
	case "console":
		out = consoleWriter(w)
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// ParseLevel maps a level name to a zerolog level. "warning" is accepted
// as an alias for warn.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.Kitchen,
		NoColor:    !isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
