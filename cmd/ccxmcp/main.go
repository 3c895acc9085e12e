// Command ccxmcp runs CCExtractor on behalf of MCP clients and from the
// command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/deixis/ccxmcp"
	"github.com/deixis/ccxmcp/internal/config"
	"github.com/deixis/ccxmcp/internal/extract"
	"github.com/deixis/ccxmcp/internal/logging"
	"github.com/deixis/ccxmcp/internal/metrics"
	"github.com/deixis/ccxmcp/internal/report"
	"github.com/deixis/ccxmcp/internal/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	var exit *exitError
	switch {
	case err == nil:
	case errors.As(err, &exit):
		os.Exit(exit.code)
	default:
		fmt.Fprintf(os.Stderr, "ccxmcp: %v\n", err)
		os.Exit(1)
	}
}

// exitError carries a process exit status without an error message; the
// command has already reported what happened.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// app holds the dependencies shared by all subcommands.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	reg *prometheus.Registry
	svc *extract.Service

	// history is the on-disk run store; nil for one-shot commands.
	history *report.DiskStore
}

// Command annotations read by the root command.
const (
	annotationStandalone  = "standalone"   // needs no config or service
	annotationDiskHistory = "disk-history" // keeps run records on disk
)

func newRootCmd() *cobra.Command {
	var (
		configPath string
		a          = &app{}
	)

	root := &cobra.Command{
		Use:   "ccxmcp",
		Short: "Run CCExtractor as a managed, bounded tool",
		Long: `ccxmcp runs the CCExtractor caption extractor with a timeout, bounded output
capture and structured results. It serves the operations as MCP tools
("serve") or runs them directly from the command line.`,
		Version:       ccxmcp.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationStandalone] == "true" {
				return nil
			}
			return a.init(configPath, cmd.Annotations[annotationDiskHistory] == "true")
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ccxmcp.yaml, ccxmcp.yml or ccxmcp.toml in the current directory)")

	root.AddCommand(
		newServeCmd(a),
		newExtractCmd(a),
		newDryRunCmd(a),
		newVersionCmd(a),
		newInstructionsCmd(),
	)
	return root
}

// init loads configuration and wires the service. Run records go to a
// temp directory only when diskHistory is set; otherwise they live in
// memory for the duration of the command.
func (a *app) init(configPath string, diskHistory bool) error {
	cfg, err := config.Load(config.Options{Path: configPath})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel(), Format: cfg.LogFormat()})
	if err != nil {
		return err
	}
	if cfg.Path != "" {
		log.Debug().Str("path", cfg.Path).Msg("config loaded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	r := &runner.Runner{
		Binary:    cfg.Binary(),
		Timeout:   cfg.Timeout(),
		MaxOutput: cfg.MaxOutputBytes(),
		KillGrace: cfg.KillGrace(),
		Log:       log.With().Str("component", "runner").Logger(),
	}
	var back report.Store
	if diskHistory {
		a.history = report.NewDiskStore("")
		back = a.history
	}
	store := report.NewLRUStore(cfg.HistorySize(), back)

	a.cfg = cfg
	a.log = log
	a.reg = reg
	a.svc = extract.New(extract.Options{
		Config:  cfg,
		Runner:  r,
		Store:   store,
		Metrics: m,
		Log:     log,
	})
	return nil
}

// closeHistory removes the on-disk run records, if any.
func (a *app) closeHistory() {
	if a.history == nil {
		return
	}
	if err := a.history.Close(); err != nil {
		a.log.Warn().Err(err).Msg("removing run history")
	}
}
