package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	mcpserver "github.com/deixis/ccxmcp/internal/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server.

By default the server speaks MCP over stdin/stdout. With --http it serves the
streamable HTTP transport instead and exposes Prometheus metrics on /metrics.
Logs always go to stderr.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationDiskHistory: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.closeHistory()
			server := mcpserver.NewServer(a.svc, a.log.With().Str("component", "mcp").Logger())
			if httpAddr != "" {
				return a.serveHTTP(cmd.Context(), server, httpAddr)
			}
			a.log.Info().Str("binary", a.cfg.Binary()).Str("workdir", a.svc.DefaultWorkDir()).Msg("serving MCP on stdio")
			return server.Run(cmd.Context(), &mcpsdk.StdioTransport{})
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "start HTTP server on address (e.g. :9090)")
	return cmd
}

func (a *app) serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	mux.Handle("/", mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	a.log.Info().Str("addr", addr).Str("binary", a.cfg.Binary()).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
