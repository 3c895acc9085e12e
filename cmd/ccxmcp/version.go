package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deixis/ccxmcp"
	mcpserver "github.com/deixis/ccxmcp/internal/mcp"
)

func newVersionCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the ccxmcp and CCExtractor versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := a.svc.Version(cmd.Context())
			if asJSON {
				m := map[string]any{"ccxmcp": ccxmcp.Version}
				if info != nil {
					m["version_text"] = info.Text
					m["source"] = info.Source
					if info.Version != "" {
						m["version"] = info.Version
					}
					if info.ExitCode != nil {
						m["exit_code"] = *info.ExitCode
					}
				}
				if err != nil {
					m["error"] = err.Error()
				}
				if werr := writeJSON(cmd.OutOrStdout(), m); werr != nil {
					return werr
				}
				if err != nil {
					return &exitError{code: 1}
				}
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ccxmcp %s\n", ccxmcp.Version)
			if err != nil {
				return fmt.Errorf("ccextractor: %w", err)
			}
			switch {
			case info.Version != "":
				fmt.Fprintf(cmd.OutOrStdout(), "ccextractor %s (%s)\n", info.Version, a.cfg.Binary())
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "ccextractor: %s\n", info.Text)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newInstructionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "instructions",
		Short:       "Print the model instructions published by the MCP server",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationStandalone: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), mcpserver.Instructions)
		},
	}
}
