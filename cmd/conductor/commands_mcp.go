package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/mcp"
)

// buildMCPServersCmd creates "mcp-servers": starts every configured MCP
// server through C10, lists the tools each one discovered, then stops
// them again.
func buildMCPServersCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-servers",
		Short: "Start configured MCP servers and list their discovered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			if err := startMCPServers(cmd.Context(), rt); err != nil {
				return fmt.Errorf("start mcp servers: %w", err)
			}
			defer rt.mcp.Stop()

			summaries := mcp.ToolSummaries(rt.mcp)
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no mcp servers configured")
				return nil
			}

			sort.Slice(summaries, func(i, j int) bool {
				if summaries[i].Namespace != summaries[j].Namespace {
					return summaries[i].Namespace < summaries[j].Namespace
				}
				return summaries[i].Name < summaries[j].Name
			})

			lastNamespace := ""
			for _, s := range summaries {
				if s.Namespace != lastNamespace {
					fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", s.Namespace)
					lastNamespace = s.Namespace
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %-40s %s\n", s.Name, s.Description, s.Canonical)
			}
			return nil
		},
	}
}
