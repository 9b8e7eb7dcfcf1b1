// Command conductor is C13: the thin CLI/entrypoint wiring a loaded
// RunConfig to the delegation pipeline, the MCP manager, and (for
// `serve`) a small HTTP front end.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "conductor",
		Short: "Run and inspect the agent delegation pipeline",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "conductor.yaml", "path to the runtime config file")

	root.AddCommand(buildAskCmd(&configPath))
	root.AddCommand(buildAgentsCmd(&configPath))
	root.AddCommand(buildMCPServersCmd(&configPath))
	root.AddCommand(buildServeCmd(&configPath))

	return root
}
