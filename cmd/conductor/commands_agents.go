package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildAgentsCmd creates the "agents" command group.
func buildAgentsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect the registered agent pool",
	}
	cmd.AddCommand(buildAgentsListCmd(configPath))
	return cmd
}

// buildAgentsListCmd creates "agents list": prints every registered
// agent's name and description.
func buildAgentsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			agents := rt.agents.List()
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no agents registered")
				return nil
			}
			for _, a := range agents {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", a.Name, a.Description)
			}
			return nil
		},
	}
}
