package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// buildAskCmd creates the "ask" command: one delegation-pipeline pass
// over a single user query, printing the synthesized report to stdout.
func buildAskCmd(configPath *string) *cobra.Command {
	var agentName string

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run one delegation pipeline pass over a query",
		Args:  cobra.ExactArgs(1),
		Example: `  # Run a query through the default agent pool
  conductor ask "summarize yesterday's deploys" --config conductor.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			if agentName != "" {
				if _, ok := rt.agents.Get(agentName); !ok {
					return fmt.Errorf("no registered agent named %q", agentName)
				}
			}

			sessionID := uuid.NewString()
			ctx := cmd.Context()
			if err := rt.store.CreateConversation(ctx, sessionID, agentName, args[0], nil); err != nil {
				rt.logger.Warn(ctx, "ask: failed to record conversation", "error", err)
			}
			if err := rt.store.AddMessage(ctx, sessionID, "user", args[0], nil); err != nil {
				rt.logger.Warn(ctx, "ask: failed to record message", "error", err)
			}

			report, err := runTraced(ctx, rt, args[0])
			if err != nil {
				return fmt.Errorf("pipeline run failed: %w", err)
			}

			if err := rt.store.AddMessage(ctx, sessionID, "assistant", report.Markdown, nil); err != nil {
				rt.logger.Warn(ctx, "ask: failed to record response", "error", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), report.Markdown)
			if !report.Success {
				return fmt.Errorf("delegation pipeline reported failure: %s", report.PipelineErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agentName, "agent", "", "restrict execution to a single named agent (must already be registered)")

	return cmd
}
