package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/impactgraph/internal/output"
)

var (
	healthEvents int
	healthJSON   bool
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Aliases: []string{"status"},
	Short:   "Show graph, doc issue and ingestion health",
	Long: `Display the loaded dependency graph, doc issue counts, the state of every
ingestion cursor and the most recent impact events.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			h := a.svc.GetHealth(ctx, healthEvents)
			if healthJSON || output.GetDefaultVerbosity() == output.VerbosityAIMode {
				return output.WriteJSON(cmd.OutOrStdout(), h)
			}
			return output.FormatHealth(h, cmd.OutOrStdout())
		})
	},
}

func init() {
	healthCmd.Flags().IntVar(&healthEvents, "events", 10, "number of recent impact events to show")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "JSON output")
}
