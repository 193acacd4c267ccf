package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/impactgraph/internal/config"
	"github.com/rohankatakam/impactgraph/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the impact engine over MCP on stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout so assistants can
analyze changes, query impact and manage doc issues. Logs go to stderr.

With manifests.watch set the graph is reloaded when a manifest changes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, config.ValidationContextAnalyze)
		if err != nil {
			return err
		}
		defer a.Close()

		if cfg.Manifests.Watch {
			startManifestWatcher(ctx, a)
		}
		return mcp.NewServer(a.svc, Version).Run(ctx)
	},
}
