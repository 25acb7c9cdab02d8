package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Long: "Serve adpilot_ask, adpilot_run_pipeline, adpilot_decisions and adpilot_knowledge over the " +
		"Model Context Protocol on stdin/stdout. Logs go to stderr.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(_ *cobra.Command, _ []string) error {
	app, agents, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	slog.Info("mcp: serving on stdio", "version", version, "agents", len(agents.byID))
	return app.MCPServer(agents.resolve).ServeStdio()
}
