package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/adpilot"
)

var pipelineAgentID string

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the analyst, then the executor in auto mode",
	Long: "Run the optimization pipeline: the analyst reviews performance and recommends changes. " +
		"In auto mode the executor applies them; otherwise they are returned for review.",
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	pipelineCmd.Flags().StringVar(&pipelineAgentID, "agent-id", "", "agent to run as (default: first --agent)")
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	app, agents, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	cfg, creds, err := agents.resolve(cmd.Context(), pipelineAgentID)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res := app.RunOptimizationPipeline(ctx, cfg, creds)
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Status == adpilot.PipelineFailed {
		return fmt.Errorf("pipeline failed: %s", res.Message)
	}
	return nil
}
