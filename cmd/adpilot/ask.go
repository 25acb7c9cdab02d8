package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/adpilot"
)

var (
	askAgentID string
	askRole    string
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Route a free-text request to the right role agent",
	Example: `  adpilot ask "pause campaign 123, CPA is double target"
  adpilot ask --role creative "which ads are fatiguing?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askAgentID, "agent-id", "", "agent to run as (default: first --agent)")
	askCmd.Flags().StringVar(&askRole, "role", "", "skip intent routing and use this role")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	role := adpilot.Role(askRole)
	if askRole != "" && !role.Valid() {
		return fmt.Errorf("unknown role %q", askRole)
	}

	app, agents, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	cfg, creds, err := agents.resolve(cmd.Context(), askAgentID)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res := app.RunUserDirected(ctx, cfg, userID, strings.Join(args, " "), role, creds)
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	return runError(res)
}
