package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/adpilot"
)

var (
	runAgentID string
	runMessage string
)

var runCmd = &cobra.Command{
	Use:       "run <analyst|planner|executor|creative>",
	Short:     "Run one role agent",
	Long:      "Run one role agent. Without --message the role runs its default task for the agent's accounts.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"analyst", "planner", "executor", "creative"},
	RunE:      runRole,
}

func init() {
	runCmd.Flags().StringVar(&runAgentID, "agent-id", "", "agent to run as (default: first --agent)")
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "task for the agent")
	rootCmd.AddCommand(runCmd)
}

func runRole(cmd *cobra.Command, args []string) error {
	role := adpilot.Role(args[0])
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", args[0])
	}

	app, agents, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	cfg, creds, err := agents.resolve(cmd.Context(), runAgentID)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var res adpilot.RunResult
	switch role {
	case adpilot.RoleAnalyst:
		res = app.RunAnalyst(ctx, cfg, userID, runMessage, creds)
	case adpilot.RolePlanner:
		res = app.RunPlanner(ctx, cfg, userID, runMessage, creds)
	case adpilot.RoleExecutor:
		res = app.RunExecutor(ctx, cfg, userID, runMessage, creds)
	case adpilot.RoleCreative:
		res = app.RunCreativeAgent(ctx, cfg, userID, runMessage, creds)
	}

	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	return runError(res)
}

// runError turns a failed run into a non-zero exit.
func runError(res adpilot.RunResult) error {
	if res.Status == adpilot.RunStatusFailed {
		return fmt.Errorf("%s run failed: %s", res.Role, res.Error)
	}
	return nil
}
