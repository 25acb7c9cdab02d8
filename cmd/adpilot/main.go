package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	agentFiles []string
	userID     string
)

var rootCmd = &cobra.Command{
	Use:   "adpilot",
	Short: "adpilot: guarded AI agents for ad accounts",
	Long: "adpilot runs role agents (analyst, planner, executor, creative) against advertising accounts. " +
		"Every write passes through the agent's mode and guardrails, and every change is recorded as a decision.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVar(&agentFiles, "agent", nil,
		"agent policy YAML file; repeat for several agents, the first is the default (default: $ADPILOT_AGENT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user id recorded on the session")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
