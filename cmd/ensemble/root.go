package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tmajors/ensemble/internal/config"
)

var cfgFile string

// loadConfig resolves configuration for a subcommand, honoring the
// --config flag when set.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromPath(cfgFile)
	}
	return config.Load()
}

var rootCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Multi-agent execution coordinator",
	Long: `Ensemble coordinates specialist agents on one request: it classifies
the request, partitions the required agents into sequential phases of
parallel work, relays their messages, transfers execution context
between phases, and learns from every completed execution.

Core capabilities:
- Classifies requests into required specialist agents
- Runs compatible agents in parallel with a barrier between phases
- Hands execution context from finished agents to their successors
- Accumulates execution records and learned patterns across sessions
- Persists messages, records, and patterns in a local database`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (overrides the default search)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}
