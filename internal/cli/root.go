// Package cli implements the orcd command-line interface: a thin cobra
// wrapper over internal/app that starts the engine, runs pending
// migrations, or prunes stale git worktree registrations.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "orcd",
	Short: "Task-scheduling and agent-execution daemon",
	Long: `orcd runs the pooled-agent task-scheduling engine: a Store-backed
task queue, a fixed pool of working copies, and a scheduler that dispatches
queued tasks onto agent subprocesses until told to stop.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: env vars and built-in defaults)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newWorktreeCmd())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
