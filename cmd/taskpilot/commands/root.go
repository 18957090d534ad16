// Package commands implements the taskpilot CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "AI task engine for solar sales operations",
	Long: `Taskpilot automates solar sales back-office work: document generation,
permit submissions, site photo analysis, and CAD design tasks.

An automation handler attempts each task first. Low-confidence outcomes
escalate to a human, and every human resolution is captured as a learning
that raises the automation rate for similar tasks.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "Config file path (default ~/.config/taskpilot/taskpilot.yaml)")
}
