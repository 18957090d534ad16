package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sunward/taskpilot/internal/stats"
	"github.com/sunward/taskpilot/internal/task"
	"github.com/sunward/taskpilot/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show automation statistics",
	Long: `Display aggregate statistics: task counts by status and type, the
automated success rate, average resolution time, and learning counts.
Filters combine with AND and restrict every aggregate.
Use --json for machine-readable output.`,
	RunE: runStats,
}

var (
	statsStatusFlag   string
	statsTypeFlag     string
	statsProjectFlag  string
	statsAssigneeFlag string
	statsPriorityFlag int
	statsJSONFlag     bool
)

func init() {
	statsCmd.Flags().StringVar(&statsStatusFlag, "status", "", "Filter by status")
	statsCmd.Flags().StringVar(&statsTypeFlag, "type", "", "Filter by task type")
	statsCmd.Flags().StringVar(&statsProjectFlag, "project", "", "Filter by project id")
	statsCmd.Flags().StringVar(&statsAssigneeFlag, "assignee", "", "Filter by assigned person")
	statsCmd.Flags().IntVar(&statsPriorityFlag, "priority", 0, "Filter by priority (1-5)")
	statsCmd.Flags().BoolVar(&statsJSONFlag, "json", false, "Output as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsStatusFlag != "" && !task.Status(statsStatusFlag).Valid() {
		return fmt.Errorf("unknown status %q", statsStatusFlag)
	}

	filter := task.Filter{
		Status:     task.Status(statsStatusFlag),
		Type:       statsTypeFlag,
		ProjectID:  statsProjectFlag,
		AssignedTo: statsAssigneeFlag,
		Priority:   statsPriorityFlag,
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := stats.New(a.db, a.learnings).Compute(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("computing stats: %w", err)
	}

	if statsJSONFlag {
		return printJSON(result)
	}
	fmt.Print(ui.RenderStats(result))
	return nil
}
