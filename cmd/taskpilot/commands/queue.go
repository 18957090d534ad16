package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunward/taskpilot/internal/stats"
	"github.com/sunward/taskpilot/internal/task"
	"github.com/sunward/taskpilot/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the task queue",
	Long: `List tasks ordered by priority then age. Filters combine with AND.

Use --watch for a live view that refreshes every few seconds.`,
	RunE: runQueue,
}

var (
	queueStatusFlag   string
	queueTypeFlag     string
	queueProjectFlag  string
	queueAssigneeFlag string
	queuePriorityFlag int
	queueLimitFlag    int
	queueJSONFlag     bool
	queueWatchFlag    bool
	queueIntervalFlag time.Duration
)

func init() {
	queueCmd.Flags().StringVar(&queueStatusFlag, "status", "", "Filter by status")
	queueCmd.Flags().StringVar(&queueTypeFlag, "type", "", "Filter by task type")
	queueCmd.Flags().StringVar(&queueProjectFlag, "project", "", "Filter by project id")
	queueCmd.Flags().StringVar(&queueAssigneeFlag, "assignee", "", "Filter by assigned person")
	queueCmd.Flags().IntVar(&queuePriorityFlag, "priority", 0, "Filter by priority (1-5)")
	queueCmd.Flags().IntVar(&queueLimitFlag, "limit", 0, fmt.Sprintf("Max rows (default and cap %d)", task.MaxQueueLimit))
	queueCmd.Flags().BoolVar(&queueJSONFlag, "json", false, "Output as JSON")
	queueCmd.Flags().BoolVarP(&queueWatchFlag, "watch", "w", false, "Live view, refreshed on an interval")
	queueCmd.Flags().DurationVar(&queueIntervalFlag, "interval", 2*time.Second, "Refresh interval for --watch")
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	if queueStatusFlag != "" && !task.Status(queueStatusFlag).Valid() {
		return fmt.Errorf("unknown status %q", queueStatusFlag)
	}

	filter := task.Filter{
		Status:     task.Status(queueStatusFlag),
		Type:       queueTypeFlag,
		ProjectID:  queueProjectFlag,
		AssignedTo: queueAssigneeFlag,
		Priority:   queuePriorityFlag,
		Limit:      queueLimitFlag,
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if queueWatchFlag {
		model := ui.NewWatch(func(ctx context.Context) ([]stats.QueueEntry, error) {
			return stats.Queue(ctx, a.tasks, filter)
		}, queueIntervalFlag)
		return model.Run()
	}

	entries, err := stats.Queue(cmd.Context(), a.tasks, filter)
	if err != nil {
		return err
	}

	if queueJSONFlag {
		return printJSON(entries)
	}
	fmt.Print(ui.RenderQueue(entries))
	return nil
}
