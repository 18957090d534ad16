package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sunward/taskpilot/internal/engine"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and manage tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	Long: `Create a task and, unless --no-process is given, attempt it
immediately with the registered automation handler.

Input is a JSON object, inline or from a file:

  taskpilot task create --type document_generation --project proj-42 \
    --actor alice --input '{"template":"contract","customer":"Jones"}'

  taskpilot task create --type permit_submission --project proj-42 \
    --actor alice --input @permit.json`,
	RunE: runTaskCreate,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskProcessCmd = &cobra.Command{
	Use:   "process <task-id>",
	Short: "Run the automation handler on a pending or failed task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskProcess,
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Retry a failed or escalated task",
	Long: `Retry a task in ai_failed or human_needed. The attempt picks up any
learnings created since the last try, so a retry after a similar task was
resolved by a human can succeed where the original attempt failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskRetry,
}

var taskEscalateCmd = &cobra.Command{
	Use:   "escalate <task-id>",
	Short: "Escalate a task to the human lane",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskEscalate,
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Record a human resolution and synthesize a learning",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskComplete,
}

var (
	taskTypeFlag      string
	taskProjectFlag   string
	taskInputFlag     string
	taskPriorityFlag  int
	taskRetriesFlag   int
	taskActorFlag     string
	taskNoProcessFlag bool

	escalateReasonFlag   string
	escalateAssigneeFlag string

	completeActionFlag string
	completeOutputFlag string
	completeNotesFlag  string
)

func init() {
	taskCreateCmd.Flags().StringVar(&taskTypeFlag, "type", "", "Task type (required)")
	taskCreateCmd.Flags().StringVar(&taskProjectFlag, "project", "", "Project id (required)")
	taskCreateCmd.Flags().StringVar(&taskInputFlag, "input", "", "Task input as JSON, @file, or @- for stdin (required)")
	taskCreateCmd.Flags().IntVar(&taskPriorityFlag, "priority", 0, "Priority 1 (highest) to 5; default from config")
	taskCreateCmd.Flags().IntVar(&taskRetriesFlag, "max-retries", 0, "Retry ceiling; default from config")
	taskCreateCmd.Flags().StringVar(&taskActorFlag, "actor", "", "Who is creating the task (required)")
	taskCreateCmd.Flags().BoolVar(&taskNoProcessFlag, "no-process", false, "Create without attempting automation")
	_ = taskCreateCmd.MarkFlagRequired("type")
	_ = taskCreateCmd.MarkFlagRequired("project")
	_ = taskCreateCmd.MarkFlagRequired("input")
	_ = taskCreateCmd.MarkFlagRequired("actor")

	taskEscalateCmd.Flags().StringVar(&escalateReasonFlag, "reason", "", "Why automation is being bypassed")
	taskEscalateCmd.Flags().StringVar(&escalateAssigneeFlag, "assign", "", "Assign directly to a person")
	taskEscalateCmd.Flags().StringVar(&taskActorFlag, "actor", "", "Who is escalating (required)")
	_ = taskEscalateCmd.MarkFlagRequired("actor")

	taskCompleteCmd.Flags().StringVar(&completeActionFlag, "action", "", "What the human did, e.g. corrected_address (required)")
	taskCompleteCmd.Flags().StringVar(&completeOutputFlag, "output", "", "Resolution output as JSON, @file, or @- for stdin")
	taskCompleteCmd.Flags().StringVar(&completeNotesFlag, "notes", "", "Free-form notes")
	taskCompleteCmd.Flags().StringVar(&taskActorFlag, "actor", "", "Who resolved the task (required)")
	_ = taskCompleteCmd.MarkFlagRequired("action")
	_ = taskCompleteCmd.MarkFlagRequired("actor")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskProcessCmd)
	taskCmd.AddCommand(taskRetryCmd)
	taskCmd.AddCommand(taskEscalateCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	input, err := parseInputJSON(taskInputFlag)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	autoProcess := !taskNoProcessFlag
	result, err := a.engine.CreateTask(cmd.Context(), engine.CreateRequest{
		Type:        taskTypeFlag,
		ProjectID:   taskProjectFlag,
		Input:       input,
		Priority:    taskPriorityFlag,
		MaxRetries:  taskRetriesFlag,
		AutoProcess: &autoProcess,
		Actor:       taskActorFlag,
	})
	if err != nil {
		return reportError(err)
	}

	fmt.Printf("Created task %s (%s)\n", result.TaskID, result.Status)
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.engine.GetTask(cmd.Context(), args[0])
	if err != nil {
		return reportError(err)
	}
	return printJSON(t)
}

func runTaskProcess(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.ProcessTask(cmd.Context(), args[0])
	if err != nil {
		return reportError(err)
	}
	printProcessResult(result)
	return nil
}

func runTaskRetry(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.RetryAITask(cmd.Context(), args[0])
	if err != nil {
		return reportError(err)
	}
	printProcessResult(result)
	return nil
}

func runTaskEscalate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.EscalateToHuman(cmd.Context(), engine.EscalateRequest{
		TaskID:   args[0],
		Reason:   escalateReasonFlag,
		Actor:    taskActorFlag,
		Assignee: escalateAssigneeFlag,
	})
	if err != nil {
		return reportError(err)
	}

	fmt.Printf("Escalated task %s (%s)\n", result.TaskID, result.Status)
	return nil
}

func runTaskComplete(cmd *cobra.Command, args []string) error {
	var output map[string]any
	if completeOutputFlag != "" {
		var err error
		if output, err = parseInputJSON(completeOutputFlag); err != nil {
			return err
		}
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.CompleteHumanTask(cmd.Context(), engine.CompleteRequest{
		TaskID: args[0],
		Actor:  taskActorFlag,
		Action: completeActionFlag,
		Output: output,
		Notes:  completeNotesFlag,
	})
	if err != nil {
		return reportError(err)
	}

	fmt.Printf("Completed task %s\n", result.TaskID)
	if result.LearningID != "" {
		fmt.Printf("Learning captured: %s\n", result.LearningID)
	}
	return nil
}

// printProcessResult summarizes a processing attempt on stdout.
func printProcessResult(r engine.ProcessResult) {
	if r.Success {
		fmt.Printf("Task %s completed automatically (confidence %.2f)\n", r.TaskID, r.Confidence)
		return
	}
	fmt.Printf("Task %s -> %s", r.TaskID, r.Status)
	if r.Error != "" {
		fmt.Printf(": %s", r.Error)
	}
	fmt.Println()
}

// reportError prints the error and exits with its class-specific code, so
// "not found" and "precondition" failures are scriptable.
func reportError(err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCodeForError(err))
	return nil
}
