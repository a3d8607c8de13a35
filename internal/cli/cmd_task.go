package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type taskView struct {
	ID              string     `json:"id"`
	TicketID        string     `json:"ticket_id"`
	PhaseID         string     `json:"phase_id"`
	TaskType        string     `json:"task_type"`
	Description     string     `json:"description"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	AssignedAgentID *string    `json:"assigned_agent_id,omitempty"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// jsonRaw parses a flag value as raw JSON, falling back to a quoted
// string when it is not valid JSON.
func jsonRaw(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func printTaskTable(tasks []taskView) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPHASE\tSTATUS\tPRIORITY\tRETRIES\tDESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			t.ID, t.PhaseID, t.Status, t.Priority, t.RetryCount, t.MaxRetries, t.Description)
	}
	_ = w.Flush()
}

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskEnqueueCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskCancelCmd())
	cmd.AddCommand(newTaskApproveCmd())
	cmd.AddCommand(newTaskRejectCmd())
	cmd.AddCommand(newTaskDiscoverCmd())
	return cmd
}

func newTaskEnqueueCmd() *cobra.Command {
	var (
		phaseID  string
		taskType string
		priority string
		deps     []string
		timeout  int
		retries  int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <ticket-id> <description>",
		Short: "Enqueue a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"ticket_id":    args[0],
				"phase_id":     phaseID,
				"task_type":    taskType,
				"description":  args[1],
				"priority":     priority,
				"dependencies": deps,
			}
			if cmd.Flags().Changed("timeout") {
				body["timeout_seconds"] = timeout
			}
			if cmd.Flags().Changed("max-retries") {
				body["max_retries"] = retries
			}
			var task taskView
			if err := newClient().post("/v1/tasks", body, &task); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(task)
			}
			fmt.Printf("Enqueued %s (%s, phase %s)\n", task.ID, task.Priority, task.PhaseID)
			return nil
		},
	}

	cmd.Flags().StringVar(&phaseID, "phase", "", "phase the task belongs to (required)")
	cmd.Flags().StringVar(&taskType, "type", "work", "task type")
	cmd.Flags().StringVarP(&priority, "priority", "p", "medium", "priority")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "task ids this task depends on")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "execution timeout in seconds")
	cmd.Flags().IntVar(&retries, "max-retries", 0, "retry budget")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks across all tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/tasks"
			if status != "" {
				path += "?status=" + status
			}
			var tasks []taskView
			if err := newClient().get(path, &tasks); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(tasks)
			}
			printTaskTable(tasks)
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task taskView
			if err := newClient().get("/v1/tasks/"+args[0], &task); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(task)
			}
			fmt.Printf("%s  %s\n", task.ID, task.Description)
			fmt.Printf("  ticket: %s  phase: %s  type: %s\n", task.TicketID, task.PhaseID, task.TaskType)
			fmt.Printf("  status: %s  priority: %s  retries: %d/%d\n",
				task.Status, task.Priority, task.RetryCount, task.MaxRetries)
			if task.AssignedAgentID != nil {
				fmt.Printf("  agent: %s\n", *task.AssignedAgentID)
			}
			if task.ErrorMessage != "" {
				fmt.Printf("  error: %s\n", task.ErrorMessage)
			}
			return nil
		},
	}
}

func newTaskCancelCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newClient().post("/v1/tasks/"+args[0]+"/cancel", map[string]any{
				"reason": reason,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Println("Cancelled", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "cancellation reason")
	return cmd
}

func newTaskApproveCmd() *cobra.Command {
	var reviewer string

	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a task under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newClient().post("/v1/tasks/"+args[0]+"/approve", map[string]any{
				"reviewer_id": reviewer,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Println("Approved", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer identity")
	return cmd
}

func newTaskRejectCmd() *cobra.Command {
	var reviewer, feedback string

	cmd := &cobra.Command{
		Use:   "reject <task-id>",
		Short: "Reject a task under review, returning it to the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newClient().post("/v1/tasks/"+args[0]+"/reject", map[string]any{
				"reviewer_id": reviewer,
				"feedback":    feedback,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Println("Rejected", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer identity")
	cmd.Flags().StringVarP(&feedback, "feedback", "f", "", "review feedback")
	return cmd
}

func newTaskDiscoverCmd() *cobra.Command {
	var (
		discType  string
		spawnDesc string
		phaseID   string
		priority  string
		boost     bool
	)

	cmd := &cobra.Command{
		Use:   "discover <source-task-id> <description>",
		Short: "Record a discovery and branch a new task from it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			err := newClient().post("/v1/discoveries", map[string]any{
				"source_task_id":    args[0],
				"type":              discType,
				"description":       args[1],
				"spawn_phase_id":    phaseID,
				"spawn_description": spawnDesc,
				"spawn_priority":    priority,
				"priority_boost":    boost,
			}, &out)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(out)
			}
			disc, _ := out["discovery"].(map[string]any)
			task, _ := out["task"].(map[string]any)
			fmt.Printf("Recorded %v, spawned %v\n", disc["id"], task["id"])
			return nil
		},
	}

	cmd.Flags().StringVarP(&discType, "type", "t", "bug", "discovery type (bug|optimization|clarification)")
	cmd.Flags().StringVar(&phaseID, "phase", "", "phase for the spawned task (required)")
	cmd.Flags().StringVar(&spawnDesc, "spawn-description", "", "spawned task description (default: discovery description)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "spawned task priority (default: inherit)")
	cmd.Flags().BoolVar(&boost, "boost", false, "raise the spawned priority one level")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}
