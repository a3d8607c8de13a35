package cli

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type guardianActionView struct {
	ID             string     `json:"id"`
	ActionType     string     `json:"action_type"`
	TargetEntityID string     `json:"target_entity_id"`
	AuthorityLevel int        `json:"authority_level"`
	Reason         string     `json:"reason"`
	InitiatedBy    string     `json:"initiated_by"`
	ExecutedAt     time.Time  `json:"executed_at"`
	RevertedAt     *time.Time `json:"reverted_at,omitempty"`
}

func newGuardianCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardian",
		Short: "Authority-gated interventions",
	}
	cmd.AddCommand(newGuardianCancelCmd())
	cmd.AddCommand(newGuardianReallocateCmd())
	cmd.AddCommand(newGuardianOverrideCmd())
	cmd.AddCommand(newGuardianRevertCmd())
	cmd.AddCommand(newGuardianActionsCmd())
	return cmd
}

func guardianFlags(cmd *cobra.Command, reason, initiatedBy *string, authority *int) {
	cmd.Flags().StringVarP(reason, "reason", "r", "", "intervention reason (required)")
	cmd.Flags().StringVar(initiatedBy, "by", "", "initiator identity (required)")
	cmd.Flags().IntVar(authority, "authority", 0, "authority level (required)")
	_ = cmd.MarkFlagRequired("reason")
	_ = cmd.MarkFlagRequired("by")
	_ = cmd.MarkFlagRequired("authority")
}

func newGuardianCancelCmd() *cobra.Command {
	var (
		reason      string
		initiatedBy string
		authority   int
	)

	cmd := &cobra.Command{
		Use:   "cancel-task <task-id>",
		Short: "Force-cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var action guardianActionView
			err := newClient().post("/v1/guardian/cancel-task", map[string]any{
				"task_id":      args[0],
				"reason":       reason,
				"initiated_by": initiatedBy,
				"authority":    authority,
			}, &action)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(action)
			}
			fmt.Printf("Intervention %s: cancelled %s\n", action.ID, args[0])
			return nil
		},
	}

	guardianFlags(cmd, &reason, &initiatedBy, &authority)
	return cmd
}

func newGuardianReallocateCmd() *cobra.Command {
	var (
		amount      int
		reason      string
		initiatedBy string
		authority   int
	)

	cmd := &cobra.Command{
		Use:   "reallocate <from-agent> <to-agent>",
		Short: "Move capacity between agents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var action guardianActionView
			err := newClient().post("/v1/guardian/reallocate", map[string]any{
				"from_agent_id": args[0],
				"to_agent_id":   args[1],
				"amount":        amount,
				"reason":        reason,
				"initiated_by":  initiatedBy,
				"authority":     authority,
			}, &action)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(action)
			}
			fmt.Printf("Intervention %s: moved %d capacity from %s to %s\n",
				action.ID, amount, args[0], args[1])
			return nil
		},
	}

	cmd.Flags().IntVar(&amount, "amount", 1, "capacity slots to move")
	guardianFlags(cmd, &reason, &initiatedBy, &authority)
	return cmd
}

func newGuardianOverrideCmd() *cobra.Command {
	var (
		reason      string
		initiatedBy string
		authority   int
	)

	cmd := &cobra.Command{
		Use:   "override-priority <task-id> <priority>",
		Short: "Override a task's priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var action guardianActionView
			err := newClient().post("/v1/guardian/override-priority", map[string]any{
				"task_id":      args[0],
				"new_priority": args[1],
				"reason":       reason,
				"initiated_by": initiatedBy,
				"authority":    authority,
			}, &action)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(action)
			}
			fmt.Printf("Intervention %s: %s now %s\n", action.ID, args[0], args[1])
			return nil
		},
	}

	guardianFlags(cmd, &reason, &initiatedBy, &authority)
	return cmd
}

func newGuardianRevertCmd() *cobra.Command {
	var (
		reason      string
		initiatedBy string
		authority   int
	)

	cmd := &cobra.Command{
		Use:   "revert <action-id>",
		Short: "Mark an intervention as reverted (audit only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newClient().post("/v1/guardian/actions/"+args[0]+"/revert", map[string]any{
				"reason":       reason,
				"initiated_by": initiatedBy,
				"authority":    authority,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Println("Reverted", args[0])
			return nil
		},
	}

	guardianFlags(cmd, &reason, &initiatedBy, &authority)
	return cmd
}

func newGuardianActionsCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List guardian interventions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/guardian/actions"
			if target != "" {
				path += "?target_entity_id=" + url.QueryEscape(target)
			}
			var actions []guardianActionView
			if err := newClient().get(path, &actions); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(actions)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTARGET\tBY\tEXECUTED\tREVERTED")
			for _, a := range actions {
				reverted := "-"
				if a.RevertedAt != nil {
					reverted = a.RevertedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					a.ID, a.ActionType, a.TargetEntityID, a.InitiatedBy,
					a.ExecutedAt.Format(time.RFC3339), reverted)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "filter by target entity id")
	return cmd
}
