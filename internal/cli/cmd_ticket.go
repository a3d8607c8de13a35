package cli

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type ticketView struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	PhaseID     string     `json:"phase_id"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	BlockReason string     `json:"block_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Manage tickets",
	}
	cmd.AddCommand(newTicketCreateCmd())
	cmd.AddCommand(newTicketShowCmd())
	cmd.AddCommand(newTicketListCmd())
	cmd.AddCommand(newTicketStartCmd())
	cmd.AddCommand(newTicketRegressCmd())
	cmd.AddCommand(newTicketBlockCmd())
	cmd.AddCommand(newTicketUnblockCmd())
	cmd.AddCommand(newTicketResultCmd())
	return cmd
}

func newTicketCreateCmd() *cobra.Command {
	var description, priority, phaseID string

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ticket ticketView
			err := newClient().post("/v1/tickets", map[string]any{
				"title":       args[0],
				"description": description,
				"priority":    priority,
				"phase_id":    phaseID,
			}, &ticket)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(ticket)
			}
			fmt.Printf("Created %s (%s, phase %s)\n", ticket.ID, ticket.Priority, ticket.PhaseID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "ticket description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "medium", "priority (critical|high|medium|low)")
	cmd.Flags().StringVar(&phaseID, "phase", "", "starting phase (default: first in catalog)")
	return cmd
}

func newTicketShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ticket-id>",
		Short: "Show a ticket and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var ticket ticketView
			if err := c.get("/v1/tickets/"+args[0], &ticket); err != nil {
				return err
			}
			var tasks []taskView
			if err := c.get("/v1/tickets/"+args[0]+"/tasks", &tasks); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]any{"ticket": ticket, "tasks": tasks})
			}
			fmt.Printf("%s  %s\n", ticket.ID, ticket.Title)
			fmt.Printf("  phase: %s  status: %s  priority: %s\n", ticket.PhaseID, ticket.Status, ticket.Priority)
			if ticket.BlockReason != "" {
				fmt.Printf("  blocked: %s\n", ticket.BlockReason)
			}
			if len(tasks) > 0 {
				fmt.Println()
				printTaskTable(tasks)
			}
			return nil
		},
	}
}

func newTicketListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/tickets"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			var tickets []ticketView
			if err := newClient().get(path, &tickets); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(tickets)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPHASE\tSTATUS\tPRIORITY\tTITLE")
			for _, t := range tickets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.PhaseID, t.Status, t.Priority, t.Title)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status")
	return cmd
}

func newTicketStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <ticket-id>",
		Short: "Start a ticket, seeding its first phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().post("/v1/tickets/"+args[0]+"/start", map[string]any{}, nil); err != nil {
				return err
			}
			fmt.Println("Started", args[0])
			return nil
		},
	}
}

func newTicketRegressCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "regress <ticket-id> <phase-id>",
		Short: "Send a ticket back to an earlier phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newClient().post("/v1/tickets/"+args[0]+"/regress", map[string]any{
				"to_phase_id": args[1],
				"reason":      reason,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Printf("Regressed %s to %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "regression reason")
	return cmd
}

func newTicketBlockCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "block <ticket-id>",
		Short: "Block a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newClient().post("/v1/tickets/"+args[0]+"/block", map[string]any{
				"reason": reason,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Println("Blocked", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "block reason")
	return cmd
}

func newTicketUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <ticket-id>",
		Short: "Unblock a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().post("/v1/tickets/"+args[0]+"/unblock", map[string]any{}, nil); err != nil {
				return err
			}
			fmt.Println("Unblocked", args[0])
			return nil
		},
	}
}

func newTicketResultCmd() *cobra.Command {
	var artifact string

	cmd := &cobra.Command{
		Use:   "result <ticket-id> <artifact-ref>",
		Short: "Submit a workflow result artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"artifact_ref": args[1]}
			if artifact != "" {
				body["artifact"] = jsonRaw(artifact)
			}
			var result map[string]any
			if err := newClient().post("/v1/tickets/"+args[0]+"/results", body, &result); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(result)
			}
			fmt.Printf("Submission %v: %v\n", result["id"], result["status"])
			return nil
		},
	}

	cmd.Flags().StringVar(&artifact, "artifact", "", `artifact metadata JSON, e.g. '{"kind":"design_doc"}'`)
	return cmd
}
