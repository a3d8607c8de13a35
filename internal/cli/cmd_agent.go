package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type agentView struct {
	ID             string    `json:"id"`
	AgentType      string    `json:"agent_type"`
	PhaseID        *string   `json:"phase_id,omitempty"`
	Status         string    `json:"status"`
	Capabilities   []string  `json:"capabilities,omitempty"`
	Capacity       int       `json:"capacity"`
	CurrentLoad    int       `json:"current_load"`
	AuthorityLevel int       `json:"authority_level"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
}

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentRegisterCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentHeartbeatCmd())
	cmd.AddCommand(newAgentNextCmd())
	cmd.AddCommand(newAgentTerminateCmd())
	return cmd
}

func newAgentRegisterCmd() *cobra.Command {
	var (
		phaseID      string
		capabilities []string
		capacity     int
		authority    int
	)

	cmd := &cobra.Command{
		Use:   "register <agent-type>",
		Short: "Register an agent (worker|monitor|watchdog|guardian)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"agent_type":   args[0],
				"capabilities": capabilities,
				"capacity":     capacity,
				"authority":    authority,
			}
			if phaseID != "" {
				body["phase_id"] = phaseID
			}
			var agent agentView
			if err := newClient().post("/v1/agents", body, &agent); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(agent)
			}
			fmt.Printf("Registered %s (%s, capacity %d, authority %d)\n",
				agent.ID, agent.AgentType, agent.Capacity, agent.AuthorityLevel)
			return nil
		},
	}

	cmd.Flags().StringVar(&phaseID, "phase", "", "restrict the agent to one phase")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capability tags")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "max concurrent tasks (default 1)")
	cmd.Flags().IntVar(&authority, "authority", 0, "authority level (default by type)")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var agents []agentView
			if err := newClient().get("/v1/agents", &agents); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(agents)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tLOAD\tAUTHORITY\tLAST HEARTBEAT")
			for _, a := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
					a.ID, a.AgentType, a.Status, a.CurrentLoad, a.Capacity,
					a.AuthorityLevel, a.LastHeartbeat.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newAgentHeartbeatCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "heartbeat <agent-id>",
		Short: "Record an agent heartbeat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().post("/v1/agents/"+args[0]+"/heartbeat", map[string]any{
				"status": status,
			}, nil)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "status hint (idle|busy)")
	return cmd
}

func newAgentNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next <agent-id>",
		Short: "Request the agent's next task assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task *taskView
			if err := newClient().post("/v1/agents/"+args[0]+"/next", nil, &task); err != nil {
				return err
			}
			if task == nil {
				fmt.Println("No eligible task")
				return nil
			}
			if jsonOut {
				return printJSON(task)
			}
			fmt.Printf("Assigned %s: %s\n", task.ID, task.Description)
			return nil
		},
	}
}

func newAgentTerminateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "terminate <agent-id>",
		Short: "Terminate an agent, requeueing its held tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().post("/v1/agents/"+args[0]+"/terminate", map[string]any{}, nil); err != nil {
				return err
			}
			fmt.Println("Terminated", args[0])
			return nil
		},
	}
}
