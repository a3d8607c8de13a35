package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type phaseView struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	SequenceOrder      int      `json:"sequence_order"`
	AllowedTransitions []string `json:"allowed_transitions,omitempty"`
	IsTerminal         bool     `json:"is_terminal"`
	RequiresReview     bool     `json:"requires_review"`
	DoneDefinitions    []string `json:"done_definitions,omitempty"`
}

func newPhaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Inspect the phase catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List phases in sequence order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var phases []phaseView
			if err := newClient().get("/v1/phases", &phases); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(phases)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tID\tNAME\tREVIEW\tTERMINAL\tCRITERIA")
			for _, p := range phases {
				fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%v\t%d\n",
					p.SequenceOrder, p.ID, p.Name, p.RequiresReview, p.IsTerminal, len(p.DoneDefinitions))
			}
			return w.Flush()
		},
	})
	return cmd
}
