package phase

import (
	"time"

	"github.com/orchard-dev/orchard/internal/db"
)

// Builtin returns the default five-phase workflow. A config-supplied
// catalog file replaces it wholesale.
func Builtin() []*db.Phase {
	return []*db.Phase{
		{
			ID:                 "requirements",
			Name:               "Requirements",
			SequenceOrder:      1,
			AllowedTransitions: []string{"design"},
			DoneDefinitions: []string{
				"Problem statement captured",
				"Acceptance criteria listed",
			},
			ExpectedOutputs: []string{"requirements_doc"},
			InitialPrompt:   "Gather the requirements for this ticket. Capture the problem statement and enumerate acceptance criteria.",
			NextSteps:       "Hand the requirements document to design.",
		},
		{
			ID:                 "design",
			Name:               "Design",
			SequenceOrder:      2,
			AllowedTransitions: []string{"implementation"},
			DoneDefinitions: []string{
				"Technical approach documented",
			},
			ExpectedOutputs: []string{"design_doc"},
			InitialPrompt:   "Produce a technical design that satisfies every acceptance criterion.",
			NextSteps:       "Break the design into implementation tasks.",
		},
		{
			ID:                 "implementation",
			Name:               "Implementation",
			SequenceOrder:      3,
			AllowedTransitions: []string{"testing"},
			DoneDefinitions: []string{
				"All planned changes implemented",
			},
			ExpectedOutputs: []string{"diff"},
			InitialPrompt:   "Implement the design. Keep changes reviewable.",
			NextSteps:       "Submit the diff for testing.",
		},
		{
			ID:                 "testing",
			Name:               "Testing",
			SequenceOrder:      4,
			RequiresReview:     true,
			AllowedTransitions: []string{"done", "implementation"},
			DoneDefinitions: []string{
				"Test suite passing",
			},
			ExpectedOutputs: []string{"test_report"},
			InitialPrompt:   "Verify the implementation against the acceptance criteria.",
			NextSteps:       "Nominate done on success, or implementation for rework.",
		},
		{
			ID:            "done",
			Name:          "Done",
			SequenceOrder: 5,
			IsTerminal:    true,
		},
	}
}

// SeedTx writes the builtin catalog when the phases table is empty.
// Returns whether seeding happened.
func SeedTx(tx *db.TxOps, now time.Time) (bool, error) {
	n, err := db.CountPhasesTx(tx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	for _, p := range Builtin() {
		p.UpdatedAt = now
		if err := db.UpsertPhaseTx(tx, p); err != nil {
			return false, err
		}
	}
	return true, nil
}
