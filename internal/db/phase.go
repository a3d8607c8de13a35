package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/orchard-dev/orchard/internal/errors"
)

// Phase is configuration data describing one ordered workflow stage.
type Phase struct {
	ID                 string
	Name               string
	SequenceOrder      int
	AllowedTransitions []string
	IsTerminal         bool
	RequiresReview     bool
	DoneDefinitions    []string
	ExpectedOutputs    []string
	InitialPrompt      string
	NextSteps          string
	Version            int64
	UpdatedAt          time.Time
}

const phaseColumns = `id, name, sequence_order, allowed_transitions, is_terminal,
	requires_review, done_definitions, expected_outputs, initial_prompt,
	next_steps, version, updated_at`

// UpsertPhaseTx writes or replaces a phase definition.
func UpsertPhaseTx(tx *TxOps, p *Phase) error {
	if p.AllowedTransitions == nil {
		p.AllowedTransitions = []string{}
	}
	if p.DoneDefinitions == nil {
		p.DoneDefinitions = []string{}
	}
	if p.ExpectedOutputs == nil {
		p.ExpectedOutputs = []string{}
	}
	_, err := tx.Exec(`
		INSERT INTO phases (id, name, sequence_order, allowed_transitions, is_terminal,
			requires_review, done_definitions, expected_outputs, initial_prompt,
			next_steps, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			sequence_order = excluded.sequence_order,
			allowed_transitions = excluded.allowed_transitions,
			is_terminal = excluded.is_terminal,
			requires_review = excluded.requires_review,
			done_definitions = excluded.done_definitions,
			expected_outputs = excluded.expected_outputs,
			initial_prompt = excluded.initial_prompt,
			next_steps = excluded.next_steps,
			version = phases.version + 1,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.SequenceOrder, mustJSON(p.AllowedTransitions), p.IsTerminal,
		p.RequiresReview, mustJSON(p.DoneDefinitions), mustJSON(p.ExpectedOutputs),
		p.InitialPrompt, p.NextSteps, fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert phase %s: %w", p.ID, err)
	}
	return nil
}

// GetPhaseTx retrieves a phase by id, or a NOT_FOUND error.
func GetPhaseTx(tx *TxOps, id string) (*Phase, error) {
	row := tx.QueryRow(`SELECT `+phaseColumns+` FROM phases WHERE id = ?`, id)
	p, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound("phase", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get phase %s: %w", id, err)
	}
	return p, nil
}

// ListPhasesTx returns the full phase catalog in sequence order.
func ListPhasesTx(tx *TxOps) ([]*Phase, error) {
	rows, err := tx.Query(`SELECT ` + phaseColumns + ` FROM phases ORDER BY sequence_order ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var phases []*Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// CountPhasesTx returns the number of configured phases.
func CountPhasesTx(tx *TxOps) (int, error) {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM phases`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count phases: %w", err)
	}
	return n, nil
}

func scanPhase(s scanner) (*Phase, error) {
	var p Phase
	var transitions, doneDefs, outputs sql.NullString
	var updatedAt utcTime

	err := s.Scan(
		&p.ID, &p.Name, &p.SequenceOrder, &transitions, &p.IsTerminal,
		&p.RequiresReview, &doneDefs, &outputs, &p.InitialPrompt,
		&p.NextSteps, &p.Version, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.AllowedTransitions = []string{}
	if err := scanJSON(transitions, &p.AllowedTransitions); err != nil {
		return nil, err
	}
	p.DoneDefinitions = []string{}
	if err := scanJSON(doneDefs, &p.DoneDefinitions); err != nil {
		return nil, err
	}
	p.ExpectedOutputs = []string{}
	if err := scanJSON(outputs, &p.ExpectedOutputs); err != nil {
		return nil, err
	}
	p.UpdatedAt = updatedAt.T
	return &p, nil
}
