package db

import (
	"fmt"
	"time"
)

// GateCheck marks one done-definition of a phase as satisfied for a
// ticket, recording the artifact that satisfied it.
type GateCheck struct {
	TicketID       string
	PhaseID        string
	CriterionIndex int
	Criterion      string
	ArtifactKind   string
	SubmissionID   string
	CreatedAt      time.Time
}

// UpsertGateCheckTx records a satisfied gate criterion. Re-satisfying an
// already satisfied criterion keeps the newest binding.
func UpsertGateCheckTx(tx *TxOps, g *GateCheck) error {
	_, err := tx.Exec(`
		INSERT INTO gate_checks (ticket_id, phase_id, criterion_index, criterion,
			artifact_kind, submission_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticket_id, phase_id, criterion_index) DO UPDATE SET
			criterion = excluded.criterion,
			artifact_kind = excluded.artifact_kind,
			submission_id = excluded.submission_id,
			created_at = excluded.created_at`,
		g.TicketID, g.PhaseID, g.CriterionIndex, g.Criterion,
		g.ArtifactKind, g.SubmissionID, fmtTime(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert gate check %s/%s[%d]: %w", g.TicketID, g.PhaseID, g.CriterionIndex, err)
	}
	return nil
}

// SatisfiedCriteriaTx returns the satisfied done-definition indexes for
// a ticket's phase.
func SatisfiedCriteriaTx(tx *TxOps, ticketID, phaseID string) (map[int]bool, error) {
	rows, err := tx.Query(`
		SELECT criterion_index FROM gate_checks
		WHERE ticket_id = ? AND phase_id = ?`,
		ticketID, phaseID)
	if err != nil {
		return nil, fmt.Errorf("satisfied criteria %s/%s: %w", ticketID, phaseID, err)
	}
	defer func() { _ = rows.Close() }()

	satisfied := make(map[int]bool)
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan gate check: %w", err)
		}
		satisfied[idx] = true
	}
	return satisfied, rows.Err()
}

// WorkflowResult is an externally submitted workflow artifact for a ticket.
type WorkflowResult struct {
	ID           string
	TicketID     string
	PhaseID      string
	ArtifactRef  string
	ArtifactKind string
	Status       ResultStatus
	Reason       string
	CreatedAt    time.Time
}

const workflowResultColumns = `id, ticket_id, phase_id, artifact_ref, artifact_kind,
	status, reason, created_at`

// InsertWorkflowResultTx writes a new workflow result row.
func InsertWorkflowResultTx(tx *TxOps, w *WorkflowResult) error {
	_, err := tx.Exec(`
		INSERT INTO workflow_results (id, ticket_id, phase_id, artifact_ref,
			artifact_kind, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.TicketID, w.PhaseID, w.ArtifactRef, w.ArtifactKind,
		string(w.Status), w.Reason, fmtTime(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert workflow result %s: %w", w.ID, err)
	}
	return nil
}

// ListWorkflowResultsTx returns a ticket's workflow results, oldest first.
func ListWorkflowResultsTx(tx *TxOps, ticketID string) ([]*WorkflowResult, error) {
	rows, err := tx.Query(`
		SELECT `+workflowResultColumns+` FROM workflow_results
		WHERE ticket_id = ? ORDER BY created_at ASC, id ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list workflow results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*WorkflowResult
	for rows.Next() {
		var w WorkflowResult
		var status string
		var createdAt utcTime
		if err := rows.Scan(&w.ID, &w.TicketID, &w.PhaseID, &w.ArtifactRef,
			&w.ArtifactKind, &status, &w.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan workflow result: %w", err)
		}
		w.Status = ResultStatus(status)
		w.CreatedAt = createdAt.T
		results = append(results, &w)
	}
	return results, rows.Err()
}
