package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orchard-dev/orchard/internal/errors"
)

// GuardianAction is the audit record of an authority-gated intervention.
// Immutable except for RevertedAt.
type GuardianAction struct {
	ID             string
	ActionType     GuardianActionType
	TargetEntityID string
	AuthorityLevel int
	Reason         string
	InitiatedBy    string
	ApprovedBy     *string
	AuditLog       json.RawMessage
	ExecutedAt     time.Time
	RevertedAt     *time.Time
}

const guardianColumns = `id, action_type, target_entity_id, authority_level, reason,
	initiated_by, approved_by, audit_log, executed_at, reverted_at`

// InsertGuardianActionTx writes a new guardian action row.
func InsertGuardianActionTx(tx *TxOps, g *GuardianAction) error {
	audit := "{}"
	if g.AuditLog != nil {
		audit = string(g.AuditLog)
	}
	_, err := tx.Exec(`
		INSERT INTO guardian_actions (id, action_type, target_entity_id,
			authority_level, reason, initiated_by, approved_by, audit_log,
			executed_at, reverted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, string(g.ActionType), g.TargetEntityID, g.AuthorityLevel,
		g.Reason, g.InitiatedBy, g.ApprovedBy, audit,
		fmtTime(g.ExecutedAt), fmtTimePtr(g.RevertedAt),
	)
	if err != nil {
		return fmt.Errorf("insert guardian action %s: %w", g.ID, err)
	}
	return nil
}

// GetGuardianActionTx retrieves a guardian action by id.
func GetGuardianActionTx(tx *TxOps, id string) (*GuardianAction, error) {
	row := tx.QueryRow(`SELECT `+guardianColumns+` FROM guardian_actions WHERE id = ?`, id)
	g, err := scanGuardianAction(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound("guardian action", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get guardian action %s: %w", id, err)
	}
	return g, nil
}

// MarkGuardianActionRevertedTx sets reverted_at if not already set.
// Returns true when this call performed the revert, false when the
// action was already reverted (idempotent second call).
func MarkGuardianActionRevertedTx(tx *TxOps, id string, at time.Time) (bool, error) {
	res, err := tx.Exec(`
		UPDATE guardian_actions SET reverted_at = ?
		WHERE id = ? AND reverted_at IS NULL`,
		fmtTime(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("revert guardian action %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revert guardian action %s: rows affected: %w", id, err)
	}
	return n > 0, nil
}

// ListGuardianActionsTx returns guardian actions, newest first.
func ListGuardianActionsTx(tx *TxOps, targetEntityID string) ([]*GuardianAction, error) {
	query := `SELECT ` + guardianColumns + ` FROM guardian_actions`
	var args []any
	if targetEntityID != "" {
		query += ` WHERE target_entity_id = ?`
		args = append(args, targetEntityID)
	}
	query += ` ORDER BY executed_at DESC, id DESC`

	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list guardian actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []*GuardianAction
	for rows.Next() {
		g, err := scanGuardianAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan guardian action: %w", err)
		}
		actions = append(actions, g)
	}
	return actions, rows.Err()
}

func scanGuardianAction(s scanner) (*GuardianAction, error) {
	var g GuardianAction
	var actionType string
	var approvedBy, audit sql.NullString
	var executedAt, revertedAt utcTime

	err := s.Scan(
		&g.ID, &actionType, &g.TargetEntityID, &g.AuthorityLevel, &g.Reason,
		&g.InitiatedBy, &approvedBy, &audit, &executedAt, &revertedAt,
	)
	if err != nil {
		return nil, err
	}

	g.ActionType = GuardianActionType(actionType)
	if approvedBy.Valid {
		g.ApprovedBy = &approvedBy.String
	}
	if audit.Valid && audit.String != "" {
		g.AuditLog = json.RawMessage(audit.String)
	}
	g.ExecutedAt = executedAt.T
	g.RevertedAt = revertedAt.Ptr()
	return &g, nil
}
