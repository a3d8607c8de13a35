package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/orchard-dev/orchard/internal/errors"
)

// Ticket represents a user-facing unit of work tracked through phases.
type Ticket struct {
	ID          string
	Title       string
	Description string
	PhaseID     string
	Status      TicketStatus
	Priority    Priority
	BlockedBy   []string
	BlockReason string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

const ticketColumns = `id, title, description, phase_id, status, priority, blocked_by,
	block_reason, version, created_at, updated_at, completed_at`

// InsertTicketTx writes a new ticket row.
func InsertTicketTx(tx *TxOps, t *Ticket) error {
	if t.BlockedBy == nil {
		t.BlockedBy = []string{}
	}
	_, err := tx.Exec(`
		INSERT INTO tickets (id, title, description, phase_id, status, priority,
			blocked_by, block_reason, version, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.PhaseID, string(t.Status), string(t.Priority),
		mustJSON(t.BlockedBy), t.BlockReason, t.Version,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt), fmtTimePtr(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert ticket %s: %w", t.ID, err)
	}
	return nil
}

// GetTicketTx retrieves a ticket by id, or a NOT_FOUND error.
func GetTicketTx(tx *TxOps, id string) (*Ticket, error) {
	row := tx.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound("ticket", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return t, nil
}

// UpdateTicketTx performs a version-guarded update of all mutable fields.
// The in-memory version is incremented on success.
func UpdateTicketTx(tx *TxOps, t *Ticket) error {
	res, err := tx.Exec(`
		UPDATE tickets
		SET title = ?, description = ?, phase_id = ?, status = ?, priority = ?,
			blocked_by = ?, block_reason = ?, version = version + 1,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND version = ?`,
		t.Title, t.Description, t.PhaseID, string(t.Status), string(t.Priority),
		mustJSON(t.BlockedBy), t.BlockReason,
		fmtTime(t.UpdatedAt), fmtTimePtr(t.CompletedAt),
		t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket %s: rows affected: %w", t.ID, err)
	}
	if n == 0 {
		return errors.ErrStaleVersion("ticket", t.ID, t.Version)
	}
	t.Version++
	return nil
}

// ListTicketsTx returns tickets filtered by status (all when empty),
// newest first.
func ListTicketsTx(tx *TxOps, status TicketStatus) ([]*Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// ListActiveTicketsTx returns tickets that are not in a terminal status.
func ListActiveTicketsTx(tx *TxOps) ([]*Ticket, error) {
	rows, err := tx.Query(`
		SELECT ` + ticketColumns + ` FROM tickets
		WHERE status IN ('pending', 'in_progress', 'blocked')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(s scanner) (*Ticket, error) {
	var t Ticket
	var status, priority string
	var blockedBy sql.NullString
	var createdAt, updatedAt, completedAt utcTime

	err := s.Scan(
		&t.ID, &t.Title, &t.Description, &t.PhaseID, &status, &priority,
		&blockedBy, &t.BlockReason, &t.Version, &createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = TicketStatus(status)
	t.Priority = Priority(priority)
	t.BlockedBy = []string{}
	if err := scanJSON(blockedBy, &t.BlockedBy); err != nil {
		return nil, err
	}
	t.CreatedAt = createdAt.T
	t.UpdatedAt = updatedAt.T
	t.CompletedAt = completedAt.Ptr()
	return &t, nil
}
