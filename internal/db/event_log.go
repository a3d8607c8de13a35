package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventLog is one row of the durable audit trail. Append-only.
type EventLog struct {
	ID         string
	EventType  string
	EntityType string
	EntityID   string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

const eventLogColumns = `id, event_type, entity_type, entity_id, payload, created_at`

// AppendEventTx appends an audit event in the caller's transaction, so
// the audit row commits or rolls back together with the mutation that
// produced it.
func AppendEventTx(tx *TxOps, e *EventLog) error {
	payload := "{}"
	if e.Payload != nil {
		payload = string(e.Payload)
	}
	_, err := tx.Exec(`
		INSERT INTO event_log (id, event_type, entity_type, entity_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventType, e.EntityType, e.EntityID, payload, fmtTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.EventType, err)
	}
	return nil
}

// ListEventsByEntityTx returns audit events for one entity, oldest first.
func ListEventsByEntityTx(tx *TxOps, entityID string, limit int) ([]*EventLog, error) {
	if limit <= 0 {
		limit = 100
	}
	return queryEvents(tx, `
		SELECT `+eventLogColumns+` FROM event_log
		WHERE entity_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		entityID, limit)
}

// ListEventsByTypeTx returns audit events of one type, oldest first.
func ListEventsByTypeTx(tx *TxOps, eventType string, limit int) ([]*EventLog, error) {
	if limit <= 0 {
		limit = 100
	}
	return queryEvents(tx, `
		SELECT `+eventLogColumns+` FROM event_log
		WHERE event_type = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		eventType, limit)
}

// LastEventTx returns the most recent audit event of the given type for
// an entity, or nil when none exists.
func LastEventTx(tx *TxOps, entityID, eventType string) (*EventLog, error) {
	row := tx.QueryRow(`
		SELECT `+eventLogColumns+` FROM event_log
		WHERE entity_id = ? AND event_type = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		entityID, eventType)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last event %s for %s: %w", eventType, entityID, err)
	}
	return e, nil
}

// HasEventTx reports whether any audit event of the given type exists
// for an entity.
func HasEventTx(tx *TxOps, entityID, eventType string) (bool, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM event_log WHERE entity_id = ? AND event_type = ?`,
		entityID, eventType).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has event %s for %s: %w", eventType, entityID, err)
	}
	return n > 0, nil
}

func queryEvents(tx *TxOps, query string, args ...any) ([]*EventLog, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*EventLog
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(s scanner) (*EventLog, error) {
	var e EventLog
	var payload sql.NullString
	var createdAt utcTime

	err := s.Scan(&e.ID, &e.EventType, &e.EntityType, &e.EntityID, &payload, &createdAt)
	if err != nil {
		return nil, err
	}

	if payload.Valid && payload.String != "" {
		e.Payload = json.RawMessage(payload.String)
	}
	e.CreatedAt = createdAt.T
	return &e, nil
}
