package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/orchard-dev/orchard/internal/errors"
)

// Discovery records that an agent, while executing a task, identified
// additional work. Immutable once written.
type Discovery struct {
	ID            string
	SourceTaskID  string
	Type          DiscoveryType
	Description   string
	SpawnPhaseID  string
	SpawnTaskID   string
	PriorityBoost bool
	CreatedAt     time.Time
}

const discoveryColumns = `id, source_task_id, type, description, spawn_phase_id,
	spawn_task_id, priority_boost, created_at`

// InsertDiscoveryTx writes a new discovery row.
func InsertDiscoveryTx(tx *TxOps, d *Discovery) error {
	_, err := tx.Exec(`
		INSERT INTO discoveries (id, source_task_id, type, description,
			spawn_phase_id, spawn_task_id, priority_boost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SourceTaskID, string(d.Type), d.Description,
		d.SpawnPhaseID, d.SpawnTaskID, d.PriorityBoost, fmtTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert discovery %s: %w", d.ID, err)
	}
	return nil
}

// GetDiscoveryTx retrieves a discovery by id, or a NOT_FOUND error.
func GetDiscoveryTx(tx *TxOps, id string) (*Discovery, error) {
	row := tx.QueryRow(`SELECT `+discoveryColumns+` FROM discoveries WHERE id = ?`, id)
	d, err := scanDiscovery(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound("discovery", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get discovery %s: %w", id, err)
	}
	return d, nil
}

// ListDiscoveriesBySourceTx returns discoveries branched from a task.
func ListDiscoveriesBySourceTx(tx *TxOps, sourceTaskID string) ([]*Discovery, error) {
	rows, err := tx.Query(`
		SELECT `+discoveryColumns+` FROM discoveries
		WHERE source_task_id = ? ORDER BY created_at ASC, id ASC`, sourceTaskID)
	if err != nil {
		return nil, fmt.Errorf("list discoveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var discoveries []*Discovery
	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discovery: %w", err)
		}
		discoveries = append(discoveries, d)
	}
	return discoveries, rows.Err()
}

func scanDiscovery(s scanner) (*Discovery, error) {
	var d Discovery
	var dtype string
	var createdAt utcTime

	err := s.Scan(
		&d.ID, &d.SourceTaskID, &dtype, &d.Description,
		&d.SpawnPhaseID, &d.SpawnTaskID, &d.PriorityBoost, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = DiscoveryType(dtype)
	d.CreatedAt = createdAt.T
	return &d, nil
}
