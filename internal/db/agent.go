package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/orchard-dev/orchard/internal/errors"
)

// Agent represents an external executor registered with the engine.
type Agent struct {
	ID             string
	AgentType      AgentType
	PhaseID        *string
	Status         AgentStatus
	Capabilities   []string
	Capacity       int
	CurrentLoad    int
	AuthorityLevel int
	Hostname       string
	PID            int
	LastHeartbeat  time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const agentColumns = `id, agent_type, phase_id, status, capabilities, capacity,
	current_load, authority_level, hostname, pid, last_heartbeat, version,
	created_at, updated_at`

// InsertAgentTx writes a new agent row.
func InsertAgentTx(tx *TxOps, a *Agent) error {
	if a.Capabilities == nil {
		a.Capabilities = []string{}
	}
	_, err := tx.Exec(`
		INSERT INTO agents (id, agent_type, phase_id, status, capabilities, capacity,
			current_load, authority_level, hostname, pid, last_heartbeat, version,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.AgentType), a.PhaseID, string(a.Status),
		mustJSON(a.Capabilities), a.Capacity, a.CurrentLoad, a.AuthorityLevel,
		a.Hostname, a.PID, fmtTime(a.LastHeartbeat), a.Version,
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert agent %s: %w", a.ID, err)
	}
	return nil
}

// GetAgentTx retrieves an agent by id, or a NOT_FOUND error.
func GetAgentTx(tx *TxOps, id string) (*Agent, error) {
	row := tx.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound("agent", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// UpdateAgentTx performs a version-guarded update of all mutable fields.
func UpdateAgentTx(tx *TxOps, a *Agent) error {
	res, err := tx.Exec(`
		UPDATE agents
		SET agent_type = ?, phase_id = ?, status = ?, capabilities = ?, capacity = ?,
			current_load = ?, authority_level = ?, last_heartbeat = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(a.AgentType), a.PhaseID, string(a.Status), mustJSON(a.Capabilities),
		a.Capacity, a.CurrentLoad, a.AuthorityLevel, fmtTime(a.LastHeartbeat),
		fmtTime(a.UpdatedAt),
		a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent %s: rows affected: %w", a.ID, err)
	}
	if n == 0 {
		return errors.ErrStaleVersion("agent", a.ID, a.Version)
	}
	a.Version++
	return nil
}

// ListAgentsTx returns all agents, oldest first.
func ListAgentsTx(tx *TxOps) ([]*Agent, error) {
	return queryAgents(tx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC, id ASC`)
}

// ListAvailableAgentsTx returns agents able to accept work: idle or busy
// with spare capacity.
func ListAvailableAgentsTx(tx *TxOps) ([]*Agent, error) {
	return queryAgents(tx, `
		SELECT `+agentColumns+` FROM agents
		WHERE status IN ('idle', 'busy') AND current_load < capacity
		ORDER BY current_load ASC, last_heartbeat DESC, id ASC`)
}

// ListStaleAgentsTx returns live agents whose last heartbeat is strictly
// older than the cutoff.
func ListStaleAgentsTx(tx *TxOps, cutoff time.Time) ([]*Agent, error) {
	agents, err := queryAgents(tx, `
		SELECT `+agentColumns+` FROM agents
		WHERE status IN ('idle', 'busy')
		ORDER BY created_at ASC, id ASC`+tx.LockSuffix())
	if err != nil {
		return nil, err
	}
	var stale []*Agent
	for _, a := range agents {
		if a.LastHeartbeat.Before(cutoff) {
			stale = append(stale, a)
		}
	}
	return stale, nil
}

func queryAgents(tx *TxOps, query string, args ...any) ([]*Agent, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(s scanner) (*Agent, error) {
	var a Agent
	var agentType, status string
	var phaseID sql.NullString
	var caps sql.NullString
	var lastHeartbeat, createdAt, updatedAt utcTime

	err := s.Scan(
		&a.ID, &agentType, &phaseID, &status, &caps, &a.Capacity,
		&a.CurrentLoad, &a.AuthorityLevel, &a.Hostname, &a.PID,
		&lastHeartbeat, &a.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.AgentType = AgentType(agentType)
	a.Status = AgentStatus(status)
	if phaseID.Valid {
		a.PhaseID = &phaseID.String
	}
	a.Capabilities = []string{}
	if err := scanJSON(caps, &a.Capabilities); err != nil {
		return nil, err
	}
	a.LastHeartbeat = lastHeartbeat.T
	a.CreatedAt = createdAt.T
	a.UpdatedAt = updatedAt.T
	return &a, nil
}
