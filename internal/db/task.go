package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orchard-dev/orchard/internal/errors"
)

// Task represents a single schedulable operation belonging to one ticket
// and one phase.
type Task struct {
	ID              string
	TicketID        string
	PhaseID         string
	TaskType        string
	Description     string
	Priority        Priority
	Status          TaskStatus
	AssignedAgentID *string
	Dependencies    []string
	RetryCount      int
	MaxRetries      int
	TimeoutSeconds  *int
	Result          json.RawMessage
	ErrorMessage    string
	ReviewFeedback  string
	SandboxID       string
	Version         int64
	CreatedAt       time.Time
	// ScheduledAt is the earliest instant the task is eligible for
	// assignment; retry back-off pushes it into the future.
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

const taskColumns = `id, ticket_id, phase_id, task_type, description, priority, status,
	assigned_agent_id, dependencies, retry_count, max_retries, timeout_seconds,
	result, error_message, review_feedback, sandbox_id, version,
	created_at, scheduled_at, started_at, completed_at, updated_at`

// InsertTaskTx writes a new task row.
func InsertTaskTx(tx *TxOps, t *Task) error {
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	var result any
	if t.Result != nil {
		result = string(t.Result)
	}
	_, err := tx.Exec(`
		INSERT INTO tasks (id, ticket_id, phase_id, task_type, description, priority,
			status, assigned_agent_id, dependencies, retry_count, max_retries,
			timeout_seconds, result, error_message, review_feedback, sandbox_id,
			version, created_at, scheduled_at, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TicketID, t.PhaseID, t.TaskType, t.Description, string(t.Priority),
		string(t.Status), t.AssignedAgentID, mustJSON(t.Dependencies),
		t.RetryCount, t.MaxRetries, t.TimeoutSeconds, result,
		t.ErrorMessage, t.ReviewFeedback, t.SandboxID, t.Version,
		fmtTime(t.CreatedAt), fmtTime(t.ScheduledAt),
		fmtTimePtr(t.StartedAt), fmtTimePtr(t.CompletedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTaskTx retrieves a task by id, or a NOT_FOUND error.
func GetTaskTx(tx *TxOps, id string) (*Task, error) {
	row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTaskTx performs a version-guarded update of all mutable fields.
// The in-memory version is incremented on success.
func UpdateTaskTx(tx *TxOps, t *Task) error {
	var result any
	if t.Result != nil {
		result = string(t.Result)
	}
	res, err := tx.Exec(`
		UPDATE tasks
		SET phase_id = ?, task_type = ?, description = ?, priority = ?, status = ?,
			assigned_agent_id = ?, dependencies = ?, retry_count = ?, max_retries = ?,
			timeout_seconds = ?, result = ?, error_message = ?, review_feedback = ?,
			sandbox_id = ?, version = version + 1, scheduled_at = ?, started_at = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		t.PhaseID, t.TaskType, t.Description, string(t.Priority), string(t.Status),
		t.AssignedAgentID, mustJSON(t.Dependencies), t.RetryCount, t.MaxRetries,
		t.TimeoutSeconds, result, t.ErrorMessage, t.ReviewFeedback,
		t.SandboxID, fmtTime(t.ScheduledAt), fmtTimePtr(t.StartedAt),
		fmtTimePtr(t.CompletedAt), fmtTime(t.UpdatedAt),
		t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s: rows affected: %w", t.ID, err)
	}
	if n == 0 {
		return errors.ErrStaleVersion("task", t.ID, t.Version)
	}
	t.Version++
	return nil
}

// ListTasksByTicketTx returns every task belonging to a ticket, oldest first.
func ListTasksByTicketTx(tx *TxOps, ticketID string) ([]*Task, error) {
	return queryTasks(tx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE ticket_id = ? ORDER BY created_at ASC, id ASC`, ticketID)
}

// ListTasksTx returns tasks across all tickets, optionally filtered by
// status, newest first.
func ListTasksTx(tx *TxOps, status TaskStatus) ([]*Task, error) {
	if status != "" {
		return queryTasks(tx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE status = ? ORDER BY created_at DESC, id DESC`, string(status))
	}
	return queryTasks(tx, `
		SELECT ` + taskColumns + ` FROM tasks
		ORDER BY created_at DESC, id DESC`)
}

// ListTasksByTicketPhaseTx returns a ticket's tasks scoped to one phase.
func ListTasksByTicketPhaseTx(tx *TxOps, ticketID, phaseID string) ([]*Task, error) {
	return queryTasks(tx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE ticket_id = ? AND phase_id = ? ORDER BY created_at ASC, id ASC`,
		ticketID, phaseID)
}

// ListTasksByAgentTx returns tasks currently occupying an agent's capacity.
func ListTasksByAgentTx(tx *TxOps, agentID string) ([]*Task, error) {
	return queryTasks(tx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE assigned_agent_id = ? AND status IN ('assigned', 'running', 'under_review')
		ORDER BY created_at ASC, id ASC`, agentID)
}

// ListPendingCandidatesTx reads pending tasks in the given phases that are
// past their scheduled time, locking the rows on dialects that support it.
// Dependency gating is checked by the caller inside the same transaction.
func ListPendingCandidatesTx(tx *TxOps, phaseIDs []string, now time.Time) ([]*Task, error) {
	if len(phaseIDs) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(phaseIDs)+1)
	for i, id := range phaseIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}
	args = append(args, fmtTime(now))

	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND phase_id IN (` + placeholders + `)
			AND scheduled_at <= ?
		ORDER BY created_at ASC, id ASC` + tx.LockSuffix()
	return queryTasks(tx, query, args...)
}

// ListRunningPastDeadlineTx returns assigned/running tasks whose timeout
// has expired as of now. Tasks without a timeout never time out.
func ListRunningPastDeadlineTx(tx *TxOps, now time.Time) ([]*Task, error) {
	tasks, err := queryTasks(tx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status IN ('assigned', 'running')
			AND timeout_seconds IS NOT NULL AND started_at IS NOT NULL
		ORDER BY created_at ASC, id ASC`+tx.LockSuffix())
	if err != nil {
		return nil, err
	}
	var expired []*Task
	for _, t := range tasks {
		deadline := t.StartedAt.Add(time.Duration(*t.TimeoutSeconds) * time.Second)
		if deadline.Before(now) {
			expired = append(expired, t)
		}
	}
	return expired, nil
}

// ListDependentsTx returns pending tasks in the same ticket whose
// dependency set contains depID.
func ListDependentsTx(tx *TxOps, ticketID, depID string) ([]*Task, error) {
	tasks, err := queryTasks(tx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE ticket_id = ? AND status = 'pending'
		ORDER BY created_at ASC, id ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	var dependents []*Task
	for _, t := range tasks {
		for _, d := range t.Dependencies {
			if d == depID {
				dependents = append(dependents, t)
				break
			}
		}
	}
	return dependents, nil
}

func queryTasks(tx *TxOps, query string, args ...any) ([]*Task, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var priority, status string
	var agentID sql.NullString
	var deps, result sql.NullString
	var timeout sql.NullInt64
	var createdAt, scheduledAt, startedAt, completedAt, updatedAt utcTime

	err := s.Scan(
		&t.ID, &t.TicketID, &t.PhaseID, &t.TaskType, &t.Description, &priority,
		&status, &agentID, &deps, &t.RetryCount, &t.MaxRetries, &timeout,
		&result, &t.ErrorMessage, &t.ReviewFeedback, &t.SandboxID, &t.Version,
		&createdAt, &scheduledAt, &startedAt, &completedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Priority = Priority(priority)
	t.Status = TaskStatus(status)
	if agentID.Valid {
		t.AssignedAgentID = &agentID.String
	}
	t.Dependencies = []string{}
	if err := scanJSON(deps, &t.Dependencies); err != nil {
		return nil, err
	}
	if timeout.Valid {
		v := int(timeout.Int64)
		t.TimeoutSeconds = &v
	}
	if result.Valid && result.String != "" {
		t.Result = json.RawMessage(result.String)
	}
	t.CreatedAt = createdAt.T
	t.ScheduledAt = scheduledAt.T
	t.StartedAt = startedAt.Ptr()
	t.CompletedAt = completedAt.Ptr()
	t.UpdatedAt = updatedAt.T
	return &t, nil
}
