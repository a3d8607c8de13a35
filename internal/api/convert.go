package api

import (
	"encoding/json"
	"time"

	"github.com/orchard-dev/orchard/internal/db"
)

// Wire representations of the store entities. Conversion keeps the db
// structs free of transport tags.

type ticketJSON struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	PhaseID     string     `json:"phase_id"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	BlockedBy   []string   `json:"blocked_by,omitempty"`
	BlockReason string     `json:"block_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toTicketJSON(t *db.Ticket) ticketJSON {
	return ticketJSON{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		PhaseID:     t.PhaseID,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		BlockedBy:   t.BlockedBy,
		BlockReason: t.BlockReason,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
}

type taskJSON struct {
	ID              string          `json:"id"`
	TicketID        string          `json:"ticket_id"`
	PhaseID         string          `json:"phase_id"`
	TaskType        string          `json:"task_type"`
	Description     string          `json:"description"`
	Priority        string          `json:"priority"`
	Status          string          `json:"status"`
	AssignedAgentID *string         `json:"assigned_agent_id,omitempty"`
	Dependencies    []string        `json:"dependencies,omitempty"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	TimeoutSeconds  *int            `json:"timeout_seconds,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ReviewFeedback  string          `json:"review_feedback,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ScheduledAt     time.Time       `json:"scheduled_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func toTaskJSON(t *db.Task) taskJSON {
	return taskJSON{
		ID:              t.ID,
		TicketID:        t.TicketID,
		PhaseID:         t.PhaseID,
		TaskType:        t.TaskType,
		Description:     t.Description,
		Priority:        string(t.Priority),
		Status:          string(t.Status),
		AssignedAgentID: t.AssignedAgentID,
		Dependencies:    t.Dependencies,
		RetryCount:      t.RetryCount,
		MaxRetries:      t.MaxRetries,
		TimeoutSeconds:  t.TimeoutSeconds,
		Result:          t.Result,
		ErrorMessage:    t.ErrorMessage,
		ReviewFeedback:  t.ReviewFeedback,
		CreatedAt:       t.CreatedAt,
		ScheduledAt:     t.ScheduledAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
	}
}

func toTaskListJSON(tasks []*db.Task) []taskJSON {
	out := make([]taskJSON, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskJSON(t))
	}
	return out
}

type agentJSON struct {
	ID             string    `json:"id"`
	AgentType      string    `json:"agent_type"`
	PhaseID        *string   `json:"phase_id,omitempty"`
	Status         string    `json:"status"`
	Capabilities   []string  `json:"capabilities,omitempty"`
	Capacity       int       `json:"capacity"`
	CurrentLoad    int       `json:"current_load"`
	AuthorityLevel int       `json:"authority_level"`
	Hostname       string    `json:"hostname,omitempty"`
	PID            int       `json:"pid,omitempty"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	CreatedAt      time.Time `json:"created_at"`
}

func toAgentJSON(a *db.Agent) agentJSON {
	return agentJSON{
		ID:             a.ID,
		AgentType:      string(a.AgentType),
		PhaseID:        a.PhaseID,
		Status:         string(a.Status),
		Capabilities:   a.Capabilities,
		Capacity:       a.Capacity,
		CurrentLoad:    a.CurrentLoad,
		AuthorityLevel: a.AuthorityLevel,
		Hostname:       a.Hostname,
		PID:            a.PID,
		LastHeartbeat:  a.LastHeartbeat,
		CreatedAt:      a.CreatedAt,
	}
}

type phaseJSON struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	SequenceOrder      int      `json:"sequence_order"`
	AllowedTransitions []string `json:"allowed_transitions,omitempty"`
	IsTerminal         bool     `json:"is_terminal"`
	RequiresReview     bool     `json:"requires_review"`
	DoneDefinitions    []string `json:"done_definitions,omitempty"`
	ExpectedOutputs    []string `json:"expected_outputs,omitempty"`
}

func toPhaseJSON(p *db.Phase) phaseJSON {
	return phaseJSON{
		ID:                 p.ID,
		Name:               p.Name,
		SequenceOrder:      p.SequenceOrder,
		AllowedTransitions: p.AllowedTransitions,
		IsTerminal:         p.IsTerminal,
		RequiresReview:     p.RequiresReview,
		DoneDefinitions:    p.DoneDefinitions,
		ExpectedOutputs:    p.ExpectedOutputs,
	}
}

type discoveryJSON struct {
	ID            string    `json:"id"`
	SourceTaskID  string    `json:"source_task_id"`
	Type          string    `json:"type"`
	Description   string    `json:"description"`
	SpawnPhaseID  string    `json:"spawn_phase_id"`
	SpawnTaskID   string    `json:"spawn_task_id"`
	PriorityBoost bool      `json:"priority_boost"`
	CreatedAt     time.Time `json:"created_at"`
}

func toDiscoveryJSON(d *db.Discovery) discoveryJSON {
	return discoveryJSON{
		ID:            d.ID,
		SourceTaskID:  d.SourceTaskID,
		Type:          string(d.Type),
		Description:   d.Description,
		SpawnPhaseID:  d.SpawnPhaseID,
		SpawnTaskID:   d.SpawnTaskID,
		PriorityBoost: d.PriorityBoost,
		CreatedAt:     d.CreatedAt,
	}
}

type guardianActionJSON struct {
	ID             string          `json:"id"`
	ActionType     string          `json:"action_type"`
	TargetEntityID string          `json:"target_entity_id"`
	AuthorityLevel int             `json:"authority_level"`
	Reason         string          `json:"reason"`
	InitiatedBy    string          `json:"initiated_by"`
	ApprovedBy     *string         `json:"approved_by,omitempty"`
	AuditLog       json.RawMessage `json:"audit_log,omitempty"`
	ExecutedAt     time.Time       `json:"executed_at"`
	RevertedAt     *time.Time      `json:"reverted_at,omitempty"`
}

func toGuardianActionJSON(g *db.GuardianAction) guardianActionJSON {
	return guardianActionJSON{
		ID:             g.ID,
		ActionType:     string(g.ActionType),
		TargetEntityID: g.TargetEntityID,
		AuthorityLevel: g.AuthorityLevel,
		Reason:         g.Reason,
		InitiatedBy:    g.InitiatedBy,
		ApprovedBy:     g.ApprovedBy,
		AuditLog:       g.AuditLog,
		ExecutedAt:     g.ExecutedAt,
		RevertedAt:     g.RevertedAt,
	}
}

type workflowResultJSON struct {
	ID           string    `json:"id"`
	TicketID     string    `json:"ticket_id"`
	PhaseID      string    `json:"phase_id"`
	ArtifactRef  string    `json:"artifact_ref"`
	ArtifactKind string    `json:"artifact_kind"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toWorkflowResultJSON(w *db.WorkflowResult) workflowResultJSON {
	return workflowResultJSON{
		ID:           w.ID,
		TicketID:     w.TicketID,
		PhaseID:      w.PhaseID,
		ArtifactRef:  w.ArtifactRef,
		ArtifactKind: w.ArtifactKind,
		Status:       string(w.Status),
		Reason:       w.Reason,
		CreatedAt:    w.CreatedAt,
	}
}

type eventLogJSON struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toEventLogJSON(e *db.EventLog) eventLogJSON {
	return eventLogJSON{
		ID:         e.ID,
		EventType:  e.EventType,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Payload:    e.Payload,
		CreatedAt:  e.CreatedAt,
	}
}
