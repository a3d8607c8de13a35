// Package events provides event types and publishing infrastructure for
// orchard.
//
// Topics are dot-namespaced event types. Delivery is fan-out and
// best-effort with per-topic publication order preserved to each
// subscriber; ordering across topics is not guaranteed. A well-known
// subset of events is additionally appended to the store's event_log
// table inside the transaction that produced them (see db.AppendEventTx),
// so the audit trail can be reconstructed from the store alone.
package events

import (
	"time"
)

// Event types. Adding one is a code change, not a runtime extension point.
const (
	TaskCreated   = "task.created"
	TaskAssigned  = "task.assigned"
	TaskStarted   = "task.started"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	TaskTimedOut  = "task.timed_out"
	TaskCancelled = "task.cancelled"
	TaskBlocked   = "task.blocked"

	TaskUnderReview = "task.under_review"

	TaskReviewApproved = "task.review.approved"
	TaskReviewRejected = "task.review.rejected"

	TicketCreated   = "ticket.created"
	TicketBlocked   = "ticket.blocked"
	TicketUnblocked = "ticket.unblocked"
	TicketCompleted = "ticket.completed"
	TicketFailed    = "ticket.failed"

	PhaseTransitioned = "phase.transitioned"
	PhaseAmbiguous    = "phase.ambiguous"

	AgentRegistered = "agent.registered"
	AgentHeartbeat  = "agent.heartbeat"
	AgentStale      = "agent.stale"
	AgentTerminated = "agent.terminated"

	DiscoveryRecorded = "discovery.recorded"

	DiagnosticStuckDetected = "diagnostic.stuck_detected"

	GuardianInterventionStarted   = "guardian.intervention.started"
	GuardianInterventionCompleted = "guardian.intervention.completed"
	GuardianInterventionReverted  = "guardian.intervention.reverted"

	WorkflowResultSubmitted = "workflow.result.submitted"
	WorkflowResultValidated = "workflow.result.validated"
	WorkflowResultRejected  = "workflow.result.rejected"
)

// Event represents a published domain event.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	Time       time.Time      `json:"time"`
}

// New creates an event with the given identity and timestamp.
func New(id, eventType, entityType, entityID string, payload map[string]any, at time.Time) Event {
	return Event{
		ID:         id,
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		Time:       at,
	}
}
