package events

import (
	"encoding/json"
	"fmt"

	"github.com/orchard-dev/orchard/internal/db"
)

// audited is the set of event types persisted to the store's event_log.
// Heartbeats and assignment chatter stay bus-only; everything that an
// operator would replay for an audit lands in the store.
var audited = map[string]bool{
	TaskCreated:   true,
	TaskCompleted: true,
	TaskFailed:    true,
	TaskTimedOut:  true,
	TaskCancelled: true,
	TaskBlocked:   true,

	TaskReviewApproved: true,
	TaskReviewRejected: true,

	TicketCreated:   true,
	TicketBlocked:   true,
	TicketUnblocked: true,
	TicketCompleted: true,
	TicketFailed:    true,

	PhaseTransitioned: true,
	PhaseAmbiguous:    true,

	AgentRegistered: true,
	AgentStale:      true,
	AgentTerminated: true,

	DiscoveryRecorded: true,

	DiagnosticStuckDetected: true,

	GuardianInterventionStarted:   true,
	GuardianInterventionCompleted: true,
	GuardianInterventionReverted:  true,

	WorkflowResultSubmitted: true,
	WorkflowResultValidated: true,
	WorkflowResultRejected:  true,
}

// Audited reports whether events of this type are written to the
// durable audit log.
func Audited(eventType string) bool {
	return audited[eventType]
}

// Append writes the audited subset of evs to the event_log table inside
// the caller's transaction. Non-audited events are skipped. The audit
// rows commit or roll back together with the mutation that produced the
// events; callers publish to the bus only after a successful commit.
func Append(tx *db.TxOps, evs ...Event) error {
	for _, e := range evs {
		if !Audited(e.Type) {
			continue
		}
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload %s: %w", e.Type, err)
		}
		if err := db.AppendEventTx(tx, &db.EventLog{
			ID:         e.ID,
			EventType:  e.Type,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Payload:    payload,
			CreatedAt:  e.Time,
		}); err != nil {
			return err
		}
	}
	return nil
}

// PublishAll publishes evs in order. A nil bus is allowed for callers
// running without notification wiring (tests, one-shot CLI commands).
func PublishAll(b Bus, evs ...Event) {
	if b == nil {
		return
	}
	for _, e := range evs {
		b.Publish(e)
	}
}
