// Package intake receives externally submitted workflow artifacts,
// validates them against the ticket's current phase, and binds
// satisfied gate criteria for the phase engine to read.
package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/errors"
	"github.com/orchard-dev/orchard/internal/events"
)

// Service is the result intake component.
type Service struct {
	store  db.TxRunner
	bus    events.Bus
	clk    clock.Clock
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates an intake service.
func New(store db.TxRunner, bus events.Bus, clk clock.Clock, opts ...Option) *Service {
	s := &Service{store: store, bus: bus, clk: clk, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitInput carries a workflow result submission.
type SubmitInput struct {
	TicketID    string
	ArtifactRef string
	// Artifact is the artifact metadata blob. "kind" names the artifact
	// kind and is matched against the phase's expected outputs; an
	// optional "satisfies" array of criterion indexes binds specific
	// done definitions, otherwise the first unsatisfied criterion is
	// bound.
	Artifact json.RawMessage
}

// Submit validates an artifact against the ticket's current phase.
// An artifact of an expected kind is recorded as validated and its
// gate criteria marked satisfied; an unexpected kind is recorded as
// rejected and reported as a gate error. Both outcomes leave a
// WorkflowResult row and audit events behind.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*db.WorkflowResult, error) {
	if in.TicketID == "" {
		return nil, errors.ErrValidation("ticket_id", "required")
	}
	if in.ArtifactRef == "" {
		return nil, errors.ErrValidation("artifact_ref", "required")
	}
	kind := gjson.GetBytes(in.Artifact, "kind").String()
	if kind == "" {
		return nil, errors.ErrValidation("artifact", "missing kind field")
	}

	var (
		result   *db.WorkflowResult
		gateErr  error
		evs      []events.Event
	)
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		evs = evs[:0]
		gateErr = nil
		ticket, err := db.GetTicketTx(tx, in.TicketID)
		if err != nil {
			return err
		}
		phase, err := db.GetPhaseTx(tx, ticket.PhaseID)
		if err != nil {
			return err
		}

		now := s.clk.Now()
		result = &db.WorkflowResult{
			ID:           clock.NewID(clock.PrefixSubmission),
			TicketID:     ticket.ID,
			PhaseID:      phase.ID,
			ArtifactRef:  in.ArtifactRef,
			ArtifactKind: kind,
			Status:       db.ResultSubmitted,
			CreatedAt:    now,
		}
		evs = append(evs, events.New(clock.NewID(clock.PrefixEvent), events.WorkflowResultSubmitted, "ticket", ticket.ID, map[string]any{
			"submission_id": result.ID,
			"artifact_kind": kind,
		}, now))

		if !expectedKind(phase, kind) {
			result.Status = db.ResultRejected
			result.Reason = "artifact kind " + kind + " not expected in phase " + phase.ID
			evs = append(evs, events.New(clock.NewID(clock.PrefixEvent), events.WorkflowResultRejected, "ticket", ticket.ID, map[string]any{
				"submission_id": result.ID,
				"reason":        result.Reason,
			}, now))
			gateErr = errors.ErrGateUnsatisfied(ticket.ID, phase.ID, phase.DoneDefinitions)
		} else {
			bound, err := s.bindCriteriaTx(tx, ticket, phase, result, in.Artifact, now)
			if err != nil {
				return err
			}
			result.Status = db.ResultValidated
			evs = append(evs, events.New(clock.NewID(clock.PrefixEvent), events.WorkflowResultValidated, "ticket", ticket.ID, map[string]any{
				"submission_id":  result.ID,
				"artifact_kind":  kind,
				"criteria_bound": bound,
			}, now))
		}

		if err := db.InsertWorkflowResultTx(tx, result); err != nil {
			return err
		}
		return events.Append(tx, evs...)
	})
	if err != nil {
		return nil, err
	}
	events.PublishAll(s.bus, evs...)
	if gateErr != nil {
		s.logger.Warn("workflow result rejected",
			"submission_id", result.ID, "ticket_id", in.TicketID, "artifact_kind", kind)
		return result, gateErr
	}
	s.logger.Info("workflow result validated",
		"submission_id", result.ID, "ticket_id", in.TicketID, "artifact_kind", kind)
	return result, nil
}

func expectedKind(phase *db.Phase, kind string) bool {
	for _, expected := range phase.ExpectedOutputs {
		if expected == kind {
			return true
		}
	}
	return false
}

// bindCriteriaTx marks done definitions satisfied. An explicit
// "satisfies" array binds those indexes; otherwise the first criterion
// still unsatisfied is bound.
func (s *Service) bindCriteriaTx(tx *db.TxOps, ticket *db.Ticket, phase *db.Phase, result *db.WorkflowResult, artifact json.RawMessage, now time.Time) ([]int, error) {
	satisfied, err := db.SatisfiedCriteriaTx(tx, ticket.ID, phase.ID)
	if err != nil {
		return nil, err
	}

	var indexes []int
	if satisfies := gjson.GetBytes(artifact, "satisfies"); satisfies.IsArray() {
		for _, v := range satisfies.Array() {
			idx := int(v.Int())
			if idx < 0 || idx >= len(phase.DoneDefinitions) {
				return nil, errors.ErrValidation("satisfies",
					"criterion index out of range for phase "+phase.ID)
			}
			indexes = append(indexes, idx)
		}
	} else {
		for i := range phase.DoneDefinitions {
			if !satisfied[i] {
				indexes = append(indexes, i)
				break
			}
		}
	}

	for _, idx := range indexes {
		err := db.UpsertGateCheckTx(tx, &db.GateCheck{
			TicketID:       ticket.ID,
			PhaseID:        phase.ID,
			CriterionIndex: idx,
			Criterion:      phase.DoneDefinitions[idx],
			ArtifactKind:   result.ArtifactKind,
			SubmissionID:   result.ID,
			CreatedAt:      now,
		})
		if err != nil {
			return nil, err
		}
	}
	return indexes, nil
}

// List returns a ticket's workflow results, oldest first.
func (s *Service) List(ctx context.Context, ticketID string) ([]*db.WorkflowResult, error) {
	var results []*db.WorkflowResult
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		results, err = db.ListWorkflowResultsTx(tx, ticketID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
