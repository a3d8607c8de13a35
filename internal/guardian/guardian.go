// Package guardian implements authority-gated emergency interventions.
// Every intervention records an immutable GuardianAction row with a
// before/after snapshot in the same transaction as the mutation.
package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/errors"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/queue"
)

// Service is the guardian component.
type Service struct {
	store        db.TxRunner
	bus          events.Bus
	clk          clock.Clock
	queue        *queue.Service
	minAuthority int
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates a guardian service. minAuthority is the authority floor
// for interventions (GuardianMinAuthority in config, default 4).
func New(store db.TxRunner, bus events.Bus, clk clock.Clock, q *queue.Service, minAuthority int, opts ...Option) *Service {
	s := &Service{store: store, bus: bus, clk: clk, queue: q, minAuthority: minAuthority, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkAuthority runs before any transaction: an insufficient caller
// leaves no GuardianAction row behind.
func (s *Service) checkAuthority(authority int) error {
	if authority < s.minAuthority {
		return errors.ErrPermissionDenied(s.minAuthority, authority)
	}
	return nil
}

type snapshot struct {
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
}

func marshalAudit(before, after map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(snapshot{Before: before, After: after})
	if err != nil {
		return nil, fmt.Errorf("marshal guardian audit: %w", err)
	}
	return raw, nil
}

func (s *Service) stageIntervention(stage func(...events.Event), action *db.GuardianAction) {
	payload := map[string]any{
		"action_type":      string(action.ActionType),
		"target_entity_id": action.TargetEntityID,
		"initiated_by":     action.InitiatedBy,
		"reason":           action.Reason,
	}
	now := action.ExecutedAt
	stage(
		events.New(clock.NewID(clock.PrefixEvent), events.GuardianInterventionStarted, "guardian_action", action.ID, payload, now),
		events.New(clock.NewID(clock.PrefixEvent), events.GuardianInterventionCompleted, "guardian_action", action.ID, payload, now),
	)
}

// run wraps a guardian mutation in a single transaction with staged
// events. Guardian paths do not retry on version conflicts; a stale
// read surfaces to the caller.
func (s *Service) run(ctx context.Context, fn func(tx *db.TxOps, stage func(...events.Event)) error) error {
	var evs []events.Event
	stage := func(more ...events.Event) { evs = append(evs, more...) }
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		evs = evs[:0]
		if err := fn(tx, stage); err != nil {
			return err
		}
		return events.Append(tx, evs...)
	})
	if err != nil {
		return err
	}
	events.PublishAll(s.bus, evs...)
	return nil
}

// CancelTask forces a task to cancelled, releasing its holding agent.
func (s *Service) CancelTask(ctx context.Context, taskID, reason, initiatedBy string, authority int) (*db.GuardianAction, error) {
	if err := s.checkAuthority(authority); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, errors.ErrValidation("reason", "required")
	}

	var action *db.GuardianAction
	err := s.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		task, err := db.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		before := map[string]any{"status": string(task.Status)}
		if task.AssignedAgentID != nil {
			before["assigned_agent_id"] = *task.AssignedAgentID
		}

		now := s.clk.Now()
		if err := s.queue.CancelTaskTx(tx, stage, task, reason, now); err != nil {
			return err
		}

		audit, err := marshalAudit(before, map[string]any{"status": string(db.TaskCancelled)})
		if err != nil {
			return err
		}
		action = &db.GuardianAction{
			ID:             clock.NewID(clock.PrefixAction),
			ActionType:     db.ActionCancelTask,
			TargetEntityID: task.ID,
			AuthorityLevel: authority,
			Reason:         reason,
			InitiatedBy:    initiatedBy,
			AuditLog:       audit,
			ExecutedAt:     now,
		}
		if err := db.InsertGuardianActionTx(tx, action); err != nil {
			return err
		}
		s.stageIntervention(stage, action)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("guardian cancelled task",
		"action_id", action.ID, "task_id", taskID, "initiated_by", initiatedBy)
	return action, nil
}

// ReallocateCapacity moves amount capacity slots from one agent to
// another. The donor's remaining capacity must still cover its current
// load.
func (s *Service) ReallocateCapacity(ctx context.Context, fromAgentID, toAgentID string, amount int, reason, initiatedBy string, authority int) (*db.GuardianAction, error) {
	if err := s.checkAuthority(authority); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, errors.ErrValidation("amount", "must be positive")
	}
	if fromAgentID == toAgentID {
		return nil, errors.ErrValidation("to_agent", "must differ from from_agent")
	}
	if reason == "" {
		return nil, errors.ErrValidation("reason", "required")
	}

	var action *db.GuardianAction
	err := s.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		from, err := db.GetAgentTx(tx, fromAgentID)
		if err != nil {
			return err
		}
		to, err := db.GetAgentTx(tx, toAgentID)
		if err != nil {
			return err
		}
		if from.Capacity-amount < from.CurrentLoad {
			return errors.ErrValidation("amount",
				fmt.Sprintf("leaves %s with capacity %d below current load %d",
					from.ID, from.Capacity-amount, from.CurrentLoad))
		}

		before := map[string]any{
			"from_capacity": from.Capacity,
			"to_capacity":   to.Capacity,
		}
		now := s.clk.Now()
		from.Capacity -= amount
		from.UpdatedAt = now
		to.Capacity += amount
		to.UpdatedAt = now
		if err := db.UpdateAgentTx(tx, from); err != nil {
			return err
		}
		if err := db.UpdateAgentTx(tx, to); err != nil {
			return err
		}

		audit, err := marshalAudit(before, map[string]any{
			"from_capacity": from.Capacity,
			"to_capacity":   to.Capacity,
		})
		if err != nil {
			return err
		}
		action = &db.GuardianAction{
			ID:             clock.NewID(clock.PrefixAction),
			ActionType:     db.ActionReallocateCapacity,
			TargetEntityID: fromAgentID,
			AuthorityLevel: authority,
			Reason:         reason,
			InitiatedBy:    initiatedBy,
			AuditLog:       audit,
			ExecutedAt:     now,
		}
		if err := db.InsertGuardianActionTx(tx, action); err != nil {
			return err
		}
		s.stageIntervention(stage, action)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("guardian reallocated capacity",
		"action_id", action.ID, "from_agent", fromAgentID, "to_agent", toAgentID,
		"amount", amount, "initiated_by", initiatedBy)
	return action, nil
}

// OverridePriority rewrites a task's priority. Only future queue
// ordering is affected; already-assigned work is not preempted.
func (s *Service) OverridePriority(ctx context.Context, taskID string, newPriority db.Priority, reason, initiatedBy string, authority int) (*db.GuardianAction, error) {
	if err := s.checkAuthority(authority); err != nil {
		return nil, err
	}
	if !db.IsValidPriority(newPriority) {
		return nil, errors.ErrValidation("new_priority", "unknown level "+string(newPriority))
	}
	if reason == "" {
		return nil, errors.ErrValidation("reason", "required")
	}

	var action *db.GuardianAction
	err := s.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		task, err := db.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		before := map[string]any{"priority": string(task.Priority)}

		now := s.clk.Now()
		task.Priority = newPriority
		task.UpdatedAt = now
		if err := db.UpdateTaskTx(tx, task); err != nil {
			return err
		}

		audit, err := marshalAudit(before, map[string]any{"priority": string(newPriority)})
		if err != nil {
			return err
		}
		action = &db.GuardianAction{
			ID:             clock.NewID(clock.PrefixAction),
			ActionType:     db.ActionOverridePriority,
			TargetEntityID: task.ID,
			AuthorityLevel: authority,
			Reason:         reason,
			InitiatedBy:    initiatedBy,
			AuditLog:       audit,
			ExecutedAt:     now,
		}
		if err := db.InsertGuardianActionTx(tx, action); err != nil {
			return err
		}
		s.stageIntervention(stage, action)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("guardian overrode priority",
		"action_id", action.ID, "task_id", taskID, "new_priority", string(newPriority),
		"initiated_by", initiatedBy)
	return action, nil
}

// Revert marks a guardian action as reverted. It is an auditing
// primitive only: side effects are not undone, restoring state is the
// caller's responsibility via further operations. A second revert of
// the same action is a no-op.
func (s *Service) Revert(ctx context.Context, actionID, reason, initiatedBy string, authority int) error {
	if err := s.checkAuthority(authority); err != nil {
		return err
	}

	var reverted bool
	err := s.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		action, err := db.GetGuardianActionTx(tx, actionID)
		if err != nil {
			return err
		}
		now := s.clk.Now()
		reverted, err = db.MarkGuardianActionRevertedTx(tx, actionID, now)
		if err != nil {
			return err
		}
		if !reverted {
			return nil
		}
		stage(events.New(clock.NewID(clock.PrefixEvent), events.GuardianInterventionReverted, "guardian_action", action.ID, map[string]any{
			"action_type":  string(action.ActionType),
			"reason":       reason,
			"initiated_by": initiatedBy,
		}, now))
		return nil
	})
	if err != nil {
		return err
	}
	if reverted {
		s.logger.Warn("guardian action reverted",
			"action_id", actionID, "initiated_by", initiatedBy)
	}
	return nil
}

// Get returns a guardian action by id.
func (s *Service) Get(ctx context.Context, actionID string) (*db.GuardianAction, error) {
	var action *db.GuardianAction
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		action, err = db.GetGuardianActionTx(tx, actionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// List returns guardian actions, optionally filtered by target entity.
func (s *Service) List(ctx context.Context, targetEntityID string) ([]*db.GuardianAction, error) {
	var actions []*db.GuardianAction
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		actions, err = db.ListGuardianActionsTx(tx, targetEntityID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}
