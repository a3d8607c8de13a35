package phase

import (
	"context"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/errors"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/queue"
)

// seedTaskType marks tasks the engine enqueues when a ticket enters a
// phase.
const seedTaskType = "seed"

// Engine evaluates ticket progression through the phase catalog.
type Engine struct {
	store   db.TxRunner
	bus     events.Bus
	clk     clock.Clock
	queue   *queue.Service
	catalog *Catalog
	logger  *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a phase engine.
func NewEngine(store db.TxRunner, bus events.Bus, clk clock.Clock, q *queue.Service, catalog *Catalog, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		bus:     bus,
		clk:     clk,
		queue:   q,
		catalog: catalog,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) newEvent(eventType, entityType, entityID string, payload map[string]any) events.Event {
	return events.New(clock.NewID(clock.PrefixEvent), eventType, entityType, entityID, payload, e.clk.Now())
}

// run wraps a transaction with staged-event publication after commit.
func (e *Engine) run(ctx context.Context, fn func(tx *db.TxOps, stage func(...events.Event)) error) error {
	var evs []events.Event
	stage := func(more ...events.Event) { evs = append(evs, more...) }
	err := e.store.RunInTx(ctx, func(tx *db.TxOps) error {
		evs = evs[:0]
		if err := fn(tx, stage); err != nil {
			return err
		}
		return events.Append(tx, evs...)
	})
	if err != nil {
		return err
	}
	events.PublishAll(e.bus, evs...)
	return nil
}

// CreateTicketInput carries the fields of a new ticket.
type CreateTicketInput struct {
	Title       string
	Description string
	Priority    db.Priority
	// PhaseID of "" places the ticket in the catalog's initial phase.
	PhaseID string
}

// CreateTicket creates a pending ticket in its initial phase.
func (e *Engine) CreateTicket(ctx context.Context, in CreateTicketInput) (*db.Ticket, error) {
	if in.Title == "" {
		return nil, errors.ErrValidation("title", "required")
	}
	if in.Priority == "" {
		in.Priority = db.PriorityMedium
	}
	if !db.IsValidPriority(in.Priority) {
		return nil, errors.ErrValidation("priority", "unknown level "+string(in.Priority))
	}
	if in.PhaseID == "" {
		initial, err := e.catalog.Initial(ctx)
		if err != nil {
			return nil, err
		}
		in.PhaseID = initial.ID
	}

	now := e.clk.Now()
	ticket := &db.Ticket{
		ID:          clock.NewID(clock.PrefixTicket),
		Title:       in.Title,
		Description: in.Description,
		PhaseID:     in.PhaseID,
		Status:      db.TicketPending,
		Priority:    in.Priority,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		if _, err := db.GetPhaseTx(tx, in.PhaseID); err != nil {
			return err
		}
		if err := db.InsertTicketTx(tx, ticket); err != nil {
			return err
		}
		stage(e.newEvent(events.TicketCreated, "ticket", ticket.ID, map[string]any{
			"title":    ticket.Title,
			"phase_id": ticket.PhaseID,
			"priority": string(ticket.Priority),
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// StartTicket moves a pending ticket to in_progress and enqueues the
// current phase's seed task.
func (e *Engine) StartTicket(ctx context.Context, ticketID string) error {
	return e.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		ticket, err := db.GetTicketTx(tx, ticketID)
		if err != nil {
			return err
		}
		if ticket.Status != db.TicketPending {
			return errors.ErrIllegalTransition("ticket", ticketID, string(ticket.Status), string(db.TicketInProgress))
		}
		ticket.Status = db.TicketInProgress
		ticket.UpdatedAt = e.clk.Now()
		if err := db.UpdateTicketTx(tx, ticket); err != nil {
			return err
		}
		return e.seedPhaseTasksTx(tx, stage, ticket)
	})
}

// seedPhaseTasksTx enqueues the entry task for the ticket's current
// phase. Terminal phases seed nothing.
func (e *Engine) seedPhaseTasksTx(tx *db.TxOps, stage func(...events.Event), ticket *db.Ticket) error {
	ph, err := db.GetPhaseTx(tx, ticket.PhaseID)
	if err != nil {
		return err
	}
	if ph.IsTerminal {
		return nil
	}
	description := ph.InitialPrompt
	if description == "" {
		description = ticket.Description
	}
	if description == "" {
		description = ticket.Title
	}
	_, err = e.queue.EnqueueTx(tx, stage, queue.EnqueueInput{
		TicketID:    ticket.ID,
		PhaseID:     ph.ID,
		TaskType:    seedTaskType,
		Description: description,
		Priority:    ticket.Priority,
	})
	return err
}

// OnTaskCompleted re-evaluates the task's ticket: when every task in
// the current phase is terminal and the phase gate is satisfied, the
// ticket advances. Wired to task.completed on the bus.
func (e *Engine) OnTaskCompleted(ctx context.Context, taskID string) error {
	return e.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		task, err := db.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		ticket, err := db.GetTicketTx(tx, task.TicketID)
		if err != nil {
			return err
		}
		if ticket.Status != db.TicketInProgress || ticket.PhaseID != task.PhaseID {
			return nil
		}
		ph, err := db.GetPhaseTx(tx, ticket.PhaseID)
		if err != nil {
			return err
		}

		tasks, err := db.ListTasksByTicketPhaseTx(tx, ticket.ID, ph.ID)
		if err != nil {
			return err
		}
		completed := 0
		for _, t := range tasks {
			if !db.IsTerminalTaskStatus(t.Status) {
				return nil
			}
			if t.Status == db.TaskCompleted {
				completed++
			}
		}
		if completed == 0 {
			return nil
		}

		ok, err := e.gateSatisfiedTx(tx, ticket, ph)
		if err != nil || !ok {
			return err
		}

		next, ambiguous := chooseSuccessor(ph, tasks)
		if ambiguous {
			ticket.Status = db.TicketBlocked
			ticket.BlockReason = "ambiguous successor phase"
			ticket.UpdatedAt = e.clk.Now()
			if err := db.UpdateTicketTx(tx, ticket); err != nil {
				return err
			}
			stage(e.newEvent(events.PhaseAmbiguous, "ticket", ticket.ID, map[string]any{
				"phase_id":   ph.ID,
				"candidates": ph.AllowedTransitions,
			}))
			return nil
		}
		if next == "" {
			return e.completeTicketTx(tx, stage, ticket)
		}
		return e.advanceTx(tx, stage, ticket, ph.ID, next, "phase gate satisfied")
	})
}

// gateSatisfiedTx checks every done definition of the phase against the
// gate_checks written by result intake.
func (e *Engine) gateSatisfiedTx(tx *db.TxOps, ticket *db.Ticket, ph *db.Phase) (bool, error) {
	if len(ph.DoneDefinitions) == 0 {
		return true, nil
	}
	satisfied, err := db.SatisfiedCriteriaTx(tx, ticket.ID, ph.ID)
	if err != nil {
		return false, err
	}
	for i := range ph.DoneDefinitions {
		if !satisfied[i] {
			return false, nil
		}
	}
	return true, nil
}

// chooseSuccessor resolves the next phase. A single allowed transition
// is taken as-is; multiple transitions require a nomination in the most
// recent completed task's result ("next_phase"). Returns ("", true)
// when the choice stays ambiguous, and ("", false) when the phase has
// no successor.
func chooseSuccessor(ph *db.Phase, tasks []*db.Task) (next string, ambiguous bool) {
	switch len(ph.AllowedTransitions) {
	case 0:
		return "", false
	case 1:
		return ph.AllowedTransitions[0], false
	}
	var latest *db.Task
	for _, t := range tasks {
		if t.Status != db.TaskCompleted || len(t.Result) == 0 {
			continue
		}
		if latest == nil || t.CompletedAt != nil && latest.CompletedAt != nil && t.CompletedAt.After(*latest.CompletedAt) {
			latest = t
		}
	}
	if latest != nil {
		nominated := gjson.GetBytes(latest.Result, "next_phase").String()
		for _, allowed := range ph.AllowedTransitions {
			if allowed == nominated {
				return nominated, false
			}
		}
	}
	return "", true
}

func (e *Engine) completeTicketTx(tx *db.TxOps, stage func(...events.Event), ticket *db.Ticket) error {
	now := e.clk.Now()
	ticket.Status = db.TicketCompleted
	ticket.CompletedAt = &now
	ticket.UpdatedAt = now
	if err := db.UpdateTicketTx(tx, ticket); err != nil {
		return err
	}
	stage(e.newEvent(events.TicketCompleted, "ticket", ticket.ID, map[string]any{
		"phase_id": ticket.PhaseID,
	}))
	return nil
}

// advanceTx moves the ticket along an allowed transition edge and seeds
// the target phase. Entering a terminal phase completes the ticket.
func (e *Engine) advanceTx(tx *db.TxOps, stage func(...events.Event), ticket *db.Ticket, from, to, reason string) error {
	toPhase, err := db.GetPhaseTx(tx, to)
	if err != nil {
		return err
	}
	ticket.PhaseID = to
	ticket.UpdatedAt = e.clk.Now()
	if err := db.UpdateTicketTx(tx, ticket); err != nil {
		return err
	}
	stage(e.newEvent(events.PhaseTransitioned, "ticket", ticket.ID, map[string]any{
		"from_phase": from,
		"to_phase":   to,
		"reason":     reason,
	}))
	if toPhase.IsTerminal {
		return e.completeTicketTx(tx, stage, ticket)
	}
	return e.seedPhaseTasksTx(tx, stage, ticket)
}

// Regress moves a ticket back to an earlier phase, cancelling the open
// tasks of the current phase and seeding the target.
func (e *Engine) Regress(ctx context.Context, ticketID, toPhaseID, reason string) error {
	return e.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		ticket, err := db.GetTicketTx(tx, ticketID)
		if err != nil {
			return err
		}
		if db.IsTerminalTicketStatus(ticket.Status) {
			return errors.ErrIllegalTransition("ticket", ticketID, string(ticket.Status), string(db.TicketInProgress))
		}
		current, err := db.GetPhaseTx(tx, ticket.PhaseID)
		if err != nil {
			return err
		}
		target, err := db.GetPhaseTx(tx, toPhaseID)
		if err != nil {
			return err
		}
		if target.SequenceOrder >= current.SequenceOrder {
			return errors.ErrIllegalTransition("ticket", ticketID, current.ID, target.ID)
		}

		tasks, err := db.ListTasksByTicketPhaseTx(tx, ticket.ID, current.ID)
		if err != nil {
			return err
		}
		now := e.clk.Now()
		for _, t := range tasks {
			if db.IsTerminalTaskStatus(t.Status) {
				continue
			}
			if err := e.queue.CancelTaskTx(tx, stage, t, "phase regression: "+reason, now); err != nil {
				return err
			}
		}

		ticket.Status = db.TicketInProgress
		ticket.BlockReason = ""
		return e.advanceTx(tx, stage, ticket, current.ID, target.ID, "regression: "+reason)
	})
}

// Block explicitly blocks a ticket.
func (e *Engine) Block(ctx context.Context, ticketID, reason string) error {
	return e.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		ticket, err := db.GetTicketTx(tx, ticketID)
		if err != nil {
			return err
		}
		if db.IsTerminalTicketStatus(ticket.Status) || ticket.Status == db.TicketBlocked {
			return errors.ErrIllegalTransition("ticket", ticketID, string(ticket.Status), string(db.TicketBlocked))
		}
		ticket.Status = db.TicketBlocked
		ticket.BlockReason = reason
		ticket.UpdatedAt = e.clk.Now()
		if err := db.UpdateTicketTx(tx, ticket); err != nil {
			return err
		}
		stage(e.newEvent(events.TicketBlocked, "ticket", ticketID, map[string]any{
			"reason": reason,
		}))
		return nil
	})
}

// Unblock returns a blocked ticket to in_progress.
func (e *Engine) Unblock(ctx context.Context, ticketID string) error {
	return e.run(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		ticket, err := db.GetTicketTx(tx, ticketID)
		if err != nil {
			return err
		}
		if ticket.Status != db.TicketBlocked {
			return errors.ErrIllegalTransition("ticket", ticketID, string(ticket.Status), string(db.TicketInProgress))
		}
		ticket.Status = db.TicketInProgress
		ticket.BlockReason = ""
		ticket.UpdatedAt = e.clk.Now()
		if err := db.UpdateTicketTx(tx, ticket); err != nil {
			return err
		}
		stage(e.newEvent(events.TicketUnblocked, "ticket", ticketID, nil))
		return nil
	})
}

// GetTicket returns a ticket by id.
func (e *Engine) GetTicket(ctx context.Context, ticketID string) (*db.Ticket, error) {
	var ticket *db.Ticket
	err := e.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		ticket, err = db.GetTicketTx(tx, ticketID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ListTickets returns tickets, optionally filtered by status.
func (e *Engine) ListTickets(ctx context.Context, status db.TicketStatus) ([]*db.Ticket, error) {
	var tickets []*db.Ticket
	err := e.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		tickets, err = db.ListTicketsTx(tx, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}
