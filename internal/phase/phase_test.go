package phase

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/config"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/errors"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/queue"
)

type fixture struct {
	store   *db.Store
	clk     *clock.Fake
	bus     *events.MemoryBus
	queue   *queue.Service
	catalog *Catalog
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.OpenTest(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewMemoryBus()
	t.Cleanup(bus.Close)
	q := queue.New(store, bus, clk, config.Default().Queue, queue.WithRand(nil))
	catalog := NewCatalog(store)
	engine := NewEngine(store, bus, clk, q, catalog)

	err := store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		seeded, err := SeedTx(tx, clk.Now())
		if err != nil {
			return err
		}
		require.True(t, seeded)
		return nil
	})
	require.NoError(t, err)
	return &fixture{store: store, clk: clk, bus: bus, queue: q, catalog: catalog, engine: engine}
}

func (f *fixture) createStarted(t *testing.T, phaseID string) *db.Ticket {
	t.Helper()
	ticket, err := f.engine.CreateTicket(context.Background(), CreateTicketInput{
		Title:   "Add CSV export",
		PhaseID: phaseID,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.StartTicket(context.Background(), ticket.ID))
	return ticket
}

func (f *fixture) phaseTasks(t *testing.T, ticketID, phaseID string) []*db.Task {
	t.Helper()
	var tasks []*db.Task
	err := f.store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		var err error
		tasks, err = db.ListTasksByTicketPhaseTx(tx, ticketID, phaseID)
		return err
	})
	require.NoError(t, err)
	return tasks
}

func (f *fixture) completeTask(t *testing.T, task *db.Task, result string) {
	t.Helper()
	now := f.clk.Now()
	err := f.store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		fresh, err := db.GetTaskTx(tx, task.ID)
		if err != nil {
			return err
		}
		fresh.Status = db.TaskCompleted
		if result != "" {
			fresh.Result = json.RawMessage(result)
		}
		fresh.CompletedAt = &now
		fresh.UpdatedAt = now
		return db.UpdateTaskTx(tx, fresh)
	})
	require.NoError(t, err)
}

func (f *fixture) satisfyGate(t *testing.T, ticketID, phaseID string, criteria int) {
	t.Helper()
	err := f.store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		for i := 0; i < criteria; i++ {
			if err := db.UpsertGateCheckTx(tx, &db.GateCheck{
				TicketID:       ticketID,
				PhaseID:        phaseID,
				CriterionIndex: i,
				ArtifactKind:   "requirements_doc",
				SubmissionID:   "sub-test",
				CreatedAt:      f.clk.Now(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestSeedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	err := f.store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		seeded, err := SeedTx(tx, f.clk.Now())
		require.NoError(t, err)
		assert.False(t, seeded, "second seed must be a no-op")
		n, err := db.CountPhasesTx(tx)
		require.NoError(t, err)
		assert.Equal(t, len(Builtin()), n)
		return nil
	})
	require.NoError(t, err)
}

func TestCatalogCacheInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	initial, err := f.catalog.Initial(ctx)
	require.NoError(t, err)
	assert.Equal(t, "requirements", initial.ID)

	phases, err := f.catalog.List(ctx)
	require.NoError(t, err)
	require.Len(t, phases, 5)

	// Replace the catalog; the cache must pick up the change.
	custom := []*db.Phase{
		{ID: "triage", Name: "Triage", SequenceOrder: 1, AllowedTransitions: []string{"resolved"}},
		{ID: "resolved", Name: "Resolved", SequenceOrder: 2, IsTerminal: true},
	}
	require.NoError(t, f.catalog.UpsertAll(ctx, custom, f.clk.Now()))

	got, err := f.catalog.Get(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, "Triage", got.Name)

	_, err = f.catalog.Get(ctx, "no-such-phase")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
phases:
  - id: triage
    name: Triage
    sequence_order: 1
    allowed_transitions: [resolved]
    done_definitions: ["Root cause identified"]
    expected_outputs: [analysis]
  - id: resolved
    name: Resolved
    sequence_order: 2
    is_terminal: true
`), 0o644))

	phases, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, []string{"resolved"}, phases[0].AllowedTransitions)

	// Unknown transition target is rejected.
	require.NoError(t, os.WriteFile(path, []byte(`
phases:
  - id: triage
    name: Triage
    sequence_order: 1
    allowed_transitions: [nowhere]
  - id: resolved
    sequence_order: 2
    is_terminal: true
`), 0o644))
	_, err = LoadFile(path)
	assert.True(t, errors.HasCode(err, errors.CodeValidation))
}

func TestCreateTicketDefaultsToInitialPhase(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.engine.CreateTicket(context.Background(), CreateTicketInput{Title: "New work"})
	require.NoError(t, err)
	assert.Equal(t, "requirements", ticket.PhaseID)
	assert.Equal(t, db.TicketPending, ticket.Status)
	assert.Equal(t, db.PriorityMedium, ticket.Priority)

	_, err = f.engine.CreateTicket(context.Background(), CreateTicketInput{})
	assert.True(t, errors.HasCode(err, errors.CodeValidation))
}

func TestStartTicketSeedsPhaseTask(t *testing.T) {
	f := newFixture(t)
	ticket := f.createStarted(t, "requirements")

	got, err := f.engine.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TicketInProgress, got.Status)

	tasks := f.phaseTasks(t, ticket.ID, "requirements")
	require.Len(t, tasks, 1)
	assert.Equal(t, seedTaskType, tasks[0].TaskType)
	assert.Equal(t, db.TaskPending, tasks[0].Status)

	// Starting twice is illegal.
	err = f.engine.StartTicket(context.Background(), ticket.ID)
	assert.True(t, errors.HasCode(err, errors.CodeIllegalTransition))
}

func TestOnTaskCompletedAdvancesThroughGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createStarted(t, "requirements")
	seed := f.phaseTasks(t, ticket.ID, "requirements")[0]

	f.completeTask(t, seed, "")

	// Gate has two done definitions; none satisfied yet.
	require.NoError(t, f.engine.OnTaskCompleted(ctx, seed.ID))
	got, err := f.engine.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "requirements", got.PhaseID, "gate unmet, no transition")

	f.satisfyGate(t, ticket.ID, "requirements", 2)
	transitions := f.bus.Subscribe("phase.transitioned")
	require.NoError(t, f.engine.OnTaskCompleted(ctx, seed.ID))

	got, err = f.engine.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "design", got.PhaseID)
	assert.Equal(t, db.TicketInProgress, got.Status)

	// The design phase was seeded.
	assert.Len(t, f.phaseTasks(t, ticket.ID, "design"), 1)

	select {
	case ev := <-transitions:
		assert.Equal(t, "requirements", ev.Payload["from_phase"])
		assert.Equal(t, "design", ev.Payload["to_phase"])
	default:
		t.Error("expected phase.transitioned event")
	}
}

func TestOnTaskCompletedWaitsForOpenTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createStarted(t, "implementation")
	seed := f.phaseTasks(t, ticket.ID, "implementation")[0]

	// A second open task in the phase holds the gate.
	_, err := f.queue.Enqueue(ctx, queue.EnqueueInput{
		TicketID: ticket.ID, PhaseID: "implementation", Description: "follow-up",
	})
	require.NoError(t, err)

	f.completeTask(t, seed, "")
	f.satisfyGate(t, ticket.ID, "implementation", 1)
	require.NoError(t, f.engine.OnTaskCompleted(ctx, seed.ID))

	got, err := f.engine.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "implementation", got.PhaseID)
}

func TestMultiSuccessorNomination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createStarted(t, "testing")
	seed := f.phaseTasks(t, ticket.ID, "testing")[0]

	f.completeTask(t, seed, `{"next_phase":"done","ok":true}`)
	f.satisfyGate(t, ticket.ID, "testing", 1)
	require.NoError(t, f.engine.OnTaskCompleted(ctx, seed.ID))

	got, err := f.engine.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", got.PhaseID)
	assert.Equal(t, db.TicketCompleted, got.Status, "terminal phase completes the ticket")
	assert.NotNil(t, got.CompletedAt)
}

func TestMultiSuccessorAmbiguousBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createStarted(t, "testing")
	seed := f.phaseTasks(t, ticket.ID, "testing")[0]

	ambiguous := f.bus.Subscribe("phase.ambiguous")
	f.completeTask(t, seed, `{"ok":true}`)
	f.satisfyGate(t, ticket.ID, "testing", 1)
	require.NoError(t, f.engine.OnTaskCompleted(ctx, seed.ID))

	got, err := f.engine.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TicketBlocked, got.Status)
	assert.Equal(t, "testing", got.PhaseID)

	select {
	case ev := <-ambiguous:
		assert.Equal(t, ticket.ID, ev.EntityID)
	default:
		t.Error("expected phase.ambiguous event")
	}
}

func TestRegress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createStarted(t, "testing")
	seed := f.phaseTasks(t, ticket.ID, "testing")[0]

	// Forward regression is rejected.
	err := f.engine.Regress(ctx, ticket.ID, "done", "nope")
	assert.True(t, errors.HasCode(err, errors.CodeIllegalTransition))

	require.NoError(t, f.engine.Regress(ctx, ticket.ID, "implementation", "tests exposed a design flaw"))

	got, err := f.engine.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "implementation", got.PhaseID)

	// The open testing task was cancelled, implementation reseeded.
	var cancelled *db.Task
	err = f.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		cancelled, err = db.GetTaskTx(tx, seed.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, db.TaskCancelled, cancelled.Status)
	assert.Len(t, f.phaseTasks(t, ticket.ID, "implementation"), 1)
}

func TestBlockUnblock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createStarted(t, "implementation")

	require.NoError(t, f.engine.Block(ctx, ticket.ID, "waiting on upstream fix"))
	got, err := f.engine.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TicketBlocked, got.Status)
	assert.Equal(t, "waiting on upstream fix", got.BlockReason)

	// Double block is illegal.
	err = f.engine.Block(ctx, ticket.ID, "again")
	assert.True(t, errors.HasCode(err, errors.CodeIllegalTransition))

	require.NoError(t, f.engine.Unblock(ctx, ticket.ID))
	got, err = f.engine.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TicketInProgress, got.Status)
	assert.Empty(t, got.BlockReason)
}
