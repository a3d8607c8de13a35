package guardian

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/config"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/errors"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/queue"
)

type fixture struct {
	store    *db.Store
	clk      *clock.Fake
	bus      *events.MemoryBus
	queue    *queue.Service
	guardian *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.OpenTest(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewMemoryBus()
	t.Cleanup(bus.Close)
	cfg := config.Default()
	q := queue.New(store, bus, clk, cfg.Queue, queue.WithRand(nil))
	g := New(store, bus, clk, q, cfg.GuardianMinAuthority)

	now := clk.Now()
	err := store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		if err := db.UpsertPhaseTx(tx, &db.Phase{
			ID: "implementation", Name: "Implementation", SequenceOrder: 3, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return db.InsertTicketTx(tx, &db.Ticket{
			ID: "ticket-1", Title: "Ship importer", PhaseID: "implementation",
			Status: db.TicketInProgress, Priority: db.PriorityMedium,
			Version: 1, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
	return &fixture{store: store, clk: clk, bus: bus, queue: q, guardian: g}
}

func (f *fixture) seedAgent(t *testing.T, id string, capacity, load int) {
	t.Helper()
	now := f.clk.Now()
	status := db.AgentIdle
	if load > 0 {
		status = db.AgentBusy
	}
	err := f.store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		return db.InsertAgentTx(tx, &db.Agent{
			ID: id, AgentType: db.AgentWorker, Status: status,
			Capacity: capacity, CurrentLoad: load, AuthorityLevel: 1,
			LastHeartbeat: now, Version: 1, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
}

// assignedTask enqueues a task and hands it to the given idle agent.
func (f *fixture) assignedTask(t *testing.T, agentID string) *db.Task {
	t.Helper()
	task, err := f.queue.Enqueue(context.Background(), queue.EnqueueInput{
		TicketID: "ticket-1", PhaseID: "implementation",
		Description: "work", Priority: db.PriorityMedium,
	})
	require.NoError(t, err)
	got, err := f.queue.NextAssignment(context.Background(), agentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, task.ID, got.ID)
	return got
}

func (f *fixture) getTask(t *testing.T, id string) *db.Task {
	t.Helper()
	task, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (f *fixture) getAgent(t *testing.T, id string) *db.Agent {
	t.Helper()
	var agent *db.Agent
	err := f.store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		var err error
		agent, err = db.GetAgentTx(tx, id)
		return err
	})
	require.NoError(t, err)
	return agent
}

func TestCancelTaskRequiresGuardianAuthority(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 1, 0)
	task := f.assignedTask(t, "agent-1")

	_, err := f.guardian.CancelTask(context.Background(), task.ID, "x", "u", 3)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodePermissionDenied))

	// The rejection precedes the transaction: no audit row, no state change.
	actions, err := f.guardian.List(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Equal(t, db.TaskAssigned, f.getTask(t, task.ID).Status)
	assert.Equal(t, 1, f.getAgent(t, "agent-1").CurrentLoad)
}

func TestCancelTaskWithSufficientAuthority(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 1, 0)
	task := f.assignedTask(t, "agent-1")
	completed := f.bus.Subscribe("guardian.intervention.completed")

	action, err := f.guardian.CancelTask(context.Background(), task.ID, "runaway", "operator", 4)
	require.NoError(t, err)

	got := f.getTask(t, task.ID)
	assert.Equal(t, db.TaskCancelled, got.Status)
	assert.Equal(t, "runaway", got.ErrorMessage)

	agent := f.getAgent(t, "agent-1")
	assert.Equal(t, 0, agent.CurrentLoad)
	assert.Equal(t, db.AgentIdle, agent.Status)

	assert.Equal(t, db.ActionCancelTask, action.ActionType)
	assert.Equal(t, task.ID, action.TargetEntityID)
	assert.Equal(t, 4, action.AuthorityLevel)
	assert.Equal(t, "assigned", gjson.GetBytes(action.AuditLog, "before.status").String())
	assert.Equal(t, "cancelled", gjson.GetBytes(action.AuditLog, "after.status").String())

	select {
	case ev := <-completed:
		assert.Equal(t, action.ID, ev.EntityID)
		assert.Equal(t, "cancel_task", ev.Payload["action_type"])
	default:
		t.Error("expected guardian.intervention.completed event")
	}
}

func TestReallocateCapacity(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "donor", 3, 1)
	f.seedAgent(t, "receiver", 1, 0)

	action, err := f.guardian.ReallocateCapacity(context.Background(), "donor", "receiver", 2, "rebalance", "operator", 5)
	require.NoError(t, err)

	assert.Equal(t, 1, f.getAgent(t, "donor").Capacity)
	assert.Equal(t, 3, f.getAgent(t, "receiver").Capacity)
	assert.Equal(t, int64(3), gjson.GetBytes(action.AuditLog, "before.from_capacity").Int())
	assert.Equal(t, int64(1), gjson.GetBytes(action.AuditLog, "after.from_capacity").Int())
}

func TestReallocateCapacityRejectsOverdraw(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "donor", 2, 2)
	f.seedAgent(t, "receiver", 1, 0)

	// Donor is fully loaded; taking any capacity would break load <= capacity.
	_, err := f.guardian.ReallocateCapacity(context.Background(), "donor", "receiver", 1, "rebalance", "operator", 4)
	assert.True(t, errors.HasCode(err, errors.CodeValidation))
	assert.Equal(t, 2, f.getAgent(t, "donor").Capacity)
	assert.Equal(t, 1, f.getAgent(t, "receiver").Capacity)
}

func TestOverridePriorityAffectsFutureOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low, err := f.queue.Enqueue(ctx, queue.EnqueueInput{
		TicketID: "ticket-1", PhaseID: "implementation",
		Description: "was low", Priority: db.PriorityLow,
	})
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, queue.EnqueueInput{
		TicketID: "ticket-1", PhaseID: "implementation",
		Description: "medium", Priority: db.PriorityMedium,
	})
	require.NoError(t, err)

	action, err := f.guardian.OverridePriority(ctx, low.ID, db.PriorityCritical, "unblocks release", "operator", 4)
	require.NoError(t, err)
	assert.Equal(t, "low", gjson.GetBytes(action.AuditLog, "before.priority").String())
	assert.Equal(t, db.PriorityCritical, f.getTask(t, low.ID).Priority)

	// The overridden task now wins the next assignment.
	f.seedAgent(t, "agent-1", 1, 0)
	got, err := f.queue.NextAssignment(ctx, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, low.ID, got.ID)
}

func TestRevertIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 1, 0)
	task := f.assignedTask(t, "agent-1")

	action, err := f.guardian.CancelTask(context.Background(), task.ID, "mistake", "operator", 4)
	require.NoError(t, err)

	reverted := f.bus.Subscribe("guardian.intervention.reverted")
	require.NoError(t, f.guardian.Revert(context.Background(), action.ID, "undoing", "operator", 4))

	got, err := f.guardian.Get(context.Background(), action.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RevertedAt)
	first := *got.RevertedAt

	select {
	case ev := <-reverted:
		assert.Equal(t, action.ID, ev.EntityID)
	default:
		t.Error("expected guardian.intervention.reverted event")
	}

	// Reverting does not restore state; the task stays cancelled.
	assert.Equal(t, db.TaskCancelled, f.getTask(t, task.ID).Status)

	// Second revert is a no-op: timestamp unchanged, no second event.
	f.clk.Advance(time.Minute)
	require.NoError(t, f.guardian.Revert(context.Background(), action.ID, "again", "operator", 4))
	got, err = f.guardian.Get(context.Background(), action.ID)
	require.NoError(t, err)
	assert.True(t, got.RevertedAt.Equal(first))
	select {
	case ev := <-reverted:
		t.Errorf("unexpected second revert event %s", ev.ID)
	default:
	}
}

func TestRevertRequiresAuthority(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, "agent-1", 1, 0)
	task := f.assignedTask(t, "agent-1")
	action, err := f.guardian.CancelTask(context.Background(), task.ID, "x", "operator", 4)
	require.NoError(t, err)

	err = f.guardian.Revert(context.Background(), action.ID, "sneaky", "intruder", 2)
	assert.True(t, errors.HasCode(err, errors.CodePermissionDenied))
}
