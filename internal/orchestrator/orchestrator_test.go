package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/config"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/phase"
	"github.com/orchard-dev/orchard/internal/queue"
	"github.com/orchard-dev/orchard/internal/registry"
)

type fixture struct {
	store    *db.Store
	clk      *clock.Fake
	bus      *events.MemoryBus
	queue    *queue.Service
	registry *registry.Service
	engine   *phase.Engine
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.OpenTest(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewMemoryBus()
	t.Cleanup(bus.Close)
	cfg := config.Default()
	q := queue.New(store, bus, clk, cfg.Queue, queue.WithRand(nil))
	reg := registry.New(store, bus, clk, q)
	catalog := phase.NewCatalog(store)
	engine := phase.NewEngine(store, bus, clk, q, catalog)
	orch := New(q, reg, engine, bus, 10*time.Millisecond)

	now := clk.Now()
	err := store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		if err := db.UpsertPhaseTx(tx, &db.Phase{
			ID: "implementation", Name: "Implementation", SequenceOrder: 3, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return db.InsertTicketTx(tx, &db.Ticket{
			ID: "ticket-1", Title: "Work", PhaseID: "implementation",
			Status: db.TicketInProgress, Priority: db.PriorityMedium,
			Version: 1, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
	return &fixture{store: store, clk: clk, bus: bus, queue: q, registry: reg, engine: engine, orch: orch}
}

func (f *fixture) enqueue(t *testing.T, desc string) *db.Task {
	t.Helper()
	task, err := f.queue.Enqueue(context.Background(), queue.EnqueueInput{
		TicketID: "ticket-1", PhaseID: "implementation", Description: desc,
	})
	require.NoError(t, err)
	return task
}

func TestTickAssignsUpToCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.registry.Register(ctx, registry.RegisterInput{
		AgentType: db.AgentWorker, Capacity: 2,
	})
	require.NoError(t, err)
	f.enqueue(t, "one")
	f.enqueue(t, "two")
	f.enqueue(t, "three")

	require.NoError(t, f.orch.Tick(ctx))

	got, err := f.registry.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentLoad)
	assert.Equal(t, db.AgentBusy, got.Status)

	tasks, err := f.queue.ListByTicket(ctx, "ticket-1")
	require.NoError(t, err)
	var assigned, pending int
	for _, task := range tasks {
		switch task.Status {
		case db.TaskAssigned:
			assigned++
		case db.TaskPending:
			pending++
		}
	}
	assert.Equal(t, 2, assigned)
	assert.Equal(t, 1, pending)
}

func TestTickSpreadsAcrossAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1, err := f.registry.Register(ctx, registry.RegisterInput{AgentType: db.AgentWorker})
	require.NoError(t, err)
	a2, err := f.registry.Register(ctx, registry.RegisterInput{AgentType: db.AgentWorker})
	require.NoError(t, err)
	f.enqueue(t, "one")
	f.enqueue(t, "two")

	require.NoError(t, f.orch.Tick(ctx))

	g1, err := f.registry.Get(ctx, a1.ID)
	require.NoError(t, err)
	g2, err := f.registry.Get(ctx, a2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, g1.CurrentLoad)
	assert.Equal(t, 1, g2.CurrentLoad)
}

func TestTickWithNoAgentsIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "waiting")
	require.NoError(t, f.orch.Tick(context.Background()))

	tasks, err := f.queue.ListByTicket(context.Background(), "ticket-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, db.TaskPending, tasks[0].Status)
}

func TestRunAssignsOnEnqueueWake(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.registry.Register(ctx, registry.RegisterInput{AgentType: db.AgentWorker})
	require.NoError(t, err)
	assigned := f.bus.Subscribe("task.assigned")

	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	task := f.enqueue(t, "wake up")

	select {
	case ev := <-assigned:
		assert.Equal(t, task.ID, ev.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not assigned")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
