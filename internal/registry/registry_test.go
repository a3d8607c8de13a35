package registry

import (
	"context"
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
	store    *db.Store
	clk      *clock.Fake
	bus      *events.MemoryBus
	queue    *queue.Service
	registry *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.OpenTest(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewMemoryBus()
	t.Cleanup(bus.Close)
	q := queue.New(store, bus, clk, config.Default().Queue, queue.WithRand(nil))
	r := New(store, bus, clk, q)

	now := clk.Now()
	err := store.RunInTx(context.Background(), func(tx *db.TxOps) error {
		if err := db.UpsertPhaseTx(tx, &db.Phase{
			ID: "implementation", Name: "Implementation", SequenceOrder: 3, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return db.InsertTicketTx(tx, &db.Ticket{
			ID: "ticket-1", Title: "Ship it", PhaseID: "implementation",
			Status: db.TicketInProgress, Priority: db.PriorityMedium,
			Version: 1, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
	return &fixture{store: store, clk: clk, bus: bus, queue: q, registry: r}
}

func (f *fixture) register(t *testing.T, phaseID string) *db.Agent {
	t.Helper()
	var pid *string
	if phaseID != "" {
		pid = &phaseID
	}
	agent, err := f.registry.Register(context.Background(), RegisterInput{
		AgentType: db.AgentWorker,
		PhaseID:   pid,
		Capacity:  1,
	})
	require.NoError(t, err)
	return agent
}

func TestRegisterDefaults(t *testing.T) {
	f := newFixture(t)
	agent, err := f.registry.Register(context.Background(), RegisterInput{
		AgentType: db.AgentGuardian,
	})
	require.NoError(t, err)

	assert.Equal(t, db.AgentIdle, agent.Status)
	assert.Equal(t, 0, agent.CurrentLoad)
	assert.Equal(t, 1, agent.Capacity)
	assert.Equal(t, 4, agent.AuthorityLevel, "guardian default authority")
	assert.NotEmpty(t, agent.Hostname)
	assert.NotZero(t, agent.PID)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Register(ctx, RegisterInput{AgentType: "wizard"})
	assert.True(t, errors.HasCode(err, errors.CodeValidation))

	_, err = f.registry.Register(ctx, RegisterInput{AgentType: db.AgentWorker, Authority: 9})
	assert.True(t, errors.HasCode(err, errors.CodeValidation))

	missing := "phase-missing"
	_, err = f.registry.Register(ctx, RegisterInput{AgentType: db.AgentWorker, PhaseID: &missing})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestHeartbeatUpdatesLiveness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.register(t, "implementation")

	f.clk.Advance(30 * time.Second)
	got, err := f.registry.Heartbeat(ctx, agent.ID, "")
	require.NoError(t, err)
	assert.True(t, got.LastHeartbeat.Equal(f.clk.Now()))
	assert.Equal(t, db.AgentIdle, got.Status)

	// Idempotent at the same instant.
	again, err := f.registry.Heartbeat(ctx, agent.ID, "")
	require.NoError(t, err)
	assert.True(t, again.LastHeartbeat.Equal(got.LastHeartbeat))
	assert.Equal(t, got.Status, again.Status)

	_, err = f.registry.Heartbeat(ctx, "agent-missing", "")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestHeartbeatRejectsUnreportableStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.register(t, "implementation")

	for _, hint := range []db.AgentStatus{
		db.AgentDegraded, db.AgentFailed, db.AgentTerminated, "bogus",
	} {
		_, err := f.registry.Heartbeat(ctx, agent.ID, hint)
		assert.True(t, errors.HasCode(err, errors.CodeValidation), "hint %q", hint)
	}

	// The rejected hints left the row untouched.
	got, err := f.registry.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, db.AgentIdle, got.Status)
	assert.True(t, got.LastHeartbeat.Equal(agent.LastHeartbeat))

	got, err = f.registry.Heartbeat(ctx, agent.ID, db.AgentBusy)
	require.NoError(t, err)
	assert.Equal(t, db.AgentBusy, got.Status)
}

func TestHeartbeatRecoversDegradedAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.register(t, "implementation")

	f.clk.Advance(120 * time.Second)
	stale, err := f.registry.MarkStale(ctx, f.clk.Now(), 90*time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{agent.ID}, stale)

	got, err := f.registry.Heartbeat(ctx, agent.ID, "")
	require.NoError(t, err)
	assert.Equal(t, db.AgentIdle, got.Status)
}

func TestFindEligibleFiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Unscoped agent with the capability; registered first so its
	// heartbeat is oldest.
	a1, err := f.registry.Register(ctx, RegisterInput{
		AgentType: db.AgentWorker, Capabilities: []string{"go", "sql"},
	})
	require.NoError(t, err)

	f.clk.Advance(time.Second)
	a2, err := f.registry.Register(ctx, RegisterInput{
		AgentType: db.AgentWorker, Capabilities: []string{"go"},
	})
	require.NoError(t, err)

	f.clk.Advance(time.Second)
	other := "testing"
	_, err = f.registry.Register(ctx, RegisterInput{
		AgentType: db.AgentWorker, PhaseID: &other, Capabilities: []string{"go"},
	})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound), "phase does not exist")

	eligible, err := f.registry.FindEligible(ctx, "implementation", []string{"go"})
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	// Equal load: more recent heartbeat wins.
	assert.Equal(t, a2.ID, eligible[0].ID)
	assert.Equal(t, a1.ID, eligible[1].ID)

	eligible, err = f.registry.FindEligible(ctx, "implementation", []string{"go", "sql"})
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, a1.ID, eligible[0].ID)
}

func TestMarkStaleRequeuesHeldTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent := f.register(t, "implementation")
	task, err := f.queue.Enqueue(ctx, queue.EnqueueInput{
		TicketID: "ticket-1", PhaseID: "implementation", Description: "long job",
	})
	require.NoError(t, err)

	got, err := f.queue.NextAssignment(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, got.ID)
	require.NoError(t, f.queue.Start(ctx, task.ID, agent.ID))

	staleCh := f.bus.Subscribe("agent.stale")
	failedCh := f.bus.Subscribe("task.failed")

	// 91 seconds of silence.
	f.clk.Advance(91 * time.Second)
	stale, err := f.registry.MarkStale(ctx, f.clk.Now(), 90*time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{agent.ID}, stale)

	a, err := f.registry.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, db.AgentDegraded, a.Status)
	assert.Equal(t, 0, a.CurrentLoad)

	tk, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskPending, tk.Status)
	assert.Equal(t, 1, tk.RetryCount, "retry budget consumed")
	assert.Nil(t, tk.AssignedAgentID)

	select {
	case ev := <-staleCh:
		assert.Equal(t, agent.ID, ev.EntityID)
	default:
		t.Error("expected agent.stale event")
	}
	select {
	case ev := <-failedCh:
		assert.Equal(t, task.ID, ev.EntityID)
		assert.Equal(t, true, ev.Payload["retryable"])
	default:
		t.Error("expected task.failed event")
	}
}

func TestMarkStaleBoundaryIsStrict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.register(t, "implementation")

	// Heartbeat exactly at now - threshold is not stale.
	f.clk.Advance(90 * time.Second)
	stale, err := f.registry.MarkStale(ctx, f.clk.Now(), 90*time.Second)
	require.NoError(t, err)
	assert.Empty(t, stale)

	got, err := f.registry.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, db.AgentIdle, got.Status)
}

func TestTerminateRequeuesAndStops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	agent := f.register(t, "implementation")
	task, err := f.queue.Enqueue(ctx, queue.EnqueueInput{
		TicketID: "ticket-1", PhaseID: "implementation", Description: "doomed",
	})
	require.NoError(t, err)
	_, err = f.queue.NextAssignment(ctx, agent.ID)
	require.NoError(t, err)

	require.NoError(t, f.registry.Terminate(ctx, agent.ID))

	a, err := f.registry.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, db.AgentTerminated, a.Status)

	tk, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskPending, tk.Status)

	// Terminated agents never appear in the available pool.
	available, err := f.registry.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Empty(t, available)
}
