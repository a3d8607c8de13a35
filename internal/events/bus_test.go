package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"task.completed", "task.completed", true},
		{"task.completed", "task.failed", false},
		{"task.*", "task.completed", true},
		{"task.*", "task.review.approved", false},
		{"task.**", "task.review.approved", true},
		{"guardian.**", "guardian.intervention.started", true},
		{"guardian.**", "workflow.result.submitted", false},
		{"**", "anything.at.all", true},
		{"*.stale", "agent.stale", true},
		{"*.stale", "agent.heartbeat", false},
	}
	for _, tt := range tests {
		got := MatchTopic(tt.pattern, tt.topic)
		assert.Equal(t, tt.want, got, "pattern %q topic %q", tt.pattern, tt.topic)
	}
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed before expected event")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryBusDelivery(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	tasks := bus.Subscribe("task.*")
	all := bus.Subscribe(PatternAll)

	now := time.Now().UTC()
	bus.Publish(New("evt-1", TaskCompleted, "task", "task-1", nil, now))
	bus.Publish(New("evt-2", AgentHeartbeat, "agent", "agent-1", nil, now))
	bus.Publish(New("evt-3", TaskFailed, "task", "task-2", nil, now))

	// Subscribers see only matching topics, in publication order.
	assert.Equal(t, "evt-1", receive(t, tasks).ID)
	assert.Equal(t, "evt-3", receive(t, tasks).ID)

	assert.Equal(t, "evt-1", receive(t, all).ID)
	assert.Equal(t, "evt-2", receive(t, all).ID)
	assert.Equal(t, "evt-3", receive(t, all).ID)
}

func TestMemoryBusDropsWhenFull(t *testing.T) {
	bus := NewMemoryBus(WithBufferSize(1))
	defer bus.Close()

	ch := bus.Subscribe(PatternAll)
	now := time.Now().UTC()
	bus.Publish(New("evt-1", TaskCreated, "task", "task-1", nil, now))
	bus.Publish(New("evt-2", TaskCreated, "task", "task-2", nil, now))
	bus.Publish(New("evt-3", TaskCreated, "task", "task-3", nil, now))

	assert.Equal(t, int64(2), bus.Dropped())
	assert.Equal(t, "evt-1", receive(t, ch).ID)
}

func TestMemoryBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ch := bus.Subscribe("ticket.*")
	require.Equal(t, 1, bus.SubscriberCount("ticket.*"))

	bus.Unsubscribe("ticket.*", ch)
	assert.Equal(t, 0, bus.SubscriberCount("ticket.*"))

	_, ok := <-ch
	assert.False(t, ok, "unsubscribed channel should be closed")
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	bus := NewMemoryBus()
	ch := bus.Subscribe(PatternAll)
	bus.Close()

	_, ok := <-ch
	require.False(t, ok)

	// Must not panic or deliver.
	bus.Publish(New("evt-1", TaskCreated, "task", "task-1", nil, time.Now().UTC()))
	assert.Equal(t, int64(0), bus.Dropped())
}

func TestAuditedSubset(t *testing.T) {
	assert.True(t, Audited(TaskCompleted))
	assert.True(t, Audited(GuardianInterventionReverted))
	assert.True(t, Audited(DiagnosticStuckDetected))
	assert.False(t, Audited(AgentHeartbeat))
	assert.False(t, Audited(TaskAssigned))
	assert.False(t, Audited("no.such.type"))
}
