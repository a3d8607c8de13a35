package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/orchard-dev/orchard/internal/errors"
)

func testTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func insertTestTicket(t *testing.T, s *Store, id string) *Ticket {
	t.Helper()
	now := testTime()
	ticket := &Ticket{
		ID:        id,
		Title:     "Add export endpoint",
		PhaseID:   "requirements",
		Status:    TicketPending,
		Priority:  PriorityMedium,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.RunInTx(context.Background(), func(tx *TxOps) error {
		return InsertTicketTx(tx, ticket)
	}); err != nil {
		t.Fatalf("insert ticket: %v", err)
	}
	return ticket
}

func TestTicketRoundTrip(t *testing.T) {
	s := OpenTest(t)
	want := insertTestTicket(t, s, "ticket-1")

	var got *Ticket
	err := s.RunInTx(context.Background(), func(tx *TxOps) error {
		var err error
		got, err = GetTicketTx(tx, "ticket-1")
		return err
	})
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}

	if got.Title != want.Title {
		t.Errorf("Title = %q, want %q", got.Title, want.Title)
	}
	if got.Status != TicketPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
	}
}

func TestGetTicketNotFound(t *testing.T) {
	s := OpenTest(t)
	err := s.RunInTx(context.Background(), func(tx *TxOps) error {
		_, err := GetTicketTx(tx, "ticket-missing")
		return err
	})
	if !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestUpdateTicketStaleVersion(t *testing.T) {
	s := OpenTest(t)
	insertTestTicket(t, s, "ticket-1")

	ctx := context.Background()

	// Two readers load the same version.
	var a, b *Ticket
	_ = s.RunInTx(ctx, func(tx *TxOps) error {
		a, _ = GetTicketTx(tx, "ticket-1")
		b, _ = GetTicketTx(tx, "ticket-1")
		return nil
	})

	// First writer wins.
	a.Status = TicketInProgress
	a.UpdatedAt = testTime().Add(time.Second)
	if err := s.RunInTx(ctx, func(tx *TxOps) error {
		return UpdateTicketTx(tx, a)
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("version after update = %d, want 2", a.Version)
	}

	// Second writer sees a stale version.
	b.Status = TicketBlocked
	err := s.RunInTx(ctx, func(tx *TxOps) error {
		return UpdateTicketTx(tx, b)
	})
	if !errors.HasCode(err, errors.CodeStaleVersion) {
		t.Errorf("err = %v, want STALE_VERSION", err)
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := OpenTest(t)
	ctx := context.Background()

	boom := fmt.Errorf("boom")
	err := s.RunInTx(ctx, func(tx *TxOps) error {
		if err := InsertTicketTx(tx, &Ticket{
			ID: "ticket-rollback", Title: "x", Status: TicketPending,
			Priority: PriorityLow, Version: 1,
			CreatedAt: testTime(), UpdatedAt: testTime(),
		}); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("err = %v, want boom", err)
	}

	err = s.RunInTx(ctx, func(tx *TxOps) error {
		_, err := GetTicketTx(tx, "ticket-rollback")
		return err
	})
	if !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("ticket survived rollback: %v", err)
	}
}

func TestTaskRoundTripWithOptionalFields(t *testing.T) {
	s := OpenTest(t)
	insertTestTicket(t, s, "ticket-1")
	ctx := context.Background()

	now := testTime()
	timeout := 300
	agent := "agent-1"
	task := &Task{
		ID:              "task-1",
		TicketID:        "ticket-1",
		PhaseID:         "implementation",
		TaskType:        "code",
		Description:     "implement the endpoint",
		Priority:        PriorityHigh,
		Status:          TaskRunning,
		AssignedAgentID: &agent,
		Dependencies:    []string{"task-0"},
		MaxRetries:      3,
		TimeoutSeconds:  &timeout,
		Result:          []byte(`{"kind":"patch"}`),
		Version:         1,
		CreatedAt:       now,
		ScheduledAt:     now,
		StartedAt:       &now,
		UpdatedAt:       now,
	}
	if err := s.RunInTx(ctx, func(tx *TxOps) error {
		return InsertTaskTx(tx, task)
	}); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	var got *Task
	if err := s.RunInTx(ctx, func(tx *TxOps) error {
		var err error
		got, err = GetTaskTx(tx, "task-1")
		return err
	}); err != nil {
		t.Fatalf("get task: %v", err)
	}

	if got.AssignedAgentID == nil || *got.AssignedAgentID != "agent-1" {
		t.Errorf("AssignedAgentID = %v, want agent-1", got.AssignedAgentID)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "task-0" {
		t.Errorf("Dependencies = %v", got.Dependencies)
	}
	if got.TimeoutSeconds == nil || *got.TimeoutSeconds != 300 {
		t.Errorf("TimeoutSeconds = %v, want 300", got.TimeoutSeconds)
	}
	if string(got.Result) != `{"kind":"patch"}` {
		t.Errorf("Result = %s", got.Result)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, now)
	}
}

func TestListPendingCandidatesFiltersScheduledAt(t *testing.T) {
	s := OpenTest(t)
	insertTestTicket(t, s, "ticket-1")
	ctx := context.Background()
	now := testTime()

	mk := func(id string, scheduledAt time.Time) *Task {
		return &Task{
			ID: id, TicketID: "ticket-1", PhaseID: "implementation",
			Priority: PriorityMedium, Status: TaskPending, MaxRetries: 3,
			Version: 1, CreatedAt: now, ScheduledAt: scheduledAt, UpdatedAt: now,
		}
	}
	_ = s.RunInTx(ctx, func(tx *TxOps) error {
		if err := InsertTaskTx(tx, mk("task-ready", now.Add(-time.Minute))); err != nil {
			return err
		}
		return InsertTaskTx(tx, mk("task-backoff", now.Add(time.Minute)))
	})

	var candidates []*Task
	if err := s.RunInTx(ctx, func(tx *TxOps) error {
		var err error
		candidates, err = ListPendingCandidatesTx(tx, []string{"implementation"}, now)
		return err
	}); err != nil {
		t.Fatalf("candidates: %v", err)
	}

	if len(candidates) != 1 || candidates[0].ID != "task-ready" {
		t.Errorf("candidates = %v, want [task-ready]", taskIDs(candidates))
	}
}

func TestEventLogAppendAndQuery(t *testing.T) {
	s := OpenTest(t)
	ctx := context.Background()
	now := testTime()

	_ = s.RunInTx(ctx, func(tx *TxOps) error {
		for i, et := range []string{"task.created", "task.completed", "task.completed"} {
			if err := AppendEventTx(tx, &EventLog{
				ID:         fmt.Sprintf("evt-%d", i),
				EventType:  et,
				EntityType: "task",
				EntityID:   "task-1",
				Payload:    []byte(`{"n":1}`),
				CreatedAt:  now.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return nil
	})

	var has bool
	var last *EventLog
	_ = s.RunInTx(ctx, func(tx *TxOps) error {
		var err error
		has, err = HasEventTx(tx, "task-1", "task.completed")
		if err != nil {
			return err
		}
		last, err = LastEventTx(tx, "task-1", "task.completed")
		return err
	})

	if !has {
		t.Error("HasEventTx = false, want true")
	}
	if last == nil || last.ID != "evt-2" {
		t.Errorf("LastEventTx = %v, want evt-2", last)
	}

	var none *EventLog
	_ = s.RunInTx(ctx, func(tx *TxOps) error {
		var err error
		none, err = LastEventTx(tx, "task-1", "task.cancelled")
		return err
	})
	if none != nil {
		t.Errorf("LastEventTx for missing type = %v, want nil", none)
	}
}

func TestPhaseUpsertBumpsVersion(t *testing.T) {
	s := OpenTest(t)
	ctx := context.Background()
	now := testTime()

	p := &Phase{
		ID: "implementation", Name: "Implementation", SequenceOrder: 3,
		AllowedTransitions: []string{"testing"},
		DoneDefinitions:    []string{"code merged"},
		ExpectedOutputs:    []string{"patch"},
		UpdatedAt:          now,
	}
	_ = s.RunInTx(ctx, func(tx *TxOps) error { return UpsertPhaseTx(tx, p) })

	p.Name = "Implementation v2"
	p.UpdatedAt = now.Add(time.Second)
	_ = s.RunInTx(ctx, func(tx *TxOps) error { return UpsertPhaseTx(tx, p) })

	var got *Phase
	_ = s.RunInTx(ctx, func(tx *TxOps) error {
		var err error
		got, err = GetPhaseTx(tx, "implementation")
		return err
	})

	if got.Name != "Implementation v2" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestGuardianRevertIdempotent(t *testing.T) {
	s := OpenTest(t)
	ctx := context.Background()
	now := testTime()

	_ = s.RunInTx(ctx, func(tx *TxOps) error {
		return InsertGuardianActionTx(tx, &GuardianAction{
			ID: "gact-1", ActionType: ActionCancelTask, TargetEntityID: "task-1",
			AuthorityLevel: 4, Reason: "stuck", InitiatedBy: "ops",
			ExecutedAt: now,
		})
	})

	var first, second bool
	_ = s.RunInTx(ctx, func(tx *TxOps) error {
		var err error
		first, err = MarkGuardianActionRevertedTx(tx, "gact-1", now.Add(time.Minute))
		return err
	})
	_ = s.RunInTx(ctx, func(tx *TxOps) error {
		var err error
		second, err = MarkGuardianActionRevertedTx(tx, "gact-1", now.Add(2*time.Minute))
		return err
	})

	if !first {
		t.Error("first revert should report true")
	}
	if second {
		t.Error("second revert should be a no-op")
	}
}

func taskIDs(tasks []*Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
