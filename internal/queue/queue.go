// Package queue implements the priority task queue: enqueue with
// dependency validation, atomic assignment, the task state machine, the
// retry policy, and the timeout sweep.
//
// All mutations run inside store transactions; assignment serialisation
// comes exclusively from the store's row locks. Audit events are
// appended in the same transaction and published to the bus only after
// commit.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/config"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/errors"
	"github.com/orchard-dev/orchard/internal/events"
)

// staleRetries bounds the internal retry loop for optimistic-concurrency
// conflicts before the error surfaces to the caller.
const staleRetries = 3

// Service is the task queue component.
type Service struct {
	store  db.TxRunner
	bus    events.Bus
	clk    clock.Clock
	cfg    config.QueueConfig
	logger *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRand sets the jitter source. Pass nil to disable jitter.
func WithRand(rnd *rand.Rand) Option {
	return func(s *Service) { s.rnd = rnd }
}

// New creates a task queue service.
func New(store db.TxRunner, bus events.Bus, clk clock.Clock, cfg config.QueueConfig, opts ...Option) *Service {
	s := &Service{
		store:  store,
		bus:    bus,
		clk:    clk,
		cfg:    cfg,
		logger: slog.Default(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) retryDelay(retryCount int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RetryDelay(s.cfg, retryCount, s.rnd)
}

// runMutation executes fn in a transaction, retrying a bounded number of
// times when an optimistic-concurrency conflict rolls it back. Events
// staged by fn are published only after the winning attempt commits.
func (s *Service) runMutation(ctx context.Context, fn func(tx *db.TxOps, stage func(...events.Event)) error) error {
	var lastErr error
	for attempt := 0; attempt <= staleRetries; attempt++ {
		var evs []events.Event
		stage := func(more ...events.Event) { evs = append(evs, more...) }
		err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
			evs = evs[:0]
			if err := fn(tx, stage); err != nil {
				return err
			}
			return events.Append(tx, evs...)
		})
		if err == nil {
			events.PublishAll(s.bus, evs...)
			return nil
		}
		if !errors.HasCode(err, errors.CodeStaleVersion) {
			return err
		}
		lastErr = err
		s.logger.Debug("retrying after version conflict", "attempt", attempt+1)
	}
	return lastErr
}

func (s *Service) newEvent(eventType, entityType, entityID string, payload map[string]any) events.Event {
	return events.New(clock.NewID(clock.PrefixEvent), eventType, entityType, entityID, payload, s.clk.Now())
}

// EnqueueInput carries the fields of a new task.
type EnqueueInput struct {
	TicketID       string
	PhaseID        string
	TaskType       string
	Description    string
	Priority       db.Priority
	Dependencies   []string
	TimeoutSeconds *int
	// MaxRetries of nil applies the configured default.
	MaxRetries *int
}

// Enqueue creates a pending task after validating the ticket, phase,
// dependency references, and dependency graph acyclicity.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*db.Task, error) {
	var task *db.Task
	err := s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		var err error
		task, err = s.EnqueueTx(tx, stage, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// EnqueueTx is the in-transaction form of Enqueue, for callers that
// create tasks atomically with other mutations (phase seeding,
// discovery branching).
func (s *Service) EnqueueTx(tx *db.TxOps, stage func(...events.Event), in EnqueueInput) (*db.Task, error) {
	if in.TicketID == "" {
		return nil, errors.ErrValidation("ticket_id", "required")
	}
	if in.PhaseID == "" {
		return nil, errors.ErrValidation("phase_id", "required")
	}
	if in.Description == "" {
		return nil, errors.ErrValidation("description", "required")
	}
	if in.Priority == "" {
		in.Priority = db.PriorityMedium
	}
	if !db.IsValidPriority(in.Priority) {
		return nil, errors.ErrValidation("priority", "unknown level "+string(in.Priority))
	}
	if in.TaskType == "" {
		in.TaskType = "work"
	}
	maxRetries := s.cfg.DefaultMaxRetries
	if in.MaxRetries != nil {
		if *in.MaxRetries < 0 {
			return nil, errors.ErrValidation("max_retries", "must be >= 0")
		}
		maxRetries = *in.MaxRetries
	}
	if in.TimeoutSeconds != nil && *in.TimeoutSeconds <= 0 {
		return nil, errors.ErrValidation("timeout_seconds", "must be > 0")
	}

	now := s.clk.Now()
	task := &db.Task{
		ID:             clock.NewID(clock.PrefixTask),
		TicketID:       in.TicketID,
		PhaseID:        in.PhaseID,
		TaskType:       in.TaskType,
		Description:    in.Description,
		Priority:       in.Priority,
		Status:         db.TaskPending,
		Dependencies:   in.Dependencies,
		MaxRetries:     maxRetries,
		TimeoutSeconds: in.TimeoutSeconds,
		Version:        1,
		CreatedAt:      now,
		ScheduledAt:    now,
		UpdatedAt:      now,
	}

	if _, err := db.GetTicketTx(tx, in.TicketID); err != nil {
		return nil, err
	}
	if _, err := db.GetPhaseTx(tx, in.PhaseID); err != nil {
		return nil, err
	}
	if err := checkDependenciesTx(tx, task); err != nil {
		return nil, err
	}
	if err := db.InsertTaskTx(tx, task); err != nil {
		return nil, err
	}
	stage(s.newEvent(events.TaskCreated, "task", task.ID, map[string]any{
		"ticket_id": task.TicketID,
		"phase_id":  task.PhaseID,
		"priority":  string(task.Priority),
	}))
	return task, nil
}

// checkDependenciesTx verifies every dependency id resolves to a task in
// the same ticket and that adding the new edge set keeps the ticket's
// dependency graph acyclic.
func checkDependenciesTx(tx *db.TxOps, task *db.Task) error {
	if len(task.Dependencies) == 0 {
		return nil
	}
	existing, err := db.ListTasksByTicketTx(tx, task.TicketID)
	if err != nil {
		return err
	}
	deps := make(map[string][]string, len(existing)+1)
	for _, t := range existing {
		deps[t.ID] = t.Dependencies
	}
	for _, dep := range task.Dependencies {
		if _, ok := deps[dep]; !ok {
			return errors.ErrValidation("dependencies", "unknown task id "+dep)
		}
	}
	deps[task.ID] = task.Dependencies

	// DFS from the new task; a back edge means a cycle.
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(deps))
	var stack []string
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return errors.ErrDependencyCycle(append(append([]string{}, stack...), id))
		}
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}
	return visit(task.ID)
}

// NextAssignment atomically assigns the best pending candidate to the
// agent. It returns nil when no eligible candidate exists or the agent
// has no spare capacity. Candidate rows are read with the dialect's row
// lock, so concurrent assignment loops never hand the same task to two
// agents.
func (s *Service) NextAssignment(ctx context.Context, agentID string) (*db.Task, error) {
	var assigned *db.Task
	err := s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		assigned = nil
		agent, err := db.GetAgentTx(tx, agentID)
		if err != nil {
			return err
		}
		if agent.Status != db.AgentIdle && agent.Status != db.AgentBusy {
			return nil
		}
		if agent.CurrentLoad >= agent.Capacity {
			return nil
		}

		phaseIDs, err := eligiblePhasesTx(tx, agent)
		if err != nil {
			return err
		}
		now := s.clk.Now()
		candidates, err := db.ListPendingCandidatesTx(tx, phaseIDs, now)
		if err != nil {
			return err
		}
		task, err := pickCandidateTx(tx, s.cfg, candidates, now)
		if err != nil || task == nil {
			return err
		}

		task.Status = db.TaskAssigned
		task.AssignedAgentID = &agent.ID
		task.UpdatedAt = now
		if err := db.UpdateTaskTx(tx, task); err != nil {
			return err
		}
		agent.CurrentLoad++
		agent.Status = db.AgentBusy
		agent.UpdatedAt = now
		if err := db.UpdateAgentTx(tx, agent); err != nil {
			return err
		}
		assigned = task
		stage(s.newEvent(events.TaskAssigned, "task", task.ID, map[string]any{
			"agent_id":  agent.ID,
			"ticket_id": task.TicketID,
			"phase_id":  task.PhaseID,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

func eligiblePhasesTx(tx *db.TxOps, agent *db.Agent) ([]string, error) {
	if agent.PhaseID != nil {
		return []string{*agent.PhaseID}, nil
	}
	phases, err := db.ListPhasesTx(tx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(phases))
	for _, p := range phases {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// pickCandidateTx filters candidates down to those whose dependencies
// are all completed, then orders by score descending with created_at and
// id as tie-breaks.
func pickCandidateTx(tx *db.TxOps, cfg config.QueueConfig, candidates []*db.Task, now time.Time) (*db.Task, error) {
	depStatus := map[string]db.TaskStatus{}
	var ready []*db.Task
	for _, t := range candidates {
		ok := true
		for _, dep := range t.Dependencies {
			status, seen := depStatus[dep]
			if !seen {
				depTask, err := db.GetTaskTx(tx, dep)
				if err != nil {
					if errors.HasCode(err, errors.CodeNotFound) {
						ok = false
						break
					}
					return nil, err
				}
				status = depTask.Status
				depStatus[dep] = status
			}
			if status != db.TaskCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil, nil
	}
	sort.SliceStable(ready, func(i, j int) bool {
		si := Score(cfg, ready[i].Priority, now.Sub(ready[i].CreatedAt))
		sj := Score(cfg, ready[j].Priority, now.Sub(ready[j].CreatedAt))
		if si != sj {
			return si > sj
		}
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})
	return ready[0], nil
}

// Start transitions an assigned task to running for the claiming agent.
func (s *Service) Start(ctx context.Context, taskID, agentID string) error {
	return s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		task, err := db.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != db.TaskAssigned {
			return errors.ErrIllegalTransition("task", taskID, string(task.Status), string(db.TaskRunning))
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
			return errors.ErrWrongAgent(taskID, derefOr(task.AssignedAgentID, ""), agentID)
		}
		now := s.clk.Now()
		task.Status = db.TaskRunning
		task.StartedAt = &now
		task.UpdatedAt = now
		if err := db.UpdateTaskTx(tx, task); err != nil {
			return err
		}
		stage(s.newEvent(events.TaskStarted, "task", taskID, map[string]any{
			"agent_id": agentID,
		}))
		return nil
	})
}

// SubmitResult records a running task's result. The task moves to
// under_review when its phase requires review, otherwise directly to
// completed, releasing the agent.
func (s *Service) SubmitResult(ctx context.Context, taskID, agentID string, result json.RawMessage) error {
	return s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		task, err := db.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != db.TaskRunning {
			return errors.ErrIllegalTransition("task", taskID, string(task.Status), string(db.TaskUnderReview))
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
			return errors.ErrWrongAgent(taskID, derefOr(task.AssignedAgentID, ""), agentID)
		}
		phase, err := db.GetPhaseTx(tx, task.PhaseID)
		if err != nil {
			return err
		}

		now := s.clk.Now()
		task.Result = result
		task.UpdatedAt = now
		if phase.RequiresReview {
			task.Status = db.TaskUnderReview
			if err := db.UpdateTaskTx(tx, task); err != nil {
				return err
			}
			stage(s.newEvent(events.TaskUnderReview, "task", taskID, map[string]any{
				"agent_id": agentID,
				"phase_id": task.PhaseID,
			}))
			return nil
		}
		if err := s.completeTaskTx(tx, task, now); err != nil {
			return err
		}
		stage(s.newEvent(events.TaskCompleted, "task", taskID, map[string]any{
			"ticket_id": task.TicketID,
			"phase_id":  task.PhaseID,
		}))
		return nil
	})
}

// completeTaskTx finalizes a task as completed and releases its agent.
func (s *Service) completeTaskTx(tx *db.TxOps, task *db.Task, now time.Time) error {
	agentID := task.AssignedAgentID
	task.Status = db.TaskCompleted
	task.AssignedAgentID = nil
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := db.UpdateTaskTx(tx, task); err != nil {
		return err
	}
	if agentID != nil {
		return releaseAgentTx(tx, *agentID, now)
	}
	return nil
}

// releaseAgentTx decrements an agent's load after a held task leaves it.
func releaseAgentTx(tx *db.TxOps, agentID string, now time.Time) error {
	agent, err := db.GetAgentTx(tx, agentID)
	if err != nil {
		if errors.HasCode(err, errors.CodeNotFound) {
			return nil
		}
		return err
	}
	if agent.CurrentLoad > 0 {
		agent.CurrentLoad--
	}
	if agent.CurrentLoad == 0 && agent.Status == db.AgentBusy {
		agent.Status = db.AgentIdle
	}
	agent.UpdatedAt = now
	return db.UpdateAgentTx(tx, agent)
}

// Approve accepts an under_review task, completing it.
func (s *Service) Approve(ctx context.Context, taskID, reviewerID string) error {
	return s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		task, err := db.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != db.TaskUnderReview {
			return errors.ErrIllegalTransition("task", taskID, string(task.Status), string(db.TaskCompleted))
		}
		now := s.clk.Now()
		if err := s.completeTaskTx(tx, task, now); err != nil {
			return err
		}
		stage(
			s.newEvent(events.TaskReviewApproved, "task", taskID, map[string]any{
				"reviewer": reviewerID,
			}),
			s.newEvent(events.TaskCompleted, "task", taskID, map[string]any{
				"ticket_id": task.TicketID,
				"phase_id":  task.PhaseID,
			}),
		)
		return nil
	})
}

// Reject sends an under_review task back to running for another
// iteration, carrying the reviewer's feedback. The holding agent keeps
// the task.
func (s *Service) Reject(ctx context.Context, taskID, reviewerID, feedback string) error {
	return s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		task, err := db.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != db.TaskUnderReview {
			return errors.ErrIllegalTransition("task", taskID, string(task.Status), string(db.TaskRunning))
		}
		now := s.clk.Now()
		task.Status = db.TaskRunning
		task.ReviewFeedback = feedback
		task.UpdatedAt = now
		if err := db.UpdateTaskTx(tx, task); err != nil {
			return err
		}
		stage(s.newEvent(events.TaskReviewRejected, "task", taskID, map[string]any{
			"reviewer": reviewerID,
			"feedback": feedback,
		}))
		return nil
	})
}

// Fail records an agent-reported failure. Retryable categories with
// remaining budget send the task back to pending after a back-off;
// permanent failures (or an exhausted budget) finalize the task as
// failed and block its pending dependents.
func (s *Service) Fail(ctx context.Context, taskID, agentID, errorMessage, category string) error {
	return s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		task, err := db.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != db.TaskAssigned && task.Status != db.TaskRunning {
			return errors.ErrIllegalTransition("task", taskID, string(task.Status), string(db.TaskFailed))
		}
		if agentID != "" && (task.AssignedAgentID == nil || *task.AssignedAgentID != agentID) {
			return errors.ErrWrongAgent(taskID, derefOr(task.AssignedAgentID, ""), agentID)
		}
		now := s.clk.Now()
		return s.failTaskTx(tx, stage, task, errorMessage, Retryable(category), now)
	})
}

// failTaskTx applies the retry policy to a task that is leaving its
// agent because of a failure, releasing the holding agent. Shared with
// the timeout sweep.
func (s *Service) failTaskTx(tx *db.TxOps, stage func(...events.Event), task *db.Task, errorMessage string, retryable bool, now time.Time) error {
	holder := task.AssignedAgentID
	if err := s.applyFailureTx(tx, stage, task, errorMessage, retryable, now); err != nil {
		return err
	}
	if holder != nil {
		return releaseAgentTx(tx, *holder, now)
	}
	return nil
}

// FailHeldTaskTx applies the retryable-failure policy to a task whose
// holding agent is being handled out-of-band (stale or terminated).
// The caller owns the agent's load accounting; only the task row and
// its dependents are touched here.
func (s *Service) FailHeldTaskTx(tx *db.TxOps, stage func(...events.Event), task *db.Task, errorMessage string, now time.Time) error {
	return s.applyFailureTx(tx, stage, task, errorMessage, true, now)
}

func (s *Service) applyFailureTx(tx *db.TxOps, stage func(...events.Event), task *db.Task, errorMessage string, retryable bool, now time.Time) error {
	task.AssignedAgentID = nil
	task.ErrorMessage = errorMessage
	task.UpdatedAt = now

	if retryable && task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.Status = db.TaskPending
		task.StartedAt = nil
		task.ScheduledAt = now.Add(s.retryDelay(task.RetryCount))
		if err := db.UpdateTaskTx(tx, task); err != nil {
			return err
		}
		stage(s.newEvent(events.TaskFailed, "task", task.ID, map[string]any{
			"retryable":   true,
			"retry_count": task.RetryCount,
			"error":       errorMessage,
		}))
	} else {
		task.Status = db.TaskFailed
		task.CompletedAt = &now
		if err := db.UpdateTaskTx(tx, task); err != nil {
			return err
		}
		stage(s.newEvent(events.TaskFailed, "task", task.ID, map[string]any{
			"retryable": false,
			"error":     errorMessage,
		}))
		if err := s.blockDependentsTx(tx, stage, task, now); err != nil {
			return err
		}
	}
	return nil
}

// blockDependentsTx marks pending tasks that depend on a terminally
// failed or cancelled task as blocked. They are never cancelled
// automatically; unblocking them is an explicit intervention.
func (s *Service) blockDependentsTx(tx *db.TxOps, stage func(...events.Event), task *db.Task, now time.Time) error {
	dependents, err := db.ListDependentsTx(tx, task.TicketID, task.ID)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		dep.Status = db.TaskBlocked
		dep.UpdatedAt = now
		if err := db.UpdateTaskTx(tx, dep); err != nil {
			return err
		}
		stage(s.newEvent(events.TaskBlocked, "task", dep.ID, map[string]any{
			"blocked_by": task.ID,
			"cause":      string(task.Status),
		}))
	}
	return nil
}

// Cancel terminally cancels a task and releases its agent if held.
func (s *Service) Cancel(ctx context.Context, taskID, reason string) error {
	return s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		task, err := db.GetTaskTx(tx, taskID)
		if err != nil {
			return err
		}
		return s.CancelTaskTx(tx, stage, task, reason, s.clk.Now())
	})
}

// CancelTaskTx is the in-transaction form of Cancel, for callers that
// cancel open tasks atomically with other mutations (phase regression,
// guardian interventions).
func (s *Service) CancelTaskTx(tx *db.TxOps, stage func(...events.Event), task *db.Task, reason string, now time.Time) error {
	if db.IsTerminalTaskStatus(task.Status) {
		return errors.ErrIllegalTransition("task", task.ID, string(task.Status), string(db.TaskCancelled))
	}
	holder := task.AssignedAgentID
	task.Status = db.TaskCancelled
	task.AssignedAgentID = nil
	task.ErrorMessage = reason
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := db.UpdateTaskTx(tx, task); err != nil {
		return err
	}
	stage(s.newEvent(events.TaskCancelled, "task", task.ID, map[string]any{
		"reason": reason,
	}))
	if err := s.blockDependentsTx(tx, stage, task, now); err != nil {
		return err
	}
	if holder != nil {
		return releaseAgentTx(tx, *holder, now)
	}
	return nil
}

// SweepTimeouts expires assigned/running tasks whose deadline has
// passed. Expiry is two committed steps: first every overdue task is
// marked timed_out, then the retry policy runs over all timed_out rows,
// returning each to pending when budget remains and finalizing it as
// failed otherwise. A sweep interrupted between the steps leaves
// timed_out rows that the next sweep picks up. Returns the ids of
// newly expired tasks.
func (s *Service) SweepTimeouts(ctx context.Context, now time.Time) ([]string, error) {
	var expired []string
	err := s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		expired = expired[:0]
		tasks, err := db.ListRunningPastDeadlineTx(tx, now)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			task.Status = db.TaskTimedOut
			task.UpdatedAt = now
			if err := db.UpdateTaskTx(tx, task); err != nil {
				return err
			}
			stage(s.newEvent(events.TaskTimedOut, "task", task.ID, map[string]any{
				"timeout_seconds": *task.TimeoutSeconds,
				"started_at":      task.StartedAt,
			}))
			expired = append(expired, task.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.retryTimedOut(ctx, now); err != nil {
		return nil, err
	}
	return expired, nil
}

// retryTimedOut applies the retryable-failure policy to every timed_out
// task, including leftovers from an interrupted sweep.
func (s *Service) retryTimedOut(ctx context.Context, now time.Time) error {
	return s.runMutation(ctx, func(tx *db.TxOps, stage func(...events.Event)) error {
		tasks, err := db.ListTasksTx(tx, db.TaskTimedOut)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if err := s.failTaskTx(tx, stage, task, "task deadline exceeded", true, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns a task by id.
func (s *Service) Get(ctx context.Context, taskID string) (*db.Task, error) {
	var task *db.Task
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		task, err = db.GetTaskTx(tx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListByTicket returns all tasks of a ticket in creation order.
func (s *Service) ListByTicket(ctx context.Context, ticketID string) ([]*db.Task, error) {
	var tasks []*db.Task
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		tasks, err = db.ListTasksByTicketTx(tx, ticketID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// List returns tasks across all tickets, optionally filtered by status.
func (s *Service) List(ctx context.Context, status db.TaskStatus) ([]*db.Task, error) {
	if status != "" && !db.IsValidTaskStatus(status) {
		return nil, errors.ErrValidation("status", "unknown status "+string(status))
	}
	var tasks []*db.Task
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		tasks, err = db.ListTasksTx(tx, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
