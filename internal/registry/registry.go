// Package registry keeps the set of known agents: registration,
// liveness via heartbeats, eligibility lookups for the assignment path,
// and the stale-agent sweep.
package registry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/errors"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/queue"
)

// Service is the agent registry component.
type Service struct {
	store  db.TxRunner
	bus    events.Bus
	clk    clock.Clock
	queue  *queue.Service
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates an agent registry. The queue is used by MarkStale to
// return a stale agent's in-flight tasks to the pending pool.
func New(store db.TxRunner, bus events.Bus, clk clock.Clock, q *queue.Service, opts ...Option) *Service {
	s := &Service{
		store:  store,
		bus:    bus,
		clk:    clk,
		queue:  q,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) newEvent(eventType, entityID string, payload map[string]any) events.Event {
	return events.New(clock.NewID(clock.PrefixEvent), eventType, "agent", entityID, payload, s.clk.Now())
}

// RegisterInput carries the fields of a new agent.
type RegisterInput struct {
	AgentType    db.AgentType
	PhaseID      *string
	Capabilities []string
	// Capacity of 0 applies the default of 1.
	Capacity int
	// Authority of 0 applies the agent type's default level.
	Authority int
	Hostname  string
	PID       int
}

// Register creates an idle agent with zero load.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*db.Agent, error) {
	if !db.IsValidAgentType(in.AgentType) {
		return nil, errors.ErrValidation("agent_type", "unknown type "+string(in.AgentType))
	}
	if in.Capacity < 0 {
		return nil, errors.ErrValidation("capacity", "must be >= 0")
	}
	if in.Capacity == 0 {
		in.Capacity = 1
	}
	if in.Authority < 0 || in.Authority > 5 {
		return nil, errors.ErrValidation("authority", "must be in 1..5")
	}
	if in.Authority == 0 {
		in.Authority = in.AgentType.DefaultAuthority()
	}
	if in.Hostname == "" {
		in.Hostname, _ = os.Hostname()
	}
	if in.PID == 0 {
		in.PID = os.Getpid()
	}

	now := s.clk.Now()
	agent := &db.Agent{
		ID:             clock.NewID(clock.PrefixAgent),
		AgentType:      in.AgentType,
		PhaseID:        in.PhaseID,
		Status:         db.AgentIdle,
		Capabilities:   in.Capabilities,
		Capacity:       in.Capacity,
		AuthorityLevel: in.Authority,
		Hostname:       in.Hostname,
		PID:            in.PID,
		LastHeartbeat:  now,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	ev := s.newEvent(events.AgentRegistered, agent.ID, map[string]any{
		"agent_type": string(in.AgentType),
		"capacity":   in.Capacity,
		"authority":  in.Authority,
	})
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		if in.PhaseID != nil {
			if _, err := db.GetPhaseTx(tx, *in.PhaseID); err != nil {
				return err
			}
		}
		if err := db.InsertAgentTx(tx, agent); err != nil {
			return err
		}
		return events.Append(tx, ev)
	})
	if err != nil {
		return nil, err
	}
	events.PublishAll(s.bus, ev)
	s.logger.Info("agent registered",
		"agent_id", agent.ID, "agent_type", agent.AgentType, "capacity", agent.Capacity)
	return agent, nil
}

// Heartbeat refreshes an agent's liveness timestamp. A non-empty status
// hint additionally updates the status; a degraded agent reporting in
// recovers to idle or busy according to its load. Agents may only
// self-report idle or busy.
func (s *Service) Heartbeat(ctx context.Context, agentID string, statusHint db.AgentStatus) (*db.Agent, error) {
	if statusHint != "" && !db.IsReportableAgentStatus(statusHint) {
		return nil, errors.ErrValidation("status", "agents may only report idle or busy, not "+string(statusHint))
	}
	var agent *db.Agent
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		agent, err = db.GetAgentTx(tx, agentID)
		if err != nil {
			return err
		}
		now := s.clk.Now()
		agent.LastHeartbeat = now
		agent.UpdatedAt = now
		switch {
		case statusHint != "":
			agent.Status = statusHint
		case agent.Status == db.AgentDegraded && agent.CurrentLoad > 0:
			agent.Status = db.AgentBusy
		case agent.Status == db.AgentDegraded:
			agent.Status = db.AgentIdle
		}
		return db.UpdateAgentTx(tx, agent)
	})
	if err != nil {
		return nil, err
	}
	events.PublishAll(s.bus, s.newEvent(events.AgentHeartbeat, agentID, map[string]any{
		"status": string(agent.Status),
	}))
	return agent, nil
}

// Get returns an agent by id.
func (s *Service) Get(ctx context.Context, agentID string) (*db.Agent, error) {
	var agent *db.Agent
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		agent, err = db.GetAgentTx(tx, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// List returns all registered agents.
func (s *Service) List(ctx context.Context) ([]*db.Agent, error) {
	var agents []*db.Agent
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		agents, err = db.ListAgentsTx(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// ListAvailable returns agents able to take work, ordered by load
// ascending, then most recent heartbeat, then id. The orchestrator's
// tick walks this list.
func (s *Service) ListAvailable(ctx context.Context) ([]*db.Agent, error) {
	var agents []*db.Agent
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		agents, err = db.ListAvailableAgentsTx(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// FindEligible returns agents matching the phase whose capabilities
// cover the required set, with spare capacity, in the available-agent
// order.
func (s *Service) FindEligible(ctx context.Context, phaseID string, required []string) ([]*db.Agent, error) {
	available, err := s.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	var eligible []*db.Agent
	for _, a := range available {
		if a.PhaseID != nil && *a.PhaseID != phaseID {
			continue
		}
		if !hasAll(a.Capabilities, required) {
			continue
		}
		eligible = append(eligible, a)
	}
	return eligible, nil
}

func hasAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, c := range want {
		if !set[c] {
			return false
		}
	}
	return true
}

// Terminate marks an agent terminated. Tasks it still holds are failed
// as transient so they return to the pending pool.
func (s *Service) Terminate(ctx context.Context, agentID string) error {
	var evs []events.Event
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		evs = evs[:0]
		agent, err := db.GetAgentTx(tx, agentID)
		if err != nil {
			return err
		}
		now := s.clk.Now()
		evs, err = s.requeueHeldTasksTx(tx, evs, agent, "agent terminated", now)
		if err != nil {
			return err
		}
		agent.Status = db.AgentTerminated
		agent.CurrentLoad = 0
		agent.UpdatedAt = now
		if err := db.UpdateAgentTx(tx, agent); err != nil {
			return err
		}
		evs = append(evs, s.newEvent(events.AgentTerminated, agentID, nil))
		return events.Append(tx, evs...)
	})
	if err != nil {
		return err
	}
	events.PublishAll(s.bus, evs...)
	return nil
}

// MarkStale sweeps agents whose last heartbeat is strictly older than
// now minus threshold. Stale agents degrade and their in-flight tasks
// return to pending with retry budget consumed. Returns the ids of
// agents degraded by this sweep.
func (s *Service) MarkStale(ctx context.Context, now time.Time, threshold time.Duration) ([]string, error) {
	var staleIDs []string
	var evs []events.Event
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		staleIDs = staleIDs[:0]
		evs = evs[:0]
		cutoff := now.Add(-threshold)
		stale, err := db.ListStaleAgentsTx(tx, cutoff)
		if err != nil {
			return err
		}
		for _, agent := range stale {
			evs, err = s.requeueHeldTasksTx(tx, evs, agent, "agent heartbeat lost", now)
			if err != nil {
				return err
			}
			agent.Status = db.AgentDegraded
			agent.CurrentLoad = 0
			agent.UpdatedAt = now
			if err := db.UpdateAgentTx(tx, agent); err != nil {
				return err
			}
			evs = append(evs, s.newEvent(events.AgentStale, agent.ID, map[string]any{
				"last_heartbeat": agent.LastHeartbeat,
				"threshold_s":    threshold.Seconds(),
			}))
			staleIDs = append(staleIDs, agent.ID)
		}
		return events.Append(tx, evs...)
	})
	if err != nil {
		return nil, err
	}
	events.PublishAll(s.bus, evs...)
	for _, id := range staleIDs {
		s.logger.Warn("agent marked stale", "agent_id", id)
	}
	return staleIDs, nil
}

// requeueHeldTasksTx applies the retryable-failure policy to every task
// the agent currently holds and returns the staged events. The caller
// zeroes the agent's load afterwards.
func (s *Service) requeueHeldTasksTx(tx *db.TxOps, evs []events.Event, agent *db.Agent, cause string, now time.Time) ([]events.Event, error) {
	tasks, err := db.ListTasksByAgentTx(tx, agent.ID)
	if err != nil {
		return evs, err
	}
	stage := func(more ...events.Event) { evs = append(evs, more...) }
	for _, task := range tasks {
		if err := s.queue.FailHeldTaskTx(tx, stage, task, cause, now); err != nil {
			return evs, err
		}
	}
	return evs, nil
}
