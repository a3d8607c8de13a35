// Package discovery records additional work found by agents mid-task
// and atomically branches it into a new task.
package discovery

import (
	"context"
	"log/slog"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/errors"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/queue"
)

// Service is the discovery component.
type Service struct {
	store  db.TxRunner
	bus    events.Bus
	clk    clock.Clock
	queue  *queue.Service
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates a discovery service.
func New(store db.TxRunner, bus events.Bus, clk clock.Clock, q *queue.Service, opts ...Option) *Service {
	s := &Service{store: store, bus: bus, clk: clk, queue: q, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordInput carries the fields of record-and-branch.
type RecordInput struct {
	SourceTaskID     string
	Type             db.DiscoveryType
	Description      string
	SpawnPhaseID     string
	SpawnDescription string
	// SpawnPriority of "" inherits the source task's priority.
	SpawnPriority db.Priority
	// PriorityBoost raises the effective priority one level.
	PriorityBoost bool
}

// RecordAndBranch writes the discovery row and enqueues the branched
// task in one transaction. The spawned task lands in the source task's
// ticket. Diagnostic discovery types behave identically; they are an
// audit distinction only.
func (s *Service) RecordAndBranch(ctx context.Context, in RecordInput) (*db.Discovery, *db.Task, error) {
	if in.SourceTaskID == "" {
		return nil, nil, errors.ErrValidation("source_task_id", "required")
	}
	if in.Type == "" {
		return nil, nil, errors.ErrValidation("type", "required")
	}
	if in.Description == "" {
		return nil, nil, errors.ErrValidation("description", "required")
	}
	if in.SpawnPhaseID == "" {
		return nil, nil, errors.ErrValidation("spawn_phase_id", "required")
	}
	if in.SpawnDescription == "" {
		in.SpawnDescription = in.Description
	}
	if in.SpawnPriority != "" && !db.IsValidPriority(in.SpawnPriority) {
		return nil, nil, errors.ErrValidation("spawn_priority", "unknown level "+string(in.SpawnPriority))
	}

	var (
		disc    *db.Discovery
		spawned *db.Task
		evs     []events.Event
	)
	stage := func(more ...events.Event) { evs = append(evs, more...) }
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		evs = evs[:0]
		source, err := db.GetTaskTx(tx, in.SourceTaskID)
		if err != nil {
			return err
		}

		priority := in.SpawnPriority
		if priority == "" {
			priority = source.Priority
		}
		if in.PriorityBoost {
			priority = priority.Boost()
		}

		spawned, err = s.queue.EnqueueTx(tx, stage, queue.EnqueueInput{
			TicketID:    source.TicketID,
			PhaseID:     in.SpawnPhaseID,
			TaskType:    "discovery",
			Description: in.SpawnDescription,
			Priority:    priority,
		})
		if err != nil {
			return err
		}

		now := s.clk.Now()
		disc = &db.Discovery{
			ID:            clock.NewID(clock.PrefixDiscovery),
			SourceTaskID:  source.ID,
			Type:          in.Type,
			Description:   in.Description,
			SpawnPhaseID:  in.SpawnPhaseID,
			SpawnTaskID:   spawned.ID,
			PriorityBoost: in.PriorityBoost,
			CreatedAt:     now,
		}
		if err := db.InsertDiscoveryTx(tx, disc); err != nil {
			return err
		}
		stage(events.New(clock.NewID(clock.PrefixEvent), events.DiscoveryRecorded, "discovery", disc.ID, map[string]any{
			"source_task_id": source.ID,
			"spawn_task_id":  spawned.ID,
			"type":           string(in.Type),
			"priority":       string(priority),
		}, now))
		return events.Append(tx, evs...)
	})
	if err != nil {
		return nil, nil, err
	}
	events.PublishAll(s.bus, evs...)
	s.logger.Info("discovery branched",
		"discovery_id", disc.ID, "source_task_id", disc.SourceTaskID, "spawn_task_id", disc.SpawnTaskID)
	return disc, spawned, nil
}

// Get returns a discovery by id.
func (s *Service) Get(ctx context.Context, id string) (*db.Discovery, error) {
	var disc *db.Discovery
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		disc, err = db.GetDiscoveryTx(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return disc, nil
}

// ListBySource returns the discoveries recorded from one task.
func (s *Service) ListBySource(ctx context.Context, sourceTaskID string) ([]*db.Discovery, error) {
	var discs []*db.Discovery
	err := s.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		discs, err = db.ListDiscoveriesBySourceTx(tx, sourceTaskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return discs, nil
}
