// Package orchestrator runs the engine's main loop: waking on a tick or
// a bus event, it offers queued work to every available agent and feeds
// task completions to the phase engine.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orchard-dev/orchard/internal/errors"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/phase"
	"github.com/orchard-dev/orchard/internal/queue"
	"github.com/orchard-dev/orchard/internal/registry"
)

// Orchestrator drives task assignment and phase progression. All
// shared state lives in the store; serialisation of assignment comes
// from the store's version guards, so multiple workers may run the
// assignment pass concurrently.
type Orchestrator struct {
	queue      *queue.Service
	registry   *registry.Service
	engine     *phase.Engine
	bus        events.Bus
	tickPeriod time.Duration
	workers    int
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithWorkers sets how many assignment workers run concurrently
// (default 1).
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// New creates an orchestrator.
func New(q *queue.Service, reg *registry.Service, engine *phase.Engine, bus events.Bus, tickPeriod time.Duration, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		queue:      q,
		registry:   reg,
		engine:     engine,
		bus:        bus,
		tickPeriod: tickPeriod,
		workers:    1,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run blocks until ctx is cancelled. It starts the completion relay and
// the assignment workers; per-pass errors are logged, not fatal.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.relayCompletions(ctx) })
	for i := 0; i < o.workers; i++ {
		g.Go(func() error { return o.assignLoop(ctx) })
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// relayCompletions feeds task.completed events into the phase engine's
// gate evaluation.
func (o *Orchestrator) relayCompletions(ctx context.Context) error {
	completed := o.bus.Subscribe(events.TaskCompleted)
	defer o.bus.Unsubscribe(events.TaskCompleted, completed)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-completed:
			if !ok {
				return nil
			}
			if err := o.engine.OnTaskCompleted(ctx, ev.EntityID); err != nil {
				o.logger.Error("phase evaluation failed", "task_id", ev.EntityID, "error", err)
			}
		}
	}
}

// assignLoop wakes on each tick, or as soon as new work is enqueued or
// an agent hands capacity back, and runs one assignment pass.
func (o *Orchestrator) assignLoop(ctx context.Context) error {
	created := o.bus.Subscribe(events.TaskCreated)
	defer o.bus.Unsubscribe(events.TaskCreated, created)
	registered := o.bus.Subscribe(events.AgentRegistered)
	defer o.bus.Unsubscribe(events.AgentRegistered, registered)
	ticker := time.NewTicker(o.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-created:
			if !ok {
				return nil
			}
		case _, ok := <-registered:
			if !ok {
				return nil
			}
		}
		if err := o.Tick(ctx); err != nil {
			o.logger.Error("assignment pass failed", "error", err)
		}
	}
}

// Tick runs one assignment pass: every available agent is offered work
// until its capacity is full or the queue has nothing eligible for it.
func (o *Orchestrator) Tick(ctx context.Context) error {
	agents, err := o.registry.ListAvailable(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		for slot := agent.CurrentLoad; slot < agent.Capacity; slot++ {
			task, err := o.queue.NextAssignment(ctx, agent.ID)
			if err != nil {
				// A concurrent worker may have raced this agent to the
				// same task; the next wake retries.
				if errors.HasCode(err, errors.CodeStaleVersion) {
					break
				}
				return err
			}
			if task == nil {
				break
			}
			o.logger.Debug("task assigned", "task_id", task.ID, "agent_id", agent.ID)
		}
	}
	return nil
}
