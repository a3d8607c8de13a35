// Package health runs the periodic liveness sweeps: stale agents, timed
// out tasks, and stuck workflows.
package health

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/config"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/queue"
	"github.com/orchard-dev/orchard/internal/registry"
)

// evidenceTasks caps the per-ticket task outcomes attached to a stuck
// detection.
const evidenceTasks = 5

// Monitor drives the three sweeps. Each sweep runs on its own period
// and shares no state with the others beyond the store.
type Monitor struct {
	store    db.TxRunner
	bus      events.Bus
	clk      clock.Clock
	registry *registry.Service
	queue    *queue.Service
	cfg      config.HealthConfig
	logger   *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// New creates a health monitor.
func New(store db.TxRunner, bus events.Bus, clk clock.Clock, reg *registry.Service, q *queue.Service, cfg config.HealthConfig, opts ...Option) *Monitor {
	m := &Monitor{store: store, bus: bus, clk: clk, registry: reg, queue: q, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks running all three sweeps until ctx is cancelled. Sweep
// errors are logged and the sweep keeps going; only ctx cancellation
// stops the monitor.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.loop(ctx, time.Duration(m.cfg.HeartbeatSweepSeconds)*time.Second, "heartbeat", m.SweepHeartbeats)
	})
	g.Go(func() error {
		return m.loop(ctx, time.Duration(m.cfg.TaskTimeoutSweepSeconds)*time.Second, "task_timeout", m.SweepTaskTimeouts)
	})
	g.Go(func() error {
		return m.loop(ctx, time.Duration(m.cfg.StuckSweepSeconds)*time.Second, "stuck", m.sweepStuck)
	})
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (m *Monitor) loop(ctx context.Context, period time.Duration, name string, sweep func(context.Context) error) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				m.logger.Error("sweep failed", "sweep", name, "error", err)
			}
		}
	}
}

// SweepHeartbeats marks agents past the liveness threshold as degraded
// and requeues their held tasks.
func (m *Monitor) SweepHeartbeats(ctx context.Context) error {
	threshold := time.Duration(m.cfg.HeartbeatStaleSeconds) * time.Second
	stale, err := m.registry.MarkStale(ctx, m.clk.Now(), threshold)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		m.logger.Warn("stale agents detected", "count", len(stale), "agent_ids", stale)
	}
	return nil
}

// SweepTaskTimeouts applies the retry policy to running tasks past
// their deadline.
func (m *Monitor) SweepTaskTimeouts(ctx context.Context) error {
	timedOut, err := m.queue.SweepTimeouts(ctx, m.clk.Now())
	if err != nil {
		return err
	}
	if len(timedOut) > 0 {
		m.logger.Warn("tasks timed out", "count", len(timedOut), "task_ids", timedOut)
	}
	return nil
}

func (m *Monitor) sweepStuck(ctx context.Context) error {
	_, err := m.SweepStuckTickets(ctx, m.clk.Now())
	return err
}

// SweepStuckTickets emits diagnostic.stuck_detected for every active
// ticket whose tasks have all reached terminal status without a
// validated workflow result, once the quiet period has elapsed. A
// cooldown since the previous detection suppresses repeats.
func (m *Monitor) SweepStuckTickets(ctx context.Context, now time.Time) ([]string, error) {
	threshold := time.Duration(m.cfg.StuckThresholdSeconds) * time.Second
	cooldown := time.Duration(m.cfg.StuckCooldownSeconds) * time.Second

	var (
		stuck []string
		evs   []events.Event
	)
	err := m.store.RunInTx(ctx, func(tx *db.TxOps) error {
		stuck = stuck[:0]
		evs = evs[:0]
		tickets, err := db.ListActiveTicketsTx(tx)
		if err != nil {
			return err
		}
		for _, ticket := range tickets {
			ev, err := m.detectStuckTx(tx, ticket, now, threshold, cooldown)
			if err != nil {
				return err
			}
			if ev != nil {
				stuck = append(stuck, ticket.ID)
				evs = append(evs, *ev)
			}
		}
		return events.Append(tx, evs...)
	})
	if err != nil {
		return nil, err
	}
	events.PublishAll(m.bus, evs...)
	for _, id := range stuck {
		m.logger.Warn("stuck workflow detected", "ticket_id", id)
	}
	return stuck, nil
}

func (m *Monitor) detectStuckTx(tx *db.TxOps, ticket *db.Ticket, now time.Time, threshold, cooldown time.Duration) (*events.Event, error) {
	tasks, err := db.ListTasksByTicketTx(tx, ticket.ID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	var lastActivity time.Time
	for _, task := range tasks {
		if !db.IsTerminalTaskStatus(task.Status) {
			return nil, nil
		}
		if task.UpdatedAt.After(lastActivity) {
			lastActivity = task.UpdatedAt
		}
	}
	if now.Sub(lastActivity) < threshold {
		return nil, nil
	}

	validated, err := db.HasEventTx(tx, ticket.ID, events.WorkflowResultValidated)
	if err != nil {
		return nil, err
	}
	if validated {
		return nil, nil
	}

	last, err := db.LastEventTx(tx, ticket.ID, events.DiagnosticStuckDetected)
	if err != nil {
		return nil, err
	}
	if last != nil && now.Sub(last.CreatedAt) < cooldown {
		return nil, nil
	}

	// Newest tasks first so the evidence leads with the final outcomes.
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt) })
	if len(tasks) > evidenceTasks {
		tasks = tasks[:evidenceTasks]
	}
	evidence := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		entry := map[string]any{"task_id": task.ID, "status": string(task.Status)}
		if task.ErrorMessage != "" {
			entry["error"] = task.ErrorMessage
		}
		evidence = append(evidence, entry)
	}

	ev := events.New(clock.NewID(clock.PrefixEvent), events.DiagnosticStuckDetected, "ticket", ticket.ID, map[string]any{
		"phase_id":      ticket.PhaseID,
		"quiet_seconds": int(now.Sub(lastActivity) / time.Second),
		"tasks":         evidence,
	}, now)
	return &ev, nil
}
