package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orchard-dev/orchard/internal/api"
	"github.com/orchard-dev/orchard/internal/clock"
	"github.com/orchard-dev/orchard/internal/config"
	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/db/driver"
	"github.com/orchard-dev/orchard/internal/discovery"
	"github.com/orchard-dev/orchard/internal/events"
	"github.com/orchard-dev/orchard/internal/guardian"
	"github.com/orchard-dev/orchard/internal/health"
	"github.com/orchard-dev/orchard/internal/intake"
	"github.com/orchard-dev/orchard/internal/orchestrator"
	"github.com/orchard-dev/orchard/internal/phase"
	"github.com/orchard-dev/orchard/internal/queue"
	"github.com/orchard-dev/orchard/internal/registry"
)

func newServeCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and its API server",
		Long: `Start the orchard engine: store migration and phase seeding, the
orchestrator loop, the health monitor sweeps, and the HTTP/websocket
API. Stops gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runEngine(cmd.Context(), cfg, workers)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 1, "concurrent assignment workers")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

func runEngine(parent context.Context, cfg *config.Config, workers int) error {
	logger := slog.Default()
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	store.SetDeadline(cfg.StoreDeadline())

	clk := clock.Real{}
	if err := seedPhases(parent, store, cfg, clk); err != nil {
		return err
	}

	bus := events.NewMemoryBus(events.WithLogger(logger))
	defer bus.Close()

	q := queue.New(store, bus, clk, cfg.Queue)
	reg := registry.New(store, bus, clk, q)
	catalog := phase.NewCatalog(store)
	engine := phase.NewEngine(store, bus, clk, q, catalog)
	disc := discovery.New(store, bus, clk, q)
	guard := guardian.New(store, bus, clk, q, cfg.GuardianMinAuthority)
	in := intake.New(store, bus, clk)

	orch := orchestrator.New(q, reg, engine, bus, cfg.TickPeriod(),
		orchestrator.WithWorkers(workers))
	monitor := health.New(store, bus, clk, reg, q, cfg.Health)
	server := api.NewServer(cfg.Server.Addr, api.Services{
		Store:     store,
		Bus:       bus,
		Queue:     q,
		Registry:  reg,
		Engine:    engine,
		Catalog:   catalog,
		Discovery: disc,
		Guardian:  guard,
		Intake:    in,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })
	g.Go(func() error { return monitor.Run(ctx) })
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	logger.Info("orchard engine started", "addr", cfg.Server.Addr, "dialect", cfg.Store.Dialect)
	fmt.Println("orchard engine listening on", cfg.Server.Addr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(cfg *config.Config) (*db.Store, error) {
	if cfg.Store.Dialect == "postgres" {
		return db.OpenWithDialect(cfg.Store.DSN, driver.DialectPostgres)
	}
	return db.Open(cfg.Store.DSN)
}

// seedPhases installs the phase catalog: the configured YAML file when
// set, otherwise the built-in workflow on first run.
func seedPhases(ctx context.Context, store *db.Store, cfg *config.Config, clk clock.Clock) error {
	if cfg.PhaseCatalogPath != "" {
		phases, err := phase.LoadFile(cfg.PhaseCatalogPath)
		if err != nil {
			return err
		}
		catalog := phase.NewCatalog(store)
		return catalog.UpsertAll(ctx, phases, clk.Now())
	}
	return store.RunInTx(ctx, func(tx *db.TxOps) error {
		seeded, err := phase.SeedTx(tx, clk.Now())
		if err != nil {
			return err
		}
		if seeded {
			slog.Info("seeded built-in phase catalog")
		}
		return nil
	})
}
