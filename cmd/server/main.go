package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"tenant_fleet_migrator/internal/audit"
	"tenant_fleet_migrator/internal/auth"
	"tenant_fleet_migrator/internal/backup"
	"tenant_fleet_migrator/internal/config"
	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/fleetfile"
	httpserver "tenant_fleet_migrator/internal/http"
	"tenant_fleet_migrator/internal/logging"
	"tenant_fleet_migrator/internal/metrics"
	"tenant_fleet_migrator/internal/migrate"
	"tenant_fleet_migrator/internal/notify"
	"tenant_fleet_migrator/internal/registry"
	"tenant_fleet_migrator/internal/scheduler"
	"tenant_fleet_migrator/internal/secret"
	"tenant_fleet_migrator/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	dbPool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	migrator := migrate.New(dbPool, logging.Component(logger, "migrate"))
	if err := migrator.Up(ctx); err != nil {
		logger.Error("control plane migrations failed", "error", err)
		os.Exit(1)
	}

	recorder := audit.NewPoolRecorder(dbPool, logger)
	_ = logStartupEvent(ctx, recorder, cfg)

	if err := run(ctx, cfg, logger, dbPool, migrator, recorder); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, dbPool *pgxpool.Pool, migrator *migrate.Runner, recorder audit.Recorder) error {
	var box *secret.Box
	if len(cfg.SecretKeyBytes) > 0 {
		var err error
		if box, err = secret.NewBox(cfg.SecretKeyBytes); err != nil {
			return err
		}
	}

	static := registry.Static{
		fleet.MasterStore: {Engine: cfg.Master.Engine, DSN: cfg.Master.DSN, LockName: string(fleet.MasterStore)},
		fleet.AlertsStore: {Engine: cfg.Alerts.Engine, DSN: cfg.Alerts.DSN, LockName: string(fleet.AlertsStore)},
	}

	var (
		directory fleet.TenantDirectory
		locator   registry.Locator
		admin     httpserver.TenantAdmin
	)
	if cfg.FleetFile != "" {
		file, err := fleetfile.Load(cfg.FleetFile, box)
		if err != nil {
			return err
		}
		directory = file
		locator = registry.Chain{file, static}
		logger.Info("tenant directory loaded from fleet file", "path", cfg.FleetFile)
	} else {
		tenants := store.NewTenantStore(dbPool, box)
		directory = tenants
		locator = registry.Chain{static, tenants}
		admin = tenants
	}

	catalog, err := registry.LoadCatalog(os.DirFS(cfg.CatalogDir))
	if err != nil {
		return err
	}
	reg := registry.New(catalog, locator, logging.Component(logger, "registry"))
	defer reg.Close()

	notifiers := notify.Multi{notify.LogNotifier{Logger: logging.Component(logger, "notify")}}
	if cfg.NATS.URL != "" {
		nn, err := notify.NewNATSNotifier(cfg.NATS.URL, cfg.NATS.Subject, logging.Component(logger, "nats"))
		if err != nil {
			return err
		}
		defer nn.Close()
		notifiers = append(notifiers, nn)
	}

	var backupHook fleet.BackupHook
	if cfg.BackupCommand != "" {
		backupHook = &backup.CommandHook{
			Command: cfg.BackupCommand,
			Locator: locator,
			Logger:  logging.Component(logger, "backup"),
		}
	}

	collector := metrics.NewCollector()
	settings := store.NewSettingsStore(dbPool)
	coord := fleet.NewCoordinator(fleet.Options{
		Registry:          reg,
		Directory:         directory,
		History:           store.NewHistoryStore(dbPool),
		Settings:          settings,
		Backup:            backupHook,
		Notifier:          notifiers,
		Metrics:           collector,
		Logger:            logging.Component(logger, "coordinator"),
		ApplyTimeout:      cfg.ApplyTimeout,
		StatusConcurrency: cfg.StatusConcurrency,
		BatchConcurrency:  cfg.BatchConcurrency,
	})

	sched := scheduler.New(store.NewScheduleStore(dbPool), coord, settings, scheduler.Config{
		Interval:          cfg.SchedulerInterval,
		AutoApplyInterval: cfg.AutoApplyInterval,
	}, logging.Component(logger, "scheduler"), collector)

	server := httpserver.New(cfg, logger, dbPool, auth.New(cfg.TrustedHeaderAuth), recorder,
		httpserver.NewFleetHandler(coord, sched, recorder, logger),
		httpserver.NewScheduleHandler(sched, coord, recorder, logger),
		httpserver.NewSettingsHandler(settings, recorder, logger),
		httpserver.NewTenantHandler(directory, admin, recorder, logger),
	).WithSchema(migrator)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return server.Start(gctx) })
	if cfg.MetricsAddress != "" {
		g.Go(func() error {
			logger.Info("metrics server starting", "addr", cfg.MetricsAddress)
			return metrics.NewServer(cfg.MetricsAddress).Run(gctx)
		})
	}
	return g.Wait()
}

func logStartupEvent(ctx context.Context, recorder audit.Recorder, cfg config.Config) error {
	return recorder.Record(ctx, audit.Event{
		Actor:      fleet.SystemActor,
		Action:     "server_started",
		EntityType: "system",
		Payload: map[string]any{
			"http_addr":  cfg.HTTPAddress,
			"fleet_file": cfg.FleetFile != "",
			"engines":    []string{cfg.Master.Engine, cfg.Alerts.Engine},
			"ts":         time.Now().UTC(),
		},
	})
}
