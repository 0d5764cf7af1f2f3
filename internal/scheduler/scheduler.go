package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/metrics"
)

// Coordinator is the part of fleet.Coordinator the scheduler drives.
type Coordinator interface {
	Lookup(ctx context.Context, id fleet.StoreID) (fleet.StoreRef, error)
	ApplyStore(ctx context.Context, id fleet.StoreID, opts fleet.ApplyOptions) (fleet.ApplyResult, error)
	ApplyAll(ctx context.Context) (fleet.BatchResult, error)
	Aggregate(ctx context.Context) fleet.CentralStatus
}

type Config struct {
	Interval time.Duration
	// AutoApplyInterval spaces fleet-wide sweeps when autoApplyMigrations is on.
	AutoApplyInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		AutoApplyInterval: 15 * time.Minute,
	}
}

// Scheduler turns due ScheduledMigrations into applies. Each entry is
// consumed (deleted) before it is dispatched, so it runs at most once per
// consume; a crash between the two loses nothing because a re-scheduled apply
// of already applied work is a no-op.
type Scheduler struct {
	store    fleet.ScheduleStore
	coord    Coordinator
	settings fleet.SettingsStore
	cfg      Config
	logger   fleet.Logger
	metrics  *metrics.Collector
	now      func() time.Time

	lastAutoApply time.Time
}

func New(store fleet.ScheduleStore, coord Coordinator, settings fleet.SettingsStore, cfg Config, logger fleet.Logger, collector *metrics.Collector) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.AutoApplyInterval <= 0 {
		cfg.AutoApplyInterval = def.AutoApplyInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		store:    store,
		coord:    coord,
		settings: settings,
		cfg:      cfg,
		logger:   logger,
		metrics:  collector,
		now:      time.Now,
	}
}

type Request struct {
	StoreID       fleet.StoreID `json:"storeId"`
	ModuleName    string        `json:"moduleName,omitempty"`
	MigrationName string        `json:"migrationName,omitempty"`
	ScheduledTime time.Time     `json:"scheduledTime"`
}

// Schedule validates and persists a request. Past times are allowed and are
// picked up by the next tick.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (fleet.ScheduledMigration, error) {
	req.ModuleName = strings.TrimSpace(req.ModuleName)
	req.MigrationName = strings.TrimSpace(req.MigrationName)
	if req.StoreID == "" {
		return fleet.ScheduledMigration{}, fmt.Errorf("%w: storeId is required", fleet.ErrInvalidSchedule)
	}
	if req.ScheduledTime.IsZero() {
		return fleet.ScheduledMigration{}, fmt.Errorf("%w: scheduledTime is required", fleet.ErrInvalidSchedule)
	}
	if req.MigrationName != "" && req.ModuleName == "" {
		return fleet.ScheduledMigration{}, fmt.Errorf("%w: migrationName requires moduleName", fleet.ErrInvalidSchedule)
	}
	if req.StoreID == fleet.AllStores && req.ModuleName != "" {
		return fleet.ScheduledMigration{}, fmt.Errorf("%w: fleet-wide schedules apply every module", fleet.ErrInvalidSchedule)
	}
	if req.StoreID != fleet.AllStores {
		if _, err := s.coord.Lookup(ctx, req.StoreID); err != nil {
			if errors.Is(err, fleet.ErrStoreNotFound) {
				return fleet.ScheduledMigration{}, fmt.Errorf("%w: %w", fleet.ErrInvalidSchedule, err)
			}
			return fleet.ScheduledMigration{}, fmt.Errorf("look up store %s: %w", req.StoreID, err)
		}
	}

	entry := fleet.ScheduledMigration{
		ID:            uuid.New(),
		StoreID:       req.StoreID,
		ModuleName:    req.ModuleName,
		MigrationName: req.MigrationName,
		ScheduledTime: req.ScheduledTime.UTC(),
		CreatedAt:     s.now().UTC(),
		CreatedBy:     fleet.ActorFrom(ctx),
	}
	if err := s.store.Create(ctx, entry); err != nil {
		return fleet.ScheduledMigration{}, fmt.Errorf("create scheduled migration: %w", err)
	}
	s.logger.Info("migration scheduled", "schedule_id", entry.ID.String(), "store_id", entry.StoreID,
		"scheduled_time", entry.ScheduledTime)
	return entry, nil
}

// Cancel removes a not-yet-dispatched entry. Cancelling an entry that was
// already dispatched is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete scheduled migration: %w", err)
	}
	if deleted {
		s.logger.Info("scheduled migration cancelled", "schedule_id", id.String())
		return nil
	}
	consumed, err := s.store.WasConsumed(ctx, id)
	if err != nil {
		return fmt.Errorf("check consumed schedule: %w", err)
	}
	if consumed {
		return nil
	}
	return fmt.Errorf("%w: %s", fleet.ErrScheduleNotFound, id)
}

func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (fleet.ScheduledMigration, error) {
	return s.store.Get(ctx, id)
}

func (s *Scheduler) List(ctx context.Context) ([]fleet.ScheduledMigration, error) {
	return s.store.List(ctx)
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("scheduler started", "interval", s.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick dispatches every due entry and, when enabled, the auto-apply sweep.
// It returns how many scheduled entries were dispatched.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	due, err := s.store.Due(ctx, now)
	if err != nil {
		s.logger.Error("list due schedules failed", "error", err)
		return 0
	}
	dispatched := 0
	for _, entry := range due {
		won, err := s.store.Consume(ctx, entry.ID)
		if err != nil {
			s.logger.Error("consume schedule failed", "schedule_id", entry.ID.String(), "error", err)
			continue
		}
		if !won {
			continue
		}
		dispatched++
		s.dispatch(ctx, entry)
	}
	s.autoApply(ctx, now)
	return dispatched
}

func (s *Scheduler) dispatch(ctx context.Context, entry fleet.ScheduledMigration) {
	actor := entry.CreatedBy
	if actor == "" {
		actor = fleet.SystemActor
	}
	ctx = fleet.WithActor(ctx, "scheduler:"+actor)
	log := []any{"schedule_id", entry.ID.String(), "store_id", entry.StoreID}

	if entry.StoreID == fleet.AllStores {
		results, err := s.coord.ApplyAll(ctx)
		if err != nil {
			s.metrics.IncScheduledDispatch("failure")
			s.logger.Error("scheduled fleet apply failed", append(log, "error", err)...)
			return
		}
		outcome := "success"
		if results.FailureCount() > 0 {
			outcome = "failure"
		}
		s.metrics.IncScheduledDispatch(outcome)
		s.logger.Info("scheduled fleet apply finished",
			append(log, "succeeded", results.SuccessCount(), "failed", results.FailureCount())...)
		return
	}

	res, err := s.coord.ApplyStore(ctx, entry.StoreID, entry.Options())
	if err != nil {
		s.metrics.IncScheduledDispatch("failure")
		s.logger.Error("scheduled apply failed", append(log, "error", err)...)
		return
	}
	s.metrics.IncScheduledDispatch("success")
	s.logger.Info("scheduled apply finished", append(log, "applied", len(res.AppliedMigrations))...)
}

func (s *Scheduler) autoApply(ctx context.Context, now time.Time) {
	if s.settings == nil {
		return
	}
	settings, err := s.settings.Get(ctx)
	if err != nil || !settings.AutoApplyMigrations {
		return
	}
	if !s.lastAutoApply.IsZero() && now.Sub(s.lastAutoApply) < s.cfg.AutoApplyInterval {
		return
	}
	s.lastAutoApply = now
	if !s.coord.Aggregate(ctx).HasAnyPendingMigrations {
		return
	}
	results, err := s.coord.ApplyAll(fleet.WithActor(ctx, "auto-apply"))
	if err != nil {
		s.logger.Error("auto apply failed", "error", err)
		return
	}
	s.logger.Info("auto apply finished", "succeeded", results.SuccessCount(), "failed", results.FailureCount(),
		"applied", results.AppliedCount())
}
