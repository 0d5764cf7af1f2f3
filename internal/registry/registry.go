package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"tenant_fleet_migrator/internal/db"
	"tenant_fleet_migrator/internal/fleet"
)

// Locator says where a store lives. Unknown ids return fleet.ErrStoreNotFound.
type Locator interface {
	Locate(ctx context.Context, id fleet.StoreID) (db.Target, error)
}

// Registry implements fleet.Registry and fleet.ScriptSource over a Catalog
// and the stores' own tracking tables.
type Registry struct {
	catalog *Catalog
	locator Locator
	open    func(db.Target) (db.Adapter, error)
	logger  fleet.Logger

	mu       sync.Mutex
	adapters map[fleet.StoreID]*conn
}

type conn struct {
	target  db.Target
	adapter db.Adapter
	ready   bool
}

func New(catalog *Catalog, locator Locator, logger fleet.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		catalog:  catalog,
		locator:  locator,
		open:     db.Open,
		logger:   logger,
		adapters: map[fleet.StoreID]*conn{},
	}
}

func (r *Registry) Catalog() *Catalog { return r.catalog }

func (r *Registry) MigrationsFor(_ context.Context, kind fleet.StoreKind) ([]fleet.MigrationDescriptor, error) {
	return r.catalog.Descriptors(kind), nil
}

func (r *Registry) AppliedMigrationsFor(ctx context.Context, id fleet.StoreID) ([]fleet.MigrationDescriptor, error) {
	a, err := r.adapter(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := a.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", fleet.ErrStoreUnreachable, id, err)
	}
	out := make([]fleet.MigrationDescriptor, len(rows))
	for i, row := range rows {
		out[i] = fleet.MigrationDescriptor{Module: row.Module, Name: row.Name, StoreKind: id.Kind()}
		// Drifted migrations still count as applied.
		if s, err := r.catalog.Lookup(out[i]); err == nil && s.Checksum != row.Checksum {
			r.logger.Warn("applied migration differs from catalog",
				"store_id", id, "module", row.Module, "migration", row.Name)
		}
	}
	return out, nil
}

// Execute is a no-op when the store already records the migration.
func (r *Registry) Execute(ctx context.Context, id fleet.StoreID, m fleet.MigrationDescriptor) error {
	m.StoreKind = id.Kind()
	s, err := r.catalog.Lookup(m)
	if err != nil {
		return err
	}
	a, err := r.adapter(ctx, id)
	if err != nil {
		return err
	}
	err = a.Apply(ctx, db.AppliedRow{Module: s.Descriptor.Module, Name: s.Descriptor.Name, Checksum: s.Checksum}, s.Up)
	if errors.Is(err, db.ErrAlreadyApplied) {
		return nil
	}
	return err
}

func (r *Registry) Reverse(ctx context.Context, id fleet.StoreID, m fleet.MigrationDescriptor) error {
	m.StoreKind = id.Kind()
	s, err := r.catalog.Lookup(m)
	if err != nil {
		return err
	}
	if s.Down == "" {
		return fmt.Errorf("%w: %s", fleet.ErrNoRollbackScript, m.Key())
	}
	a, err := r.adapter(ctx, id)
	if err != nil {
		return err
	}
	err = a.Revert(ctx, s.Descriptor.Module, s.Descriptor.Name, s.Down)
	if errors.Is(err, db.ErrNotApplied) {
		return fmt.Errorf("%w: %s", fleet.ErrMigrationNotApplied, m.Key())
	}
	return err
}

func (r *Registry) Script(m fleet.MigrationDescriptor) (string, string, error) {
	s, err := r.catalog.Lookup(m)
	if err != nil {
		return "", "", err
	}
	return s.Up, s.Down, nil
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, c := range r.adapters {
		errs = append(errs, c.adapter.Close())
		delete(r.adapters, id)
	}
	return errors.Join(errs...)
}

// adapter returns a cached adapter for the store, reopening it when the
// store's location changed since the last call. database/sql reconnects on
// its own, so a failed read does not evict the adapter.
func (r *Registry) adapter(ctx context.Context, id fleet.StoreID) (db.Adapter, error) {
	target, err := r.locator.Locate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: locate %s: %w", fleet.ErrStoreUnreachable, id, err)
	}
	if target.LockName == "" {
		target.LockName = id.String()
	}

	r.mu.Lock()
	c, ok := r.adapters[id]
	if ok && c.target != target {
		c.adapter.Close() // nolint:errcheck
		delete(r.adapters, id)
		ok = false
	}
	if !ok {
		a, err := r.open(target)
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: open %s: %w", fleet.ErrStoreUnreachable, id, err)
		}
		c = &conn{target: target, adapter: a}
		r.adapters[id] = c
	}
	ready := c.ready
	r.mu.Unlock()

	if !ready {
		if err := c.adapter.EnsureTrackingTable(ctx); err != nil {
			return nil, fmt.Errorf("%w: prepare %s: %w", fleet.ErrStoreUnreachable, id, err)
		}
		r.mu.Lock()
		c.ready = true
		r.mu.Unlock()
	}
	return c.adapter, nil
}
