package fleet

import (
	"context"
	"fmt"
)

// Resolver computes per-store status by diffing the registry's declared
// migrations against what the store has applied.
type Resolver struct {
	registry  Registry
	directory TenantDirectory
	leases    *leaseTable
}

func NewResolver(registry Registry, directory TenantDirectory) *Resolver {
	return &Resolver{registry: registry, directory: directory}
}

// Ref identifies a store. Unknown tenants yield ErrStoreNotFound.
func (r *Resolver) Ref(ctx context.Context, id StoreID) (StoreRef, error) {
	switch id.Kind() {
	case KindMaster, KindAlerts:
		return StoreRef{ID: id, Kind: id.Kind(), Name: string(id)}, nil
	}
	if id == AllStores || id == "" {
		return StoreRef{}, fmt.Errorf("%w: %q", ErrStoreNotFound, id)
	}
	ref, err := r.directory.LookupTenant(ctx, id)
	if err != nil {
		return StoreRef{}, err
	}
	ref.Kind = KindTenant
	return ref, nil
}

func (r *Resolver) Resolve(ctx context.Context, id StoreID) StoreStatus {
	ref, err := r.Ref(ctx, id)
	if err != nil {
		status := emptyStatus(StoreRef{ID: id, Kind: id.Kind()})
		status.State = r.state(id)
		status.Error = err.Error()
		return status
	}
	return r.ResolveRef(ctx, ref)
}

// ResolveRef never fails: read errors land in StoreStatus.Error with empty
// migration lists.
func (r *Resolver) ResolveRef(ctx context.Context, ref StoreRef) StoreStatus {
	status := emptyStatus(ref)
	status.State = r.state(ref.ID)
	d, err := r.diff(ctx, ref)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.AppliedMigrations = d.applied
	status.PendingMigrations = groupByModule(d.pending)
	status.HasPendingMigrations = len(d.pending) > 0
	return status
}

func (r *Resolver) state(id StoreID) ApplyState {
	if r.leases == nil {
		return StateIdle
	}
	return r.leases.state(id)
}

type storeDiff struct {
	declared []MigrationDescriptor
	applied  []MigrationDescriptor
	// pending in application order: modules in declared order, then
	// migrations in declared order within each module.
	pending []MigrationDescriptor
}

func (r *Resolver) diff(ctx context.Context, ref StoreRef) (storeDiff, error) {
	all, err := r.registry.MigrationsFor(ctx, ref.Kind)
	if err != nil {
		return storeDiff{}, fmt.Errorf("list migrations for %s: %w", ref.Kind, err)
	}
	applied, err := r.registry.AppliedMigrationsFor(ctx, ref.ID)
	if err != nil {
		return storeDiff{}, unreachable(err)
	}
	if applied == nil {
		applied = []MigrationDescriptor{}
	}

	declared := make([]MigrationDescriptor, 0, len(all))
	for _, m := range all {
		if ref.allowsModule(m.Module) {
			declared = append(declared, m)
		}
	}

	done := make(map[string]bool, len(applied))
	for _, m := range applied {
		done[m.Key()] = true
	}
	var pending []MigrationDescriptor
	for _, group := range groupDescriptors(declared) {
		for _, m := range group {
			if !done[m.Key()] {
				pending = append(pending, m)
			}
		}
	}
	return storeDiff{declared: declared, applied: applied, pending: pending}, nil
}

func (r *Resolver) isApplied(ctx context.Context, id StoreID, m MigrationDescriptor) (bool, error) {
	applied, err := r.registry.AppliedMigrationsFor(ctx, id)
	if err != nil {
		return false, unreachable(err)
	}
	for _, a := range applied {
		if a.Key() == m.Key() {
			return true, nil
		}
	}
	return false, nil
}

func emptyStatus(ref StoreRef) StoreStatus {
	return StoreStatus{
		StoreID:           ref.ID,
		StoreKind:         ref.Kind,
		Name:              ref.Name,
		AppliedMigrations: []MigrationDescriptor{},
		PendingMigrations: []ModulePending{},
	}
}

// groupDescriptors splits migrations by module, keeping the order in which
// modules first appear and the order of migrations within each module.
func groupDescriptors(ms []MigrationDescriptor) [][]MigrationDescriptor {
	index := map[string]int{}
	var groups [][]MigrationDescriptor
	for _, m := range ms {
		i, ok := index[m.Module]
		if !ok {
			i = len(groups)
			index[m.Module] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

func groupByModule(ms []MigrationDescriptor) []ModulePending {
	out := []ModulePending{}
	for _, group := range groupDescriptors(ms) {
		names := make([]string, 0, len(group))
		for _, m := range group {
			names = append(names, m.Name)
		}
		out = append(out, ModulePending{Module: group[0].Module, Migrations: names})
	}
	return out
}
