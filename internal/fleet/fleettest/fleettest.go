// Package fleettest provides in-process fakes of the coordinator's external
// collaborators for tests.
package fleettest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tenant_fleet_migrator/internal/fleet"
)

var ErrInjected = errors.New("injected failure")

// Registry is a thread-safe in-memory migration registry.
type Registry struct {
	mu          sync.Mutex
	declared    map[fleet.StoreKind][]fleet.MigrationDescriptor
	applied     map[fleet.StoreID][]fleet.MigrationDescriptor
	failOn      map[string]error
	unreachable map[fleet.StoreID]bool
	scripts     map[string]string
	executed    []string
	reversed    []string

	// BeforeExecute, when set, runs before each Execute outside the lock.
	BeforeExecute func(id fleet.StoreID, m fleet.MigrationDescriptor)
}

func NewRegistry() *Registry {
	return &Registry{
		declared:    map[fleet.StoreKind][]fleet.MigrationDescriptor{},
		applied:     map[fleet.StoreID][]fleet.MigrationDescriptor{},
		failOn:      map[string]error{},
		unreachable: map[fleet.StoreID]bool{},
		scripts:     map[string]string{},
	}
}

// Declare appends migrations for a store kind, each "Module/Name".
func (r *Registry) Declare(kind fleet.StoreKind, module string, names ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.declared[kind] = append(r.declared[kind], fleet.MigrationDescriptor{Module: module, Name: n, StoreKind: kind})
	}
	return r
}

// MarkApplied records migrations as already applied to a store.
func (r *Registry) MarkApplied(id fleet.StoreID, module string, names ...string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.applied[id] = append(r.applied[id], fleet.MigrationDescriptor{Module: module, Name: n, StoreKind: id.Kind()})
	}
	return r
}

func (r *Registry) FailOn(id fleet.StoreID, module, name string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn[string(id)+"|"+module+"/"+name] = ErrInjected
	return r
}

func (r *Registry) SetUnreachable(id fleet.StoreID, down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unreachable[id] = down
}

func (r *Registry) SetScript(module, name, sql string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[module+"/"+name] = sql
}

func (r *Registry) MigrationsFor(_ context.Context, kind fleet.StoreKind) ([]fleet.MigrationDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fleet.MigrationDescriptor(nil), r.declared[kind]...), nil
}

func (r *Registry) AppliedMigrationsFor(_ context.Context, id fleet.StoreID) ([]fleet.MigrationDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable[id] {
		return nil, fmt.Errorf("%w: %s is down", fleet.ErrStoreUnreachable, id)
	}
	return append([]fleet.MigrationDescriptor(nil), r.applied[id]...), nil
}

func (r *Registry) Execute(_ context.Context, id fleet.StoreID, m fleet.MigrationDescriptor) error {
	if hook := r.BeforeExecute; hook != nil {
		hook(id, m)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, string(id)+"|"+m.Key())
	if err := r.failOn[string(id)+"|"+m.Key()]; err != nil {
		return err
	}
	r.applied[id] = append(r.applied[id], m)
	return nil
}

func (r *Registry) Reverse(_ context.Context, id fleet.StoreID, m fleet.MigrationDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reversed = append(r.reversed, string(id)+"|"+m.Key())
	list := r.applied[id]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Key() == m.Key() {
			r.applied[id] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return fleet.ErrMigrationNotApplied
}

func (r *Registry) Script(m fleet.MigrationDescriptor) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scripts[m.Key()], "", nil
}

// Executed lists "store|Module/Name" for every Execute call, in call order.
func (r *Registry) Executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.executed...)
}

func (r *Registry) Reversed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reversed...)
}

// Directory is a fixed tenant list.
type Directory struct {
	mu      sync.Mutex
	tenants []fleet.StoreRef
	err     error
}

func NewDirectory(ids ...fleet.StoreID) *Directory {
	d := &Directory{}
	for _, id := range ids {
		d.tenants = append(d.tenants, fleet.StoreRef{ID: id, Kind: fleet.KindTenant, Name: string(id)})
	}
	return d
}

func (d *Directory) Add(ref fleet.StoreRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref.Kind = fleet.KindTenant
	d.tenants = append(d.tenants, ref)
}

func (d *Directory) Remove(id fleet.StoreID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.tenants[:0]
	for _, t := range d.tenants {
		if t.ID != id {
			out = append(out, t)
		}
	}
	d.tenants = out
}

func (d *Directory) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *Directory) ListTenantStores(_ context.Context) ([]fleet.StoreRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]fleet.StoreRef(nil), d.tenants...), nil
}

func (d *Directory) LookupTenant(_ context.Context, id fleet.StoreID) (fleet.StoreRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return fleet.StoreRef{}, fmt.Errorf("%w: tenant %s", fleet.ErrStoreNotFound, id)
}

// Backup records calls and fails when Err is set.
type Backup struct {
	mu    sync.Mutex
	Err   error
	calls []fleet.StoreID
}

func (b *Backup) Backup(_ context.Context, ref fleet.StoreRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, ref.ID)
	return b.Err
}

func (b *Backup) Calls() []fleet.StoreID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]fleet.StoreID(nil), b.calls...)
}

// Notifier records every notification.
type Notifier struct {
	mu   sync.Mutex
	sent []fleet.Notification
}

func (n *Notifier) Notify(_ context.Context, note fleet.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *Notifier) Sent() []fleet.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]fleet.Notification(nil), n.sent...)
}
