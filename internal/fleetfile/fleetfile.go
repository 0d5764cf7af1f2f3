// Package fleetfile reads a static fleet description from TOML:
//
//	[master]
//	engine = "postgres"
//	dsn = "postgres://..."
//
//	[[tenants]]
//	id = "acme"
//	name = "Acme"
//	engine = "mysql"
//	dsn_sealed = "base64..."
//	modules = ["Core", "CRM"]
//
// It serves as both tenant directory and store locator.
package fleetfile

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"tenant_fleet_migrator/internal/db"
	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/secret"
)

type StoreEntry struct {
	Engine    string `toml:"engine"`
	DSN       string `toml:"dsn"`
	SealedDSN string `toml:"dsn_sealed"`
}

type TenantEntry struct {
	ID       string   `toml:"id"`
	Name     string   `toml:"name"`
	Code     string   `toml:"code"`
	Modules  []string `toml:"modules"`
	Disabled bool     `toml:"disabled"`
	StoreEntry
}

type File struct {
	Master  *StoreEntry   `toml:"master"`
	Alerts  *StoreEntry   `toml:"alerts"`
	Tenants []TenantEntry `toml:"tenants"`
}

type Directory struct {
	targets map[fleet.StoreID]db.Target
	tenants []fleet.StoreRef
}

func Load(path string, box *secret.Box) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet file: %w", err)
	}
	return Parse(data, box)
}

// Parse decodes and validates a fleet file. box may be nil when no entry
// uses dsn_sealed.
func Parse(data []byte, box *secret.Box) (*Directory, error) {
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("parse fleet file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("fleet file: unknown keys %v", undecoded)
	}

	d := &Directory{targets: map[fleet.StoreID]db.Target{}}
	for id, entry := range map[fleet.StoreID]*StoreEntry{fleet.MasterStore: f.Master, fleet.AlertsStore: f.Alerts} {
		if entry == nil {
			continue
		}
		t, err := entry.target(id, box)
		if err != nil {
			return nil, err
		}
		d.targets[id] = t
	}

	for _, te := range f.Tenants {
		id := fleet.StoreID(strings.TrimSpace(te.ID))
		if id == "" {
			return nil, fmt.Errorf("fleet file: tenant without id")
		}
		if id.Kind() != fleet.KindTenant || id == fleet.AllStores {
			return nil, fmt.Errorf("fleet file: tenant id %q is reserved", id)
		}
		if _, dup := d.targets[id]; dup {
			return nil, fmt.Errorf("fleet file: duplicate tenant %q", id)
		}
		if te.Disabled {
			continue
		}
		t, err := te.target(id, box)
		if err != nil {
			return nil, err
		}
		d.targets[id] = t
		name := te.Name
		if name == "" {
			name = string(id)
		}
		d.tenants = append(d.tenants, fleet.StoreRef{
			ID:      id,
			Kind:    fleet.KindTenant,
			Name:    name,
			Code:    te.Code,
			Modules: te.Modules,
		})
	}
	sort.Slice(d.tenants, func(i, j int) bool { return d.tenants[i].ID < d.tenants[j].ID })
	return d, nil
}

func (e StoreEntry) target(id fleet.StoreID, box *secret.Box) (db.Target, error) {
	dsn := e.DSN
	if e.SealedDSN != "" {
		if box == nil {
			return db.Target{}, fmt.Errorf("fleet file: %s uses dsn_sealed but no secret key is configured", id)
		}
		opened, err := box.OpenString(e.SealedDSN)
		if err != nil {
			return db.Target{}, fmt.Errorf("fleet file: %s: %w", id, err)
		}
		dsn = opened
	}
	if dsn == "" {
		return db.Target{}, fmt.Errorf("fleet file: %s has no dsn", id)
	}
	engine := e.Engine
	if engine == "" {
		engine = "postgres"
	}
	return db.Target{Engine: engine, DSN: dsn, LockName: string(id)}, nil
}

func (d *Directory) ListTenantStores(context.Context) ([]fleet.StoreRef, error) {
	return append([]fleet.StoreRef(nil), d.tenants...), nil
}

func (d *Directory) LookupTenant(_ context.Context, id fleet.StoreID) (fleet.StoreRef, error) {
	for _, ref := range d.tenants {
		if ref.ID == id {
			return ref, nil
		}
	}
	return fleet.StoreRef{}, fmt.Errorf("%w: tenant %s", fleet.ErrStoreNotFound, id)
}

func (d *Directory) Locate(_ context.Context, id fleet.StoreID) (db.Target, error) {
	t, ok := d.targets[id]
	if !ok {
		return db.Target{}, fmt.Errorf("%w: %s", fleet.ErrStoreNotFound, id)
	}
	return t, nil
}
