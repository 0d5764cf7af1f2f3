package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenant_fleet_migrator/internal/db"
	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/secret"
)

var (
	ErrTenantExists    = errors.New("tenant already exists")
	ErrTenantBadEngine = errors.New("invalid engine")
	ErrTenantInvalid   = errors.New("invalid tenant")
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)

type Tenant struct {
	ID        fleet.StoreID `json:"id"`
	Name      string        `json:"name"`
	Code      string        `json:"code,omitempty"`
	Engine    string        `json:"engine"`
	Modules   []string      `json:"modules"`
	IsActive  bool          `json:"isActive"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (t Tenant) Ref() fleet.StoreRef {
	return fleet.StoreRef{ID: t.ID, Kind: fleet.KindTenant, Name: t.Name, Code: t.Code, Modules: t.Modules}
}

type CreateTenantInput struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Code    string   `json:"code"`
	Engine  string   `json:"engine"`
	DSN     string   `json:"dsn"`
	Modules []string `json:"modules"`
}

// TenantStore is the tenant directory kept in tenant_stores. It also
// locates tenant stores for the registry; DSNs are stored sealed.
type TenantStore struct {
	pool *pgxpool.Pool
	box  *secret.Box
}

func NewTenantStore(pool *pgxpool.Pool, box *secret.Box) *TenantStore {
	return &TenantStore{pool: pool, box: box}
}

const tenantColumns = `id, name, code, engine, modules, is_active, created_at`

// ListTenantStores returns active tenants only.
func (s *TenantStore) ListTenantStores(ctx context.Context) ([]fleet.StoreRef, error) {
	tenants, err := s.query(ctx, `SELECT `+tenantColumns+` FROM tenant_stores WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	refs := make([]fleet.StoreRef, len(tenants))
	for i, t := range tenants {
		refs[i] = t.Ref()
	}
	return refs, nil
}

func (s *TenantStore) LookupTenant(ctx context.Context, id fleet.StoreID) (fleet.StoreRef, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return fleet.StoreRef{}, err
	}
	if !t.IsActive {
		return fleet.StoreRef{}, fmt.Errorf("%w: tenant %s is inactive", fleet.ErrStoreNotFound, id)
	}
	return t.Ref(), nil
}

func (s *TenantStore) Get(ctx context.Context, id fleet.StoreID) (Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenant_stores WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, fmt.Errorf("%w: tenant %s", fleet.ErrStoreNotFound, id)
	}
	return t, err
}

// ListTenants includes inactive tenants.
func (s *TenantStore) ListTenants(ctx context.Context) ([]Tenant, error) {
	return s.query(ctx, `SELECT `+tenantColumns+` FROM tenant_stores ORDER BY id`)
}

// Locate implements registry.Locator for tenant stores.
func (s *TenantStore) Locate(ctx context.Context, id fleet.StoreID) (db.Target, error) {
	var (
		engine string
		sealed []byte
		active bool
	)
	err := s.pool.QueryRow(ctx, `SELECT engine, dsn_enc, is_active FROM tenant_stores WHERE id = $1`, string(id)).
		Scan(&engine, &sealed, &active)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !active) {
		return db.Target{}, fmt.Errorf("%w: tenant %s", fleet.ErrStoreNotFound, id)
	}
	if err != nil {
		return db.Target{}, err
	}
	dsn, err := s.box.Open(sealed)
	if err != nil {
		return db.Target{}, fmt.Errorf("decrypt dsn for %s: %w", id, err)
	}
	return db.Target{Engine: engine, DSN: string(dsn), LockName: string(id)}, nil
}

func (s *TenantStore) CreateTenantStore(ctx context.Context, in CreateTenantInput) (Tenant, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.Engine = strings.ToLower(strings.TrimSpace(in.Engine))
	if !tenantIDPattern.MatchString(in.ID) {
		return Tenant{}, fmt.Errorf("%w: id must be 1-128 letters, digits, '.', '_' or '-'", ErrTenantInvalid)
	}
	if fleet.StoreID(in.ID).Kind() != fleet.KindTenant || fleet.StoreID(in.ID) == fleet.AllStores {
		return Tenant{}, fmt.Errorf("%w: id %q is reserved", ErrTenantInvalid, in.ID)
	}
	if in.Name == "" || strings.TrimSpace(in.DSN) == "" {
		return Tenant{}, fmt.Errorf("%w: name and dsn are required", ErrTenantInvalid)
	}
	if err := ValidateEngine(in.Engine); err != nil {
		return Tenant{}, err
	}
	modules := make([]string, 0, len(in.Modules))
	for _, m := range in.Modules {
		if m = strings.TrimSpace(m); m != "" {
			modules = append(modules, m)
		}
	}
	sealed, err := s.box.Seal([]byte(in.DSN))
	if err != nil {
		return Tenant{}, err
	}

	var createdAt time.Time
	err = s.pool.QueryRow(ctx, `
INSERT INTO tenant_stores (id, name, code, engine, dsn_enc, modules)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at
`, in.ID, in.Name, strings.TrimSpace(in.Code), in.Engine, sealed, modules).Scan(&createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Tenant{}, fmt.Errorf("%w: %s", ErrTenantExists, in.ID)
		}
		return Tenant{}, err
	}
	return Tenant{
		ID:        fleet.StoreID(in.ID),
		Name:      in.Name,
		Code:      strings.TrimSpace(in.Code),
		Engine:    in.Engine,
		Modules:   modules,
		IsActive:  true,
		CreatedAt: createdAt,
	}, nil
}

// SetTenantActive retires or restores a tenant. Inactive tenants disappear
// from the fleet but keep their history.
func (s *TenantStore) SetTenantActive(ctx context.Context, id fleet.StoreID, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tenant_stores SET is_active = $2 WHERE id = $1`, string(id), active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tenant %s", fleet.ErrStoreNotFound, id)
	}
	return nil
}

func ValidateEngine(engine string) error {
	switch strings.ToLower(engine) {
	case "postgres", "mysql", "sqlite":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrTenantBadEngine, engine)
	}
}

func (s *TenantStore) query(ctx context.Context, sql string, args ...any) ([]Tenant, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var (
		t  Tenant
		id string
	)
	if err := row.Scan(&id, &t.Name, &t.Code, &t.Engine, &t.Modules, &t.IsActive, &t.CreatedAt); err != nil {
		return Tenant{}, err
	}
	t.ID = fleet.StoreID(id)
	if t.Modules == nil {
		t.Modules = []string{}
	}
	return t, nil
}
