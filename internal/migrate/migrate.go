// Package migrate brings the control-plane database up to date with the SQL
// files embedded in the migrations package.
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenant_fleet_migrator/migrations"
)

// controlPlaneLockKey serialises Up across server instances starting at once.
const controlPlaneLockKey int64 = 0x666c6565746d6967

type Runner struct {
	pool   *pgxpool.Pool
	logger Logger
	fs     fs.FS
}

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Version is one embedded control-plane migration.
type Version struct {
	Version   int64      `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"appliedAt,omitempty"`
}

func New(pool *pgxpool.Pool, logger Logger) *Runner {
	return &Runner{
		pool:   pool,
		logger: logger,
		fs:     migrations.FS(),
	}
}

func (r *Runner) Up(ctx context.Context) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, controlPlaneLockKey); err != nil {
		return fmt.Errorf("lock control plane: %w", err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, controlPlaneLockKey) // nolint:errcheck

	if err := ensureTable(ctx, conn.Conn()); err != nil {
		return err
	}
	versions, err := r.versions(ctx, conn.Conn())
	if err != nil {
		return err
	}

	for _, v := range versions {
		if v.AppliedAt != nil {
			continue
		}
		body, err := fs.ReadFile(r.fs, fileName(v))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", fileName(v), err)
		}
		if err := apply(ctx, conn.Conn(), v, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", fileName(v), err)
		}
		r.logger.Info("control plane migration applied", "version", v.Version, "name", v.Name)
	}
	return nil
}

// Status lists every embedded migration with its applied time, if any.
func (r *Runner) Status(ctx context.Context) ([]Version, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	if err := ensureTable(ctx, conn.Conn()); err != nil {
		return nil, err
	}
	return r.versions(ctx, conn.Conn())
}

func (r *Runner) versions(ctx context.Context, conn *pgx.Conn) ([]Version, error) {
	files, err := fs.Glob(r.fs, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	applied := map[int64]time.Time{}
	rows, err := conn.Query(ctx, `SELECT version, applied_at FROM control_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query control_schema_migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			v  int64
			at time.Time
		)
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Version, 0, len(files))
	for _, file := range files {
		version, name, err := parseVersion(file)
		if err != nil {
			return nil, err
		}
		v := Version{Version: version, Name: name}
		if at, ok := applied[version]; ok {
			v.AppliedAt = &at
		}
		out = append(out, v)
	}
	return out, nil
}

func apply(ctx context.Context, conn *pgx.Conn, v Version, body string) error {
	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, body); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO control_schema_migrations(version, name) VALUES ($1, $2)`, v.Version, v.Name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}

func ensureTable(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS control_schema_migrations (
  version BIGINT PRIMARY KEY,
  name    TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func fileName(v Version) string {
	return fmt.Sprintf("%03d_%s.sql", v.Version, v.Name)
}

func parseVersion(path string) (int64, string, error) {
	base := filepath.Base(path)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("invalid migration filename: %s", base)
	}
	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid migration version in %s: %w", base, err)
	}
	name := strings.TrimSuffix(parts[1], ".sql")
	return version, name, nil
}
