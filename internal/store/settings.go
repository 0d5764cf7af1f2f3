package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenant_fleet_migrator/internal/fleet"
)

// SettingsStore keeps the single migration_settings row.
type SettingsStore struct {
	pool *pgxpool.Pool
}

func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Get returns the defaults until settings have been saved once.
func (s *SettingsStore) Get(ctx context.Context) (fleet.MigrationSettings, error) {
	var out fleet.MigrationSettings
	err := s.pool.QueryRow(ctx, `
SELECT auto_apply_migrations, notify_on_success, notify_on_error, backup_before_migration, migration_timeout_seconds
FROM migration_settings WHERE id = 1
`).Scan(&out.AutoApplyMigrations, &out.NotifyOnSuccess, &out.NotifyOnError, &out.BackupBeforeMigration, &out.MigrationTimeoutSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return fleet.DefaultSettings(), nil
	}
	if err != nil {
		return fleet.MigrationSettings{}, err
	}
	return out, nil
}

func (s *SettingsStore) Replace(ctx context.Context, in fleet.MigrationSettings) error {
	if err := in.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO migration_settings (id, auto_apply_migrations, notify_on_success, notify_on_error, backup_before_migration, migration_timeout_seconds, updated_at)
VALUES (1, $1, $2, $3, $4, $5, now())
ON CONFLICT (id) DO UPDATE SET
  auto_apply_migrations = EXCLUDED.auto_apply_migrations,
  notify_on_success = EXCLUDED.notify_on_success,
  notify_on_error = EXCLUDED.notify_on_error,
  backup_before_migration = EXCLUDED.backup_before_migration,
  migration_timeout_seconds = EXCLUDED.migration_timeout_seconds,
  updated_at = now()
`, in.AutoApplyMigrations, in.NotifyOnSuccess, in.NotifyOnError, in.BackupBeforeMigration, in.MigrationTimeoutSeconds)
	return err
}
