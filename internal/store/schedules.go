package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenant_fleet_migrator/internal/fleet"
)

// ScheduleStore keeps pending entries in scheduled_migrations and a
// tombstone per dispatched entry in consumed_schedules.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

const scheduleColumns = `id, store_id, module_name, migration_name, scheduled_time, created_at, created_by`

func (s *ScheduleStore) Create(ctx context.Context, e fleet.ScheduledMigration) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO scheduled_migrations (`+scheduleColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, e.ID, string(e.StoreID), e.ModuleName, e.MigrationName, e.ScheduledTime, e.CreatedAt, e.CreatedBy)
	return err
}

func (s *ScheduleStore) Get(ctx context.Context, id uuid.UUID) (fleet.ScheduledMigration, error) {
	e, err := scanSchedule(s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM scheduled_migrations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return fleet.ScheduledMigration{}, fleet.ErrScheduleNotFound
	}
	return e, err
}

func (s *ScheduleStore) List(ctx context.Context) ([]fleet.ScheduledMigration, error) {
	return s.query(ctx, `SELECT `+scheduleColumns+` FROM scheduled_migrations ORDER BY scheduled_time, created_at`)
}

func (s *ScheduleStore) Due(ctx context.Context, now time.Time) ([]fleet.ScheduledMigration, error) {
	return s.query(ctx, `
SELECT `+scheduleColumns+` FROM scheduled_migrations
WHERE scheduled_time <= $1
ORDER BY scheduled_time, created_at
`, now)
}

// Consume deletes the entry and writes its tombstone in one transaction.
// With several instances polling, exactly one sees the row come back.
func (s *ScheduleStore) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var got uuid.UUID
	err = tx.QueryRow(ctx, `DELETE FROM scheduled_migrations WHERE id = $1 RETURNING id`, id).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO consumed_schedules (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ScheduleStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_migrations WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *ScheduleStore) WasConsumed(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM consumed_schedules WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *ScheduleStore) query(ctx context.Context, sql string, args ...any) ([]fleet.ScheduledMigration, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.ScheduledMigration
	for rows.Next() {
		e, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanSchedule(row pgx.Row) (fleet.ScheduledMigration, error) {
	var (
		e       fleet.ScheduledMigration
		storeID string
	)
	if err := row.Scan(&e.ID, &storeID, &e.ModuleName, &e.MigrationName, &e.ScheduledTime, &e.CreatedAt, &e.CreatedBy); err != nil {
		return fleet.ScheduledMigration{}, err
	}
	e.StoreID = fleet.StoreID(storeID)
	return e, nil
}
