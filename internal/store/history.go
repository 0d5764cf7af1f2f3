package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"tenant_fleet_migrator/internal/fleet"
)

// HistoryStore is the Postgres migration_history ledger. Rows are never
// updated or deleted.
type HistoryStore struct {
	pool *pgxpool.Pool
}

func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

func (s *HistoryStore) Append(ctx context.Context, e fleet.HistoryEntry) error {
	var detail *string
	if e.ErrorDetail != "" {
		detail = &e.ErrorDetail
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO migration_history (id, store_id, store_kind, module, migration_name, action, outcome, error_detail, actor, applied_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, e.ID, string(e.StoreID), string(e.StoreID.Kind()), e.Migration.Module, e.Migration.Name,
		string(e.Action), string(e.Outcome), detail, e.Actor, e.AppliedAt)
	return err
}

func (s *HistoryStore) List(ctx context.Context, filter fleet.HistoryFilter) ([]fleet.HistoryEntry, error) {
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, store_id, store_kind, module, migration_name, action, outcome, error_detail, actor, applied_at
FROM migration_history
WHERE ($1 = '' OR store_id = $1)
ORDER BY applied_at DESC, seq DESC
LIMIT $2
`, string(filter.StoreID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []fleet.HistoryEntry
	for rows.Next() {
		var (
			e                          fleet.HistoryEntry
			storeID, kind, action, out string
			detail                     *string
		)
		if err := rows.Scan(&e.ID, &storeID, &kind, &e.Migration.Module, &e.Migration.Name,
			&action, &out, &detail, &e.Actor, &e.AppliedAt); err != nil {
			return nil, err
		}
		e.StoreID = fleet.StoreID(storeID)
		e.Migration.StoreKind = fleet.StoreKind(kind)
		e.Action = fleet.Action(action)
		e.Outcome = fleet.Outcome(out)
		if detail != nil {
			e.ErrorDetail = *detail
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
