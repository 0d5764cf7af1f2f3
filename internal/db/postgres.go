package db

import (
	"context"
	"database/sql"
	"hash/fnv"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresTrackingTable = `
CREATE TABLE IF NOT EXISTS ` + TrackingTable + ` (
	id bigserial PRIMARY KEY,
	module varchar(128) NOT NULL,
	name varchar(255) NOT NULL,
	checksum varchar(64) NOT NULL,
	applied_at timestamptz NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ` + TrackingTable + `_module_name_idx ON ` + TrackingTable + `(module, name);
`

func openPostgres(t Target) (Adapter, error) {
	db, err := sql.Open("pgx", t.DSN)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxOpenConns(5)
	return &sqlAdapter{
		db:       db,
		lockName: t.LockName,
		d: dialect{
			engine:      "postgres",
			createTable: postgresTrackingTable,
			bind:        func(n int) string { return "$" + strconv.Itoa(n) },
			txLock: func(ctx context.Context, tx *sql.Tx, name string) error {
				_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(name))
				return err
			},
		},
	}, nil
}

func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("fleet-migrator:" + name)) // nolint:errcheck
	return int64(h.Sum64())
}
