package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const mysqlTrackingTable = `
CREATE TABLE IF NOT EXISTS ` + TrackingTable + ` (
	id bigint AUTO_INCREMENT PRIMARY KEY,
	module varchar(128) NOT NULL,
	name varchar(255) NOT NULL,
	checksum varchar(64) NOT NULL,
	applied_at datetime(6) NOT NULL,
	UNIQUE KEY fleet_schema_migrations_module_name_idx (module, name)
) ENGINE=InnoDB;
`

const mysqlLockWaitSeconds = 10

func openMySQL(t Target) (Adapter, error) {
	// Validate DSN early to provide actionable errors.
	cfg, err := mysql.ParseDSN(t.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(time.Hour)
	db.SetMaxOpenConns(5)
	return &sqlAdapter{
		db:       db,
		lockName: t.LockName,
		d: dialect{
			engine:      "mysql",
			createTable: mysqlTrackingTable,
			bind:        func(int) string { return "?" },
			sessionLock: mysqlLock,
		},
	}, nil
}

// MySQL DDL commits implicitly, so the lock must cover the whole
// connection rather than just the transaction.
func mysqlLock(ctx context.Context, conn *sql.Conn, name string) (func(), error) {
	lockName := "fleet-migrator:" + name
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, lockName, mysqlLockWaitSeconds).Scan(&got); err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, lockName)
	}
	return func() {
		conn.ExecContext(context.WithoutCancel(ctx), `SELECT RELEASE_LOCK(?)`, lockName) // nolint:errcheck
	}, nil
}
