package db

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

const sqliteTrackingTable = `
CREATE TABLE IF NOT EXISTS ` + TrackingTable + ` (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	module TEXT NOT NULL,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at INTEGER NOT NULL,
	UNIQUE (module, name)
);
`

// SQLite is single-writer; one open connection serialises applies, so no
// extra lock is taken.
func openSQLite(t Target) (Adapter, error) {
	db, err := sql.Open("sqlite", t.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &sqlAdapter{
		db:       db,
		lockName: t.LockName,
		d: dialect{
			engine:      "sqlite",
			createTable: sqliteTrackingTable,
			bind:        func(int) string { return "?" },
			unixTime:    true,
		},
	}, nil
}
