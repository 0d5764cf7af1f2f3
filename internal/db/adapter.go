package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Adapter runs migration scripts against one target store and keeps its
// tracking table in step. Apply and Revert run the script and the tracking
// row change in one transaction under a store-level lock.
type Adapter interface {
	Engine() string
	Ping(ctx context.Context) error
	EnsureTrackingTable(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedRow, error)
	Apply(ctx context.Context, row AppliedRow, script string) error
	Revert(ctx context.Context, module, name, script string) error
	Close() error
}

// Open builds an adapter for the target. No connection is made until first
// use.
func Open(t Target) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(t.Engine)) {
	case "postgres", "postgresql", "pgx":
		return openPostgres(t)
	case "mysql":
		return openMySQL(t)
	case "sqlite", "sqlite3":
		return openSQLite(t)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngine, t.Engine)
	}
}

// dialect carries what differs between engines.
type dialect struct {
	engine      string
	createTable string
	bind        func(n int) string
	// unixTime stores applied_at as unix milliseconds.
	unixTime bool
	// sessionLock is taken on the connection before the transaction begins.
	sessionLock func(ctx context.Context, conn *sql.Conn, name string) (release func(), err error)
	// txLock is taken inside the transaction and released on commit.
	txLock func(ctx context.Context, tx *sql.Tx, name string) error
}

type sqlAdapter struct {
	db       *sql.DB
	d        dialect
	lockName string
}

func (a *sqlAdapter) Engine() string { return a.d.engine }

func (a *sqlAdapter) Close() error { return a.db.Close() }

func (a *sqlAdapter) Ping(ctx context.Context) error { return a.db.PingContext(ctx) }

func (a *sqlAdapter) EnsureTrackingTable(ctx context.Context) error {
	for _, stmt := range splitStatements(a.d.createTable) {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tracking table: %w", err)
		}
	}
	return nil
}

func (a *sqlAdapter) Applied(ctx context.Context) ([]AppliedRow, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT module, name, checksum, applied_at FROM `+TrackingTable+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppliedRow
	for rows.Next() {
		var r AppliedRow
		if a.d.unixTime {
			var ms int64
			if err := rows.Scan(&r.Module, &r.Name, &r.Checksum, &ms); err != nil {
				return nil, err
			}
			r.AppliedAt = time.UnixMilli(ms).UTC()
		} else if err := rows.Scan(&r.Module, &r.Name, &r.Checksum, &r.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (a *sqlAdapter) Apply(ctx context.Context, row AppliedRow, script string) error {
	if row.AppliedAt.IsZero() {
		row.AppliedAt = time.Now().UTC()
	}
	return a.inTx(ctx, func(tx *sql.Tx) error {
		checksum, found, err := a.lookup(ctx, tx, row.Module, row.Name)
		if err != nil {
			return err
		}
		if found {
			if checksum != row.Checksum {
				return fmt.Errorf("%w: %s/%s", ErrChecksumMismatch, row.Module, row.Name)
			}
			return fmt.Errorf("%w: %s/%s", ErrAlreadyApplied, row.Module, row.Name)
		}
		if err := execScript(ctx, tx, script); err != nil {
			return err
		}
		var appliedAt any = row.AppliedAt.UTC()
		if a.d.unixTime {
			appliedAt = row.AppliedAt.UnixMilli()
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (module, name, checksum, applied_at) VALUES (%s, %s, %s, %s)`,
			TrackingTable, a.d.bind(1), a.d.bind(2), a.d.bind(3), a.d.bind(4)),
			row.Module, row.Name, row.Checksum, appliedAt)
		return err
	})
}

func (a *sqlAdapter) Revert(ctx context.Context, module, name, script string) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		_, found, err := a.lookup(ctx, tx, module, name)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s/%s", ErrNotApplied, module, name)
		}
		if err := execScript(ctx, tx, script); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE module = %s AND name = %s`,
			TrackingTable, a.d.bind(1), a.d.bind(2)), module, name)
		return err
	})
}

func (a *sqlAdapter) lookup(ctx context.Context, tx *sql.Tx, module, name string) (string, bool, error) {
	var checksum string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT checksum FROM %s WHERE module = %s AND name = %s`,
		TrackingTable, a.d.bind(1), a.d.bind(2)), module, name).Scan(&checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return checksum, true, nil
}

func (a *sqlAdapter) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := a.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if a.d.sessionLock != nil {
		release, err := a.d.sessionLock(ctx, conn, a.lockName)
		if err != nil {
			return err
		}
		defer release()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if a.d.txLock != nil {
		if err := a.d.txLock(ctx, tx, a.lockName); err != nil {
			tx.Rollback() // nolint:errcheck
			return fmt.Errorf("lock: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		tx.Rollback() // nolint:errcheck
		return err
	}
	return tx.Commit()
}

func execScript(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits on semicolons outside quotes and line comments so
// scripts run the same way on every driver regardless of multi-statement
// support.
func splitStatements(sqlText string) []string {
	var (
		out       []string
		current   strings.Builder
		inSingle  bool
		inDouble  bool
		inComment bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" && !onlyComments(stmt) {
			out = append(out, stmt)
		}
		current.Reset()
	}

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inComment {
			current.WriteRune(r)
			if r == '\n' {
				inComment = false
			}
			continue
		}
		switch r {
		case '-':
			if !inSingle && !inDouble && i+1 < len(runes) && runes[i+1] == '-' {
				inComment = true
			}
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case ';':
			if !inSingle && !inDouble {
				flush()
				continue
			}
		}
		current.WriteRune(r)
	}
	flush()
	return out
}

func onlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
