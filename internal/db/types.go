package db

import (
	"errors"
	"time"
)

// TrackingTable is created in every target store and records which
// migrations it has received.
const TrackingTable = "fleet_schema_migrations"

var (
	ErrAlreadyApplied    = errors.New("migration already applied")
	ErrNotApplied        = errors.New("migration not applied")
	ErrUnsupportedEngine = errors.New("unsupported engine")
	ErrLockNotAcquired   = errors.New("could not acquire store lock")
	ErrChecksumMismatch  = errors.New("migration already applied with different checksum")
)

// AppliedRow is one row of the tracking table.
type AppliedRow struct {
	Module    string
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Target says how to reach one store. LockName scopes the store-level lock
// taken around every apply and revert.
type Target struct {
	Engine   string
	DSN      string
	LockName string
}
