package fleet

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnreachable means a store could not be read or written.
	ErrStoreUnreachable = errors.New("store unreachable")
	// ErrAlreadyInProgress is returned when another apply holds the store's lease.
	ErrAlreadyInProgress = errors.New("apply already in progress")
	// ErrBackupFailed aborts an apply before any migration runs.
	ErrBackupFailed = errors.New("backup failed")
	// ErrMigrationExecutionFailed wraps the failing script's error.
	ErrMigrationExecutionFailed = errors.New("migration execution failed")
	// ErrRollbackOutOfOrder is returned when the target is not the most
	// recently applied migration of its module.
	ErrRollbackOutOfOrder = errors.New("rollback out of order")
	ErrScheduleNotFound   = errors.New("scheduled migration not found")
	ErrTimeout            = errors.New("apply timed out")

	ErrStoreNotFound       = errors.New("store not found")
	ErrMigrationNotApplied = errors.New("migration is not applied")
	ErrUnknownMigration    = errors.New("unknown migration")
	ErrNoRollbackScript    = errors.New("migration has no rollback script")
	ErrInvalidSchedule     = errors.New("invalid scheduled migration")
	ErrInvalidSettings     = errors.New("invalid migration settings")
	ErrNoBackupHook        = errors.New("no backup hook configured")
)

func unreachable(err error) error {
	if errors.Is(err, ErrStoreUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnreachable, err)
}
