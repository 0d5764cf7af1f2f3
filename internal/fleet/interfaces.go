package fleet

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// TenantDirectory lists the tenant stores of the fleet. LookupTenant returns
// ErrStoreNotFound for ids it does not know.
type TenantDirectory interface {
	ListTenantStores(ctx context.Context) ([]StoreRef, error)
	LookupTenant(ctx context.Context, id StoreID) (StoreRef, error)
}

// Registry knows which migrations exist per store kind and which have been
// applied to each store. AppliedMigrationsFor returns migrations in the order
// they were applied.
type Registry interface {
	MigrationsFor(ctx context.Context, kind StoreKind) ([]MigrationDescriptor, error)
	AppliedMigrationsFor(ctx context.Context, id StoreID) ([]MigrationDescriptor, error)
	Execute(ctx context.Context, id StoreID, m MigrationDescriptor) error
	Reverse(ctx context.Context, id StoreID, m MigrationDescriptor) error
}

// ScriptSource is implemented by registries that can show script bodies.
type ScriptSource interface {
	Script(m MigrationDescriptor) (up string, down string, err error)
}

type BackupHook interface {
	Backup(ctx context.Context, ref StoreRef) error
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// HistoryLedger is append-only. List returns newest entries first.
type HistoryLedger interface {
	Append(ctx context.Context, entry HistoryEntry) error
	List(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
}

type SettingsStore interface {
	Get(ctx context.Context) (MigrationSettings, error)
	Replace(ctx context.Context, settings MigrationSettings) error
}

// ScheduleStore persists scheduled migrations. Consume removes a due entry
// and reports whether this caller won it; consumed ids are remembered so a
// late cancel can be told apart from an unknown id.
type ScheduleStore interface {
	Create(ctx context.Context, entry ScheduledMigration) error
	Get(ctx context.Context, id uuid.UUID) (ScheduledMigration, error)
	List(ctx context.Context) ([]ScheduledMigration, error)
	Due(ctx context.Context, now time.Time) ([]ScheduledMigration, error)
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	WasConsumed(ctx context.Context, id uuid.UUID) (bool, error)
}
