package fleet

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type StoreKind string

const (
	KindMaster StoreKind = "master"
	KindAlerts StoreKind = "alerts"
	KindTenant StoreKind = "tenant"
)

// StoreID names one store in the fleet. The two singleton stores use their
// kind as id; tenant stores use the tenant id.
type StoreID string

const (
	MasterStore StoreID = "master"
	AlertsStore StoreID = "alerts"
	// AllStores is only meaningful as a scheduled target.
	AllStores StoreID = "all"
)

func (id StoreID) Kind() StoreKind {
	switch id {
	case MasterStore:
		return KindMaster
	case AlertsStore:
		return KindAlerts
	default:
		return KindTenant
	}
}

func (id StoreID) String() string { return string(id) }

// StoreRef is what the coordinator knows about a store before touching it.
// Modules restricts tenant stores to the modules the tenant subscribes to;
// empty means every module.
type StoreRef struct {
	ID      StoreID   `json:"id"`
	Kind    StoreKind `json:"kind"`
	Name    string    `json:"name,omitempty"`
	Code    string    `json:"code,omitempty"`
	Modules []string  `json:"modules,omitempty"`
}

func (r StoreRef) allowsModule(module string) bool {
	if len(r.Modules) == 0 {
		return true
	}
	for _, m := range r.Modules {
		if strings.EqualFold(m, module) {
			return true
		}
	}
	return false
}

type MigrationDescriptor struct {
	Module    string    `json:"module"`
	Name      string    `json:"name"`
	StoreKind StoreKind `json:"storeKind"`
}

func (d MigrationDescriptor) Key() string { return d.Module + "/" + d.Name }

func (d MigrationDescriptor) IsZero() bool { return d.Module == "" && d.Name == "" }

type ModulePending struct {
	Module     string   `json:"module"`
	Migrations []string `json:"migrations"`
}

type ApplyState string

const (
	StateIdle     ApplyState = "idle"
	StateApplying ApplyState = "applying"
	StateApplied  ApplyState = "applied"
	StateFailed   ApplyState = "failed"
)

type StoreStatus struct {
	StoreID              StoreID               `json:"storeId"`
	StoreKind            StoreKind             `json:"storeKind"`
	Name                 string                `json:"name,omitempty"`
	AppliedMigrations    []MigrationDescriptor `json:"appliedMigrations"`
	PendingMigrations    []ModulePending       `json:"pendingMigrations"`
	HasPendingMigrations bool                  `json:"hasPendingMigrations"`
	State                ApplyState            `json:"state"`
	Error                string                `json:"error,omitempty"`
}

// PendingCount counts pending migrations across all modules.
func (s StoreStatus) PendingCount() int {
	n := 0
	for _, m := range s.PendingMigrations {
		n += len(m.Migrations)
	}
	return n
}

type TenantSummary struct {
	TotalTenants                 int           `json:"totalTenants"`
	TenantsWithPendingMigrations int           `json:"tenantsWithPendingMigrations"`
	TenantsUpToDate              int           `json:"tenantsUpToDate"`
	TenantsWithErrors            int           `json:"tenantsWithErrors"`
	Stores                       []StoreStatus `json:"stores"`
	DirectoryError               string        `json:"directoryError,omitempty"`
}

type CentralStatus struct {
	Master                  StoreStatus   `json:"master"`
	Alerts                  StoreStatus   `json:"alerts"`
	Tenants                 TenantSummary `json:"tenants"`
	TotalPendingMigrations  int           `json:"totalPendingMigrations"`
	HasAnyPendingMigrations bool          `json:"hasAnyPendingMigrations"`
	GeneratedAt             time.Time     `json:"generatedAt"`
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

type Action string

const (
	ActionApply    Action = "apply"
	ActionRollback Action = "rollback"
	ActionBackup   Action = "backup"
)

type HistoryEntry struct {
	ID          uuid.UUID           `json:"id"`
	StoreID     StoreID             `json:"storeId"`
	Migration   MigrationDescriptor `json:"migrationDescriptor"`
	Action      Action              `json:"action"`
	AppliedAt   time.Time           `json:"appliedAt"`
	Outcome     Outcome             `json:"outcome"`
	ErrorDetail string              `json:"errorDetail,omitempty"`
	Actor       string              `json:"actor,omitempty"`
}

type HistoryFilter struct {
	StoreID StoreID
	Limit   int
}

type ScheduledMigration struct {
	ID            uuid.UUID `json:"id"`
	StoreID       StoreID   `json:"storeId"`
	ModuleName    string    `json:"moduleName,omitempty"`
	MigrationName string    `json:"migrationName,omitempty"`
	ScheduledTime time.Time `json:"scheduledTime"`
	CreatedAt     time.Time `json:"createdAt"`
	CreatedBy     string    `json:"createdBy,omitempty"`
}

// Options converts the entry's optional module/migration into apply options.
func (s ScheduledMigration) Options() ApplyOptions {
	return ApplyOptions{Module: s.ModuleName, Migration: s.MigrationName}
}

const maxMigrationTimeoutSeconds = 24 * 60 * 60

type MigrationSettings struct {
	AutoApplyMigrations     bool `json:"autoApplyMigrations"`
	NotifyOnSuccess         bool `json:"notifyOnSuccess"`
	NotifyOnError           bool `json:"notifyOnError"`
	BackupBeforeMigration   bool `json:"backupBeforeMigration"`
	MigrationTimeoutSeconds int  `json:"migrationTimeoutSeconds"`
}

func DefaultSettings() MigrationSettings {
	return MigrationSettings{
		AutoApplyMigrations:     false,
		NotifyOnSuccess:         true,
		NotifyOnError:           true,
		BackupBeforeMigration:   false,
		MigrationTimeoutSeconds: 300,
	}
}

func (s MigrationSettings) Validate() error {
	if s.MigrationTimeoutSeconds < 0 || s.MigrationTimeoutSeconds > maxMigrationTimeoutSeconds {
		return ErrInvalidSettings
	}
	return nil
}

// ApplyOptions narrows an apply. Module restricts it to one module; Migration
// stops it once that migration (within Module) has been applied.
type ApplyOptions struct {
	Module    string `json:"module,omitempty"`
	Migration string `json:"migration,omitempty"`
}

type ApplyResult struct {
	StoreID           StoreID               `json:"storeId"`
	State             ApplyState            `json:"state"`
	AppliedMigrations []MigrationDescriptor `json:"appliedMigrations"`
	FailedMigration   *MigrationDescriptor  `json:"failedMigration,omitempty"`
	Message           string                `json:"message"`
	Error             string                `json:"error,omitempty"`
	Err               error                 `json:"-"`
}

func (r ApplyResult) Success() bool { return r.Err == nil }

// BatchResult holds one independent result per store.
type BatchResult map[StoreID]ApplyResult

func (b BatchResult) SuccessCount() int {
	n := 0
	for _, r := range b {
		if r.Success() {
			n++
		}
	}
	return n
}

func (b BatchResult) FailureCount() int { return len(b) - b.SuccessCount() }

func (b BatchResult) AppliedCount() int {
	n := 0
	for _, r := range b {
		n += len(r.AppliedMigrations)
	}
	return n
}

type Notification struct {
	StoreID           StoreID               `json:"storeId"`
	StoreKind         StoreKind             `json:"storeKind"`
	Outcome           Outcome               `json:"outcome"`
	AppliedMigrations []MigrationDescriptor `json:"appliedMigrations"`
	FailedMigration   *MigrationDescriptor  `json:"failedMigration,omitempty"`
	Error             string                `json:"error,omitempty"`
	At                time.Time             `json:"at"`
}
