package fleet_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/fleet/fleettest"
	"tenant_fleet_migrator/internal/store/memory"
)

type harness struct {
	registry  *fleettest.Registry
	directory *fleettest.Directory
	history   *memory.History
	settings  *memory.Settings
	backup    *fleettest.Backup
	notifier  *fleettest.Notifier
	coord     *fleet.Coordinator
}

func newHarness(t *testing.T, tenants ...fleet.StoreID) *harness {
	t.Helper()
	h := &harness{
		registry:  fleettest.NewRegistry(),
		directory: fleettest.NewDirectory(tenants...),
		history:   memory.NewHistory(),
		settings:  memory.NewSettings(fleet.DefaultSettings()),
		backup:    &fleettest.Backup{},
		notifier:  &fleettest.Notifier{},
	}
	h.coord = fleet.NewCoordinator(fleet.Options{
		Registry:     h.registry,
		Directory:    h.directory,
		History:      h.history,
		Settings:     h.settings,
		Backup:       h.backup,
		Notifier:     h.notifier,
		ApplyTimeout: 5 * time.Second,
	})
	return h
}

func (h *harness) entries(t *testing.T, id fleet.StoreID) []fleet.HistoryEntry {
	t.Helper()
	got, err := h.history.List(context.Background(), fleet.HistoryFilter{StoreID: id})
	require.NoError(t, err)
	return got
}

func TestResolve_GroupsPendingByModuleInDeclaredOrder(t *testing.T) {
	h := newHarness(t, "t1")
	h.registry.
		Declare(fleet.KindTenant, "Core", "001_init", "002_units").
		Declare(fleet.KindTenant, "CRM", "001_leads", "002_deals").
		MarkApplied("t1", "Core", "001_init")

	status := h.coord.Status(context.Background(), "t1")

	require.Empty(t, status.Error)
	assert.Equal(t, []fleet.ModulePending{
		{Module: "Core", Migrations: []string{"002_units"}},
		{Module: "CRM", Migrations: []string{"001_leads", "002_deals"}},
	}, status.PendingMigrations)
	assert.True(t, status.HasPendingMigrations)
	assert.Equal(t, 3, status.PendingCount())
	assert.Len(t, status.AppliedMigrations, 1)
}

func TestResolve_UnreachableStoreIsDistinctFromUpToDate(t *testing.T) {
	h := newHarness(t, "t1")
	h.registry.Declare(fleet.KindTenant, "Core", "001_init")
	h.registry.SetUnreachable("t1", true)

	status := h.coord.Status(context.Background(), "t1")

	assert.NotEmpty(t, status.Error)
	assert.False(t, status.HasPendingMigrations)
	assert.Empty(t, status.PendingMigrations)
	assert.Empty(t, status.AppliedMigrations)
}

func TestResolve_TenantModuleAccess(t *testing.T) {
	h := newHarness(t)
	h.directory.Add(fleet.StoreRef{ID: "t-crm", Name: "CRM only", Modules: []string{"crm"}})
	h.registry.
		Declare(fleet.KindTenant, "Core", "001_init").
		Declare(fleet.KindTenant, "CRM", "001_leads").
		Declare(fleet.KindTenant, "HR", "001_staff")

	status := h.coord.Status(context.Background(), "t-crm")

	assert.Equal(t, []fleet.ModulePending{{Module: "CRM", Migrations: []string{"001_leads"}}}, status.PendingMigrations)
	assert.Equal(t, "CRM only", status.Name)
}

func TestAggregate_Scenario(t *testing.T) {
	h := newHarness(t, "T1", "T2")
	h.registry.
		Declare(fleet.KindMaster, "Core", "M1").
		MarkApplied(fleet.MasterStore, "Core", "M1").
		Declare(fleet.KindAlerts, "Alerts", "A").
		Declare(fleet.KindTenant, "Core", "B", "C").
		MarkApplied("T2", "Core", "B", "C")

	status := h.coord.Aggregate(context.Background())

	assert.Equal(t, 3, status.TotalPendingMigrations)
	assert.True(t, status.HasAnyPendingMigrations)
	assert.Equal(t, 2, status.Tenants.TotalTenants)
	assert.Equal(t, 1, status.Tenants.TenantsWithPendingMigrations)
	assert.Equal(t, 1, status.Tenants.TenantsUpToDate)
	assert.Equal(t, 0, status.Tenants.TenantsWithErrors)
	assert.False(t, status.Master.HasPendingMigrations)
	assert.Equal(t, 1, status.Alerts.PendingCount())
}

func TestAggregate_IsolatesTenantFailures(t *testing.T) {
	h := newHarness(t, "T1", "T2", "T3")
	h.registry.Declare(fleet.KindTenant, "Core", "B")
	h.registry.MarkApplied("T2", "Core", "B")
	h.registry.SetUnreachable("T3", true)

	status := h.coord.Aggregate(context.Background())

	assert.Equal(t, 3, status.Tenants.TotalTenants)
	assert.Equal(t, 1, status.Tenants.TenantsWithPendingMigrations)
	assert.Equal(t, 1, status.Tenants.TenantsUpToDate)
	assert.Equal(t, 1, status.Tenants.TenantsWithErrors)
	assert.Equal(t, 1, status.TotalPendingMigrations)
}

func TestAggregate_DirectoryFailureStillRendersSingletons(t *testing.T) {
	h := newHarness(t)
	h.registry.Declare(fleet.KindMaster, "Core", "M1")
	h.directory.Fail(errors.New("directory down"))

	status := h.coord.Aggregate(context.Background())

	assert.NotEmpty(t, status.Tenants.DirectoryError)
	assert.Equal(t, 1, status.TotalPendingMigrations)
	assert.Empty(t, status.Master.Error)
}

func TestApplyStore_AppliesInOrderAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "t1")
	h.registry.
		Declare(fleet.KindTenant, "Core", "001", "002").
		Declare(fleet.KindTenant, "CRM", "001")

	res, err := h.coord.ApplyStore(ctx, "t1", fleet.ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, fleet.StateApplied, res.State)
	assert.Equal(t, []string{"t1|Core/001", "t1|Core/002", "t1|CRM/001"}, h.registry.Executed())
	require.Len(t, h.entries(t, "t1"), 3)
	for _, e := range h.entries(t, "t1") {
		assert.Equal(t, fleet.OutcomeSuccess, e.Outcome)
		assert.Equal(t, fleet.ActionApply, e.Action)
	}

	again, err := h.coord.ApplyStore(ctx, "t1", fleet.ApplyOptions{})
	require.NoError(t, err)
	assert.Empty(t, again.AppliedMigrations)
	assert.Len(t, h.entries(t, "t1"), 3, "no-op apply must not append history")
	assert.Equal(t, fleet.StateApplied, h.coord.State("t1"))
}

func TestApplyStore_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "S")
	h.registry.Declare(fleet.KindTenant, "M", "A1", "A2").FailOn("S", "M", "A1")

	res, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{})

	require.ErrorIs(t, err, fleet.ErrMigrationExecutionFailed)
	assert.Equal(t, fleet.StateFailed, res.State)
	require.NotNil(t, res.FailedMigration)
	assert.Equal(t, "A1", res.FailedMigration.Name)
	assert.Equal(t, []string{"S|M/A1"}, h.registry.Executed(), "A2 must never be attempted")

	entries := h.entries(t, "S")
	require.Len(t, entries, 1)
	assert.Equal(t, fleet.OutcomeFailure, entries[0].Outcome)

	status := h.coord.Status(ctx, "S")
	assert.Equal(t, []fleet.ModulePending{{Module: "M", Migrations: []string{"A1", "A2"}}}, status.PendingMigrations)
	assert.Equal(t, fleet.StateFailed, status.State)
}

func TestApplyStore_RejectsConcurrentApply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "S")
	h.registry.Declare(fleet.KindTenant, "M", "A1")

	entered := make(chan struct{})
	release := make(chan struct{})
	h.registry.BeforeExecute = func(fleet.StoreID, fleet.MigrationDescriptor) {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{})
		done <- err
	}()
	<-entered

	assert.Equal(t, fleet.StateApplying, h.coord.State("S"))
	_, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{})
	assert.ErrorIs(t, err, fleet.ErrAlreadyInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, h.registry.Executed(), 1, "the rejected call must not start a second execution")
}

func TestApplyStore_BackupFailureStartsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "S")
	h.registry.Declare(fleet.KindTenant, "M", "A1")
	settings := fleet.DefaultSettings()
	settings.BackupBeforeMigration = true
	require.NoError(t, h.settings.Replace(ctx, settings))
	h.backup.Err = errors.New("disk full")

	_, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{})

	require.ErrorIs(t, err, fleet.ErrBackupFailed)
	assert.Empty(t, h.registry.Executed())
	assert.Equal(t, []fleet.StoreID{"S"}, h.backup.Calls())
	assert.True(t, h.coord.Status(ctx, "S").HasPendingMigrations)
	entries := h.entries(t, "S")
	require.Len(t, entries, 1)
	assert.Equal(t, fleet.ActionBackup, entries[0].Action)
}

func TestApplyStore_SkipsBackupWhenNothingPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "S")
	settings := fleet.DefaultSettings()
	settings.BackupBeforeMigration = true
	require.NoError(t, h.settings.Replace(ctx, settings))

	_, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{})

	require.NoError(t, err)
	assert.Empty(t, h.backup.Calls())
}

func TestApplyStore_NotifiesOncePerInvocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "S")
	h.registry.Declare(fleet.KindTenant, "M", "A1", "A2", "A3")

	_, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{})
	require.NoError(t, err)

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, fleet.OutcomeSuccess, sent[0].Outcome)
	assert.Len(t, sent[0].AppliedMigrations, 3)
}

func TestApplyStore_NotificationFlags(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "S")
	h.registry.Declare(fleet.KindTenant, "M", "A1").FailOn("S", "M", "A1")
	require.NoError(t, h.settings.Replace(ctx, fleet.MigrationSettings{NotifyOnSuccess: true, NotifyOnError: false}))

	_, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{})

	require.Error(t, err)
	assert.Empty(t, h.notifier.Sent())
}

func TestApplyStore_TimeoutReleasesLease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "S")
	h.coord = fleet.NewCoordinator(fleet.Options{
		Registry:     h.registry,
		Directory:    h.directory,
		History:      h.history,
		Settings:     memory.NewSettings(fleet.MigrationSettings{}),
		ApplyTimeout: 50 * time.Millisecond,
	})
	h.registry.Declare(fleet.KindTenant, "M", "A1", "A2")
	release := make(chan struct{})
	h.registry.BeforeExecute = func(fleet.StoreID, fleet.MigrationDescriptor) { <-release }
	defer close(release)

	res, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{})

	require.ErrorIs(t, err, fleet.ErrTimeout)
	assert.Equal(t, fleet.StateFailed, res.State)
	require.NotNil(t, res.FailedMigration)
	assert.Equal(t, "A1", res.FailedMigration.Name)
	assert.Equal(t, fleet.StateFailed, h.coord.State("S"))
	entries := h.entries(t, "S")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Migration.IsZero())
	assert.Equal(t, fleet.OutcomeFailure, entries[0].Outcome)
	assert.Contains(t, entries[0].ErrorDetail, fleet.ErrTimeout.Error())
}

// waitForEntries polls the ledger until the abandoned run has written.
func (h *harness) waitForEntries(t *testing.T, id fleet.StoreID, n int) []fleet.HistoryEntry {
	t.Helper()
	var got []fleet.HistoryEntry
	require.Eventually(t, func() bool {
		got = h.entries(t, id)
		return len(got) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestApplyStore_TimedOutMigrationRecordedOnce(t *testing.T) {
	for _, fails := range []bool{false, true} {
		h := newHarness(t, "S")
		h.coord = fleet.NewCoordinator(fleet.Options{
			Registry:     h.registry,
			Directory:    h.directory,
			History:      h.history,
			Settings:     memory.NewSettings(fleet.MigrationSettings{}),
			ApplyTimeout: 50 * time.Millisecond,
		})
		h.registry.Declare(fleet.KindTenant, "M", "A1", "A2")
		if fails {
			h.registry.FailOn("S", "M", "A1")
		}
		release := make(chan struct{})
		h.registry.BeforeExecute = func(fleet.StoreID, fleet.MigrationDescriptor) { <-release }

		_, err := h.coord.ApplyStore(context.Background(), "S", fleet.ApplyOptions{})
		require.ErrorIs(t, err, fleet.ErrTimeout)
		close(release)

		entries := h.waitForEntries(t, "S", 2)
		var a1 []fleet.HistoryEntry
		for _, e := range entries {
			if e.Migration.Name == "A1" {
				a1 = append(a1, e)
			}
			assert.NotEqual(t, "A2", e.Migration.Name, "nothing starts after a timeout")
		}
		require.Len(t, a1, 1, "fails=%v", fails)
		if fails {
			assert.Equal(t, fleet.OutcomeFailure, a1[0].Outcome)
		} else {
			assert.Equal(t, fleet.OutcomeSuccess, a1[0].Outcome)
		}
	}
}

func TestApplyStore_RemovedTenantIsUnreachable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "gone")
	h.directory.Remove("gone")

	_, err := h.coord.ApplyStore(ctx, "gone", fleet.ApplyOptions{})

	require.ErrorIs(t, err, fleet.ErrStoreUnreachable)
	assert.ErrorIs(t, err, fleet.ErrStoreNotFound)
	entries := h.entries(t, "gone")
	require.Len(t, entries, 1)
	assert.Equal(t, fleet.OutcomeFailure, entries[0].Outcome)
}

func TestApplyStore_UntilMigration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "S")
	h.registry.
		Declare(fleet.KindTenant, "Core", "001", "002", "003").
		Declare(fleet.KindTenant, "CRM", "001")

	res, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{Module: "Core", Migration: "002"})

	require.NoError(t, err)
	assert.Len(t, res.AppliedMigrations, 2)
	assert.Equal(t, []string{"S|Core/001", "S|Core/002"}, h.registry.Executed())
}

func TestApplyBatch_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "T1", "T2")
	h.registry.Declare(fleet.KindTenant, "M", "X1").
		FailOn("T1", "M", "X1").
		MarkApplied("T2", "M", "X1")

	results := h.coord.ApplyBatch(ctx, []fleet.StoreID{"T1", "T2"}, fleet.ApplyOptions{})

	require.Len(t, results, 2)
	assert.Equal(t, fleet.StateFailed, results["T1"].State)
	assert.ErrorIs(t, results["T1"].Err, fleet.ErrMigrationExecutionFailed)
	assert.Equal(t, fleet.StateApplied, results["T2"].State)
	assert.NoError(t, results["T2"].Err)
	assert.Len(t, h.entries(t, "T1"), 1)
	assert.Empty(t, h.entries(t, "T2"))
	assert.Equal(t, 1, results.SuccessCount())
	assert.Equal(t, 1, results.FailureCount())
}

func TestApplyAll_CoversWholeFleet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "T1")
	h.registry.
		Declare(fleet.KindMaster, "Core", "m1").
		Declare(fleet.KindAlerts, "Alerts", "a1").
		Declare(fleet.KindTenant, "Core", "t1")

	results, err := h.coord.ApplyAll(ctx)

	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, 3, results.AppliedCount())
	assert.False(t, h.coord.Aggregate(ctx).HasAnyPendingMigrations)
}

func TestRollback_EnforcesReverseOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "S")
	h.registry.Declare(fleet.KindTenant, "M", "A1", "A2").MarkApplied("S", "M", "A1", "A2")

	_, err := h.coord.Rollback(ctx, "S", "M", "A1")
	require.ErrorIs(t, err, fleet.ErrRollbackOutOfOrder)
	assert.Empty(t, h.registry.Reversed())
	entries := h.entries(t, "S")
	require.Len(t, entries, 1)
	assert.Equal(t, fleet.ActionRollback, entries[0].Action)
	assert.Equal(t, fleet.OutcomeFailure, entries[0].Outcome)

	entry, err := h.coord.Rollback(ctx, "S", "M", "A2")
	require.NoError(t, err)
	assert.Equal(t, fleet.OutcomeSuccess, entry.Outcome)
	assert.Equal(t, []string{"S|M/A2"}, h.registry.Reversed())

	status := h.coord.Status(ctx, "S")
	assert.Equal(t, []fleet.ModulePending{{Module: "M", Migrations: []string{"A2"}}}, status.PendingMigrations)
}

func TestRollback_NotApplied(t *testing.T) {
	h := newHarness(t, "S")
	h.registry.Declare(fleet.KindTenant, "M", "A1")

	_, err := h.coord.Rollback(context.Background(), "S", "M", "A1")

	assert.ErrorIs(t, err, fleet.ErrMigrationNotApplied)
}

func TestHistory_RecordsActor(t *testing.T) {
	h := newHarness(t, "S")
	h.registry.Declare(fleet.KindTenant, "M", "A1")
	ctx := fleet.WithActor(context.Background(), "ops@example.com")

	_, err := h.coord.ApplyStore(ctx, "S", fleet.ApplyOptions{})
	require.NoError(t, err)

	entries := h.entries(t, "S")
	require.Len(t, entries, 1)
	assert.Equal(t, "ops@example.com", entries[0].Actor)
}

func TestPlanApply_TokenTracksPendingSet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "T1")
	h.registry.Declare(fleet.KindTenant, "Core", "001", "002")

	plan := h.coord.PlanApply(ctx, fleet.PlanApplyTenant, []fleet.StoreID{"T1"}, fleet.ApplyOptions{})
	assert.Equal(t, 2, plan.AffectedMigrations)
	assert.Equal(t, "Apply 2 pending migration(s) to T1", plan.Summary)
	assert.True(t, plan.Confirms(plan.Token))
	assert.False(t, plan.Confirms(""))

	same := h.coord.PlanApply(ctx, fleet.PlanApplyTenant, []fleet.StoreID{"T1"}, fleet.ApplyOptions{})
	assert.Equal(t, plan.Token, same.Token)

	h.registry.MarkApplied("T1", "Core", "001")
	changed := h.coord.PlanApply(ctx, fleet.PlanApplyTenant, []fleet.StoreID{"T1"}, fleet.ApplyOptions{})
	assert.NotEqual(t, plan.Token, changed.Token)
	assert.Equal(t, 1, changed.AffectedMigrations)
}

func TestPreview_ListsPendingScripts(t *testing.T) {
	h := newHarness(t, "T1")
	h.registry.Declare(fleet.KindTenant, "CRM", "001_leads", "002_deals")
	h.registry.SetScript("CRM", "001_leads", "CREATE TABLE leads (id int);")
	h.registry.SetScript("CRM", "002_deals", "CREATE TABLE deals (id int); ALTER TABLE leads ADD COLUMN deal_id int;")

	p, err := h.coord.Preview(context.Background(), "T1", "crm")

	require.NoError(t, err)
	assert.Len(t, p.Migrations, 2)
	assert.Equal(t, []string{"leads", "deals"}, p.AffectedTables)
	assert.Equal(t, 4, p.EstimatedDurationSeconds)
	assert.Contains(t, p.SQLScript, "-- CRM/001_leads")
}

func TestApplyBudget_FollowsSettingsAndBatchShape(t *testing.T) {
	ctx := context.Background()
	settings := memory.NewSettings(fleet.MigrationSettings{})
	coord := fleet.NewCoordinator(fleet.Options{
		Registry:         fleettest.NewRegistry(),
		Directory:        fleettest.NewDirectory(),
		History:          memory.NewHistory(),
		Settings:         settings,
		ApplyTimeout:     time.Minute,
		BatchConcurrency: 4,
	})

	assert.Equal(t, time.Minute, coord.ApplyBudget(ctx, 1))
	assert.Equal(t, 2*time.Minute, coord.ApplyBudget(ctx, 5))

	require.NoError(t, settings.Replace(ctx, fleet.MigrationSettings{MigrationTimeoutSeconds: 600}))
	assert.Equal(t, 10*time.Minute, coord.ApplyBudget(ctx, 1))
	// 22 stores: the last one starts after at most 6 ceilings, then runs one.
	assert.Equal(t, 70*time.Minute, coord.ApplyBudget(ctx, 22))
}
