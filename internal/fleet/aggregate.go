package fleet

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"tenant_fleet_migrator/internal/metrics"
)

// Aggregator folds the status of every store into one CentralStatus. It takes
// no locks and never fails; unreachable stores are reported per store.
type Aggregator struct {
	resolver    *Resolver
	directory   TenantDirectory
	concurrency int
	metrics     *metrics.Collector
	now         func() time.Time
}

func NewAggregator(resolver *Resolver, directory TenantDirectory, concurrency int, collector *metrics.Collector) *Aggregator {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Aggregator{
		resolver:    resolver,
		directory:   directory,
		concurrency: concurrency,
		metrics:     collector,
		now:         time.Now,
	}
}

func (a *Aggregator) Aggregate(ctx context.Context) CentralStatus {
	out := CentralStatus{GeneratedAt: a.now().UTC()}

	tenants, dirErr := a.directory.ListTenantStores(ctx)
	if dirErr != nil {
		out.Tenants.DirectoryError = unreachable(dirErr).Error()
		tenants = nil
	}
	statuses := make([]StoreStatus, len(tenants))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	g.Go(func() error {
		out.Master = a.resolver.Resolve(ctx, MasterStore)
		return nil
	})
	g.Go(func() error {
		out.Alerts = a.resolver.Resolve(ctx, AlertsStore)
		return nil
	})
	for i, ref := range tenants {
		ref.Kind = KindTenant
		g.Go(func() error {
			statuses[i] = a.resolver.ResolveRef(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	tenantPending := 0
	out.Tenants.TotalTenants = len(statuses)
	out.Tenants.Stores = statuses
	for _, s := range statuses {
		switch {
		case s.Error != "":
			out.Tenants.TenantsWithErrors++
		case s.HasPendingMigrations:
			out.Tenants.TenantsWithPendingMigrations++
		default:
			out.Tenants.TenantsUpToDate++
		}
		tenantPending += s.PendingCount()
	}

	out.TotalPendingMigrations = out.Master.PendingCount() + out.Alerts.PendingCount() + tenantPending
	out.HasAnyPendingMigrations = out.TotalPendingMigrations > 0

	a.metrics.SetPending(string(KindMaster), out.Master.PendingCount())
	a.metrics.SetPending(string(KindAlerts), out.Alerts.PendingCount())
	a.metrics.SetPending(string(KindTenant), tenantPending)
	return out
}
