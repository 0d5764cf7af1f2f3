package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleet_migrator"

// AppliesTotal counts applyStore invocations that acquired a lease.
var AppliesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "applies_total",
		Help:      "Store apply operations by outcome",
	},
	[]string{"store_kind", "outcome"},
)

// MigrationsAppliedTotal counts individual migrations applied.
var MigrationsAppliedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "migrations_applied_total",
		Help:      "Migrations applied to stores",
	},
	[]string{"store_kind", "module"},
)

var RollbacksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollbacks_total",
		Help:      "Rollback attempts by outcome",
	},
	[]string{"outcome"},
)

// LeaseRejectionsTotal counts applies rejected because the store was busy.
var LeaseRejectionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lease_rejections_total",
		Help:      "Apply requests rejected with already in progress",
	},
)

var ScheduledDispatchTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_dispatch_total",
		Help:      "Scheduled migrations handed to the coordinator",
	},
	[]string{"outcome"},
)

var ApplyDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "apply_duration_seconds",
		Help:      "Wall time of store apply operations",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"store_kind"},
)

// PendingMigrations is refreshed on every fleet aggregation.
var PendingMigrations = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_migrations",
		Help:      "Pending migrations per store kind at last aggregation",
	},
	[]string{"store_kind"},
)
