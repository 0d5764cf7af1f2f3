package metrics

import "time"

// Collector is the handle components record through. A nil *Collector is
// valid and records nothing.
type Collector struct{}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) ObserveApply(storeKind, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	AppliesTotal.WithLabelValues(storeKind, outcome).Inc()
	ApplyDuration.WithLabelValues(storeKind).Observe(elapsed.Seconds())
}

func (c *Collector) IncMigrationApplied(storeKind, module string) {
	if c == nil {
		return
	}
	MigrationsAppliedTotal.WithLabelValues(storeKind, module).Inc()
}

func (c *Collector) IncRollback(outcome string) {
	if c == nil {
		return
	}
	RollbacksTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) IncLeaseRejection() {
	if c == nil {
		return
	}
	LeaseRejectionsTotal.Inc()
}

func (c *Collector) IncScheduledDispatch(outcome string) {
	if c == nil {
		return
	}
	ScheduledDispatchTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetPending(storeKind string, count int) {
	if c == nil {
		return
	}
	PendingMigrations.WithLabelValues(storeKind).Set(float64(count))
}
