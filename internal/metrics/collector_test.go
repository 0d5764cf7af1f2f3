package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_ObserveApply(t *testing.T) {
	c := NewCollector()

	before := testutil.ToFloat64(AppliesTotal.WithLabelValues("tenant", "success"))
	c.ObserveApply("tenant", "success", 2*time.Second)
	after := testutil.ToFloat64(AppliesTotal.WithLabelValues("tenant", "success"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncMigrationApplied(t *testing.T) {
	c := NewCollector()

	before := testutil.ToFloat64(MigrationsAppliedTotal.WithLabelValues("master", "Core"))
	c.IncMigrationApplied("master", "Core")
	after := testutil.ToFloat64(MigrationsAppliedTotal.WithLabelValues("master", "Core"))

	assert.Equal(t, before+1, after)
}

func TestCollector_SetPending(t *testing.T) {
	c := NewCollector()

	c.SetPending("alerts", 7)

	assert.Equal(t, float64(7), testutil.ToFloat64(PendingMigrations.WithLabelValues("alerts")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	before := testutil.ToFloat64(LeaseRejectionsTotal)
	assert.NotPanics(t, func() {
		c.IncLeaseRejection()
		c.ObserveApply("tenant", "failure", time.Second)
		c.IncRollback("success")
		c.IncScheduledDispatch("success")
		c.SetPending("tenant", 1)
		c.IncMigrationApplied("tenant", "CRM")
	})
	assert.Equal(t, before, testutil.ToFloat64(LeaseRejectionsTotal))
}
