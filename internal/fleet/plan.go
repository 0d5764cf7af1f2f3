package fleet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

type PlanAction string

const (
	PlanApplyAll       PlanAction = "apply-all"
	PlanApplyMaster    PlanAction = "apply-master"
	PlanApplyAlerts    PlanAction = "apply-alerts"
	PlanApplyTenant    PlanAction = "apply-tenant"
	PlanRollback       PlanAction = "rollback"
	PlanCancelSchedule PlanAction = "cancel-schedule"
)

type PlanTarget struct {
	StoreID    StoreID               `json:"storeId"`
	Migrations []MigrationDescriptor `json:"migrations"`
	Error      string                `json:"error,omitempty"`
}

// Plan describes what a destructive action would touch. Token digests the
// affected set; an operator confirms by echoing it back, and a token that no
// longer matches a freshly computed plan means the fleet changed underneath.
type Plan struct {
	Action             PlanAction   `json:"action"`
	Subject            string       `json:"subject,omitempty"`
	Targets            []PlanTarget `json:"targets"`
	AffectedMigrations int          `json:"affectedMigrations"`
	Summary            string       `json:"summary"`
	Token              string       `json:"token"`
}

func (p Plan) Confirms(token string) bool {
	return token != "" && token == p.Token
}

// PlanApply previews an apply over ids with the given options.
func (c *Coordinator) PlanApply(ctx context.Context, action PlanAction, ids []StoreID, opts ApplyOptions) Plan {
	p := Plan{Action: action, Targets: make([]PlanTarget, 0, len(ids))}
	stores := 0
	for _, id := range ids {
		t := PlanTarget{StoreID: id, Migrations: []MigrationDescriptor{}}
		ref, err := c.resolver.Ref(ctx, id)
		if err == nil {
			var d storeDiff
			d, err = c.resolver.diff(ctx, ref)
			if err == nil {
				var pending []MigrationDescriptor
				pending, err = opts.narrow(d.declared, d.pending)
				if pending != nil {
					t.Migrations = pending
				}
			}
		}
		if err != nil {
			t.Error = err.Error()
		}
		if len(t.Migrations) > 0 {
			stores++
		}
		p.AffectedMigrations += len(t.Migrations)
		p.Targets = append(p.Targets, t)
	}
	switch {
	case p.AffectedMigrations == 0:
		p.Summary = "Nothing to apply: no pending migrations"
	case len(ids) == 1:
		p.Summary = fmt.Sprintf("Apply %d pending migration(s) to %s", p.AffectedMigrations, ids[0])
	default:
		p.Summary = fmt.Sprintf("Apply %d pending migration(s) across %d store(s)", p.AffectedMigrations, stores)
	}
	p.Token = planToken(p)
	return p
}

func (c *Coordinator) PlanApplyAll(ctx context.Context) (Plan, error) {
	ids, err := c.FleetIDs(ctx)
	if err != nil {
		return Plan{}, err
	}
	return c.PlanApply(ctx, PlanApplyAll, ids, ApplyOptions{}), nil
}

func (c *Coordinator) PlanRollback(ctx context.Context, id StoreID, module, name string) Plan {
	target := MigrationDescriptor{Module: module, Name: name, StoreKind: id.Kind()}
	p := Plan{
		Action:             PlanRollback,
		Targets:            []PlanTarget{{StoreID: id, Migrations: []MigrationDescriptor{target}}},
		AffectedMigrations: 1,
		Summary:            fmt.Sprintf("Roll back 1 migration (%s) on %s", target.Key(), id),
	}
	p.Token = planToken(p)
	return p
}

// PlanCancel previews cancelling a scheduled entry: the migrations it would
// have applied are the ones left pending.
func (c *Coordinator) PlanCancel(ctx context.Context, entry ScheduledMigration) Plan {
	ids := []StoreID{entry.StoreID}
	if entry.StoreID == AllStores {
		if all, err := c.FleetIDs(ctx); err == nil {
			ids = all
		}
	}
	p := c.PlanApply(ctx, PlanCancelSchedule, ids, entry.Options())
	p.Subject = entry.ID.String()
	p.Summary = fmt.Sprintf("Cancel schedule %s for %s (%d pending migration(s) will not run)",
		entry.ID, entry.StoreID, p.AffectedMigrations)
	p.Token = planToken(p)
	return p
}

func planToken(p Plan) string {
	lines := make([]string, 0, p.AffectedMigrations+1)
	for _, t := range p.Targets {
		for _, m := range t.Migrations {
			lines = append(lines, string(t.StoreID)+"|"+m.Key())
		}
	}
	sort.Strings(lines)
	h := sha256.New()
	h.Write([]byte(string(p.Action) + "\n" + p.Subject + "\n"))
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
