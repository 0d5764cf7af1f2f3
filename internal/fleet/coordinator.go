package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tenant_fleet_migrator/internal/metrics"
)

type Options struct {
	Registry  Registry
	Directory TenantDirectory
	History   HistoryLedger
	Settings  SettingsStore
	Backup    BackupHook
	Notifier  Notifier
	Metrics   *metrics.Collector
	Logger    Logger

	// ApplyTimeout is the Applying ceiling used when settings leave it at 0.
	ApplyTimeout      time.Duration
	StatusConcurrency int
	BatchConcurrency  int
}

// Coordinator runs applies and rollbacks. Each store has a single-writer
// lease held for the whole apply; a second request for a busy store fails
// with ErrAlreadyInProgress instead of queuing.
type Coordinator struct {
	registry  Registry
	directory TenantDirectory
	history   HistoryLedger
	settings  SettingsStore
	backup    BackupHook
	notifier  Notifier
	metrics   *metrics.Collector
	logger    Logger

	resolver   *Resolver
	aggregator *Aggregator
	leases     *leaseTable

	applyTimeout     time.Duration
	batchConcurrency int
	now              func() time.Time
}

func NewCoordinator(opts Options) *Coordinator {
	leases := &leaseTable{}
	resolver := &Resolver{registry: opts.Registry, directory: opts.Directory, leases: leases}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 5 * time.Minute
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		registry:         opts.Registry,
		directory:        opts.Directory,
		history:          opts.History,
		settings:         opts.Settings,
		backup:           opts.Backup,
		notifier:         opts.Notifier,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
		resolver:         resolver,
		aggregator:       NewAggregator(resolver, opts.Directory, opts.StatusConcurrency, opts.Metrics),
		leases:           leases,
		applyTimeout:     opts.ApplyTimeout,
		batchConcurrency: opts.BatchConcurrency,
		now:              time.Now,
	}
}

func (c *Coordinator) Resolver() *Resolver { return c.resolver }

// Lookup identifies a store without reading it.
func (c *Coordinator) Lookup(ctx context.Context, id StoreID) (StoreRef, error) {
	return c.resolver.Ref(ctx, id)
}

func (c *Coordinator) Aggregate(ctx context.Context) CentralStatus {
	return c.aggregator.Aggregate(ctx)
}

func (c *Coordinator) Status(ctx context.Context, id StoreID) StoreStatus {
	return c.resolver.Resolve(ctx, id)
}

func (c *Coordinator) State(id StoreID) ApplyState { return c.leases.state(id) }

func (c *Coordinator) ApplyMaster(ctx context.Context) (ApplyResult, error) {
	return c.ApplyStore(ctx, MasterStore, ApplyOptions{})
}

func (c *Coordinator) ApplyAlerts(ctx context.Context) (ApplyResult, error) {
	return c.ApplyStore(ctx, AlertsStore, ApplyOptions{})
}

// ApplyStore applies the store's pending migrations in module-then-declared
// order and stops at the first failure. A store with nothing pending is a
// no-op success. Once started, the apply runs to completion even if ctx is
// cancelled; if it outlives the timeout the caller gets ErrTimeout, the lease
// is released and the run stops before its next migration.
func (c *Coordinator) ApplyStore(ctx context.Context, id StoreID, opts ApplyOptions) (ApplyResult, error) {
	start := c.now()
	epoch, ok := c.leases.acquire(id)
	if !ok {
		c.metrics.IncLeaseRejection()
		err := fmt.Errorf("%w: store %s", ErrAlreadyInProgress, id)
		return ApplyResult{
			StoreID:           id,
			State:             StateApplying,
			AppliedMigrations: []MigrationDescriptor{},
			Message:           "another apply is running on this store",
			Error:             err.Error(),
			Err:               err,
		}, err
	}

	settings, err := c.settings.Get(ctx)
	if err != nil {
		c.leases.release(id, epoch, StateFailed)
		err = fmt.Errorf("load migration settings: %w", err)
		return failedResult(id, nil, nil, err), err
	}

	timeout := c.ceiling(settings)

	run := &applyRun{id: id, opts: opts, settings: settings, actor: ActorFrom(ctx)}
	done := make(chan ApplyResult, 1)
	runCtx := context.WithoutCancel(ctx)
	go func() {
		done <- c.execute(runCtx, run)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res ApplyResult
	select {
	case res = <-done:
		final := StateApplied
		if res.Err != nil {
			final = StateFailed
		}
		c.leases.release(id, epoch, final)
	case <-timer.C:
		run.abandon()
		c.leases.release(id, epoch, StateFailed)
		current := run.inFlight()
		terr := fmt.Errorf("%w: store %s did not finish within %s", ErrTimeout, id, timeout)
		// The in-flight migration records its own outcome when it returns;
		// the timeout is an apply-level entry.
		c.record(runCtx, run, MigrationDescriptor{StoreKind: id.Kind()}, ActionApply, terr)
		res = failedResult(id, run.appliedSoFar(), current, terr)
		c.logger.Error("apply timed out", "store_id", id, "timeout", timeout.String())
	}

	c.notify(runCtx, settings, res)
	outcome := OutcomeSuccess
	if res.Err != nil {
		outcome = OutcomeFailure
	}
	c.metrics.ObserveApply(string(id.Kind()), string(outcome), c.now().Sub(start))
	return res, res.Err
}

func (c *Coordinator) execute(ctx context.Context, run *applyRun) ApplyResult {
	ref, err := c.resolver.Ref(ctx, run.id)
	if err != nil {
		err = unreachable(err)
		c.record(ctx, run, MigrationDescriptor{StoreKind: run.id.Kind()}, ActionApply, err)
		return failedResult(run.id, nil, nil, err)
	}
	d, err := c.resolver.diff(ctx, ref)
	if err != nil {
		c.record(ctx, run, MigrationDescriptor{StoreKind: ref.Kind}, ActionApply, err)
		return failedResult(run.id, nil, nil, err)
	}
	pending, err := run.opts.narrow(d.declared, d.pending)
	if err != nil {
		return failedResult(run.id, nil, nil, err)
	}
	if len(pending) == 0 {
		return ApplyResult{
			StoreID:           run.id,
			State:             StateApplied,
			AppliedMigrations: []MigrationDescriptor{},
			Message:           "no pending migrations",
		}
	}

	if run.settings.BackupBeforeMigration {
		if err := c.runBackup(ctx, ref); err != nil {
			err = fmt.Errorf("%w: %w", ErrBackupFailed, err)
			c.record(ctx, run, pending[0], ActionBackup, err)
			c.logger.Error("backup before migration failed", "store_id", run.id, "error", err)
			return failedResult(run.id, nil, nil, err)
		}
	}

	for _, m := range pending {
		if run.abandoned() {
			break
		}
		// The pending list may be stale; another instance or a timed-out
		// run can have applied this migration since.
		applied, err := c.resolver.isApplied(ctx, run.id, m)
		if err != nil {
			c.record(ctx, run, m, ActionApply, err)
			return failedResult(run.id, run.appliedSoFar(), &m, err)
		}
		if applied {
			continue
		}

		run.begin(m)
		started := c.now()
		if err := c.registry.Execute(ctx, run.id, m); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrMigrationExecutionFailed, m.Key(), err)
			run.finish(nil)
			c.record(ctx, run, m, ActionApply, err)
			c.logger.Error("migration failed",
				"store_id", run.id, "module", m.Module, "migration", m.Name, "error", err)
			return failedResult(run.id, run.appliedSoFar(), &m, err)
		}
		run.finish(&m)
		c.record(ctx, run, m, ActionApply, nil)
		c.metrics.IncMigrationApplied(string(m.StoreKind), m.Module)
		c.logger.Info("migration applied",
			"store_id", run.id, "module", m.Module, "migration", m.Name,
			"duration_ms", c.now().Sub(started).Milliseconds())
	}

	applied := run.appliedSoFar()
	return ApplyResult{
		StoreID:           run.id,
		State:             StateApplied,
		AppliedMigrations: applied,
		Message:           fmt.Sprintf("applied %d migration(s)", len(applied)),
	}
}

func (c *Coordinator) runBackup(ctx context.Context, ref StoreRef) error {
	if c.backup == nil {
		return ErrNoBackupHook
	}
	return c.backup.Backup(ctx, ref)
}

func (c *Coordinator) ceiling(settings MigrationSettings) time.Duration {
	if settings.MigrationTimeoutSeconds > 0 {
		return time.Duration(settings.MigrationTimeoutSeconds) * time.Second
	}
	return c.applyTimeout
}

// ApplyBudget bounds how long an apply over the given number of stores can
// run before every store has finished or hit its ceiling. The last store
// starts once the others have used at most (stores-1)/BatchConcurrency
// ceilings, then gets one ceiling of its own.
func (c *Coordinator) ApplyBudget(ctx context.Context, stores int) time.Duration {
	settings, err := c.settings.Get(ctx)
	if err != nil {
		settings = MigrationSettings{}
	}
	if stores < 1 {
		stores = 1
	}
	rounds := (stores-1+c.batchConcurrency-1)/c.batchConcurrency + 1
	return time.Duration(rounds) * c.ceiling(settings)
}

// ApplyBatch applies each store independently. A failure on one store never
// blocks or undoes another; the result holds one entry per distinct id.
func (c *Coordinator) ApplyBatch(ctx context.Context, ids []StoreID, opts ApplyOptions) BatchResult {
	// Stores not yet started still run when the caller goes away.
	ctx = context.WithoutCancel(ctx)
	results := make(BatchResult, len(ids))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.batchConcurrency)
	seen := map[StoreID]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		g.Go(func() error {
			res, _ := c.ApplyStore(ctx, id, opts)
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FleetIDs lists master, alerts and every tenant store.
func (c *Coordinator) FleetIDs(ctx context.Context) ([]StoreID, error) {
	tenants, err := c.directory.ListTenantStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenant stores: %w", unreachable(err))
	}
	ids := make([]StoreID, 0, len(tenants)+2)
	ids = append(ids, MasterStore, AlertsStore)
	for _, t := range tenants {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (c *Coordinator) ApplyAll(ctx context.Context) (BatchResult, error) {
	ids, err := c.FleetIDs(ctx)
	if err != nil {
		return nil, err
	}
	return c.ApplyBatch(ctx, ids, ApplyOptions{}), nil
}

// Rollback reverses one applied migration. It must be the most recently
// applied migration of its module on that store. Every failed attempt is
// recorded; the store is left untouched.
func (c *Coordinator) Rollback(ctx context.Context, id StoreID, module, name string) (HistoryEntry, error) {
	epoch, ok := c.leases.acquire(id)
	if !ok {
		c.metrics.IncLeaseRejection()
		return HistoryEntry{}, fmt.Errorf("%w: store %s", ErrAlreadyInProgress, id)
	}
	final := StateFailed
	defer func() { c.leases.release(id, epoch, final) }()

	run := &applyRun{id: id, actor: ActorFrom(ctx)}
	target := MigrationDescriptor{Module: module, Name: name, StoreKind: id.Kind()}

	fail := func(err error) (HistoryEntry, error) {
		entry := c.record(ctx, run, target, ActionRollback, err)
		c.metrics.IncRollback(string(OutcomeFailure))
		c.logger.Error("rollback failed", "store_id", id, "module", module, "migration", name, "error", err)
		return entry, err
	}

	if _, err := c.resolver.Ref(ctx, id); err != nil {
		return fail(unreachable(err))
	}
	applied, err := c.registry.AppliedMigrationsFor(ctx, id)
	if err != nil {
		return fail(unreachable(err))
	}

	var latest *MigrationDescriptor
	found := false
	for i := range applied {
		if applied[i].Module != module {
			continue
		}
		latest = &applied[i]
		if applied[i].Name == name {
			found = true
		}
	}
	if !found {
		return fail(fmt.Errorf("%w: %s", ErrMigrationNotApplied, target.Key()))
	}
	if latest.Name != name {
		return fail(fmt.Errorf("%w: %s was applied after %s", ErrRollbackOutOfOrder, latest.Key(), target.Key()))
	}

	if err := c.registry.Reverse(ctx, id, target); err != nil {
		if !errors.Is(err, ErrNoRollbackScript) {
			err = fmt.Errorf("%w: reverse %s: %w", ErrMigrationExecutionFailed, target.Key(), err)
		}
		return fail(err)
	}

	final = StateApplied
	c.metrics.IncRollback(string(OutcomeSuccess))
	c.logger.Info("migration rolled back", "store_id", id, "module", module, "migration", name)
	return c.record(ctx, run, target, ActionRollback, nil), nil
}

// History returns ledger entries, newest first.
func (c *Coordinator) History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	return c.history.List(ctx, filter)
}

func (c *Coordinator) record(ctx context.Context, run *applyRun, m MigrationDescriptor, action Action, err error) HistoryEntry {
	entry := HistoryEntry{
		ID:        uuid.New(),
		StoreID:   run.id,
		Migration: m,
		Action:    action,
		AppliedAt: c.now().UTC(),
		Outcome:   OutcomeSuccess,
		Actor:     run.actor,
	}
	if err != nil {
		entry.Outcome = OutcomeFailure
		entry.ErrorDetail = err.Error()
	}
	if aerr := c.history.Append(context.WithoutCancel(ctx), entry); aerr != nil {
		c.logger.Error("append history entry failed",
			"store_id", run.id, "migration", m.Key(), "action", string(action), "error", aerr)
	}
	return entry
}

func (c *Coordinator) notify(ctx context.Context, settings MigrationSettings, res ApplyResult) {
	if c.notifier == nil {
		return
	}
	failed := res.Err != nil
	if (failed && !settings.NotifyOnError) || (!failed && !settings.NotifyOnSuccess) {
		return
	}
	n := Notification{
		StoreID:           res.StoreID,
		StoreKind:         res.StoreID.Kind(),
		Outcome:           OutcomeSuccess,
		AppliedMigrations: res.AppliedMigrations,
		FailedMigration:   res.FailedMigration,
		At:                c.now().UTC(),
	}
	if failed {
		n.Outcome = OutcomeFailure
		n.Error = res.Error
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.Warn("notification failed", "store_id", res.StoreID, "error", err)
	}
}

func failedResult(id StoreID, applied []MigrationDescriptor, failed *MigrationDescriptor, err error) ApplyResult {
	if applied == nil {
		applied = []MigrationDescriptor{}
	}
	msg := err.Error()
	if len(applied) > 0 {
		msg = fmt.Sprintf("applied %d migration(s) before failing: %s", len(applied), err.Error())
	}
	return ApplyResult{
		StoreID:           id,
		State:             StateFailed,
		AppliedMigrations: applied,
		FailedMigration:   failed,
		Message:           msg,
		Error:             err.Error(),
		Err:               err,
	}
}

// narrow applies the module/migration options to the pending list.
func (o ApplyOptions) narrow(declared, pending []MigrationDescriptor) ([]MigrationDescriptor, error) {
	if o.Module == "" && o.Migration == "" {
		return pending, nil
	}
	if o.Migration != "" {
		known := false
		for _, m := range declared {
			if strings.EqualFold(m.Module, o.Module) && m.Name == o.Migration {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownMigration, o.Module, o.Migration)
		}
	}
	var out []MigrationDescriptor
	for _, m := range pending {
		if !strings.EqualFold(m.Module, o.Module) {
			continue
		}
		out = append(out, m)
		if o.Migration != "" && m.Name == o.Migration {
			break
		}
	}
	if o.Migration != "" && !containsName(out, o.Migration) {
		// Target already applied.
		return nil, nil
	}
	return out, nil
}

func containsName(ms []MigrationDescriptor, name string) bool {
	for _, m := range ms {
		if m.Name == name {
			return true
		}
	}
	return false
}

// applyRun is the shared view of one ApplyStore invocation between the
// executing goroutine and the timeout path.
type applyRun struct {
	id       StoreID
	opts     ApplyOptions
	settings MigrationSettings
	actor    string

	mu      sync.Mutex
	current *MigrationDescriptor
	applied []MigrationDescriptor
	stopped bool
}

func (r *applyRun) begin(m MigrationDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &m
}

func (r *applyRun) finish(applied *MigrationDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
	if applied != nil {
		r.applied = append(r.applied, *applied)
	}
}

func (r *applyRun) inFlight() *MigrationDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	m := *r.current
	return &m
}

func (r *applyRun) appliedSoFar() []MigrationDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MigrationDescriptor, len(r.applied))
	copy(out, r.applied)
	return out
}

func (r *applyRun) abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

func (r *applyRun) abandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}
