package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tenant_fleet_migrator/internal/audit"
	"tenant_fleet_migrator/internal/fleet"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

type scheduleGetter interface {
	Get(ctx context.Context, id uuid.UUID) (fleet.ScheduledMigration, error)
}

type FleetHandler struct {
	coord     *fleet.Coordinator
	schedules scheduleGetter
	events    eventSink
	logger    requestLogger
}

func NewFleetHandler(coord *fleet.Coordinator, schedules scheduleGetter, recorder audit.Recorder, logger requestLogger) *FleetHandler {
	return &FleetHandler{
		coord:     coord,
		schedules: schedules,
		events:    eventSink{recorder: recorder, logger: logger},
		logger:    logger,
	}
}

func (h *FleetHandler) CentralStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Aggregate(r.Context()))
}

func (h *FleetHandler) StoreStatus(w http.ResponseWriter, r *http.Request) {
	id := storeParam(r)
	if _, err := h.coord.Lookup(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.coord.Status(r.Context(), id))
}

func (h *FleetHandler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.coord.Preview(r.Context(), storeParam(r), strings.TrimSpace(r.URL.Query().Get("module")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// Plan returns the confirmation plan for a destructive action without
// performing it.
func (h *FleetHandler) Plan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()
	var (
		plan fleet.Plan
		err  error
	)
	switch action := fleet.PlanAction(q.Get("action")); action {
	case fleet.PlanApplyAll:
		plan, err = h.coord.PlanApplyAll(ctx)
	case fleet.PlanApplyMaster:
		plan = h.coord.PlanApply(ctx, action, []fleet.StoreID{fleet.MasterStore}, fleet.ApplyOptions{})
	case fleet.PlanApplyAlerts:
		plan = h.coord.PlanApply(ctx, action, []fleet.StoreID{fleet.AlertsStore}, fleet.ApplyOptions{})
	case fleet.PlanApplyTenant:
		id := fleet.StoreID(q.Get("store"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "store is required")
			return
		}
		opts := fleet.ApplyOptions{Module: q.Get("module"), Migration: q.Get("migration")}
		plan = h.coord.PlanApply(ctx, planActionFor(id), []fleet.StoreID{id}, opts)
	case fleet.PlanRollback:
		id, module, name := fleet.StoreID(q.Get("store")), q.Get("module"), q.Get("migration")
		if id == "" || module == "" || name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "store, module and migration are required")
			return
		}
		plan = h.coord.PlanRollback(ctx, id, module, name)
	case fleet.PlanCancelSchedule:
		var entry fleet.ScheduledMigration
		entry, err = h.lookupSchedule(ctx, q.Get("schedule"))
		if err == nil {
			plan = h.coord.PlanCancel(ctx, entry)
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *FleetHandler) lookupSchedule(ctx context.Context, raw string) (fleet.ScheduledMigration, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fleet.ScheduledMigration{}, fmt.Errorf("%w: schedule must be a uuid", errInvalidRequest)
	}
	if h.schedules == nil {
		return fleet.ScheduledMigration{}, fleet.ErrScheduleNotFound
	}
	return h.schedules.Get(ctx, id)
}

// applySlack covers the history writes and notification that follow the
// last store.
const applySlack = 30 * time.Second

// holdOpen moves this response's write deadline past the apply budget, so
// the server-wide WriteTimeout does not cut off a long apply.
func (h *FleetHandler) holdOpen(w http.ResponseWriter, r *http.Request, stores int) {
	deadline := time.Now().Add(h.coord.ApplyBudget(r.Context(), stores) + applySlack)
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("extend write deadline failed", "error", err)
	}
}

type applyAllResponse struct {
	Message      string            `json:"message"`
	Results      fleet.BatchResult `json:"results"`
	SuccessCount int               `json:"successCount"`
	FailureCount int               `json:"failureCount"`
}

// ApplyAll applies every store. Per-store failures are reported in the body;
// the request itself only fails when the fleet cannot be listed.
func (h *FleetHandler) ApplyAll(w http.ResponseWriter, r *http.Request) {
	plan, err := h.coord.PlanApplyAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !confirmed(w, r, plan) {
		return
	}
	h.holdOpen(w, r, len(plan.Targets))
	results, err := h.coord.ApplyAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := applyAllResponse{
		Message: fmt.Sprintf("Applied %d migration(s): %d store(s) succeeded, %d failed",
			results.AppliedCount(), results.SuccessCount(), results.FailureCount()),
		Results:      results,
		SuccessCount: results.SuccessCount(),
		FailureCount: results.FailureCount(),
	}
	h.events.record(r, "apply_all", "fleet", string(fleet.AllStores), map[string]any{
		"applied":  results.AppliedCount(),
		"failures": resp.FailureCount,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *FleetHandler) ApplyMaster(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, fleet.MasterStore, fleet.ApplyOptions{})
}

func (h *FleetHandler) ApplyAlerts(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, fleet.AlertsStore, fleet.ApplyOptions{})
}

type applyRequest struct {
	Module    string `json:"module"`
	Migration string `json:"migration"`
}

// ApplyTenant applies one store. The body is optional and narrows the apply
// to a module or up to one migration.
func (h *FleetHandler) ApplyTenant(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	h.apply(w, r, storeParam(r), fleet.ApplyOptions{
		Module:    strings.TrimSpace(req.Module),
		Migration: strings.TrimSpace(req.Migration),
	})
}

func (h *FleetHandler) apply(w http.ResponseWriter, r *http.Request, id fleet.StoreID, opts fleet.ApplyOptions) {
	plan := h.coord.PlanApply(r.Context(), planActionFor(id), []fleet.StoreID{id}, opts)
	if !confirmed(w, r, plan) {
		return
	}
	h.holdOpen(w, r, 1)
	res, err := h.coord.ApplyStore(r.Context(), id, opts)
	h.events.record(r, "apply", "store", string(id), map[string]any{
		"module":    opts.Module,
		"migration": opts.Migration,
		"applied":   len(res.AppliedMigrations),
		"state":     string(res.State),
	})
	if err != nil {
		writeApplyError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rollbackRequest struct {
	Module        string `json:"module"`
	MigrationName string `json:"migrationName"`
}

func (h *FleetHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	req.Module = strings.TrimSpace(req.Module)
	req.MigrationName = strings.TrimSpace(req.MigrationName)
	if req.Module == "" || req.MigrationName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "module and migrationName are required")
		return
	}

	id := storeParam(r)
	plan := h.coord.PlanRollback(r.Context(), id, req.Module, req.MigrationName)
	if !confirmed(w, r, plan) {
		return
	}
	h.holdOpen(w, r, 1)
	entry, err := h.coord.Rollback(r.Context(), id, req.Module, req.MigrationName)
	h.events.record(r, "rollback", "store", string(id), map[string]any{
		"module":    req.Module,
		"migration": req.MigrationName,
		"outcome":   string(entry.Outcome),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Rolled back %s/%s on %s", req.Module, req.MigrationName, id),
		"entry":   entry,
	})
}

type storeHistoryResponse struct {
	StoreID           fleet.StoreID               `json:"storeId"`
	AppliedMigrations []fleet.MigrationDescriptor `json:"appliedMigrations"`
	TotalMigrations   int                         `json:"totalMigrations"`
	Entries           []fleet.HistoryEntry        `json:"entries"`
	Error             string                      `json:"error,omitempty"`
}

// StoreHistory returns what is applied to a store next to its ledger
// entries. TotalMigrations counts applied plus pending.
func (h *FleetHandler) StoreHistory(w http.ResponseWriter, r *http.Request) {
	id := storeParam(r)
	limit, err := limitParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := h.coord.Lookup(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	status := h.coord.Status(r.Context(), id)
	entries, err := h.coord.History(r.Context(), fleet.HistoryFilter{StoreID: id, Limit: limit})
	if err != nil {
		h.logger.Error("list history failed", "store_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, storeHistoryResponse{
		StoreID:           id,
		AppliedMigrations: status.AppliedMigrations,
		TotalMigrations:   len(status.AppliedMigrations) + status.PendingCount(),
		Entries:           entries,
		Error:             status.Error,
	})
}

func (h *FleetHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	filter := fleet.HistoryFilter{StoreID: fleet.StoreID(r.URL.Query().Get("store")), Limit: limit}
	entries, err := h.coord.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("list history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func storeParam(r *http.Request) fleet.StoreID {
	return fleet.StoreID(chi.URLParam(r, "storeID"))
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errInvalidRequest)
	}
	return min(n, maxHistoryLimit), nil
}

func planActionFor(id fleet.StoreID) fleet.PlanAction {
	switch id {
	case fleet.MasterStore:
		return fleet.PlanApplyMaster
	case fleet.AlertsStore:
		return fleet.PlanApplyAlerts
	default:
		return fleet.PlanApplyTenant
	}
}
