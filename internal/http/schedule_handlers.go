package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tenant_fleet_migrator/internal/audit"
	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/scheduler"
)

type canceller interface {
	PlanCancel(ctx context.Context, entry fleet.ScheduledMigration) fleet.Plan
}

type ScheduleHandler struct {
	sched   *scheduler.Scheduler
	planner canceller
	events  eventSink
	logger  requestLogger
}

func NewScheduleHandler(sched *scheduler.Scheduler, planner canceller, recorder audit.Recorder, logger requestLogger) *ScheduleHandler {
	return &ScheduleHandler{
		sched:   sched,
		planner: planner,
		events:  eventSink{recorder: recorder, logger: logger},
		logger:  logger,
	}
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.sched.List(r.Context())
	if err != nil {
		h.logger.Error("list scheduled migrations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to list scheduled migrations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scheduled": entries})
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduler.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	entry, err := h.sched.Schedule(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.events.record(r, "schedule_create", "scheduled_migration", entry.ID.String(), map[string]any{
		"store_id":       string(entry.StoreID),
		"module":         entry.ModuleName,
		"migration":      entry.MigrationName,
		"scheduled_time": entry.ScheduledTime,
	})
	writeJSON(w, http.StatusCreated, entry)
}

// Delete cancels a pending entry after confirmation. An entry the scheduler
// already dispatched needs no confirmation: cancelling it does nothing.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be a uuid")
		return
	}
	entry, err := h.sched.Get(r.Context(), id)
	switch {
	case err == nil:
		if !confirmed(w, r, h.planner.PlanCancel(r.Context(), entry)) {
			return
		}
	case errors.Is(err, fleet.ErrScheduleNotFound):
	default:
		h.logger.Error("get scheduled migration failed", "schedule_id", id.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to load scheduled migration")
		return
	}

	if err := h.sched.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	message := "scheduled migration cancelled"
	if entry.ID == uuid.Nil {
		message = "scheduled migration already dispatched"
	}
	h.events.record(r, "schedule_cancel", "scheduled_migration", id.String(), map[string]any{"message": message})
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}
