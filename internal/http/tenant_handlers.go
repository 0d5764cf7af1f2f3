package httpserver

import (
	"context"
	"net/http"

	"tenant_fleet_migrator/internal/audit"
	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/store"
)

// TenantAdmin provisions tenants. It is nil when tenants come from a fleet
// file.
type TenantAdmin interface {
	ListTenants(ctx context.Context) ([]store.Tenant, error)
	CreateTenantStore(ctx context.Context, in store.CreateTenantInput) (store.Tenant, error)
}

type TenantHandler struct {
	directory fleet.TenantDirectory
	admin     TenantAdmin
	events    eventSink
	logger    requestLogger
}

func NewTenantHandler(directory fleet.TenantDirectory, admin TenantAdmin, recorder audit.Recorder, logger requestLogger) *TenantHandler {
	return &TenantHandler{
		directory: directory,
		admin:     admin,
		events:    eventSink{recorder: recorder, logger: logger},
		logger:    logger,
	}
}

func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.admin != nil {
		tenants, err := h.admin.ListTenants(r.Context())
		if err != nil {
			h.logger.Error("list tenants failed", "error", err)
			writeError(w, http.StatusInternalServerError, "server_error", "failed to list tenants")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
		return
	}
	refs, err := h.directory.ListTenantStores(r.Context())
	if err != nil {
		h.logger.Error("list tenant stores failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "directory_unavailable", "failed to list tenant stores")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": refs})
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "tenants are managed in the fleet file")
		return
	}
	var in store.CreateTenantInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	tenant, err := h.admin.CreateTenantStore(r.Context(), in)
	if err != nil {
		status, code := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("create tenant failed", "error", err)
		}
		writeError(w, status, code, err.Error())
		return
	}
	h.events.record(r, "tenant_create", "tenant_store", string(tenant.ID), map[string]any{
		"name":    tenant.Name,
		"engine":  tenant.Engine,
		"modules": tenant.Modules,
	})
	writeJSON(w, http.StatusCreated, tenant)
}
