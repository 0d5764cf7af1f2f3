package httpserver

import (
	"net/http"

	"tenant_fleet_migrator/internal/audit"
	"tenant_fleet_migrator/internal/fleet"
)

type SettingsHandler struct {
	settings fleet.SettingsStore
	events   eventSink
	logger   requestLogger
}

func NewSettingsHandler(settings fleet.SettingsStore, recorder audit.Recorder, logger requestLogger) *SettingsHandler {
	return &SettingsHandler{settings: settings, events: eventSink{recorder: recorder, logger: logger}, logger: logger}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.Error("get settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Put replaces the whole policy record; omitted fields take their zero value.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var settings fleet.MigrationSettings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "migrationTimeoutSeconds must be between 0 and 86400")
		return
	}
	if err := h.settings.Replace(r.Context(), settings); err != nil {
		h.logger.Error("replace settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to save settings")
		return
	}
	h.events.record(r, "settings_replace", "migration_settings", "1", map[string]any{
		"autoApplyMigrations":     settings.AutoApplyMigrations,
		"notifyOnSuccess":         settings.NotifyOnSuccess,
		"notifyOnError":           settings.NotifyOnError,
		"backupBeforeMigration":   settings.BackupBeforeMigration,
		"migrationTimeoutSeconds": settings.MigrationTimeoutSeconds,
	})
	writeJSON(w, http.StatusOK, settings)
}
