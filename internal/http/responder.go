package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/store"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Plan   *fleet.Plan        `json:"plan,omitempty"`
	Result *fleet.ApplyResult `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// statusFor maps domain errors onto a status and error code. Checks are
// ordered: a removed tenant is both not found and unreachable, and a
// schedule naming an unknown store is a bad request, not a missing resource.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, fleet.ErrAlreadyInProgress):
		return http.StatusConflict, "already_in_progress"
	case errors.Is(err, fleet.ErrBackupFailed):
		return http.StatusBadGateway, "backup_failed"
	case errors.Is(err, fleet.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, fleet.ErrRollbackOutOfOrder):
		return http.StatusConflict, "rollback_out_of_order"
	case errors.Is(err, fleet.ErrScheduleNotFound):
		return http.StatusNotFound, "schedule_not_found"
	case errors.Is(err, errInvalidRequest), errors.Is(err, fleet.ErrInvalidSchedule), errors.Is(err, fleet.ErrInvalidSettings):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, fleet.ErrStoreNotFound):
		return http.StatusNotFound, "store_not_found"
	case errors.Is(err, fleet.ErrMigrationNotApplied):
		return http.StatusConflict, "migration_not_applied"
	case errors.Is(err, fleet.ErrNoRollbackScript):
		return http.StatusConflict, "no_rollback_script"
	case errors.Is(err, fleet.ErrUnknownMigration):
		return http.StatusNotFound, "unknown_migration"
	case errors.Is(err, store.ErrTenantInvalid), errors.Is(err, store.ErrTenantBadEngine):
		return http.StatusBadRequest, "invalid_tenant"
	case errors.Is(err, store.ErrTenantExists):
		return http.StatusConflict, "tenant_exists"
	case errors.Is(err, fleet.ErrStoreUnreachable):
		return http.StatusServiceUnavailable, "store_unreachable"
	case errors.Is(err, fleet.ErrMigrationExecutionFailed):
		return http.StatusInternalServerError, "migration_failed"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err.Error())
}

// writeApplyError reports a failed apply together with what it managed to
// do before stopping.
func writeApplyError(w http.ResponseWriter, res fleet.ApplyResult, err error) {
	status, code := statusFor(err)
	body := errorBody{Result: &res}
	body.Error.Code = code
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
