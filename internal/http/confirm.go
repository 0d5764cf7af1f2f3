package httpserver

import (
	"net/http"

	"tenant_fleet_migrator/internal/fleet"
)

// ConfirmHeader carries the token of the plan the operator agreed to.
const ConfirmHeader = "X-Confirm-Token"

// confirmed checks the request's token against a freshly computed plan and
// writes the refusal itself when it does not match.
func confirmed(w http.ResponseWriter, r *http.Request, plan fleet.Plan) bool {
	token := r.Header.Get(ConfirmHeader)
	if plan.Confirms(token) {
		return true
	}
	body := errorBody{Plan: &plan}
	if token == "" {
		body.Error.Code = "confirmation_required"
		body.Error.Message = plan.Summary
		writeJSON(w, http.StatusPreconditionRequired, body)
		return false
	}
	body.Error.Code = "plan_changed"
	body.Error.Message = "the fleet changed since the plan was made: " + plan.Summary
	writeJSON(w, http.StatusConflict, body)
	return false
}
