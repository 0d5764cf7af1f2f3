package httpserver

import (
	"errors"
	"net/http"

	"tenant_fleet_migrator/internal/audit"
	"tenant_fleet_migrator/internal/fleet"
)

var errInvalidRequest = errors.New("invalid request")

type eventSink struct {
	recorder audit.Recorder
	logger   requestLogger
}

// record writes an audit event for a mutation. A failed write is logged and
// never fails the request: the mutation already happened.
func (s eventSink) record(r *http.Request, action, entityType, entityID string, payload map[string]any) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.Record(r.Context(), audit.Event{
		Actor:      fleet.ActorFrom(r.Context()),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		s.logger.Error("audit record failed", "action", action, "error", err)
	}
}
