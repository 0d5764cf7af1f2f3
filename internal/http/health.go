package httpserver

import (
	"context"
	"net/http"
	"time"

	"tenant_fleet_migrator/internal/migrate"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaReporter lists the control-plane schema versions and which of them
// are applied.
type SchemaReporter interface {
	Status(ctx context.Context) ([]migrate.Version, error)
}

// HealthHandler reports control-plane database reachability. A nil DB means
// the server runs without one. Schema is optional.
type HealthHandler struct {
	DB     Pinger
	Schema SchemaReporter
}

type healthResponse struct {
	Status string        `json:"status"`
	DB     string        `json:"db"`
	Schema *schemaHealth `json:"schema,omitempty"`
}

type schemaHealth struct {
	Version int64             `json:"version"`
	Pending int               `json:"pending"`
	Applied []migrate.Version `json:"applied"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", DB: "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "service_unhealthy", "database unreachable")
		return
	}

	resp := healthResponse{Status: "ok", DB: "ok"}
	if h.Schema != nil {
		versions, err := h.Schema.Status(ctx)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "service_unhealthy", "schema status unavailable")
			return
		}
		resp.Schema = summarizeSchema(versions)
		if resp.Schema.Pending > 0 {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func summarizeSchema(versions []migrate.Version) *schemaHealth {
	out := &schemaHealth{Applied: []migrate.Version{}}
	for _, v := range versions {
		if v.AppliedAt == nil {
			out.Pending++
			continue
		}
		out.Applied = append(out.Applied, v)
		if v.Version > out.Version {
			out.Version = v.Version
		}
	}
	return out
}
