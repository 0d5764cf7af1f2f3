package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_fleet_migrator/internal/auth"
	"tenant_fleet_migrator/internal/config"
	"tenant_fleet_migrator/internal/migrate"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type fixedSchema struct {
	versions []migrate.Version
	err      error
}

func (s fixedSchema) Status(context.Context) ([]migrate.Version, error) {
	return s.versions, s.err
}

func TestHealth_ReportsSchemaVersions(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	schema := fixedSchema{versions: []migrate.Version{
		{Version: 1, Name: "init", AppliedAt: &at},
		{Version: 2, Name: "schedules", AppliedAt: &at},
	}}

	rec := httptest.NewRecorder()
	HealthHandler{DB: okPinger{}, Schema: schema}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Schema)
	assert.Equal(t, int64(2), resp.Schema.Version)
	assert.Zero(t, resp.Schema.Pending)
	assert.Len(t, resp.Schema.Applied, 2)

	schema.versions = append(schema.versions, migrate.Version{Version: 3, Name: "history"})
	rec = httptest.NewRecorder()
	HealthHandler{DB: okPinger{}, Schema: schema}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[healthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, int64(2), resp.Schema.Version)
	assert.Equal(t, 1, resp.Schema.Pending)
}

func TestHealth_SchemaStatusError(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{DB: okPinger{}, Schema: fixedSchema{err: errors.New("boom")}}.
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unhealthy", decode[errorBody](t, rec).Error.Code)
}

func TestServer_HealthIncludesSchema(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := newTestEnv(t, false)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	srv := New(config.Config{}, logger, okPinger{}, auth.New(false), e.recorder,
		NewFleetHandler(e.coord, e.sched, e.recorder, logger),
		NewScheduleHandler(e.sched, e.coord, e.recorder, logger),
		NewSettingsHandler(e.settings, e.recorder, logger),
		NewTenantHandler(e.directory, nil, e.recorder, logger),
	).WithSchema(fixedSchema{versions: []migrate.Version{{Version: 1, Name: "init", AppliedAt: &at}}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	require.NotNil(t, resp.Schema)
	assert.Equal(t, int64(1), resp.Schema.Version)
}
