package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tenant_fleet_migrator/internal/audit"
	"tenant_fleet_migrator/internal/auth"
	"tenant_fleet_migrator/internal/config"
	"tenant_fleet_migrator/internal/metrics"
	"tenant_fleet_migrator/internal/rbac"
)

type Server struct {
	cfg             config.Config
	logger          requestLogger
	db              Pinger
	schema          SchemaReporter
	authn           auth.Authenticator
	recorder        audit.Recorder
	fleetHandler    *FleetHandler
	scheduleHandler *ScheduleHandler
	settingsHandler *SettingsHandler
	tenantHandler   *TenantHandler
}

type requestLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func New(cfg config.Config, logger requestLogger, db Pinger, authn auth.Authenticator, recorder audit.Recorder, fleetHandler *FleetHandler, scheduleHandler *ScheduleHandler, settingsHandler *SettingsHandler, tenantHandler *TenantHandler) *Server {
	return &Server{
		cfg:             cfg,
		logger:          logger,
		db:              db,
		authn:           authn,
		recorder:        recorder,
		fleetHandler:    fleetHandler,
		scheduleHandler: scheduleHandler,
		settingsHandler: settingsHandler,
		tenantHandler:   tenantHandler,
	}
}

// WithSchema reports control-plane schema versions on /health.
func (s *Server) WithSchema(schema SchemaReporter) *Server {
	s.schema = schema
	return s
}

// requestTimeout bounds every route except applies and rollbacks, which
// extend their own deadline to the coordinator's apply budget.
const requestTimeout = time.Minute

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddress,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.HTTPAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))

	authMiddleware := NewAuthMiddleware(s.authn, s.recorder, s.logger)

	if s.cfg.MetricsAddress == "" {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", HealthHandler{DB: s.db, Schema: s.schema})

		api.Group(func(authenticated chi.Router) {
			authenticated.Use(authMiddleware.RequireAuth)

			authenticated.Get("/me", func(w http.ResponseWriter, r *http.Request) {
				user, _ := auth.UserFromContext(r.Context())
				writeJSON(w, http.StatusOK, map[string]any{
					"name": user.Name,
					"role": user.Role,
				})
			})

			// Reads
			authenticated.Group(func(viewer chi.Router) {
				viewer.Use(authMiddleware.RequireRole(rbac.RoleViewer))
				viewer.Use(middleware.Timeout(requestTimeout))
				viewer.Get("/migrations/central-status", s.fleetHandler.CentralStatus)
				viewer.Get("/migrations/plan", s.fleetHandler.Plan)
				viewer.Get("/migrations/history", s.fleetHandler.History)
				viewer.Get("/migrations/stores/{storeID}/status", s.fleetHandler.StoreStatus)
				viewer.Get("/migrations/stores/{storeID}/preview", s.fleetHandler.Preview)
				viewer.Get("/migrations/stores/{storeID}/history", s.fleetHandler.StoreHistory)
				viewer.Get("/migrations/scheduled", s.scheduleHandler.List)
				viewer.Get("/migrations/settings", s.settingsHandler.Get)
				viewer.Get("/tenants", s.tenantHandler.List)
			})

			authenticated.Group(func(operator chi.Router) {
				operator.Use(authMiddleware.RequireRole(rbac.RoleOperator))
				operator.Post("/migrations/apply-all", s.fleetHandler.ApplyAll)
				operator.Post("/migrations/apply-master", s.fleetHandler.ApplyMaster)
				operator.Post("/migrations/apply-alerts", s.fleetHandler.ApplyAlerts)
				operator.Post("/migrations/stores/{storeID}/apply", s.fleetHandler.ApplyTenant)
				operator.With(middleware.Timeout(requestTimeout)).Post("/migrations/scheduled", s.scheduleHandler.Create)
				operator.With(middleware.Timeout(requestTimeout)).Delete("/migrations/scheduled/{id}", s.scheduleHandler.Delete)
			})

			authenticated.Group(func(admin chi.Router) {
				admin.Use(authMiddleware.RequireRole(rbac.RoleAdmin))
				admin.Post("/migrations/stores/{storeID}/rollback", s.fleetHandler.Rollback)
				admin.With(middleware.Timeout(requestTimeout)).Put("/migrations/settings", s.settingsHandler.Put)
				admin.With(middleware.Timeout(requestTimeout)).Post("/tenants", s.tenantHandler.Create)
			})
		})
	})

	return r
}
