package httpserver

import (
	"context"
	"errors"
	"net/http"

	"tenant_fleet_migrator/internal/audit"
	"tenant_fleet_migrator/internal/auth"
	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/rbac"
)

type AuthMiddleware struct {
	authenticator auth.Authenticator
	recorder      audit.Recorder
	logger        audit.Logger
}

func NewAuthMiddleware(authenticator auth.Authenticator, recorder audit.Recorder, logger audit.Logger) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator, recorder: recorder, logger: logger}
}

// RequireAuth resolves the operator and tags the request context with it so
// history entries name who acted.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.authenticator.Authenticate(r)
		if err != nil && !errors.Is(err, auth.ErrUnauthorized) {
			m.logger.Error("auth error", "error", err)
		}
		if err != nil || user == nil {
			m.logDenied(r.Context(), nil, "unauthenticated", r)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		ctx := auth.WithUser(r.Context(), user)
		ctx = fleet.WithActor(ctx, user.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) RequireRole(required rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !rbac.AtLeast(user.Role, required) {
				m.logDenied(r.Context(), user, "insufficient_role", r)
				writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) logDenied(ctx context.Context, user *auth.User, reason string, r *http.Request) {
	actor := ""
	if user != nil {
		actor = user.Name
	}
	_ = m.recorder.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     "access_denied",
		EntityType: "http_request",
		Payload: map[string]any{
			"path":   r.URL.Path,
			"method": r.Method,
			"reason": reason,
		},
	})
}
