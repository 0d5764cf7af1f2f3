package auth

import (
	"context"

	"tenant_fleet_migrator/internal/rbac"
)

// User is the operator a request acts for.
type User struct {
	Name string
	Role rbac.Role
}

type contextKey string

const userKey contextKey = "fleet-operator"

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFromContext(ctx context.Context) (*User, bool) {
	val := ctx.Value(userKey)
	if val == nil {
		return nil, false
	}
	user, ok := val.(*User)
	return user, ok
}
