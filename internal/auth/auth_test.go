package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_fleet_migrator/internal/rbac"
)

func TestHeaderAuthenticator(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	_, err := HeaderAuthenticator{}.Authenticate(r)
	require.ErrorIs(t, err, ErrUnauthorized)

	r.Header.Set(OperatorHeader, "alice")
	r.Header.Set(RoleHeader, "superuser")
	_, err = HeaderAuthenticator{}.Authenticate(r)
	require.ErrorIs(t, err, ErrUnauthorized)

	r.Header.Set(RoleHeader, "Operator")
	user, err := HeaderAuthenticator{}.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, &User{Name: "alice", Role: rbac.RoleOperator}, user)
}

func TestNew(t *testing.T) {
	user, err := New(false).Authenticate(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, AnonymousName, user.Name)
	assert.Equal(t, rbac.RoleAdmin, user.Role)

	assert.IsType(t, HeaderAuthenticator{}, New(true))
}

func TestUserContext(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)
	ctx := WithUser(context.Background(), &User{Name: "bob", Role: rbac.RoleViewer})
	got, ok := UserFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "bob", got.Name)
}
