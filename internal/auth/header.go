package auth

import (
	"errors"
	"net/http"
	"strings"

	"tenant_fleet_migrator/internal/rbac"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	OperatorHeader = "X-Fleet-Operator"
	RoleHeader     = "X-Fleet-Role"
	AnonymousName  = "anonymous"
)

type Authenticator interface {
	Authenticate(r *http.Request) (*User, error)
}

// HeaderAuthenticator trusts the identity headers set by the gateway in
// front of the API. Only enable it when clients cannot reach the API
// directly.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (*User, error) {
	name := strings.TrimSpace(r.Header.Get(OperatorHeader))
	role, ok := rbac.Parse(r.Header.Get(RoleHeader))
	if name == "" || !ok {
		return nil, ErrUnauthorized
	}
	return &User{Name: name, Role: role}, nil
}

// AnonymousAuthenticator treats every request as one local admin, for
// single-operator setups without a gateway.
type AnonymousAuthenticator struct{}

func (AnonymousAuthenticator) Authenticate(*http.Request) (*User, error) {
	return &User{Name: AnonymousName, Role: rbac.RoleAdmin}, nil
}

// New picks the authenticator for the trusted-header setting.
func New(trustedHeaders bool) Authenticator {
	if trustedHeaders {
		return HeaderAuthenticator{}
	}
	return AnonymousAuthenticator{}
}
