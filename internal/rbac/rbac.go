package rbac

import "strings"

type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var rank = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

func Parse(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := rank[r]
	return r, ok
}

// AtLeast reports whether user holds the required role or a higher one.
// Roles are ordered viewer < operator < admin.
func AtLeast(user, required Role) bool {
	have, ok := rank[user]
	return ok && have >= rank[required]
}
