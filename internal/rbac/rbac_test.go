package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast(RoleAdmin, RoleOperator))
	assert.True(t, AtLeast(RoleOperator, RoleOperator))
	assert.False(t, AtLeast(RoleViewer, RoleOperator))
	assert.False(t, AtLeast(Role("intruder"), RoleViewer))
}

func TestParse(t *testing.T) {
	r, ok := Parse(" Admin ")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, r)
	_, ok = Parse("root")
	assert.False(t, ok)
}
