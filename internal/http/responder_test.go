package httpserver

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"tenant_fleet_migrator/internal/fleet"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"schedule for unknown store", fmt.Errorf("%w: %w", fleet.ErrInvalidSchedule, fleet.ErrStoreNotFound), http.StatusBadRequest, "invalid_request"},
		{"apply on removed tenant", fmt.Errorf("%w: %w", fleet.ErrStoreUnreachable, fleet.ErrStoreNotFound), http.StatusNotFound, "store_not_found"},
		{"unreachable store", fleet.ErrStoreUnreachable, http.StatusServiceUnavailable, "store_unreachable"},
		{"timeout", fmt.Errorf("%w: store t1", fleet.ErrTimeout), http.StatusGatewayTimeout, "timeout"},
		{"invalid settings", fleet.ErrInvalidSettings, http.StatusBadRequest, "invalid_request"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "server_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := statusFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}
