package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FLEETMIG_DB_DSN", "postgres://control")
	t.Setenv("FLEETMIG_CATALOG_DIR", "/catalog")
	t.Setenv("FLEETMIG_SECRET_KEY", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))))
	t.Setenv("FLEETMIG_MASTER_DSN", "postgres://master")
	t.Setenv("FLEETMIG_ALERTS_DSN", "postgres://alerts")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddress)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, 5*time.Minute, cfg.ApplyTimeout)
	assert.Equal(t, 15*time.Minute, cfg.AutoApplyInterval)
	assert.Equal(t, 8, cfg.StatusConcurrency)
	assert.Equal(t, 4, cfg.BatchConcurrency)
	assert.Equal(t, "postgres", cfg.Master.Engine)
	assert.Equal(t, "fleet.migrations.outcome", cfg.NATS.Subject)
	assert.False(t, cfg.TrustedHeaderAuth)
	assert.Len(t, cfg.SecretKeyBytes, 32)
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FLEETMIG_APPLY_TIMEOUT", "90s")
	t.Setenv("FLEETMIG_BATCH_CONCURRENCY", "2")
	t.Setenv("FLEETMIG_TRUSTED_HEADER_AUTH", "TRUE")
	t.Setenv("FLEETMIG_ALERTS_ENGINE", "mysql")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.ApplyTimeout)
	assert.Equal(t, 2, cfg.BatchConcurrency)
	assert.True(t, cfg.TrustedHeaderAuth)
	assert.Equal(t, "mysql", cfg.Alerts.Engine)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing db":       {"FLEETMIG_DB_DSN": ""},
		"missing catalog":  {"FLEETMIG_CATALOG_DIR": ""},
		"bad key":          {"FLEETMIG_SECRET_KEY": "%%%"},
		"short key":        {"FLEETMIG_SECRET_KEY": base64.StdEncoding.EncodeToString([]byte("short"))},
		"missing master":   {"FLEETMIG_MASTER_DSN": ""},
		"bad duration":     {"FLEETMIG_SCHEDULER_INTERVAL": "soon"},
		"zero concurrency": {"FLEETMIG_STATUS_CONCURRENCY": "0"},
		"bad int":          {"FLEETMIG_BATCH_CONCURRENCY": "four"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoad_FleetFileRelaxesStoreSettings(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FLEETMIG_FLEET_FILE", "/etc/fleet.toml")
	t.Setenv("FLEETMIG_SECRET_KEY", "")
	t.Setenv("FLEETMIG_MASTER_DSN", "")
	t.Setenv("FLEETMIG_ALERTS_DSN", "")
	_, err := Load()
	require.NoError(t, err)
}
