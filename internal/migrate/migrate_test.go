package migrate

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_fleet_migrator/migrations"
)

func TestParseVersion(t *testing.T) {
	v, name, err := parseVersion("migrations/001_init.sql")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, "init", name)
	assert.Equal(t, "001_init.sql", fileName(Version{Version: v, Name: name}))

	_, _, err = parseVersion("init.sql")
	require.Error(t, err)
	_, _, err = parseVersion("abc_init.sql")
	require.Error(t, err)
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	fsys := migrations.FS()
	files, err := fs.Glob(fsys, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		_, _, err := parseVersion(f)
		require.NoError(t, err, f)
	}

	raw, err := fs.ReadFile(fsys, "001_init.sql")
	require.NoError(t, err)
	body := string(raw)
	for _, table := range []string{"migration_history", "migration_settings", "scheduled_migrations", "consumed_schedules", "tenant_stores", "audit_events"} {
		assert.Contains(t, body, "CREATE TABLE IF NOT EXISTS "+table)
	}
}
