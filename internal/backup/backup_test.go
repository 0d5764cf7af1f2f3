package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_fleet_migrator/internal/db"
	"tenant_fleet_migrator/internal/fleet"
)

type staticLocator map[fleet.StoreID]db.Target

func (s staticLocator) Locate(_ context.Context, id fleet.StoreID) (db.Target, error) {
	t, ok := s[id]
	if !ok {
		return db.Target{}, fleet.ErrStoreNotFound
	}
	return t, nil
}

func TestCommandHook_PassesStoreInEnvironment(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	out := filepath.Join(t.TempDir(), "env.txt")
	hook := &CommandHook{
		Command: `echo "$FLEETMIG_STORE_ID $FLEETMIG_STORE_KIND $FLEETMIG_STORE_ENGINE $FLEETMIG_STORE_DSN" > ` + out,
		Locator: staticLocator{"t1": {Engine: "sqlite", DSN: "/data/t1.db"}},
	}
	err := hook.Backup(context.Background(), fleet.StoreRef{ID: "t1", Kind: fleet.KindTenant})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "t1 tenant sqlite /data/t1.db", strings.TrimSpace(string(got)))
}

func TestCommandHook_Failures(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	loc := staticLocator{"t1": {Engine: "sqlite", DSN: "x"}}
	ctx := context.Background()
	ref := fleet.StoreRef{ID: "t1", Kind: fleet.KindTenant}

	err := (&CommandHook{Command: "echo disk full >&2; exit 3", Locator: loc}).Backup(ctx, ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	err = (&CommandHook{Command: "  ", Locator: loc}).Backup(ctx, ref)
	require.ErrorIs(t, err, fleet.ErrNoBackupHook)

	err = (&CommandHook{Command: "true", Locator: loc}).Backup(ctx, fleet.StoreRef{ID: "ghost"})
	require.ErrorIs(t, err, fleet.ErrStoreNotFound)
}

func TestTail(t *testing.T) {
	long := strings.Repeat("x", maxOutputInError+10)
	assert.Len(t, tail(long), maxOutputInError+3)
	assert.Equal(t, "ok", tail(" ok \n"))
}
