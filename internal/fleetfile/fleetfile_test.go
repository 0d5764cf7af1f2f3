package fleetfile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_fleet_migrator/internal/fleet"
	"tenant_fleet_migrator/internal/secret"
)

const sample = `
[master]
dsn = "postgres://master"

[alerts]
engine = "mysql"
dsn = "user:pw@tcp(alerts:3306)/alerts"

[[tenants]]
id = "zeta"
engine = "sqlite"
dsn = "/data/zeta.db"

[[tenants]]
id = "acme"
name = "Acme Corp"
code = "ACM"
engine = "sqlite"
dsn = "/data/acme.db"
modules = ["Core"]

[[tenants]]
id = "old"
dsn = "/data/old.db"
disabled = true
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(sample), nil)
	require.NoError(t, err)
	ctx := context.Background()

	refs, err := d.ListTenantStores(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, fleet.StoreRef{ID: "acme", Kind: fleet.KindTenant, Name: "Acme Corp", Code: "ACM", Modules: []string{"Core"}}, refs[0])
	assert.Equal(t, "zeta", refs[1].Name)

	_, err = d.LookupTenant(ctx, "old")
	require.ErrorIs(t, err, fleet.ErrStoreNotFound)

	master, err := d.Locate(ctx, fleet.MasterStore)
	require.NoError(t, err)
	assert.Equal(t, "postgres", master.Engine)

	alerts, err := d.Locate(ctx, fleet.AlertsStore)
	require.NoError(t, err)
	assert.Equal(t, "mysql", alerts.Engine)

	acme, err := d.Locate(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "/data/acme.db", acme.DSN)
	assert.Equal(t, "acme", acme.LockName)
}

func TestParse_SealedDSN(t *testing.T) {
	box, err := secret.NewBox(bytes.Repeat([]byte{5}, 32))
	require.NoError(t, err)
	sealed, err := box.SealString("/secret/t1.db")
	require.NoError(t, err)
	doc := fmt.Sprintf("[[tenants]]\nid = \"t1\"\nengine = \"sqlite\"\ndsn_sealed = %q\n", sealed)

	_, err = Parse([]byte(doc), nil)
	require.Error(t, err)

	d, err := Parse([]byte(doc), box)
	require.NoError(t, err)
	got, err := d.Locate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "/secret/t1.db", got.DSN)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing id":   "[[tenants]]\ndsn = \"x\"\n",
		"reserved id":  "[[tenants]]\nid = \"alerts\"\ndsn = \"x\"\n",
		"duplicate":    "[[tenants]]\nid = \"a\"\ndsn = \"x\"\n[[tenants]]\nid = \"a\"\ndsn = \"y\"\n",
		"missing dsn":  "[[tenants]]\nid = \"a\"\n",
		"unknown key":  "[[tenants]]\nid = \"a\"\ndsn = \"x\"\ncolour = \"red\"\n",
		"invalid toml": "[[tenants]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), nil)
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	d, err := Load(path, nil)
	require.NoError(t, err)
	refs, err := d.ListTenantStores(context.Background())
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.Error(t, err)
}
