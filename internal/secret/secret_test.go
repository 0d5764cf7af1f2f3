package secret

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBox_SealOpen(t *testing.T) {
	box, err := NewBox(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	dsn := "postgres://tenant:pw@db.internal:5432/t1"
	sealed, err := box.SealString(dsn)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "tenant")

	got, err := box.OpenString(sealed)
	require.NoError(t, err)
	assert.Equal(t, dsn, got)
}

func TestBox_RejectsTampering(t *testing.T) {
	box, err := NewBox(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	sealed, err := box.Seal([]byte("secret"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = box.Open(sealed)
	require.Error(t, err)

	_, err = box.Open([]byte{1, 2})
	require.Error(t, err)
}

func TestNewBox_Keys(t *testing.T) {
	_, err := NewBox(nil)
	require.ErrorIs(t, err, ErrMissingKey)

	_, err = NewBox([]byte("short"))
	require.Error(t, err)

	_, err = NewBox(bytes.Repeat([]byte{9}, 48))
	require.NoError(t, err)
}
