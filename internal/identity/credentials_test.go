package identity_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada-sync/internal/identity"
)

func TestCredentials_SaveLoadDelete(t *testing.T) {
	t.Setenv(identity.TokenEnv, "")
	c := identity.Credentials{Dir: filepath.Join(t.TempDir(), ".tada")}

	ti, err := c.Load()
	require.NoError(t, err)
	assert.Nil(t, ti, "no file means not logged in")

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, c.Save("bearer abc.def.ghi", &exp))

	st, err := os.Stat(filepath.Join(c.Dir, "credentials.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	ti, err = c.Load()
	require.NoError(t, err)
	require.NotNil(t, ti)
	assert.Equal(t, "abc.def.ghi", ti.Token)
	assert.Equal(t, "file", ti.Source)
	require.NotNil(t, ti.ExpiresAt)
	assert.True(t, exp.Equal(*ti.ExpiresAt))

	require.NoError(t, c.Delete())
	require.NoError(t, c.Delete(), "deleting twice is fine")
	ti, err = c.Load()
	require.NoError(t, err)
	assert.Nil(t, ti)
}

func TestCredentials_EmptyTokenRejected(t *testing.T) {
	c := identity.Credentials{Dir: t.TempDir()}
	assert.Error(t, c.Save("   ", nil))
}

func TestCredentials_EnvWins(t *testing.T) {
	c := identity.Credentials{Dir: t.TempDir()}
	require.NoError(t, c.Save("from-file", nil))
	t.Setenv(identity.TokenEnv, "from-env")

	ti, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", ti.Token)
	assert.Equal(t, "env", ti.Source)
}
