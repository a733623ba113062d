package backend_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada-sync/internal/backend"
	"github.com/Makepad-fr/tada-sync/internal/config"
	"github.com/Makepad-fr/tada-sync/internal/model"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("TADA_TOKEN", "")
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Store.SQLitePath = filepath.Join(cfg.DataDir, "todos.db")
	cfg.Auth.IdentityPath = filepath.Join(cfg.DataDir, "identity.db")
	cfg.Auth.BcryptCost = 4
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	h, err := backend.Open(ctx, cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, h.Auth)
	require.NotNil(t, h.Store)
	require.NotNil(t, h.Todos)

	u, err := h.Auth.Register(ctx, "mary@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, h.Todos.SetProfile(ctx, model.Profile{UserID: u.ID, Name: "Mary"}))
	_, err = h.Auth.SignIn(ctx, "mary@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, h.Close())

	// A second process start reuses the generated secret, so the saved
	// session survives.
	secret, err := os.ReadFile(filepath.Join(cfg.DataDir, "jwt.secret"))
	require.NoError(t, err)
	assert.NotEmpty(t, secret)

	h2, err := backend.Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { _ = h2.Close() }()
	cur := h2.Auth.CurrentUser()
	require.NotNil(t, cur)
	assert.Equal(t, u.ID, cur.ID)

	p, err := h2.Todos.Profile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mary", p.Name)
}

func TestOpen_ConfiguredSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "configured"
	h, err := backend.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = os.Stat(filepath.Join(cfg.DataDir, "jwt.secret"))
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_UnreachableRedisFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := backend.Open(ctx, cfg, nil)
	assert.Error(t, err)
}
