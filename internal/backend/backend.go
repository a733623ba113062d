// Package backend builds the single set of clients (identity provider and
// document store) that the rest of the program is handed at startup.
package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Makepad-fr/tada-sync/internal/config"
	"github.com/Makepad-fr/tada-sync/internal/docstore"
	"github.com/Makepad-fr/tada-sync/internal/identity"
	"github.com/Makepad-fr/tada-sync/internal/todo"
)

const secretFileName = "jwt.secret"

// Handle owns the backend clients for the lifetime of the process.
type Handle struct {
	Auth  *identity.Provider
	Store docstore.Store
	Todos *todo.Service

	closers []io.Closer
}

// Open initializes the backend from cfg. Any error is fatal for the caller.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	h := &Handle{}

	secret, err := loadSecret(cfg)
	if err != nil {
		return nil, err
	}
	auth, err := identity.OpenProvider(cfg.Auth.IdentityPath, identity.Options{
		Secret:      secret,
		TokenTTL:    cfg.Auth.TokenTTL,
		BcryptCost:  cfg.Auth.BcryptCost,
		SignInRate:  rate.Every(cfg.Auth.SignInEvery),
		SignInBurst: cfg.Auth.SignInBurst,
		Credentials: identity.Credentials{Dir: cfg.DataDir},
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	h.Auth = auth
	h.closers = append(h.closers, auth)

	store, err := openStore(ctx, cfg, logger, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	h.Store = store
	h.Todos = todo.NewService(store)
	// Closed first: live queries stop before the notifier goes away.
	h.closers = append([]io.Closer{store}, h.closers...)

	logger.Info("backend ready", "driver", cfg.Store.Driver, "redis", cfg.Redis.Addr != "")
	return h, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger, h *Handle) (docstore.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverFirestore:
		return docstore.OpenFirestore(ctx, cfg.Store.FirestoreProject, logger)
	case config.DriverSQLite:
		opts := []docstore.Option{docstore.WithLogger(logger)}
		if cfg.Redis.Addr != "" {
			n := docstore.NewRedisNotifier(docstore.RedisOptions{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Channel:  cfg.Redis.Channel,
			}, logger)
			h.closers = append(h.closers, n)
			if err := n.Ping(ctx); err != nil {
				return nil, err
			}
			opts = append(opts, docstore.WithNotifier(n))
		}
		return docstore.OpenSQLite(cfg.Store.SQLitePath, opts...)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// loadSecret returns the configured signing secret, or the one kept in the
// data directory, creating it on first use.
func loadSecret(cfg config.Config) ([]byte, error) {
	if cfg.Auth.JWTSecret != "" {
		return []byte(cfg.Auth.JWTSecret), nil
	}
	p := filepath.Join(cfg.DataDir, secretFileName)
	b, err := os.ReadFile(p)
	if err == nil {
		if s := strings.TrimSpace(string(b)); s != "" {
			return []byte(s), nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read secret: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	s := hex.EncodeToString(raw)
	if err := os.WriteFile(p, []byte(s+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write secret: %w", err)
	}
	return []byte(s), nil
}

// Close releases every client, returning the first error.
func (h *Handle) Close() error {
	var first error
	for _, c := range h.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	h.closers = nil
	return first
}
