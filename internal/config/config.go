// Package config loads settings from defaults, an optional YAML file, a
// .env file and TADA_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite    = "sqlite"
	DriverFirestore = "firestore"
)

type StoreSection struct {
	// Driver is "sqlite" (default) or "firestore".
	Driver string `yaml:"driver"`
	// SQLitePath defaults to <data_dir>/todos.db.
	SQLitePath       string `yaml:"sqlite_path"`
	FirestoreProject string `yaml:"firestore_project"`
}

// RedisSection enables cross-process live queries for the sqlite driver.
// Leave Addr empty to disable.
type RedisSection struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type AuthSection struct {
	// JWTSecret signs session tokens. When empty a random secret is kept in
	// <data_dir>/jwt.secret.
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	BcryptCost  int           `yaml:"bcrypt_cost"`
	SignInEvery time.Duration `yaml:"sign_in_every"`
	SignInBurst int           `yaml:"sign_in_burst"`
	// IdentityPath defaults to <data_dir>/identity.db.
	IdentityPath string `yaml:"identity_path"`
}

type UISection struct {
	Theme         string        `yaml:"theme"`
	NoColor       bool          `yaml:"no_color"`
	RedirectDelay time.Duration `yaml:"redirect_delay"`
}

type LogSection struct {
	Level string `yaml:"level"`
	// File defaults to <data_dir>/tada.log.
	File string `yaml:"file"`
}

type Config struct {
	DataDir string       `yaml:"data_dir"`
	Store   StoreSection `yaml:"store"`
	Redis   RedisSection `yaml:"redis"`
	Auth    AuthSection  `yaml:"auth"`
	UI      UISection    `yaml:"ui"`
	Log     LogSection   `yaml:"log"`
}

// Default returns the built-in settings, rooted at ~/.tada.
func Default() Config {
	dir := ".tada"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".tada")
	}
	return Config{
		DataDir: dir,
		Store:   StoreSection{Driver: DriverSQLite},
		Redis:   RedisSection{Channel: "tada:changes"},
		Auth: AuthSection{
			TokenTTL:    30 * 24 * time.Hour,
			BcryptCost:  10,
			SignInEvery: 2 * time.Second,
			SignInBurst: 5,
		},
		UI:  UISection{Theme: "classic", RedirectDelay: 3 * time.Second},
		Log: LogSection{Level: "info"},
	}
}

// Load builds the configuration. path may be empty, in which case
// <data_dir>/config.yaml is read if it exists.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}
	if err := loadFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.fillPaths()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("TADA_DATA_DIR", &cfg.DataDir)
	str("TADA_STORE_DRIVER", &cfg.Store.Driver)
	str("TADA_SQLITE_PATH", &cfg.Store.SQLitePath)
	str("TADA_FIRESTORE_PROJECT", &cfg.Store.FirestoreProject)
	str("TADA_REDIS_ADDR", &cfg.Redis.Addr)
	str("TADA_REDIS_PASSWORD", &cfg.Redis.Password)
	str("TADA_REDIS_CHANNEL", &cfg.Redis.Channel)
	str("TADA_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("TADA_IDENTITY_PATH", &cfg.Auth.IdentityPath)
	str("TADA_THEME", &cfg.UI.Theme)
	str("TADA_LOG_LEVEL", &cfg.Log.Level)
	str("TADA_LOG_FILE", &cfg.Log.File)

	ints := []struct {
		key string
		dst *int
	}{
		{"TADA_REDIS_DB", &cfg.Redis.DB},
		{"TADA_BCRYPT_COST", &cfg.Auth.BcryptCost},
		{"TADA_SIGN_IN_BURST", &cfg.Auth.SignInBurst},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: not a number: %q", e.key, v)
			}
			*e.dst = n
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TADA_TOKEN_TTL", &cfg.Auth.TokenTTL},
		{"TADA_SIGN_IN_EVERY", &cfg.Auth.SignInEvery},
		{"TADA_REDIRECT_DELAY", &cfg.UI.RedirectDelay},
	}
	for _, e := range durations {
		if v := os.Getenv(e.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = d
		}
	}

	if v := os.Getenv("TADA_NO_COLOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TADA_NO_COLOR: %w", err)
		}
		cfg.UI.NoColor = b
	}
	return nil
}

func (c *Config) fillPaths() {
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.DataDir, "todos.db")
	}
	if c.Auth.IdentityPath == "" {
		c.Auth.IdentityPath = filepath.Join(c.DataDir, "identity.db")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.DataDir, "tada.log")
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must be set")
	}
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverFirestore:
		if c.Store.FirestoreProject == "" {
			return errors.New("store.firestore_project is required for the firestore driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost %d out of range 4-31", c.Auth.BcryptCost)
	}
	if c.Auth.SignInEvery <= 0 || c.Auth.SignInBurst <= 0 {
		return errors.New("auth.sign_in_every and auth.sign_in_burst must be positive")
	}
	if c.UI.RedirectDelay < 0 {
		return errors.New("ui.redirect_delay must not be negative")
	}
	switch strings.ToLower(c.UI.Theme) {
	case "classic", "neon", "mono":
	default:
		return fmt.Errorf("unknown theme %q", c.UI.Theme)
	}
	return nil
}
