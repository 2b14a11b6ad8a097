package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/claude/fitforge/internal/policy"
	"github.com/claude/fitforge/internal/storage"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Policy    PolicyConfig    `yaml:"policy"`
	Backup    BackupConfig    `yaml:"backup"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// StaticDir, when set, is served as a single-page app for unmatched routes.
	StaticDir string `yaml:"static_dir"`
}

// StorageConfig picks the session backend: "file" (JSON documents under
// DataDir) or "postgres" (Database section).
type StorageConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type PolicyConfig struct {
	policy.Policy `yaml:",inline"`
	// SweepInterval is how often stale sessions are auto-abandoned in the
	// background. Zero disables the sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type BackupConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	KeepDays int           `yaml:"keep_days"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// StorageOptions translates the storage and database sections for storage.Open.
func (c *Config) StorageOptions(migrations string) storage.Options {
	return storage.Options{
		Driver:     c.Storage.Driver,
		DataDir:    c.Storage.DataDir,
		DSN:        c.Database.DSN(),
		Migrations: migrations,
	}
}

// Default returns the values used for anything the file leaves out.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "127.0.0.1", Port: 8080},
		Storage: StorageConfig{Driver: "file", DataDir: "data"},
		Database: DatabaseConfig{
			Port: 5432,
		},
		Policy: PolicyConfig{
			Policy:        policy.Default(),
			SweepInterval: 5 * time.Minute,
		},
		Backup: BackupConfig{
			Interval: 24 * time.Hour,
			KeepDays: 14,
		},
		Tailscale: TailscaleConfig{Hostname: "fitforge", StateDir: "tsnet-state"},
		RateLimit: RateLimitConfig{PerSecond: 5, Burst: 20},
	}
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A .env file next to the config file, if present, is loaded into the
// environment first without replacing variables that are already set.
// Env vars use the prefix FITFORGE_ and underscore-separated paths:
//
//	FITFORGE_SERVER_HOST, FITFORGE_SERVER_PORT, FITFORGE_STATIC_DIR,
//	FITFORGE_STORAGE_DRIVER, FITFORGE_DATA_DIR,
//	FITFORGE_DB_HOST, FITFORGE_DB_PORT, FITFORGE_DB_NAME,
//	FITFORGE_DB_USER, FITFORGE_DB_PASSWORD, FITFORGE_DB_SSLMODE,
//	FITFORGE_POLICY_WARNING_MINUTES, FITFORGE_POLICY_AUTO_ABANDON_MINUTES,
//	FITFORGE_POLICY_AUTO_ABANDON, FITFORGE_SWEEP_INTERVAL,
//	FITFORGE_BACKUP_DIR, FITFORGE_BACKUP_INTERVAL, FITFORGE_BACKUP_KEEP_DAYS,
//	FITFORGE_TAILSCALE_ENABLED, FITFORGE_TAILSCALE_HOSTNAME, FITFORGE_TAILSCALE_STATE_DIR,
//	FITFORGE_RATE_LIMIT, FITFORGE_RATE_BURST
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("FITFORGE_SERVER_HOST", &cfg.Server.Host)
	num("FITFORGE_SERVER_PORT", &cfg.Server.Port)
	str("FITFORGE_STATIC_DIR", &cfg.Server.StaticDir)

	str("FITFORGE_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("FITFORGE_DATA_DIR", &cfg.Storage.DataDir)

	str("FITFORGE_DB_HOST", &cfg.Database.Host)
	num("FITFORGE_DB_PORT", &cfg.Database.Port)
	str("FITFORGE_DB_NAME", &cfg.Database.Name)
	str("FITFORGE_DB_USER", &cfg.Database.User)
	str("FITFORGE_DB_PASSWORD", &cfg.Database.Password)
	str("FITFORGE_DB_SSLMODE", &cfg.Database.SSLMode)

	num("FITFORGE_POLICY_WARNING_MINUTES", &cfg.Policy.WarningThreshold)
	num("FITFORGE_POLICY_AUTO_ABANDON_MINUTES", &cfg.Policy.AutoAbandonThreshold)
	boolean("FITFORGE_POLICY_AUTO_ABANDON", &cfg.Policy.EnableAutoAbandon)
	duration("FITFORGE_SWEEP_INTERVAL", &cfg.Policy.SweepInterval)

	str("FITFORGE_BACKUP_DIR", &cfg.Backup.Dir)
	duration("FITFORGE_BACKUP_INTERVAL", &cfg.Backup.Interval)
	num("FITFORGE_BACKUP_KEEP_DAYS", &cfg.Backup.KeepDays)

	boolean("FITFORGE_TAILSCALE_ENABLED", &cfg.Tailscale.Enabled)
	str("FITFORGE_TAILSCALE_HOSTNAME", &cfg.Tailscale.Hostname)
	str("FITFORGE_TAILSCALE_STATE_DIR", &cfg.Tailscale.StateDir)

	float("FITFORGE_RATE_LIMIT", &cfg.RateLimit.PerSecond)
	num("FITFORGE_RATE_BURST", &cfg.RateLimit.Burst)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) validate() error {
	if !c.Tailscale.Enabled && c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	switch c.Storage.Driver {
	case "file":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the file driver")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Port == 0 {
			return fmt.Errorf("database.port is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	default:
		return fmt.Errorf("storage.driver must be file or postgres, got %q", c.Storage.Driver)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if c.Policy.SweepInterval < 0 {
		return fmt.Errorf("policy.sweep_interval must be >= 0")
	}
	if c.Backup.Dir != "" && c.Backup.Interval <= 0 {
		return fmt.Errorf("backup.interval must be > 0 when backup.dir is set")
	}
	if c.Backup.KeepDays < 0 {
		return fmt.Errorf("backup.keep_days must be >= 0")
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must be >= 0")
	}
	return nil
}
