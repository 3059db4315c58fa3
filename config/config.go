/*
config.go - Service configuration

PURPOSE:
  Reads every setting from the environment (optionally seeded from a .env
  file) into one typed Config and validates it before anything starts.

KEYS:
  Nested keys map to upper-case environment variables with "." replaced
  by "_": server.port -> SERVER_PORT, store.driver -> STORE_DRIVER.

  SERVER_PORT, SERVER_HOST, SERVER_ENV, SERVER_ALLOWED_ORIGINS (comma list)
  STORE_DRIVER (memory|sqlite|postgres|file), STORE_PATH, STORE_DSN, STORE_CACHE
  REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_TTL, REDIS_PREFIX
  LOGGING_LEVEL, LOGGING_FORMAT, LOGGING_OUTPUT
  LEDGER_TIE_BREAK (last|first), LEDGER_DEFAULT_WEEKS
  BACKUP_ENABLED, BACKUP_SCHEDULE (cron), BACKUP_BUCKET, BACKUP_PREFIX,
  BACKUP_ENDPOINT, BACKUP_REGION, BACKUP_ACCESS_KEY_ID,
  BACKUP_SECRET_ACCESS_KEY, BACKUP_KEEP
  RECONCILE_ENABLED, RECONCILE_INTERVAL
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/linebook/collection-ledger/ledger"
	"github.com/linebook/collection-ledger/logging"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   logging.Config  `mapstructure:"logging"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	Env            string        `mapstructure:"env"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
	Cache  bool   `mapstructure:"cache"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

type LedgerConfig struct {
	TieBreak     string `mapstructure:"tie_break"`
	DefaultWeeks int    `mapstructure:"default_weeks"`
}

type BackupConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Schedule        string `mapstructure:"schedule"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Keep            int    `mapstructure:"keep"`
}

type ReconcileConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
)

var defaults = map[string]any{
	"server.port":            8080,
	"server.host":            "0.0.0.0",
	"server.env":             "development",
	"server.allowed_origins": []string{"*"},
	"server.read_timeout":    "15s",
	"server.write_timeout":   "30s",

	"store.driver": DriverSQLite,
	"store.path":   "ledger.db",
	"store.dsn":    "",
	"store.cache":  false,

	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,
	"redis.ttl":      "5m",
	"redis.prefix":   "ledger:",

	"logging.level":       "info",
	"logging.format":      "json",
	"logging.output":      "stdout",
	"logging.time_format": logging.DefaultTimeFormat,

	"ledger.tie_break":     string(ledger.TieBreakLast),
	"ledger.default_weeks": 12,

	"backup.enabled":           false,
	"backup.schedule":          "0 2 * * *",
	"backup.bucket":            "",
	"backup.prefix":            "backups",
	"backup.endpoint":          "",
	"backup.region":            "auto",
	"backup.access_key_id":     "",
	"backup.secret_access_key": "",
	"backup.keep":              14,

	"reconcile.enabled":  true,
	"reconcile.interval": "1h",
}

// Load reads the optional env files (".env" when none are given), then the
// environment, and validates the result. Variables already set in the
// environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverFile:
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH is required for the %s driver", c.Store.Driver)
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("STORE_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, sqlite, postgres, file; got %q", c.Store.Driver)
	}
	if c.Store.Cache && c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required when STORE_CACHE is on")
	}

	if _, err := ledger.ParseTieBreak(c.Ledger.TieBreak); err != nil {
		return fmt.Errorf("LEDGER_TIE_BREAK: %w", err)
	}
	if c.Ledger.DefaultWeeks <= 0 {
		return errors.New("LEDGER_DEFAULT_WEEKS must be greater than 0")
	}

	if c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return errors.New("BACKUP_BUCKET is required when backups are enabled")
		}
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			return fmt.Errorf("BACKUP_SCHEDULE must be a cron expression: %w", err)
		}
		if c.Backup.Keep < 0 {
			return errors.New("BACKUP_KEEP must not be negative")
		}
	}

	if c.Reconcile.Enabled && c.Reconcile.Interval <= 0 {
		return errors.New("RECONCILE_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// TieBreak returns the validated ledger tie-break rule.
func (c *Config) TieBreak() ledger.TieBreak {
	tb, _ := ledger.ParseTieBreak(c.Ledger.TieBreak)
	return tb
}
