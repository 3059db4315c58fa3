package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linebook/collection-ledger/config"
	"github.com/linebook/collection-ledger/ledger"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 12, cfg.Ledger.DefaultWeeks)
	assert.Equal(t, ledger.TieBreakLast, cfg.TieBreak())
	assert.Equal(t, time.Hour, cfg.Reconcile.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_DSN", "postgres://ledger@localhost/ledger")
	t.Setenv("LEDGER_TIE_BREAK", "first")
	t.Setenv("RECONCILE_INTERVAL", "10m")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := config.Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, config.DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, ledger.TieBreakFirst, cfg.TieBreak())
	assert.Equal(t, 10*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_DEFAULT_WEEKS=10\nLOGGING_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_DEFAULT_WEEKS")
		os.Unsetenv("LOGGING_LEVEL")
	})

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Ledger.DefaultWeeks)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg, err := config.Load(missingEnvFile(t))
		require.NoError(t, err)
		return *cfg
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mongo" }},
		{"postgres without dsn", func(c *config.Config) { c.Store.Driver = config.DriverPostgres }},
		{"file without path", func(c *config.Config) { c.Store.Driver = config.DriverFile; c.Store.Path = "" }},
		{"bad tie break", func(c *config.Config) { c.Ledger.TieBreak = "middle" }},
		{"zero weeks", func(c *config.Config) { c.Ledger.DefaultWeeks = 0 }},
		{"backup without bucket", func(c *config.Config) { c.Backup.Enabled = true }},
		{"backup bad schedule", func(c *config.Config) {
			c.Backup.Enabled = true
			c.Backup.Bucket = "b"
			c.Backup.Schedule = "whenever"
		}},
		{"port out of range", func(c *config.Config) { c.Server.Port = 70000 }},
		{"reconcile without interval", func(c *config.Config) { c.Reconcile.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
