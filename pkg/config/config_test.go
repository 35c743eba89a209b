package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// clearEnvAliases blanks the plain aliases a CI environment may export.
// viper treats empty variables as unset.
func clearEnvAliases(t *testing.T) {
	t.Helper()
	for _, names := range envAliases {
		for _, name := range names {
			t.Setenv(name, "")
		}
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	clearEnvAliases(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Probe.Host)
	assert.Equal(t, 5432, cfg.Probe.Port)
	assert.Equal(t, time.Second, cfg.Probe.Interval)
	assert.Equal(t, 60*time.Second, cfg.Probe.Deadline)
	assert.Equal(t, 0, cfg.Probe.MaxAttempts)
	assert.Equal(t, 8000, cfg.Service.Port)
	assert.Equal(t, "localhost:6379", cfg.Cache.Address())
	assert.True(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "bootgate.yaml", `
logging:
  level: debug
probe:
  host: db
  interval: 500ms
  deadline: 0s
  max_attempts: 10
database:
  url: postgres://app:secret@db:5432/app
service:
  command: ["node", "server.js"]
  env:
    - NODE_ENV=production
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "db:5432", cfg.Probe.Address())
	assert.Equal(t, 500*time.Millisecond, cfg.Probe.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Probe.DialTimeout, "dial timeout is capped to the interval")
	assert.Equal(t, time.Duration(0), cfg.Probe.Deadline)
	assert.Equal(t, 10, cfg.Probe.MaxAttempts)
	assert.Equal(t, "postgres", cfg.Database.Driver())
	assert.Equal(t, []string{"node", "server.js"}, cfg.Service.Command)
	assert.Equal(t, []string{"NODE_ENV=production"}, cfg.Service.Env)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "bootgate.toml", `
[probe]
host = "pg"
port = 6543

[service]
port = 9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pg:6543", cfg.Probe.Address())
	assert.Equal(t, 9000, cfg.Service.Port)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "bootgate.yaml", "probe: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "bootgate.yaml", "probe:\n  port: 70000\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Run("PrefixedOverridesFile", func(t *testing.T) {
		path := writeConfig(t, "bootgate.yaml", "probe:\n  deadline: 60s\nlogging:\n  level: INFO\n")
		t.Setenv("BOOTGATE_PROBE_DEADLINE", "5s")
		t.Setenv("BOOTGATE_LOGGING_LEVEL", "error")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.Probe.Deadline)
		assert.Equal(t, "ERROR", cfg.Logging.Level)
	})

	t.Run("WithoutConfigFile", func(t *testing.T) {
		t.Setenv("BOOTGATE_PROBE_MAX_ATTEMPTS", "3")
		t.Setenv("BOOTGATE_METRICS_ENABLED", "true")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Probe.MaxAttempts)
		assert.True(t, cfg.Metrics.Enabled)
	})

	t.Run("PlainAliases", func(t *testing.T) {
		t.Setenv("DB_HOST", "postgres")
		t.Setenv("DB_PORT", "15432")
		t.Setenv("DATABASE_URL", "postgresql://u:p@postgres:15432/app")
		t.Setenv("PORT", "8080")
		t.Setenv("REDIS_HOST", "redis")

		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "postgres:15432", cfg.Probe.Address())
		assert.Equal(t, "postgresql://u:p@postgres:15432/app", cfg.Database.URL)
		assert.Equal(t, 8080, cfg.Service.Port)
		assert.Equal(t, "redis:6379", cfg.Cache.Address())
	})

	t.Run("PrefixedWinsOverAlias", func(t *testing.T) {
		t.Setenv("DB_HOST", "alias")
		t.Setenv("BOOTGATE_PROBE_HOST", "prefixed")

		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "prefixed", cfg.Probe.Host)
	})

	t.Run("CommandStringIsSplit", func(t *testing.T) {
		t.Setenv("BOOTGATE_SERVICE_COMMAND", "uvicorn main:app --port 8000")

		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, []string{"uvicorn", "main:app", "--port", "8000"}, cfg.Service.Command)
	})
}

func TestDatabaseDriver(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgres://u:p@h:5432/db", "postgres"},
		{"postgresql://u:p@h/db", "postgres"},
		{"sqlite:///var/lib/app.db", "sqlite"},
		{"SQLITE3://app.db", "sqlite"},
		{"mysql://u:p@h/db", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, DatabaseConfig{URL: tt.url}.Driver())
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Probe.Host = "db"
	cfg.Service.Command = []string{"./api"}

	path := filepath.Join(t.TempDir(), "nested", "bootgate.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "db", loaded.Probe.Host)
	assert.Equal(t, []string{"./api"}, loaded.Service.Command)
	assert.Equal(t, cfg.Probe.Deadline, loaded.Probe.Deadline)
}

func TestGetDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "bootgate", "bootgate.yaml"), GetDefaultConfigPath())
	assert.False(t, DefaultConfigExists())
}
