package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "warn", Format: "JSON"}}
	ApplyDefaults(cfg)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
}

func TestApplyDefaults_Probe(t *testing.T) {
	t.Run("FillsCadence", func(t *testing.T) {
		cfg := &Config{}
		ApplyDefaults(cfg)

		assert.Equal(t, DefaultProbeInterval, cfg.Probe.Interval)
		assert.Equal(t, DefaultProbeDialTimeout, cfg.Probe.DialTimeout)
		assert.Equal(t, 1.0, cfg.Probe.BackoffMultiplier)
		assert.Equal(t, DefaultProbeMaxInterval, cfg.Probe.MaxInterval)
		assert.Zero(t, cfg.Probe.Deadline, "zero deadline means unbounded and is preserved")
	})

	t.Run("CapsDialTimeoutToInterval", func(t *testing.T) {
		cfg := &Config{Probe: ProbeConfig{Interval: 200 * time.Millisecond, DialTimeout: 5 * time.Second}}
		ApplyDefaults(cfg)
		assert.Equal(t, 200*time.Millisecond, cfg.Probe.DialTimeout)
	})

	t.Run("RaisesMaxIntervalToInterval", func(t *testing.T) {
		cfg := &Config{Probe: ProbeConfig{Interval: 30 * time.Second}}
		ApplyDefaults(cfg)
		assert.Equal(t, 30*time.Second, cfg.Probe.MaxInterval)
	})
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		ShutdownTimeout: 5 * time.Second,
		Service:         ServiceConfig{Port: 3000, Host: "127.0.0.1"},
		Cache:           CacheConfig{Host: "redis", Port: 6380},
		Migrations:      MigrationsConfig{LockKey: 42},
	}
	ApplyDefaults(cfg)

	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "127.0.0.1:3000", cfg.Service.Address())
	assert.Equal(t, "redis:6380", cfg.Cache.Address())
	assert.Equal(t, int64(42), cfg.Migrations.LockKey)
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.NoError(t, Validate(cfg))
	assert.Equal(t, DefaultProbeDeadline, cfg.Probe.Deadline)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, DefaultMigrationLockKey, cfg.Migrations.LockKey)
}
