package config

import (
	"strings"
	"time"
)

// Default values. The probe cadence matches the shell loop bootgate replaces:
// one attempt per second.
const (
	DefaultProbeHost        = "localhost"
	DefaultProbePort        = 5432
	DefaultProbeInterval    = time.Second
	DefaultProbeDeadline    = 60 * time.Second
	DefaultProbeDialTimeout = time.Second
	DefaultProbeMaxInterval = 10 * time.Second

	DefaultServicePort = 8000
	DefaultCacheHost   = "localhost"
	DefaultCachePort   = 6379
	DefaultMetricsPort = 9090

	// DefaultMigrationLockKey is an arbitrary constant shared by all runners
	// of one deployment ("bootgate" in ASCII).
	DefaultMigrationLockKey int64 = 0x626f6f7467617465
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
// Fields whose zero value is meaningful (Probe.Deadline, Probe.MaxAttempts,
// the Enabled flags) are defaulted only through GetDefaultConfig.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyProbeDefaults(&cfg.Probe)
	applyDatabaseDefaults(&cfg.Database)
	applyMigrationsDefaults(&cfg.Migrations)
	applyServiceDefaults(&cfg.Service)
	applyCacheDefaults(&cfg.Cache)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)

	// stderr: stdout carries command output (migrate status, config show).
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
	if cfg.JobName == "" {
		cfg.JobName = "bootgate"
	}
}

// applyProbeDefaults fills the retry cadence and caps the dial timeout so
// that one attempt never outlasts the retry interval.
func applyProbeDefaults(cfg *ProbeConfig) {
	if cfg.Host == "" {
		cfg.Host = DefaultProbeHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultProbePort
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultProbeInterval
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultProbeDialTimeout
	}
	if cfg.Interval > 0 && cfg.DialTimeout > cfg.Interval {
		cfg.DialTimeout = cfg.Interval
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = 1.0
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = DefaultProbeMaxInterval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
}

func applyMigrationsDefaults(cfg *MigrationsConfig) {
	if cfg.LockKey == 0 {
		cfg.LockKey = DefaultMigrationLockKey
	}
}

func applyServiceDefaults(cfg *ServiceConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultServicePort
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Host == "" {
		cfg.Host = DefaultCacheHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultCachePort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Seeding viper so environment variables resolve without a file
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{Insecure: true},
		Probe: ProbeConfig{
			Deadline: DefaultProbeDeadline,
		},
		Cache: CacheConfig{Enabled: true},
	}

	ApplyDefaults(cfg)
	return cfg
}
