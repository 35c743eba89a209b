package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/bootgate/pkg/config"
)

func TestSchema(t *testing.T) {
	schema := Schema()
	require.NotNil(t, schema.Properties)

	for _, key := range []string{"logging", "probe", "database", "migrations", "service", "cache", "metrics"} {
		_, ok := schema.Properties.Get(key)
		assert.True(t, ok, "schema has %s", key)
	}
}

func TestConfigWarnings(t *testing.T) {
	cfg := config.GetDefaultConfig()
	warnings := configWarnings(cfg)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "no database configured")

	cfg.Database.URL = "sqlite:///tmp/app.db"
	cfg.Probe.Deadline = 0
	cfg.Probe.MaxAttempts = 0
	cfg.Metrics.PushURL = "http://pushgateway:9091"
	warnings = configWarnings(cfg)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "waits until interrupted")
	assert.Contains(t, warnings[1], "metrics are disabled")
}

func TestSummary(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Service.Command = []string{"uvicorn", "app.main:app"}

	pairs := map[string]string{}
	for _, kv := range summary(cfg) {
		pairs[kv[0]] = kv[1]
	}
	assert.Equal(t, "none", pairs["Database"])
	assert.Equal(t, "embedded", pairs["Migrations"])
	assert.Equal(t, "uvicorn app.main:app", pairs["Service"])
	assert.Equal(t, "1m0s", pairs["Probe deadline"])
}
