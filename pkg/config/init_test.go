package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), path)
	assert.True(t, DefaultConfigExists())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, section := range []string{"# bootgate configuration file", "probe:", "database:", "service:", "cache:"} {
		assert.Contains(t, string(content), section)
	}

	var cfg Config
	require.NoError(t, yaml.Unmarshal(content, &cfg))
	assert.Equal(t, "postgres", cfg.Database.Driver())

	_, err = InitConfig(false)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))

	_, err = InitConfig(true)
	require.NoError(t, err)
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom", "bootgate.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	err := InitConfigToPath(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, InitConfigToPath(path, true))
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	clearEnvAliases(t)
	path := filepath.Join(t.TempDir(), "bootgate.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().Probe, cfg.Probe)
	assert.NoError(t, cfg.RequireDatabase())
}
