package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoPersonaEngine/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 14, cfg.Fonts.MinN)
	assert.Equal(t, 16, cfg.Fonts.MaxN)
	assert.Equal(t, 300, cfg.Proxy.RingSize)
	assert.Equal(t, 30*time.Second, cfg.Proxy.StoreSyncInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
seed: abc123
fonts:
  min_n: 3
proxy:
  request_timeout: 5s
  align_client_hints: true
`)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "abc123", cfg.Seed)
	assert.Equal(t, 3, cfg.Fonts.MinN)
	assert.Equal(t, 16, cfg.Fonts.MaxN, "unset field keeps default")
	assert.Equal(t, 5*time.Second, cfg.Proxy.RequestTimeout)
	assert.True(t, cfg.Proxy.AlignClientHints)
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoadConfig_UnknownField(t *testing.T) {
	_, err := config.LoadConfig(writeConfig(t, "fontz:\n  min_n: 1\n"))
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		config.EnvSeed:      "deadbeef",
		config.EnvFontsMinN: "2",
		config.EnvFontsMaxN: "4",
	}
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "deadbeef", cfg.Seed)
	assert.Equal(t, 2, cfg.Fonts.MinN)
	assert.Equal(t, 4, cfg.Fonts.MaxN)

	env[config.EnvFontsMaxN] = "many"
	assert.Error(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
}

func TestValidate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Fonts.MaxN = 1
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.Proxy.CACert = "ca.pem"
	assert.Error(t, cfg.Validate())
}
