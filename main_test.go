package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoPersonaEngine/config"
	"github.com/firasghr/GoPersonaEngine/fingerprint"
	"github.com/firasghr/GoPersonaEngine/logger"
)

func testConfig(t *testing.T, sessionSeed string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Seed = sessionSeed
	cfg.AssetsDir = filepath.Join(dir, "assets")
	cfg.ProfileDir = dir
	cfg.ManifestPath = filepath.Join(dir, "assets", "Manifest", "fonts-manifest.json")
	return cfg
}

func readProfile(t *testing.T, cfg *config.Config) fingerprint.Bootstrap {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.ProfileDir, fingerprint.BootstrapFile))
	require.NoError(t, err)
	var doc fingerprint.Bootstrap
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestRunSynth_Deterministic(t *testing.T) {
	a := testConfig(t, "0f3c9e2a7b1d4c5e8f90a1b2c3d4e5f6")
	b := testConfig(t, "0f3c9e2a7b1d4c5e8f90a1b2c3d4e5f6")
	require.NoError(t, runSynth(context.Background(), a, logger.Nop(), false))
	require.NoError(t, runSynth(context.Background(), b, logger.Nop(), false))

	da, db := readProfile(t, a), readProfile(t, b)
	require.NotNil(t, da.Profile)
	assert.Equal(t, da.Profile, db.Profile)
	assert.Equal(t, "0f3c9e2a7b1d4c5e8f90a1b2c3d4e5f6", da.Seed)

	manifest, err := os.ReadFile(a.ManifestPath)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(manifest), "no accepted fonts yields an empty manifest")
}

func TestRunSynth_GeneratesSeed(t *testing.T) {
	cfg := testConfig(t, "")
	require.NoError(t, runSynth(context.Background(), cfg, logger.Nop(), true))
	doc := readProfile(t, cfg)
	assert.Len(t, doc.Seed, 32)
	assert.NoFileExists(t, cfg.ManifestPath)
}

func TestSetup_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fonts:\n  min_n: 3\n  maximum: 4\n"), 0o600))

	root := newRootCmd(&app{})
	root.SetArgs([]string{"--config", path, "fonts", "reconcile", "--platform", "Win32"})
	assert.Error(t, root.ExecuteContext(context.Background()))
}

func TestSetup_LogLevelOverride(t *testing.T) {
	a := &app{}
	root := newRootCmd(a)
	require.NoError(t, root.ParseFlags([]string{"--log-level", "debug"}))
	require.NoError(t, a.setup(root, nil))
	assert.Equal(t, "debug", a.cfg.Log.Level)

	bad := &app{}
	root = newRootCmd(bad)
	require.NoError(t, root.ParseFlags([]string{"--log-level", "loud"}))
	assert.Error(t, bad.setup(root, nil))
}

func TestLocaleSource_Static(t *testing.T) {
	src, closeFn, err := localeSource(config.LocaleConfig{Languages: []string{"de-DE"}, Timezone: "Europe/Berlin"})
	require.NoError(t, err)
	defer closeFn()
	geo, err := src.Locale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"de-DE"}, geo.Languages)
	assert.Equal(t, "Europe/Berlin", geo.Timezone)

	_, _, err = localeSource(config.LocaleConfig{GeoIPDB: "absent.mmdb", ExitIP: "not-an-ip"})
	assert.Error(t, err)
}
