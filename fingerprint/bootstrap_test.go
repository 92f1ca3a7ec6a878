package fingerprint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/firasghr/GoPersonaEngine/fingerprint"
	"github.com/firasghr/GoPersonaEngine/logger"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestBootstrap_WriteRead(t *testing.T) {
	dir := t.TempDir()
	id, err := synth(t, windowsPools(), 5)
	require.NoError(t, err)

	now := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	path, err := fingerprint.WriteBootstrap(dir, fingerprint.NewBootstrap(id, "abc123", now))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "profile.json"), path)
	assert.FileExists(t, filepath.Join(dir, "profiles", "profile_20250314_092653_589793.json"))

	doc := fingerprint.ReadBootstrap(path, nil)
	require.False(t, doc.Empty())
	assert.Equal(t, fingerprint.BootstrapVersion, doc.Version)
	assert.Equal(t, "abc123", doc.Seed)
	assert.Equal(t, id.UserAgent, doc.Profile.UserAgent)
	assert.Equal(t, fingerprint.Chrome, doc.Profile.Browser)
	assert.Equal(t, id.ClientHints(), doc.ExpectedClientHints)
	assert.Equal(t, []string{}, doc.PassthroughSuffixes)
}

func TestReadBootstrap_Degrades(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, writeFile(corrupt, "{not json"))
	future := filepath.Join(dir, "future.json")
	require.NoError(t, writeFile(future, `{"version":9,"profile":{}}`))

	core, logs := observer.New(zap.WarnLevel)
	log := logger.FromZap(zap.New(core))
	for _, path := range []string{filepath.Join(dir, "missing.json"), corrupt, future} {
		doc := fingerprint.ReadBootstrap(path, log)
		assert.True(t, doc.Empty(), path)
	}
	assert.Equal(t, 3, logs.Len())
}

func TestForTimezone(t *testing.T) {
	winter := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	g := fingerprint.ForTimezone("Europe/Berlin", winter)
	assert.Equal(t, "DE", g.Country)
	assert.Equal(t, []string{"de-DE"}, g.Languages)
	assert.Equal(t, "de", g.Domain)
	assert.Equal(t, 60, g.OffsetMinutes)

	summer := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 120, fingerprint.ForTimezone("Europe/Berlin", summer).OffsetMinutes)
	assert.Equal(t, -300, fingerprint.ForTimezone("America/New_York", winter).OffsetMinutes)

	g = fingerprint.ForTimezone("Pacific/Nowhere", winter)
	assert.Equal(t, []string{"en-GB"}, g.Languages)
	assert.Equal(t, "com", g.Domain)
	assert.Zero(t, g.OffsetMinutes)
}

func TestStaticLocale_Copies(t *testing.T) {
	src := fingerprint.StaticLocale{Languages: []string{"pl-PL"}, Timezone: "Europe/Warsaw"}
	g, err := src.Locale(context.Background())
	require.NoError(t, err)
	g.Languages[0] = "xx"
	assert.Equal(t, "pl-PL", src.Languages[0])
}

func TestOpenGeoIP_Errors(t *testing.T) {
	_, err := fingerprint.OpenGeoIP(filepath.Join(t.TempDir(), "none.mmdb"), "203.0.113.7", fingerprint.Geo{})
	assert.Error(t, err)
	_, err = fingerprint.OpenGeoIP("whatever.mmdb", "not-an-ip", fingerprint.Geo{})
	assert.Error(t, err)
}
