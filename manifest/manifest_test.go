package manifest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoPersonaEngine/fontstore"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/manifest"
	"github.com/firasghr/GoPersonaEngine/platform"
	"github.com/firasghr/GoPersonaEngine/seed"
	"github.com/firasghr/GoPersonaEngine/sfnt/sfnttest"
)

// storeWith returns a store whose Win32 directory holds n accepted fonts.
func storeWith(t *testing.T, n int) *fontstore.Store {
	t.Helper()
	s := fontstore.New(t.TempDir(), logger.Nop())
	dir := s.Dir(platform.Win32)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < n; i++ {
		data := sfnttest.Basic(fmt.Sprintf("Family%02d", i), "Regular").Bytes()
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("W32_%d_abc%03d.woff2", i, i)), data, 0o644))
	}
	return s
}

func TestBuild_TwentyFiles(t *testing.T) {
	s := storeWith(t, 20)
	entries, err := manifest.New(s, nil).Build(context.Background(), "session-seed", platform.Win32)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(entries), 14)
	assert.LessOrEqual(t, len(entries), 16)

	names := make([]string, len(entries))
	triples := map[[3]string]bool{}
	families := map[string]int{}
	for i, e := range entries {
		names[i] = e.Name
		key := [3]string{e.Family, e.FullName, e.PostScriptName}
		assert.False(t, triples[key], "duplicate triple %v", key)
		triples[key] = true
		families[e.Family]++

		assert.True(t, strings.HasPrefix(e.URL, fontstore.DataURLPrefix))
		assert.Equal(t, 3, e.PlatformID)
		assert.Equal(t, platform.Win32, e.PlatformDOM)
		assert.Equal(t, e.Name, e.Fallback)
		assert.Equal(t, e.PostScriptName, e.FontFamily)
		assert.NotContains(t, e.PostScriptName, " ")
		assert.Equal(t, e.Family[:2]+"-", e.UniqueID[:3])
		assert.Len(t, e.UniqueID, 15)
	}
	assert.True(t, sort.StringsAreSorted(names))
	for f, n := range families {
		assert.LessOrEqual(t, n, manifest.DefaultFamilyCap, f)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	s := storeWith(t, 20)
	ctx := context.Background()
	a, err := manifest.New(s, nil).Build(ctx, "seed-a", platform.Win32)
	require.NoError(t, err)
	b, err := manifest.New(s, nil).Build(ctx, "seed-a", platform.Win32)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuild_CollidingMetadataStaysUnique(t *testing.T) {
	s := storeWith(t, 20)
	entries, err := manifest.New(s, nil, manifest.WithSubfamilies([]string{"Regular"})).
		Build(context.Background(), "crowded", platform.Win32)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	seen := map[string]bool{}
	for _, e := range entries {
		assert.False(t, seen[e.Family], "family %s repeated with a single subfamily", e.Family)
		seen[e.Family] = true
		assert.Equal(t, "Regular", e.Subfamily)
	}
}

func TestBuild_SmallPool(t *testing.T) {
	s := storeWith(t, 5)
	b := manifest.New(s, nil)
	lo, hi := b.Bounds(5)
	assert.Equal(t, 1, lo)
	assert.Equal(t, 5, hi)

	entries, err := b.Build(context.Background(), "x", platform.Win32)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	assert.LessOrEqual(t, len(entries), 5)
}

func TestBuild_EmptyPool(t *testing.T) {
	s := fontstore.New(t.TempDir(), logger.Nop())
	entries, err := manifest.New(s, nil).Build(context.Background(), "x", platform.MacIntel)
	require.NoError(t, err)
	assert.Empty(t, entries)

	path := filepath.Join(t.TempDir(), "Manifest", "fonts-manifest.json")
	require.NoError(t, manifest.Write(path, entries))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))
}

func TestBounds_Range(t *testing.T) {
	b := manifest.New(nil, nil, manifest.WithRange(3, 4))
	lo, hi := b.Bounds(20)
	assert.Equal(t, 3, lo)
	assert.Equal(t, 4, hi)
	lo, hi = b.Bounds(2)
	assert.Equal(t, 1, lo)
	assert.Equal(t, 2, hi)
}

func TestSelectionSeed_OrderIndependent(t *testing.T) {
	a := manifest.SelectionSeed("s", platform.Win32, []string{"b.woff2", "a.woff2"})
	b := manifest.SelectionSeed("s", platform.Win32, []string{"a.woff2", "b.woff2"})
	assert.Equal(t, a, b)
	assert.Equal(t, seed.Derive("s", "Win32", "a.woff2", "b.woff2"), a)
	assert.NotEqual(t, a, manifest.SelectionSeed("s", platform.MacIntel, []string{"a.woff2", "b.woff2"}))
}

func TestGenerate_PlatformPools(t *testing.T) {
	r := seed.Stream(9)
	for i := 0; i < 50; i++ {
		m := manifest.Generate(r, platform.MacIntel, []string{"Bold Italic"})
		assert.Equal(t, "Bold Italic", m.Subfamily)
		assert.Equal(t, m.Family+" Bold Italic", m.FullName)
		assert.Regexp(t, `^Version [1-5]\.\d{1,4}$`, m.Version)
		assert.NotEqual(t, "Microsoft Corp.", m.Designer)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	s := storeWith(t, 3)
	entries, err := manifest.New(s, nil).Build(context.Background(), "rt", platform.Win32)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "fonts-manifest.json")
	require.NoError(t, manifest.Write(path, entries))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []manifest.Entry
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, entries, got)

	var loose []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &loose))
	for _, k := range []string{"name", "url", "fontFamily", "unique_id", "postscript_name", "platform_id", "platform_dom"} {
		assert.Contains(t, loose[0], k)
	}
}
