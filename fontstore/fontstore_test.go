package fontstore_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoPersonaEngine/failure"
	"github.com/firasghr/GoPersonaEngine/fontstore"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/platform"
	"github.com/firasghr/GoPersonaEngine/sfnt"
	"github.com/firasghr/GoPersonaEngine/sfnt/sfnttest"
)

func newStore(t *testing.T) (*fontstore.Store, string) {
	t.Helper()
	root := t.TempDir()
	return fontstore.New(root, logger.Nop(), fontstore.WithWorkers(3)), root
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestReconcile_IndexesAndRemovesEntries(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	dir := s.Dir(platform.Win32)

	writeFile(t, filepath.Join(dir, "a.woff2"), sfnttest.Basic("Codex", "Regular").Bytes())
	writeFile(t, filepath.Join(dir, "b.woff2"), sfnttest.Basic("Torus", "Bold").Bytes())
	writeFile(t, filepath.Join(dir, "bogus.woff2"), []byte("not a font"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("ignored"))

	idx, err := s.Reconcile(ctx, platform.Win32)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.woff2", "b.woff2"}, idx.Names())
	for _, rec := range idx.Files {
		assert.Len(t, rec.MD5, 32)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "fonts_index.json"))
	require.NoError(t, err)
	var onDisk fontstore.Index
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, 1, onDisk.Version)
	assert.Equal(t, platform.Win32, onDisk.Platform)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.woff2")))
	idx, err = s.Reconcile(ctx, platform.Win32)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.woff2"}, idx.Names())
	assert.NoFileExists(t, filepath.Join(dir, ".lock"))
}

func TestReconcile_ForeignPlatformIndexIsDiscarded(t *testing.T) {
	s, _ := newStore(t)
	dir := s.Dir(platform.MacIntel)
	writeFile(t, filepath.Join(dir, "fonts_index.json"),
		[]byte(`{"version":1,"platform":"Win32","files":{"ghost.woff2":{"size":1,"mtime":1,"md5":"x"}}}`))

	idx := s.LoadIndex(platform.MacIntel)
	assert.Empty(t, idx.Files)
	assert.Equal(t, platform.MacIntel, idx.Platform)
}

func TestEncoded_RoundTripAndCache(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	data := sfnttest.Basic("Lumora", "Light").Bytes()
	writeFile(t, filepath.Join(s.Dir(platform.Win32), "f.woff2"), data)

	idx, err := s.Reconcile(ctx, platform.Win32)
	require.NoError(t, err)
	rec := idx.Files["f.woff2"]

	enc, err := s.GetEncoded(platform.Win32, "f.woff2")
	require.NoError(t, err)
	require.NotEmpty(t, enc)
	assert.FileExists(t, filepath.Join(s.Dir(platform.Win32), "cache_data", rec.MD5+".b64"))

	got, err := fontstore.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	url, err := s.DataURL(platform.Win32, "f.woff2", rec)
	require.NoError(t, err)
	got, err = fontstore.Decode(url)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEncoded_ReplacedFileIsRehashed(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	path := filepath.Join(s.Dir(platform.Win32), "f.woff2")
	writeFile(t, path, sfnttest.Basic("Lumora", "Light").Bytes())

	idx, err := s.Reconcile(ctx, platform.Win32)
	require.NoError(t, err)
	_, err = s.GetEncoded(platform.Win32, "f.woff2")
	require.NoError(t, err)

	replaced := sfnttest.Basic("Equinox", "Bold").Bytes()
	writeFile(t, path, replaced)
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	enc, err := s.Encoded(platform.Win32, "f.woff2", idx.Files["f.woff2"])
	require.NoError(t, err)
	got, err := fontstore.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, replaced, got)
}

func TestEncoded_BadSignatureYieldsEmpty(t *testing.T) {
	s, _ := newStore(t)
	writeFile(t, filepath.Join(s.Dir(platform.Win32), "x.woff2"), []byte("OTTO...."))

	enc, err := s.Encoded(platform.Win32, "x.woff2", fontstore.Record{})
	require.NoError(t, err)
	assert.Empty(t, enc)
}

func TestReconcile_RemovesOrphanedCacheEntries(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	dir := s.Dir(platform.Win32)
	writeFile(t, filepath.Join(dir, "keep.woff2"), sfnttest.Basic("Solvex", "Regular").Bytes())

	idx, err := s.Reconcile(ctx, platform.Win32)
	require.NoError(t, err)
	_, err = s.GetEncoded(platform.Win32, "keep.woff2")
	require.NoError(t, err)

	orphan := filepath.Join(dir, "cache_data", "00000000000000000000000000000000.b64")
	writeFile(t, orphan, []byte("AAAA"))

	_, err = s.Reconcile(ctx, platform.Win32)
	require.NoError(t, err)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, filepath.Join(dir, "cache_data", idx.Files["keep.woff2"].MD5+".b64"))
}

func TestInspect_Rejections(t *testing.T) {
	good := sfnttest.Basic("Viretta", "Regular")

	noDigits := good
	noDigits.Runes = nil
	for _, r := range sfnttest.BasicLatin() {
		if r < '0' || r > '9' {
			noDigits.Runes = append(noDigits.Runes, r)
		}
	}

	icon := sfnttest.Basic("Awesome Icons", "Regular")

	color := good
	color.Extra = []string{"COLR"}

	pua := good
	pua.Runes = append([]rune{}, good.Runes...)
	for r := rune(0xE000); r < 0xE000+200; r++ {
		pua.Runes = append(pua.Runes, r)
	}

	restricted := good
	restricted.FsType = sfnt.FsTypeRestricted

	protective := good
	for r := 'a'; r <= 'z'; r++ {
		g := good.Glyph(r)
		protective.Substitutions = append(protective.Substitutions, sfnt.SinglePair{From: g, To: g + 1})
	}

	tall := good
	tall.WinAscent, tall.WinDescent = 3500, 900

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"signature", []byte("\x00\x01\x00\x00"), fontstore.ErrBadSignature},
		{"truncated", []byte("wOF2\x00\x01\x00\x00"), fontstore.ErrUnreadable},
		{"no cmap", func() []byte { f := good; f.Omit = []string{"cmap"}; return f.Bytes() }(), fontstore.ErrNoCmap},
		{"ascii", noDigits.Bytes(), fontstore.ErrMissingASCII},
		{"icon keyword", icon.Bytes(), fontstore.ErrIconFont},
		{"color table", color.Bytes(), fontstore.ErrIconFont},
		{"private use", pua.Bytes(), fontstore.ErrIconFont},
		{"fsType", restricted.Bytes(), fontstore.ErrEmbeddingRestricted},
		{"gsub", protective.Bytes(), fontstore.ErrProtectiveGSUB},
		{"metrics", tall.Bytes(), fontstore.ErrAnomalousMetrics},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fontstore.Inspect(tc.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, failure.ErrRecoverableAsset)
		})
	}

	rep, err := fontstore.Inspect(good.Bytes())
	require.NoError(t, err)
	assert.Equal(t, [2]string{"Viretta", "Regular"}, rep.Key())
}

func TestInspect_belowThresholdThresholdOrNonDefaultFeature(t *testing.T) {
	few := sfnttest.Basic("Axionis", "Regular")
	for r := 'a'; r < 'a'+belowThreshold; r++ {
		g := few.Glyph(r)
		few.Substitutions = append(few.Substitutions, sfnt.SinglePair{From: g, To: g + 1})
	}
	_, err := fontstore.Inspect(few.Bytes())
	assert.NoError(t, err)

	optIn := sfnttest.Basic("Axionis", "Bold")
	optIn.SubstFeature = "ss01"
	optIn.Substitutions = nil
	for r := 'a'; r <= 'z'; r++ {
		g := optIn.Glyph(r)
		optIn.Substitutions = append(optIn.Substitutions, sfnt.SinglePair{From: g, To: g + 1})
	}
	// The only lookup is reachable from a stylistic set, not a default
	// feature, so with no default mapping every lookup is still checked.
	_, err = fontstore.Inspect(optIn.Bytes())
	assert.ErrorIs(t, err, fontstore.ErrProtectiveGSUB)
}

const belowThreshold = fontstore.GSUBThreshold - 1

func TestIngest_AcceptsRejectsAndDeduplicates(t *testing.T) {
	s, root := newStore(t)
	ctx := context.Background()
	intake := filepath.Join(root, "fonts_raw")

	inputs := []struct {
		name string
		data []byte
	}{
		{"a_one.woff2", sfnttest.Basic("PrimeSans", "Regular").Bytes()},
		{"b_two.woff2", sfnttest.Basic("PrimeSans", "Bold").Bytes()},
		{"c_dup.woff2", sfnttest.Basic("PrimeSans", "Regular").Bytes()},
		{"d_fake.woff2", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")},
	}
	var files []string
	for _, in := range inputs {
		p := filepath.Join(intake, in.name)
		writeFile(t, p, in.data)
		files = append(files, p)
	}

	res, err := s.IngestRaw(ctx, platform.Win32)
	require.NoError(t, err)
	require.Len(t, res.Accepted, 2)
	require.Len(t, res.Rejected, 2)

	reasons := map[string]error{}
	for _, r := range res.Rejected {
		reasons[filepath.Base(r.File)] = r.Reason
	}
	assert.ErrorIs(t, reasons["c_dup.woff2"], fontstore.ErrDuplicate)
	assert.ErrorIs(t, reasons["d_fake.woff2"], fontstore.ErrBadSignature)
	assert.Contains(t, reasons["d_fake.woff2"].Error(), "image/png")

	for _, f := range files {
		assert.NoFileExists(t, f)
	}
	for _, name := range res.Accepted {
		assert.Regexp(t, `^W32_\d+_[0-9a-f]{6}\.woff2$`, name)
	}
	names := append([]string(nil), res.Accepted...)
	sort.Strings(names)
	assert.Equal(t, names, res.Index.Names())

	// A later batch still sees the accepted pair.
	again := filepath.Join(intake, "again.woff2")
	writeFile(t, again, sfnttest.Basic("PrimeSans", "Bold").Bytes())
	res, err = s.Ingest(ctx, platform.Win32, []string{again})
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.ErrorIs(t, res.Rejected[0].Reason, fontstore.ErrDuplicate)
}

func TestIngest_NameCollisionGetsSuffix(t *testing.T) {
	s, root := newStore(t)
	ctx := context.Background()
	data := sfnttest.Basic("Equinox", "Regular").Bytes()

	first := filepath.Join(root, "in", "a.woff2")
	writeFile(t, first, data)
	res, err := s.Ingest(ctx, platform.MacIntel, []string{first})
	require.NoError(t, err)
	require.Len(t, res.Accepted, 1)

	// Same bytes, same batch position, different family: name collides.
	other := sfnttest.Basic("Equinox", "Regular")
	other.Family = "Equinox Two"
	otherData := other.Bytes()
	second := filepath.Join(root, "in", "b.woff2")
	writeFile(t, second, otherData)
	require.NoError(t, os.Rename(filepath.Join(s.Dir(platform.MacIntel), res.Accepted[0]),
		filepath.Join(s.Dir(platform.MacIntel), fmt.Sprintf("mac_0_%s.woff2", md5Prefix(otherData)))))

	res, err = s.Ingest(ctx, platform.MacIntel, []string{second})
	require.NoError(t, err)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, fmt.Sprintf("mac_0_%s_1.woff2", md5Prefix(otherData)), res.Accepted[0])
}

func TestIngestRaw_MissingDirectory(t *testing.T) {
	s, _ := newStore(t)
	res, err := s.IngestRaw(context.Background(), platform.Win32)
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)
}

func md5Prefix(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])[:6]
}
