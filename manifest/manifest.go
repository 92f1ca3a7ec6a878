// Package manifest selects the session's font set and assigns each font a
// synthetic identity.
//
// Both the selection and the metadata are pure functions of the session
// seed, the platform and the sorted names of the accepted files: the
// selection draws from one stream, the metadata from a second stream seeded
// from the first stream's seed, so neither perturbs the other nor any other
// random consumer in the process.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/atomicfile"
	"github.com/firasghr/GoPersonaEngine/fontstore"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/platform"
	"github.com/firasghr/GoPersonaEngine/seed"
)

// Defaults for the sample size range and the per-family repetition cap.
const (
	DefaultMinN      = 14
	DefaultMaxN      = 16
	DefaultFamilyCap = 6
)

// metadataAttempts bounds how often a colliding metadata draw is retried
// before the font is skipped.
const metadataAttempts = 8

// Entry is one font of the manifest.
type Entry struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	FontFamily     string            `json:"fontFamily"`
	Family         string            `json:"family"`
	Subfamily      string            `json:"subfamily"`
	Weight         string            `json:"weight"`
	Style          string            `json:"style"`
	UniqueID       string            `json:"unique_id"`
	FullName       string            `json:"full_name"`
	Version        string            `json:"version"`
	PostScriptName string            `json:"postscript_name"`
	Designer       string            `json:"designer"`
	License        string            `json:"license"`
	Fallback       string            `json:"fallback"`
	PlatformID     int               `json:"platform_id"`
	PlatformDOM    platform.Platform `json:"platform_dom"`
}

// Encoder yields the data URL of an accepted font; "" skips the font.
// *fontstore.Store implements it.
type Encoder interface {
	DataURL(p platform.Platform, name string, rec fontstore.Record) (string, error)
}

// Source provides the reconciled index of a platform.
type Source interface {
	Encoder
	Reconcile(ctx context.Context, p platform.Platform) (*fontstore.Index, error)
}

// Builder produces manifests.
type Builder struct {
	src         Source
	log         *logger.Logger
	minN, maxN  int
	familyCap   int
	subfamilies []string
}

// Option configures a Builder.
type Option func(*Builder)

// WithRange sets the sample size bounds.  Non-positive values keep the
// defaults.
func WithRange(minN, maxN int) Option {
	return func(b *Builder) {
		if minN > 0 {
			b.minN = minN
		}
		if maxN > 0 {
			b.maxN = maxN
		}
	}
}

// WithSubfamilies replaces the built-in subfamily pool.  Blank entries are
// dropped; an empty result keeps the built-in pool.
func WithSubfamilies(names []string) Option {
	return func(b *Builder) {
		if s := normalizeSubfamilies(names); len(s) > 0 {
			b.subfamilies = s
		}
	}
}

// New returns a Builder reading from src.
func New(src Source, log *logger.Logger, opts ...Option) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	b := &Builder{
		src:         src,
		log:         log.Named("manifest"),
		minN:        DefaultMinN,
		maxN:        DefaultMaxN,
		familyCap:   DefaultFamilyCap,
		subfamilies: subfamilies,
	}
	for _, o := range opts {
		o(b)
	}
	if b.maxN < b.minN {
		b.maxN = b.minN
	}
	return b
}

// Build reconciles the index of p and returns the manifest for sessionSeed.
// An empty pool yields an empty manifest.
func (b *Builder) Build(ctx context.Context, sessionSeed string, p platform.Platform) ([]Entry, error) {
	idx, err := b.src.Reconcile(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("manifest: build %q: %w", p, err)
	}
	names := idx.Names()
	entries := []Entry{}
	if len(names) == 0 {
		b.log.Warn("no accepted fonts, manifest will be empty", zap.String("platform", p.String()))
		return entries, nil
	}

	sel := SelectionSeed(sessionSeed, p, names)
	chosen := b.sample(seed.Stream(sel), names)
	meta := seed.Metadata(sel)

	used := make(map[[3]string]bool)
	perFamily := make(map[string]int)
	for _, name := range chosen {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		url, err := b.src.DataURL(p, name, idx.Files[name])
		if err != nil || url == "" {
			b.log.Warn("skipping font without data url", zap.String("file", name), zap.Error(err))
			continue
		}

		var m Metadata
		ok := false
		for attempt := 0; attempt < metadataAttempts; attempt++ {
			m = Generate(meta, p, b.subfamilies)
			if !used[m.key()] && perFamily[m.Family] < b.familyCap {
				ok = true
				break
			}
		}
		if !ok {
			b.log.Debug("skipping font, metadata collides", zap.String("file", name))
			continue
		}
		used[m.key()] = true
		perFamily[m.Family]++

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		weight, style := inferStyle(m.Subfamily)
		entries = append(entries, Entry{
			Name:           stem,
			URL:            url,
			FontFamily:     m.PostScriptName,
			Family:         m.Family,
			Subfamily:      m.Subfamily,
			Weight:         weight,
			Style:          style,
			UniqueID:       m.UniqueID,
			FullName:       m.FullName,
			Version:        m.Version,
			PostScriptName: m.PostScriptName,
			Designer:       m.Designer,
			License:        m.License,
			Fallback:       stem,
			PlatformID:     p.NamePlatformID(),
			PlatformDOM:    p,
		})
		b.log.Debug("font configured", zap.String("file", name), zap.String("family", m.Family), zap.String("subfamily", m.Subfamily))
	}
	b.log.Info("fonts manifest generated", zap.String("platform", p.String()), zap.Int("fonts", len(entries)))
	return entries, nil
}

// SelectionSeed digests the session seed, the platform and the sorted file
// names.
func SelectionSeed(sessionSeed string, p platform.Platform, names []string) uint32 {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return seed.Derive(append([]string{sessionSeed, p.String()}, sorted...)...)
}

// Bounds returns the inclusive sample size range for a pool of n files.
func (b *Builder) Bounds(n int) (lo, hi int) {
	hi = min(b.maxN, n)
	lo = b.minN
	if n < b.minN {
		lo = 1
	}
	return lo, hi
}

func (b *Builder) sample(r *rand.Rand, names []string) []string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	lo, hi := b.Bounds(len(sorted))
	n := lo + r.IntN(hi-lo+1)
	if n < b.minN {
		b.log.Warn("fewer fonts than the configured minimum",
			zap.Int("available", len(sorted)), zap.Int("min", b.minN), zap.Int("using", n))
	}
	perm := r.Perm(len(sorted))[:n]
	out := make([]string, n)
	for i, j := range perm {
		out[i] = sorted[j]
	}
	sort.Strings(out)
	return out
}

var boldKeywords = []string{"bold", "black", "heavy", "semibold", "demibold", "extrabold", "ultrabold"}

func inferStyle(subfamily string) (weight, style string) {
	sf := strings.ToLower(subfamily)
	weight, style = "normal", "normal"
	for _, k := range boldKeywords {
		if strings.Contains(sf, k) {
			weight = "bold"
			break
		}
	}
	if strings.Contains(sf, "italic") || strings.Contains(sf, "oblique") {
		style = "italic"
	}
	return weight, style
}

// Write persists entries as the manifest file at path.
func Write(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	if path == "" {
		return errors.New("manifest: empty path")
	}
	if err := atomicfile.WriteJSON(path, entries, true); err != nil {
		return fmt.Errorf("manifest: write %q: %w", path, err)
	}
	return nil
}
