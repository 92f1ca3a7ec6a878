// Package fontstore maintains, per platform, a reconciled index of accepted
// WOFF2 font files and a content-addressed cache of their base64 encoding.
//
// Layout under the assets directory:
//
//	fonts_raw/                              intake
//	generated_fonts/<platform>/*.woff2      accepted assets
//	generated_fonts/<platform>/fonts_index.json
//	generated_fonts/<platform>/cache_data/<md5>.b64
//	generated_fonts/<platform>/.lock
//
// Reconcile and Ingest hold a per-platform lock (in-process and lock file)
// so two sessions never interleave their index read-modify-write.
package fontstore

import (
	"context"
	"crypto/md5" // #nosec G501 – content address, not a security boundary
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/atomicfile"
	"github.com/firasghr/GoPersonaEngine/lock"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/platform"
	"github.com/firasghr/GoPersonaEngine/sfnt"
)

const (
	indexName    = "fonts_index.json"
	cacheDirName = "cache_data"
	cacheExt     = ".b64"
	fontExt      = ".woff2"
	indexVersion = 1
)

// Record is one index entry.
type Record struct {
	Size  int64   `json:"size"`
	MTime float64 `json:"mtime"`
	MD5   string  `json:"md5,omitempty"`
}

// modTime is the index representation of fi's modification time.
func modTime(fi os.FileInfo) float64 { return float64(fi.ModTime().UnixNano()) / 1e9 }

// Index is the persisted per-platform font index.
type Index struct {
	Version  int               `json:"version"`
	Platform platform.Platform `json:"platform"`
	Files    map[string]Record `json:"files"`
}

// Names returns the indexed file names, sorted.
func (idx *Index) Names() []string {
	out := make([]string, 0, len(idx.Files))
	for n := range idx.Files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func newIndex(p platform.Platform) *Index {
	return &Index{Version: indexVersion, Platform: p, Files: make(map[string]Record)}
}

// Store is the font asset store rooted at an assets directory.
type Store struct {
	root    string
	log     *logger.Logger
	locks   *lock.Keyed
	workers int
}

// Option configures a Store.
type Option func(*Store)

// WithWorkers sets the number of goroutines used to inspect intake files.
func WithWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLocks shares an in-process lock set between stores.
func WithLocks(k *lock.Keyed) Option {
	return func(s *Store) { s.locks = k }
}

// New returns a Store rooted at assetsDir.
func New(assetsDir string, log *logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		root:    assetsDir,
		log:     log.Named("fontstore"),
		locks:   lock.NewKeyed(),
		workers: 4,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IntakeDir is the raw intake directory.
func (s *Store) IntakeDir() string { return filepath.Join(s.root, "fonts_raw") }

// Dir is the accepted-asset directory of p.
func (s *Store) Dir(p platform.Platform) string {
	return filepath.Join(s.root, "generated_fonts", string(p))
}

func (s *Store) indexPath(p platform.Platform) string { return filepath.Join(s.Dir(p), indexName) }
func (s *Store) cacheDir(p platform.Platform) string  { return filepath.Join(s.Dir(p), cacheDirName) }
func (s *Store) lockPath(p platform.Platform) string  { return filepath.Join(s.Dir(p), ".lock") }

func (s *Store) cachePath(p platform.Platform, md5hex string) string {
	return filepath.Join(s.cacheDir(p), md5hex+cacheExt)
}

// LoadIndex reads the persisted index of p.  A missing, unreadable or
// foreign-platform index yields an empty one.
func (s *Store) LoadIndex(p platform.Platform) *Index {
	data, err := os.ReadFile(s.indexPath(p))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("font index unreadable", zap.String("platform", p.String()), zap.Error(err))
		}
		return newIndex(p)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		s.log.Warn("font index corrupt, rebuilding", zap.String("platform", p.String()), zap.Error(err))
		return newIndex(p)
	}
	if idx.Platform != p || idx.Files == nil {
		return newIndex(p)
	}
	if idx.Version == 0 {
		idx.Version = indexVersion
	}
	return &idx
}

// Reconcile brings the index of p in line with the asset directory and
// drops cache entries no index entry references.
func (s *Store) Reconcile(ctx context.Context, p platform.Platform) (*Index, error) {
	var idx *Index
	err := lock.Do(ctx, s.locks, string(p), s.lockPath(p), func() error {
		var err error
		idx, err = s.reconcileLocked(p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fontstore: reconcile %q: %w", p, err)
	}
	return idx, nil
}

func (s *Store) reconcileLocked(p platform.Platform) (*Index, error) {
	dir := s.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	idx := s.LoadIndex(p)

	onDisk, err := listFonts(dir)
	if err != nil {
		return nil, err
	}
	changed := 0
	for name := range idx.Files {
		if _, ok := onDisk[name]; !ok {
			delete(idx.Files, name)
			changed++
		}
	}

	for name, st := range onDisk {
		rec, known := idx.Files[name]
		mtime := modTime(st)
		stale := !known || rec.Size != st.Size() || rec.MTime != mtime
		if !stale && rec.MD5 != "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304
		if err != nil {
			s.log.Warn("font unreadable", zap.String("file", name), zap.Error(err))
			continue
		}
		if !sfnt.IsWOFF2(data) {
			s.log.Warn("skipping file without wOF2 signature", zap.String("file", name))
			if known {
				delete(idx.Files, name)
				changed++
			}
			continue
		}
		if stale {
			rec = Record{Size: st.Size(), MTime: mtime}
		}
		rec.MD5 = md5Hex(data)
		idx.Files[name] = rec
		changed++
	}

	if changed > 0 {
		if err := atomicfile.WriteJSON(s.indexPath(p), idx, false); err != nil {
			return nil, err
		}
		s.log.Info("font index updated",
			zap.String("platform", p.String()),
			zap.Int("changed", changed),
			zap.Int("total", len(idx.Files)))
	}

	if removed, err := s.cleanupCache(p, idx); err != nil {
		s.log.Warn("font cache cleanup failed", zap.String("platform", p.String()), zap.Error(err))
	} else if removed > 0 {
		s.log.Info("removed orphaned cache entries", zap.String("platform", p.String()), zap.Int("removed", removed))
	}
	return idx, nil
}

func (s *Store) cleanupCache(p platform.Platform, idx *Index) (int, error) {
	valid := make(map[string]bool, len(idx.Files))
	for _, rec := range idx.Files {
		if rec.MD5 != "" {
			valid[rec.MD5] = true
		}
	}
	entries, err := os.ReadDir(s.cacheDir(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	var firstErr error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, cacheExt) {
			continue
		}
		if valid[strings.TrimSuffix(name, cacheExt)] {
			continue
		}
		if err := os.Remove(filepath.Join(s.cacheDir(p), name)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

func listFonts(dir string) (map[string]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]os.FileInfo)
	for _, e := range entries {
		if !e.Type().IsRegular() || !hasFontExt(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[e.Name()] = info
	}
	return out, nil
}

func hasFontExt(name string) bool {
	return strings.EqualFold(filepath.Ext(name), fontExt)
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b) // #nosec G401
	return hex.EncodeToString(sum[:])
}
