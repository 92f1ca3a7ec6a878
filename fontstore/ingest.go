package fontstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/atomicfile"
	"github.com/firasghr/GoPersonaEngine/lock"
	"github.com/firasghr/GoPersonaEngine/platform"
	"github.com/firasghr/GoPersonaEngine/sfnt"
	"github.com/firasghr/GoPersonaEngine/worker"
)

// Rejection records why an intake file was refused.
type Rejection struct {
	File   string
	Reason error
}

// IngestResult summarises one intake batch.
type IngestResult struct {
	Accepted []string // new names in the asset directory
	Rejected []Rejection
	Index    *Index
}

type inspection struct {
	data   []byte
	md5    string
	report Report
	err    error
}

// Ingest validates files and moves the accepted ones into the asset
// directory of p under content-salted names.  Every processed file is
// removed from its original location.  The index is reconciled afterwards.
//
// Files are inspected in parallel; acceptance, and therefore duplicate
// detection and naming, follows input order.
func (s *Store) Ingest(ctx context.Context, p platform.Platform, files []string) (*IngestResult, error) {
	res := &IngestResult{}
	err := lock.Do(ctx, s.locks, string(p), s.lockPath(p), func() error {
		return s.ingestLocked(ctx, p, files, res)
	})
	if err != nil {
		return nil, fmt.Errorf("fontstore: ingest %q: %w", p, err)
	}
	return res, nil
}

func (s *Store) ingestLocked(ctx context.Context, p platform.Platform, files []string, res *IngestResult) error {
	dir := s.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	seen, err := s.acceptedKeys(dir)
	if err != nil {
		return err
	}

	results := worker.Map(files, s.workers, func(path string) inspection {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return inspection{err: reject(ErrUnreadable, "%v", err)}
		}
		in := inspection{data: data, md5: md5Hex(data)}
		in.report, in.err = Inspect(data)
		if errors.Is(in.err, ErrBadSignature) {
			in.err = reject(ErrBadSignature, "content looks like %s", sniff(data))
		}
		return in
	})

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		in := results[i]
		if in.err == nil && seen[in.report.Key()] {
			in.err = reject(ErrDuplicate, "family=%q subfamily=%q", in.report.Family, in.report.Subfamily)
		}
		if in.err != nil {
			s.log.Warn("font rejected", zap.String("file", filepath.Base(path)), zap.Error(in.err))
			res.Rejected = append(res.Rejected, Rejection{File: path, Reason: in.err})
			s.removeIntake(path)
			continue
		}

		dst := uniquePath(dir, fmt.Sprintf("%s_%d_%s", p.Tag(), i, in.md5[:6]))
		if err := atomicfile.WriteFile(dst, in.data, 0o644); err != nil {
			return fmt.Errorf("store %q: %w", dst, err)
		}
		s.removeIntake(path)
		seen[in.report.Key()] = true
		res.Accepted = append(res.Accepted, filepath.Base(dst))
		s.log.Info("font accepted",
			zap.String("file", filepath.Base(path)),
			zap.String("as", filepath.Base(dst)),
			zap.String("family", in.report.Family))
	}
	s.log.Info("intake batch done",
		zap.String("platform", p.String()),
		zap.Int("accepted", len(res.Accepted)),
		zap.Int("rejected", len(res.Rejected)))

	idx, err := s.reconcileLocked(p)
	if err != nil {
		return err
	}
	res.Index = idx
	return nil
}

// IngestRaw ingests every .woff2 file of the intake directory.
func (s *Store) IngestRaw(ctx context.Context, p platform.Platform) (*IngestResult, error) {
	entries, err := os.ReadDir(s.IntakeDir())
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("no intake directory, skipping font copy", zap.String("dir", s.IntakeDir()))
		return &IngestResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fontstore: list intake: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && hasFontExt(e.Name()) {
			files = append(files, filepath.Join(s.IntakeDir(), e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		s.log.Info("no .woff2 files in intake", zap.String("dir", s.IntakeDir()))
		return &IngestResult{}, nil
	}
	return s.Ingest(ctx, p, files)
}

func (s *Store) acceptedKeys(dir string) (map[[2]string]bool, error) {
	fonts, err := listFonts(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[[2]string]bool, len(fonts))
	for name := range fonts {
		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304
		if err != nil {
			continue
		}
		f, err := sfnt.Parse(data)
		if err != nil {
			s.log.Debug("accepted font unreadable", zap.String("file", name), zap.Error(err))
			continue
		}
		fam, sub := f.FamilySubfamily()
		seen[[2]string{fam, sub}] = true
	}
	return seen, nil
}

func (s *Store) removeIntake(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("could not remove intake file", zap.String("file", path), zap.Error(err))
	}
}

func uniquePath(dir, base string) string {
	dst := filepath.Join(dir, base+fontExt)
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
			return dst
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, fontExt))
	}
}

// sniff names what a non-WOFF2 file really is.
func sniff(data []byte) string {
	if len(data) == 0 {
		return "an empty file"
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "unknown data"
	}
	return kind.MIME.Value
}
