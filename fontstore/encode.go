package fontstore

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/atomicfile"
	"github.com/firasghr/GoPersonaEngine/failure"
	"github.com/firasghr/GoPersonaEngine/platform"
	"github.com/firasghr/GoPersonaEngine/sfnt"
)

// DataURLPrefix precedes the encoded bytes in a manifest url.
const DataURLPrefix = "data:font/woff2;base64,"

// GetEncoded returns the base64 encoding of an accepted file, served from
// the cache keyed by its content hash and persisted on a miss.  The indexed
// hash is used only while the file's size and mtime still match the record.
// It returns "" when the bytes lack the WOFF2 signature.
func (s *Store) GetEncoded(p platform.Platform, name string) (string, error) {
	rec := s.LoadIndex(p).Files[name]
	return s.Encoded(p, name, rec)
}

// Encoded is GetEncoded for a caller that already holds the index record.
func (s *Store) Encoded(p platform.Platform, name string, rec Record) (string, error) {
	path := filepath.Join(s.Dir(p), filepath.Base(name))

	var data []byte
	md5hex := rec.MD5
	if md5hex != "" {
		if st, err := os.Stat(path); err != nil || st.Size() != rec.Size || modTime(st) != rec.MTime {
			md5hex = ""
		}
	}
	if md5hex == "" {
		b, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return "", failure.Assetf("fontstore: read %q: %v", name, err)
		}
		data, md5hex = b, md5Hex(b)
	}

	if cached, err := os.ReadFile(s.cachePath(p, md5hex)); err == nil {
		return strings.TrimSpace(string(cached)), nil
	}

	if data == nil {
		b, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return "", failure.Assetf("fontstore: read %q: %v", name, err)
		}
		data = b
	}
	if !sfnt.IsWOFF2(data) {
		s.log.Warn("skipping file without wOF2 signature while encoding", zap.String("file", name))
		return "", nil
	}
	enc := base64.StdEncoding.EncodeToString(data)
	if err := atomicfile.WriteFile(s.cachePath(p, md5hex), []byte(enc), 0o644); err != nil {
		s.log.Warn("font cache write failed", zap.String("file", name), zap.Error(err))
	}
	return enc, nil
}

// DataURL returns the data: URL of an accepted file, or "" when it cannot
// be encoded.
func (s *Store) DataURL(p platform.Platform, name string, rec Record) (string, error) {
	enc, err := s.Encoded(p, name, rec)
	if err != nil || enc == "" {
		return "", err
	}
	return DataURLPrefix + enc, nil
}

// Decode inverts GetEncoded.  A data: URL prefix is accepted.
func Decode(encoded string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(strings.TrimSpace(encoded), DataURLPrefix))
	if err != nil {
		return nil, fmt.Errorf("fontstore: decode: %w", err)
	}
	return b, nil
}
