package fingerprint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/atomicfile"
	"github.com/firasghr/GoPersonaEngine/logger"
)

// BootstrapVersion is the current profile.json format version.
const BootstrapVersion = 1

// BootstrapFile is the name of the bootstrap artifact inside the profile
// directory.
const BootstrapFile = "profile.json"

// Bootstrap is the document the browser driver and the proxy read at
// startup.
type Bootstrap struct {
	Version             int          `json:"version"`
	Profile             *Identity    `json:"profile"`
	ExpectedClientHints *ClientHints `json:"expected_client_hints"`
	PassthroughSuffixes []string     `json:"passthrough_suffixes"`
	Seed                string       `json:"seed"`
	CreatedAt           time.Time    `json:"created_at"`
}

// NewBootstrap wraps id for persistence.
func NewBootstrap(id *Identity, seed string, now time.Time) *Bootstrap {
	return &Bootstrap{
		Version:             BootstrapVersion,
		Profile:             id,
		ExpectedClientHints: id.ClientHints(),
		PassthroughSuffixes: []string{},
		Seed:                seed,
		CreatedAt:           now.UTC(),
	}
}

// Empty reports whether b carries no identity.
func (b *Bootstrap) Empty() bool { return b == nil || b.Profile == nil }

// WriteBootstrap writes doc to dir/profile.json and a timestamped audit copy
// under dir/profiles/.  It returns the path of the primary file.
func WriteBootstrap(dir string, doc *Bootstrap) (string, error) {
	path := filepath.Join(dir, BootstrapFile)
	if err := atomicfile.WriteJSON(path, doc, true); err != nil {
		return "", fmt.Errorf("fingerprint: write bootstrap %q: %w", path, err)
	}
	ts := doc.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	audit := filepath.Join(dir, "profiles",
		fmt.Sprintf("profile_%s_%06d.json", ts.Format("20060102_150405"), ts.Nanosecond()/1000))
	if err := atomicfile.WriteJSON(audit, doc, true); err != nil {
		return path, fmt.Errorf("fingerprint: write audit copy %q: %w", audit, err)
	}
	return path, nil
}

// ReadBootstrap loads the document at path.  A missing, corrupt or
// foreign-version file yields an empty document and a warning; callers carry
// on without an identity.
func ReadBootstrap(path string, log *logger.Logger) *Bootstrap {
	if log == nil {
		log = logger.Nop()
	}
	empty := &Bootstrap{Version: BootstrapVersion, PassthroughSuffixes: []string{}}

	data, err := os.ReadFile(path) // #nosec G304 – operator-supplied profile path
	if err != nil {
		log.Warn("bootstrap unavailable, running without identity", zap.String("path", path), zap.Error(err))
		return empty
	}
	var doc Bootstrap
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("bootstrap corrupt, running without identity", zap.String("path", path), zap.Error(err))
		return empty
	}
	if doc.Version != BootstrapVersion {
		log.Warn("bootstrap version mismatch, running without identity",
			zap.String("path", path), zap.Int("version", doc.Version))
		return empty
	}
	if doc.Profile != nil && doc.ExpectedClientHints == nil {
		doc.ExpectedClientHints = doc.Profile.ClientHints()
	}
	if doc.PassthroughSuffixes == nil {
		doc.PassthroughSuffixes = []string{}
	}
	return &doc
}
