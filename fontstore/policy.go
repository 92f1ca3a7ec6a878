package fontstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/firasghr/GoPersonaEngine/failure"
	"github.com/firasghr/GoPersonaEngine/sfnt"
)

// Rejection reasons.  Each is wrapped together with
// failure.ErrRecoverableAsset.
var (
	ErrBadSignature        = errors.New("missing wOF2 signature")
	ErrUnreadable          = errors.New("unreadable font")
	ErrNoCmap              = errors.New("no Unicode character map")
	ErrMissingASCII        = errors.New("incomplete ASCII letters/digits")
	ErrIconFont            = errors.New("icon or emoji face")
	ErrEmbeddingRestricted = errors.New("restricted license embedding")
	ErrProtectiveGSUB      = errors.New("protective GSUB substitutions")
	ErrAnomalousMetrics    = errors.New("anomalous vertical metrics")
	ErrDuplicate           = errors.New("duplicate family/subfamily")
)

// GSUBThreshold is the suspicious substitution count that disqualifies a
// font.
const GSUBThreshold = 20

var iconKeywords = []string{
	"icon", "icons", "emoji", "emojis", "awesome", "material", "fontello",
	"ionicons", "bootstrap-icons", "octicons", "simpleicons", "remixicon",
	"feather", "weather", "symbol", "symbols", "dingbat", "dingbats",
	"wingdings", "seguiemj", "seguiemoji", "segoe ui emoji",
}

var colorTables = []string{"COLR", "CPAL", "CBDT", "CBLC", "sbix", "SVG "}

var defaultFeatures = map[string]bool{
	"liga": true, "rlig": true, "clig": true, "calt": true, "ccmp": true, "locl": true,
}

var puaRanges = [][2]rune{
	{0xE000, 0xF8FF},
	{0xF0000, 0xFFFFD},
	{0x100000, 0x10FFFD},
}

// Report describes an accepted font.
type Report struct {
	Family    string
	Subfamily string
}

// Key is the duplicate-detection key.
func (r Report) Key() [2]string { return [2]string{r.Family, r.Subfamily} }

func reject(reason error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		return fmt.Errorf("%w: %w", failure.ErrRecoverableAsset, reason)
	}
	return fmt.Errorf("%w: %w: %s", failure.ErrRecoverableAsset, reason, msg)
}

// Inspect applies the content policy to one WOFF2 file.  Duplicate detection
// is left to the caller.
func Inspect(data []byte) (Report, error) {
	if !sfnt.IsWOFF2(data) {
		return Report{}, reject(ErrBadSignature, "")
	}
	f, err := sfnt.Parse(data)
	if err != nil {
		return Report{}, reject(ErrUnreadable, "%v", err)
	}
	cmap, err := f.Cmap()
	if err != nil || len(cmap) == 0 {
		return Report{}, reject(ErrNoCmap, "")
	}
	if missing := missingASCII(cmap); missing > 0 {
		return Report{}, reject(ErrMissingASCII, "%d missing", missing)
	}
	if why := iconTraits(f, cmap); why != "" {
		return Report{}, reject(ErrIconFont, "%s", why)
	}
	if os2, err := f.OS2(); err == nil && os2.FsType&sfnt.FsTypeRestricted != 0 {
		return Report{}, reject(ErrEmbeddingRestricted, "fsType=0x%04x", os2.FsType)
	}
	if n := suspiciousSubstitutions(f, cmap); n >= GSUBThreshold {
		return Report{}, reject(ErrProtectiveGSUB, "%d substitutions", n)
	}
	if anomalousMetrics(f) {
		return Report{}, reject(ErrAnomalousMetrics, "")
	}
	fam, sub := f.FamilySubfamily()
	return Report{Family: fam, Subfamily: sub}, nil
}

func missingASCII(cmap map[rune]uint16) int {
	missing := 0
	for _, rg := range [][2]rune{{'A', 'Z'}, {'a', 'z'}, {'0', '9'}} {
		for r := rg[0]; r <= rg[1]; r++ {
			if _, ok := cmap[r]; !ok {
				missing++
			}
		}
	}
	return missing
}

func iconTraits(f *sfnt.Font, cmap map[rune]uint16) string {
	if recs, err := f.Names(); err == nil {
		var sb strings.Builder
		for _, r := range recs {
			sb.WriteString(strings.ToLower(r.Value))
			sb.WriteByte(' ')
		}
		names := sb.String()
		for _, k := range iconKeywords {
			if strings.Contains(names, k) {
				return "name keyword " + k
			}
		}
	}
	for _, tag := range colorTables {
		if f.Has(tag) {
			return "color table " + strings.TrimSpace(tag)
		}
	}
	pua, letters := 0, 0
	for r := range cmap {
		for _, rg := range puaRanges {
			if r >= rg[0] && r <= rg[1] {
				pua++
				break
			}
		}
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			letters++
		}
	}
	if float64(pua)/float64(len(cmap)) >= 0.5 {
		return "private-use dominant"
	}
	if letters < 10 {
		return "too few letters"
	}
	return ""
}

func substitutionTargets(cmap map[rune]uint16) map[uint16]bool {
	targets := make(map[uint16]bool)
	add := func(lo, hi rune) {
		for r := lo; r <= hi; r++ {
			if g, ok := cmap[r]; ok {
				targets[g] = true
			}
		}
	}
	add('A', 'Z')
	add('a', 'z')
	add(0x410, 0x44F)
	add(0x401, 0x401)
	add(0x451, 0x451)
	return targets
}

// suspiciousSubstitutions counts single substitutions that move a basic
// Latin or Cyrillic letter glyph, limited to lookups reachable from
// default-enabled features.  When no such lookup can be resolved every
// lookup is checked.  Malformed tables count as zero.
func suspiciousSubstitutions(f *sfnt.Font, cmap map[rune]uint16) int {
	g, err := f.GSUB()
	if err != nil || g == nil || g.NumLookups() == 0 {
		return 0
	}
	targets := substitutionTargets(cmap)

	reachable := make(map[int]bool)
	refs, err := g.ReferencedFeatures()
	if err != nil {
		return 0
	}
	feats, err := g.Features()
	if err != nil {
		return 0
	}
	for i := range refs {
		if i >= len(feats) || !defaultFeatures[strings.TrimSpace(feats[i].Tag)] {
			continue
		}
		for _, li := range feats[i].Lookups {
			reachable[li] = true
		}
	}

	n := 0
	for li := 0; li < g.NumLookups(); li++ {
		if len(reachable) > 0 && !reachable[li] {
			continue
		}
		pairs, err := g.SingleSubstitutions(li)
		if err != nil {
			return 0
		}
		for _, p := range pairs {
			if targets[p.From] && p.To != p.From {
				n++
			}
		}
	}
	return n
}

func anomalousMetrics(f *sfnt.Font) bool {
	upm, err := f.UnitsPerEm()
	if err != nil || upm == 0 {
		return false
	}
	os2, err := f.OS2()
	if err != nil || os2.WinAscent == 0 || os2.WinDescent == 0 {
		return false
	}
	return int(os2.WinAscent)+int(os2.WinDescent) > 4*int(upm)
}
