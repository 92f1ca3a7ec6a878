package manifest

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/firasghr/GoPersonaEngine/platform"
)

var (
	systemFamiliesWin = []string{
		"Arial", "Verdana", "Tahoma", "Times New Roman", "Courier New", "Georgia",
		"Palatino", "Garamond", "Comic Sans MS", "Trebuchet MS", "Impact",
		"Lucida Sans", "Segoe UI", "Calibri", "Consolas", "Candara",
		"Franklin Gothic Medium", "Constantia", "Corbel", "Century Gothic",
	}
	systemFamiliesMac = []string{
		"Helvetica", "Geneva", "Lucida Grande", "Palatino", "Menlo", "Monaco",
		"Gill Sans", "Avenir", "Baskerville", "Didot", "Futura", "Optima",
		"American Typewriter", "Hoefler Text", "Courier", "Arial", "Verdana",
		"Trebuchet MS", "Comic Sans MS", "Georgia",
	}
	syntheticFamilies = []string{
		"NeoMono", "PrimeSans", "LunaText", "OmniMono", "GravitaPro", "NimbusPro", "CodaSans",
		"ClarityMono", "Interstate", "Vectora", "Codex", "OrbitaSans", "Viretta", "Axionis",
		"Lumora", "Equinox", "VisioraX", "Condensed", "AtlasType", "NorthAtlas", "LumenSans",
		"Qorin", "Torus", "ZenithMono", "QuantumSans", "Auralis", "StellarText", "AxiomSans",
		"Solvex", "Visage", "Nexora",
	}
	designersWin = []string{
		"Microsoft Corp.", "Dynamix Typefaces", "New Vision Fonts", "Monolith Design",
		"Pure bury design", "Granite & Grid", "PrototypeFont Factory", "Sharp Sable Graphics",
		"Friendly Typefaces", "Cobalt Letterworks",
	}
	designersMac = []string{
		"Apple Inc.", "5th Dimension", "Futura Design", "Omni Group",
		"Generation Frontline Foundry", "Bright Kernel Foundry", "FontAddicts Group",
	}
	licenses = []string{
		"Public Domain", "Gift for community", "Free for personal use",
		"GNU General Public License (GPL)", "MIT License",
		"SIL Open Font License (OFL)", "Apache License 2.0", "Creative Commons license",
	}
	subfamilies = []string{
		"Thin", "Extra Light", "Light", "Regular", "Medium", "SemiBold", "Bold", "Extra Bold",
		"Black", "Italic", "Oblique", "Extended", "Narrow", "Expanded", "Ultra Light",
		"Ultra Bold", "Heavy", "Mono", "Display", "Hairline", "Book", "DemiBold", "Extra Black",
		"Ultra Black", "Condensed", "Extra Condensed", "Ultra Condensed", "Compressed",
		"Extra Compressed", "Wide", "Extra Wide", "Ultra Wide", "Slanted", "Backslant", "Caption",
		"Text", "Subhead", "Headline", "Poster", "Small Caps", "Titling", "Inline", "Shadow",
		"Variable", "Stencil", "Outline", "Engraved", "Script", "Rounded", "UI", "Micro",
		"Footnote", "Compact",
	}
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Metadata is the synthetic name-table identity of one font.
type Metadata struct {
	Family         string
	Subfamily      string
	UniqueID       string
	FullName       string
	Version        string
	PostScriptName string
	Designer       string
	License        string
}

func (m Metadata) key() [3]string { return [3]string{m.Family, m.FullName, m.PostScriptName} }

// Generate draws one Metadata for platform p from r.  subs replaces the
// subfamily pool when non-empty.
func Generate(r *rand.Rand, p platform.Platform, subs []string) Metadata {
	families, designers := familiesFor(p)
	if len(subs) == 0 {
		subs = subfamilies
	}
	family := families[r.IntN(len(families))]
	sub := subs[r.IntN(len(subs))]

	var id strings.Builder
	id.WriteString(prefix(family, 2))
	id.WriteByte('-')
	for i := 0; i < 12; i++ {
		id.WriteByte(idAlphabet[r.IntN(len(idAlphabet))])
	}

	return Metadata{
		Family:         family,
		Subfamily:      sub,
		UniqueID:       id.String(),
		FullName:       strings.TrimSpace(family + " " + sub),
		Version:        fmt.Sprintf("Version %d.%d", 1+r.IntN(5), r.IntN(10000)),
		PostScriptName: strings.ReplaceAll(family+"-"+sub, " ", ""),
		Designer:       designers[r.IntN(len(designers))],
		License:        licenses[r.IntN(len(licenses))],
	}
}

func familiesFor(p platform.Platform) (families, designers []string) {
	if p == platform.MacIntel {
		return append(append([]string(nil), systemFamiliesMac...), syntheticFamilies...), designersMac
	}
	return append(append([]string(nil), systemFamiliesWin...), syntheticFamilies...), designersWin
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) < n {
		return s
	}
	return string(r[:n])
}

func normalizeSubfamilies(names []string) []string {
	set := make(map[string]bool)
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[n] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
