package fingerprint

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

const (
	notABrand        = "Not)A;Brand"
	notABrandMajor   = "8"
	notABrandVersion = "8.0.0.0"
)

// BrandVersion is one entry of a Sec-CH-UA brand list.
type BrandVersion struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// ClientHints is the User-Agent Client Hints record the page script and the
// proxy both report for an identity.
type ClientHints struct {
	Platform               string         `json:"platform"`
	Brands                 []BrandVersion `json:"brands"`
	Mobile                 bool           `json:"mobile"`
	Architecture           string         `json:"architecture"`
	Bitness                string         `json:"bitness"`
	Model                  string         `json:"model"`
	PlatformVersion        string         `json:"platformVersion"`
	FullVersionList        []BrandVersion `json:"fullVersionList"`
	UAFullVersion          string         `json:"uaFullVersion"`
	SecCHUA                string         `json:"sec_ch_ua"`
	SecCHUAFullVersionList string         `json:"sec_ch_ua_full_version_list"`
	SecCHUAModel           string         `json:"sec_ch_ua_model"`
	SecCHUAFormFactors     []string       `json:"sec_ch_ua_form_factors"`
	DeviceMemory           int            `json:"deviceMemory"`
	HardwareConcurrency    int            `json:"hardwareConcurrency"`
	WoW64                  bool           `json:"wow64"`
	Languages              []string       `json:"languages"`
	Language               string         `json:"language"`
	FormFactors            []string       `json:"formFactors"`
	Accept                 string         `json:"accept"`
}

// ClientHints derives the client-hints record of id.  Chromium brands report
// the GREASE brand, Chromium and themselves; the others only themselves.
func (id *Identity) ClientHints() *ClientHints {
	major := strconv.Itoa(id.BrowserMajor)
	name := id.Browser.HintName()

	var brands, full []BrandVersion
	if id.Browser.Chromium() {
		brands = []BrandVersion{{notABrand, notABrandMajor}, {"Chromium", major}, {name, major}}
		full = []BrandVersion{{notABrand, notABrandVersion}, {"Chromium", id.BrowserVersion}, {name, id.BrowserVersion}}
	} else {
		brands = []BrandVersion{{name, major}}
		full = []BrandVersion{{name, id.BrowserVersion}}
	}

	return &ClientHints{
		Platform:               id.Platform.HintName(),
		Brands:                 brands,
		Architecture:           "x86",
		Bitness:                "64",
		PlatformVersion:        id.PlatformVersion,
		FullVersionList:        full,
		UAFullVersion:          id.BrowserVersion,
		SecCHUA:                FormatBrands(brands),
		SecCHUAFullVersionList: FormatBrands(full),
		SecCHUAFormFactors:     []string{"Desktop"},
		DeviceMemory:           id.DeviceMemory,
		HardwareConcurrency:    id.HardwareConcurrency,
		Languages:              append([]string(nil), id.Languages...),
		Language:               id.Language,
		FormFactors:            []string{"Desktop"},
		Accept:                 id.Accept,
	}
}

// FormatBrands renders a brand list in Sec-CH-UA header form.
func FormatBrands(bs []BrandVersion) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = strconv.Quote(b.Brand) + ";v=" + strconv.Quote(b.Version)
	}
	return strings.Join(parts, ", ")
}

// ─── Accept ──────────────────────────────────────────────────────────────────

// RequestKind selects the Accept value family.
type RequestKind int

const (
	KindNavigate RequestKind = iota
	KindXHR
	KindFetch
)

const signedExchange = "application/signed-exchange;v=b3;q=0.9"

// AcceptHeader returns the Accept value brand b at major sends for kind.
// For navigations one of the brand's templates is chosen and its image
// entries shuffled with r; a nil r keeps the first template in order.
func AcceptHeader(b Brand, major int, kind RequestKind, r *rand.Rand) string {
	switch kind {
	case KindXHR:
		return "application/json, text/plain, */*"
	case KindFetch:
		return "*/*"
	}

	templates := b.info().accept
	if len(templates) == 0 {
		return "*/*"
	}
	t := templates[0]
	if r != nil && len(templates) > 1 {
		t = templates[r.IntN(len(templates))]
	}
	entries := append([]string(nil), t...)

	if b.Chromium() && major >= 135 {
		if !contains(entries, "image/avif") {
			at := min(3, len(entries))
			entries = append(entries[:at], append([]string{"image/avif"}, entries[at:]...)...)
		}
		if !contains(entries, signedExchange) {
			entries = append(entries, signedExchange)
		}
	}

	if r != nil {
		var slots []int
		for i, e := range entries {
			if strings.HasPrefix(e, "image/") {
				slots = append(slots, i)
			}
		}
		r.Shuffle(len(slots), func(i, j int) {
			entries[slots[i]], entries[slots[j]] = entries[slots[j]], entries[slots[i]]
		})
	}
	return strings.Join(entries, ",")
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// ─── Outbound headers ────────────────────────────────────────────────────────

// lowEntropy names the hints browsers send without an Accept-CH opt-in.
var lowEntropy = map[string]bool{
	"sec-ch-ua":          true,
	"sec-ch-ua-mobile":   true,
	"sec-ch-ua-platform": true,
}

// IsClientHint reports whether header name is a client hint the server must
// opt into with Accept-CH.
func IsClientHint(name string) bool {
	n := strings.ToLower(name)
	if lowEntropy[n] {
		return false
	}
	switch n {
	case "dpr", "viewport-width", "device-memory":
		return true
	}
	return strings.HasPrefix(n, "sec-ch-")
}

// OutboundHeaders returns the identity headers a real browser of id's brand
// sends, in send order.  Non-Chromium browsers get an empty Sec-CH-UA, which
// ApplyHeaders turns into a removal.
func OutboundHeaders(id *Identity) []Header {
	platformHint := strconv.Quote(id.Platform.HintName())
	if !id.Browser.Chromium() {
		return []Header{
			{"Sec-CH-UA", ""},
			{"Sec-CH-UA-Mobile", "?0"},
			{"Sec-CH-UA-Platform", platformHint},
			{"Accept-Language", id.AcceptLanguage},
		}
	}

	ch := id.ClientHints()
	width := strconv.Itoa(id.ScreenWidth)
	dpr := formatDPR(id.DPR)
	return []Header{
		{"Accept", id.Accept},
		{"Accept-Language", id.AcceptLanguage},
		{"User-Agent", id.UserAgent},
		{"Sec-CH-UA", ch.SecCHUA},
		{"Sec-CH-UA-Mobile", "?0"},
		{"Sec-CH-UA-Platform", platformHint},
		{"Sec-CH-Save-Data", "?0"},
		{"Sec-CH-Lang", strings.Join(id.Languages, ", ")},
		{"Sec-CH-UA-Platform-Version", strconv.Quote(id.PlatformVersion)},
		{"Sec-CH-UA-Full-Version", strconv.Quote(id.BrowserVersion)},
		{"Sec-CH-UA-Full-Version-List", ch.SecCHUAFullVersionList},
		{"Sec-CH-UA-Arch", strconv.Quote(ch.Architecture)},
		{"Sec-CH-UA-Bitness", strconv.Quote(ch.Bitness)},
		{"Sec-CH-UA-WoW64", "?0"},
		{"Sec-CH-UA-Model", strconv.Quote(ch.Model)},
		{"Sec-CH-UA-Form-Factors", strconv.Quote("Desktop")},
		{"Sec-CH-Device-Memory", strconv.Itoa(id.DeviceMemory)},
		{"Sec-CH-Viewport-Width", width},
		{"Sec-CH-Viewport-Height", strconv.Itoa(id.ScreenHeight)},
		{"Sec-CH-Width", width},
		{"Viewport-Width", width},
		{"Sec-CH-DPR", dpr},
		{"DPR", dpr},
	}
}

// formatDPR renders whole ratios with one decimal (1.0) and others in
// shortest form (1.25).
func formatDPR(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
