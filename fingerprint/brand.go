package fingerprint

import (
	"fmt"
	"strings"
)

// Brand is the browser an identity claims to be.
type Brand int

const (
	Chrome Brand = iota + 1
	Edge
	Firefox
	Safari
)

// Plugin engine keys.
const (
	EngineChromium = "chromium-viewer"
	EngineEdge     = "edge-viewer"
	EngineWebKit   = "webkit-viewer"
	EngineGecko    = "gecko-standard"
)

// brandInfo is the single mapping table for every brand-dependent value.
type brandInfo struct {
	key         string
	hintName    string // client-hints brand token
	uaToken     string // product token whose version is the major in the UA
	chromium    bool
	vendor      string // navigator.vendor
	webglVendor string // masked WebGL vendor
	engine      string // plugin engine key
	accept      [][]string
}

var (
	navChromiumAvif  = []string{"text/html", "application/xhtml+xml", "application/xml;q=0.9", "image/avif", "image/webp", "image/apng", "*/*;q=0.8", "application/signed-exchange;v=b3;q=0.9"}
	navChromiumPlain = []string{"text/html", "application/xhtml+xml", "application/xml;q=0.9", "image/webp", "image/apng", "*/*;q=0.8"}
)

var brandTable = map[Brand]brandInfo{
	Chrome: {
		key: "chrome", hintName: "Google Chrome", uaToken: "Chrome/", chromium: true,
		vendor: "Google Inc.", webglVendor: "WebKit", engine: EngineChromium,
		accept: [][]string{navChromiumAvif, navChromiumPlain},
	},
	Edge: {
		key: "edge", hintName: "Microsoft Edge", uaToken: "Edg/", chromium: true,
		vendor: "Google Inc.", webglVendor: "WebKit", engine: EngineEdge,
		accept: [][]string{navChromiumAvif},
	},
	Firefox: {
		key: "firefox", hintName: "Firefox", uaToken: "Firefox/",
		vendor: "", webglVendor: "", engine: EngineGecko,
		accept: [][]string{{"text/html", "application/xhtml+xml", "application/xml;q=0.9", "image/webp", "*/*;q=0.8"}},
	},
	Safari: {
		key: "safari", hintName: "Safari", uaToken: "Version/",
		vendor: "Apple Computer, Inc.", webglVendor: "Apple Computer, Inc.", engine: EngineWebKit,
		accept: [][]string{{"text/html", "application/xhtml+xml", "application/xml;q=0.9", "*/*;q=0.8"}},
	},
}

// ParseBrand accepts the lower-case key ("chrome") or a client-hints name.
func ParseBrand(s string) (Brand, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	for b, info := range brandTable {
		if k == info.key || k == strings.ToLower(info.hintName) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("fingerprint: unknown browser %q", s)
}

func (b Brand) info() brandInfo { return brandTable[b] }

func (b Brand) String() string {
	if i, ok := brandTable[b]; ok {
		return i.key
	}
	return fmt.Sprintf("Brand(%d)", int(b))
}

// HintName is the brand token reported in Sec-CH-UA.
func (b Brand) HintName() string { return b.info().hintName }

// UAToken is the product token carrying the major version in the UA.
func (b Brand) UAToken() string { return b.info().uaToken }

// Chromium reports whether b is a Chromium-family browser.
func (b Brand) Chromium() bool { return b.info().chromium }

// Engine is the plugin engine key of b.
func (b Brand) Engine() string { return b.info().engine }

// MarshalText encodes b as its key.
func (b Brand) MarshalText() ([]byte, error) {
	if _, ok := brandTable[b]; !ok {
		return nil, fmt.Errorf("fingerprint: invalid brand %d", int(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText decodes a key produced by MarshalText.
func (b *Brand) UnmarshalText(text []byte) error {
	v, err := ParseBrand(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// UserAgent renders the UA string of b.  version is the full product
// version, major its first component.
func (b Brand) UserAgent(osInfo, version string, major int) string {
	switch b {
	case Chrome:
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
			osInfo, uaVersion(version))
	case Edge:
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36 Edg/%s",
			osInfo, major, uaVersion(version))
	case Firefox:
		return fmt.Sprintf("Mozilla/5.0 (%s; rv:%s) Gecko/20100101 Firefox/%s", osInfo, version, version)
	case Safari:
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15",
			strings.ReplaceAll(osInfo, "_", "."), version)
	}
	return ""
}

// uaVersion reduces X.Y.Z.W to the frozen X.Y.0.0 form.
func uaVersion(full string) string {
	parts := strings.Split(full, ".")
	if len(parts) < 2 {
		return full
	}
	return parts[0] + "." + parts[1] + ".0.0"
}
