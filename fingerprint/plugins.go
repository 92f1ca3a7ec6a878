package fingerprint

import "math/rand/v2"

// MimeType is one navigator.mimeTypes entry.
type MimeType struct {
	Type        string `json:"type"`
	Suffixes    string `json:"suffixes"`
	Description string `json:"description"`
}

// Plugin is one navigator.plugins entry.
type Plugin struct {
	Name        string     `json:"name"`
	Filename    string     `json:"filename"`
	Description string     `json:"description"`
	MimeTypes   []MimeType `json:"mimeTypes"`
}

var pdfMime = []MimeType{{Type: "application/pdf", Suffixes: "pdf", Description: "PDF document"}}

func pdfViewer(name, desc string) Plugin {
	return Plugin{Name: name, Filename: "internal-pdf-viewer", Description: desc, MimeTypes: pdfMime}
}

// pluginVariants lists the plugin sets an engine may expose; one variant is
// drawn per session.  A single-variant engine always exposes it.
var pluginVariants = map[string][][]Plugin{
	EngineChromium: {
		{},
		{pdfViewer("Chrome PDF Viewer", "")},
		{pdfViewer("Chrome PDF Viewer", "Portable Document Format")},
	},
	EngineEdge: {
		{},
		{pdfViewer("Microsoft Edge PDF Viewer", "Portable Document Format")},
		{pdfViewer("Microsoft Edge PDF Viewer", "")},
	},
	EngineWebKit: {
		{},
		{pdfViewer("Default PDF Viewer", "")},
	},
	EngineGecko: {{
		{
			Name:        "OpenH264 Video Codec",
			Filename:    "openh264.xpi",
			Description: "OpenH264 Video Codec provided by Cisco Systems, Inc.",
			MimeTypes:   []MimeType{{Type: "video/h264", Suffixes: "h264", Description: "H.264 video"}},
		},
		{
			Name:        "Widevine Content Decryption Module",
			Filename:    "widevinecdm.xpi",
			Description: "Widevine Content Decryption Module provided by Google Inc.",
			MimeTypes:   []MimeType{{Type: "application/x-widevine-cdm", Suffixes: "cdm", Description: "Widevine CDM"}},
		},
	}},
}

// engineLimits bounds the plugin count per engine.
var engineLimits = map[string][2]int{
	EngineChromium: {0, 1},
	EngineEdge:     {0, 1},
	EngineWebKit:   {0, 1},
	EngineGecko:    {2, 2},
}

// PluginLimits returns the inclusive plugin count bounds of engine.
func PluginLimits(engine string) (lo, hi int) {
	l, ok := engineLimits[engine]
	if !ok {
		return 0, 1
	}
	return l[0], l[1]
}

// BuildPlugins draws the plugin and mimetype lists for brand b.  Only names
// known to the engine survive, duplicates by (name, filename) are dropped,
// and the count is forced into the engine limits, topping up from the first
// non-empty variant when short.
func BuildPlugins(b Brand, r *rand.Rand) ([]Plugin, []MimeType) {
	engine := b.Engine()
	variants := pluginVariants[engine]
	if len(variants) == 0 {
		return []Plugin{}, []MimeType{}
	}

	allowed := make(map[string]bool)
	for _, v := range variants {
		for _, p := range v {
			allowed[p.Name] = true
		}
	}

	pick := variants[0]
	if len(variants) > 1 {
		pick = variants[r.IntN(len(variants))]
	}
	var filtered []Plugin
	for _, p := range pick {
		if allowed[p.Name] {
			filtered = append(filtered, p)
		}
	}
	plugins := dedupPlugins(filtered)

	lo, hi := PluginLimits(engine)
	if len(plugins) < lo {
		for _, v := range variants {
			if len(v) > 0 {
				plugins = dedupPlugins(append(plugins, v...))
				break
			}
		}
		if len(plugins) > lo {
			plugins = plugins[:lo]
		}
	}
	if len(plugins) > hi {
		plugins = plugins[:hi]
	}

	mimes := []MimeType{}
	for _, p := range plugins {
		mimes = append(mimes, p.MimeTypes...)
	}
	return plugins, mimes
}

func dedupPlugins(in []Plugin) []Plugin {
	type key struct{ name, file string }
	seen := make(map[key]bool, len(in))
	out := make([]Plugin, 0, len(in))
	for _, p := range in {
		k := key{p.Name, p.Filename}
		if seen[k] {
			continue
		}
		seen[k] = true
		p.MimeTypes = append([]MimeType{}, p.MimeTypes...)
		out = append(out, p)
	}
	return out
}
