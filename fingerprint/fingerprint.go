// Package fingerprint synthesizes the browser identity of a session and
// derives everything the network boundary must agree with.
//
// An identity correlates many observable signals: the User-Agent string, the
// Sec-CH-UA client hints, navigator properties (platform, vendor, languages,
// memory, CPU count, plugins), WebGL strings and screen geometry.  A mismatch
// between any two of them is a reliable automation indicator, so every value
// is chosen from one session RNG stream and checked against the others
// before anything is persisted.
//
// # Usage
//
//	pools, _ := fingerprint.LoadPools(cfg.PoolsFile)
//	s := fingerprint.NewSynthesizer(pools, seed.Session(sessionSeed))
//	id, err := s.Synthesize(geo)
//	if failure.IsFatal(err) { ... }
//	doc := fingerprint.NewBootstrap(id, sessionSeed, time.Now())
//	fingerprint.WriteBootstrap(cfg.ProfileDir, doc)
package fingerprint

import (
	"net/http"

	"github.com/firasghr/GoPersonaEngine/platform"
)

// MediaDevices lists the labels enumerateDevices reports.
type MediaDevices struct {
	AudioInput  []string `json:"audioinput"`
	VideoInput  []string `json:"videoinput"`
	AudioOutput []string `json:"audiooutput"`
}

// Identity is one synthesized browser identity.  Field names follow the keys
// the injected page script reads.
type Identity struct {
	Platform        platform.Platform `json:"platform"`
	OSInfo          string            `json:"os_info"`
	OSName          string            `json:"os_name"`
	PlatformVersion string            `json:"platform_version"`

	Browser        Brand  `json:"browser"`
	BrowserMajor   int    `json:"browser_major"`
	BrowserVersion string `json:"browser_version"`
	UserAgent      string `json:"user_agent"`
	Vendor         string `json:"vendor_value"`
	OSCPU          string `json:"oscpu,omitempty"`

	ScreenWidth  int     `json:"screen_width"`
	ScreenHeight int     `json:"screen_height"`
	DPR          float64 `json:"device_dpr_value"`

	WebGLVendor           string `json:"webgl_vendor"`
	WebGLRenderer         string `json:"webgl_renderer"`
	WebGLUnmaskedVendor   string `json:"webgl_unmasked_vendor"`
	WebGLUnmaskedRenderer string `json:"webgl_unmasked_renderer"`
	GPUType               string `json:"gpu_type"`
	GPUArchitecture       string `json:"gpu_architecture"`
	GPUVendor             string `json:"gpu_vendor"`

	Devices MediaDevices `json:"devices_conf"`

	Language       string   `json:"language"`
	Languages      []string `json:"languages"`
	AcceptLanguage string   `json:"accept_language"`
	Accept         string   `json:"accept"`

	DeviceMemory        int `json:"deviceMemory"`
	HardwareConcurrency int `json:"hardwareConcurrency"`

	Plugins   []Plugin   `json:"plugins"`
	MimeTypes []MimeType `json:"mimeTypes"`

	Geo Geo `json:"geo"`
}

// Header is an ordered name-value pair for HTTP headers.
type Header struct {
	Name  string
	Value string
}

// ApplyHeaders writes hs into h in order.  An empty value removes the
// header.  When overwrite is false, headers already present in h are kept.
func ApplyHeaders(h http.Header, hs []Header, overwrite bool) {
	if h == nil {
		return
	}
	for _, x := range hs {
		if !overwrite && h.Get(x.Name) != "" {
			continue
		}
		if x.Value == "" {
			h.Del(x.Name)
			continue
		}
		h.Set(x.Name, x.Value)
	}
}
