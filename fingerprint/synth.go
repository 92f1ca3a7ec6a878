package fingerprint

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/failure"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/platform"
)

// pinnedMajors restricts Chromium majors on Windows to the releases that
// shipped for each reported platform version.
var pinnedMajors = map[string][]int{
	"10.0.0": {134, 135},
	"15.0.0": {135, 136, 137},
	"19.0.0": {137, 138, 139, 140},
}

type weighted struct{ v, w int }

var (
	memoryWeights = []weighted{{8, 55}, {4, 35}, {2, 7}, {1, 3}}
	cpuWeights    = map[platform.Platform][]weighted{
		platform.Win32:    {{2, 10}, {4, 40}, {6, 20}, {8, 20}, {12, 10}},
		platform.MacIntel: {{4, 20}, {8, 50}, {10, 20}, {12, 10}},
	}
)

var macVersionRE = regexp.MustCompile(`Mac OS X\s+([\d_.]+)`)

// Synthesizer draws identities from a set of pools.  It is not safe for
// concurrent use; each session owns one.
type Synthesizer struct {
	pools *Pools
	rng   *rand.Rand
	log   *logger.Logger
}

// NewSynthesizer returns a Synthesizer drawing from rng.
func NewSynthesizer(pools *Pools, rng *rand.Rand, log *logger.Logger) *Synthesizer {
	if log == nil {
		log = logger.Nop()
	}
	return &Synthesizer{pools: pools, rng: rng, log: log.Named("synth")}
}

// Synthesize builds one internally consistent identity for geo.  Every
// inconsistency it detects is returned as an error of kind
// failure.ErrFatalSession.
func (s *Synthesizer) Synthesize(geo Geo) (*Identity, error) {
	if err := s.pools.Validate(); err != nil {
		return nil, failure.Fatalf("fingerprint: pools: %v", err)
	}
	r := s.rng
	p := pick(r, s.pools.Platforms, func(pw PlatformWeight) float64 { return pw.Weight }).Name

	opt := pick(r, s.pools.OS[p], func(o OSOption) float64 {
		if o.Weight <= 0 {
			return 1
		}
		return o.Weight
	})
	if err := checkOSMarker(p, opt.OSInfo); err != nil {
		return nil, err
	}
	pv, err := PlatformVersion(p, opt)
	if err != nil {
		return nil, err
	}

	bw := pick(r, s.pools.Browsers[p], func(b BrandWeight) float64 { return b.Weight })
	brand, err := ParseBrand(bw.Brand)
	if err != nil {
		return nil, failure.Fatalf("%v", err)
	}
	version, major, err := s.pickVersion(brand, p, pv)
	if err != nil {
		return nil, err
	}

	id := &Identity{
		Platform:        p,
		OSInfo:          opt.OSInfo,
		OSName:          opt.OSName,
		PlatformVersion: pv,
		Browser:         brand,
		BrowserMajor:    major,
		BrowserVersion:  version,
		UserAgent:       brand.UserAgent(opt.OSInfo, version, major),
		Vendor:          brand.info().vendor,
		Geo:             geo,
	}
	if brand == Firefox {
		if p == platform.Win32 {
			id.OSCPU = opt.OSInfo
		} else {
			id.OSCPU = "Intel Mac OS X " + pv
		}
	}

	id.Language, id.Languages = NormalizeLanguages(geo.Languages)
	id.AcceptLanguage = AcceptLanguage(id.Languages)
	id.Accept = AcceptHeader(brand, major, KindNavigate, r)

	id.DeviceMemory = pickWeightedInt(r, memoryWeights)
	id.HardwareConcurrency = pickWeightedInt(r, cpuWeights[p])

	id.Plugins, id.MimeTypes = BuildPlugins(brand, r)
	id.Devices = MediaDevices{
		AudioInput:  pickLabel(r, s.pools.Devices.Microphone),
		VideoInput:  pickLabel(r, s.pools.Devices.VideoInput),
		AudioOutput: pickLabel(r, s.pools.Devices.Headphone),
	}

	if err := s.applyGPU(id, r); err != nil {
		return nil, err
	}

	s.log.Debug("identity synthesized",
		zap.String("platform", p.String()),
		zap.String("os", opt.OSName),
		zap.Stringer("browser", brand),
		zap.String("version", version),
		zap.String("language", id.Language))
	return id, nil
}

func checkOSMarker(p platform.Platform, osInfo string) error {
	switch p {
	case platform.Win32:
		if !strings.Contains(osInfo, "NT") {
			return failure.Fatalf("fingerprint: os_info %q is not a Windows NT string", osInfo)
		}
	case platform.MacIntel:
		if !strings.Contains(osInfo, "Mac OS X") {
			return failure.Fatalf("fingerprint: os_info %q is not a Mac OS X string", osInfo)
		}
	default:
		return failure.Fatalf("fingerprint: platform %q not supported", p)
	}
	return nil
}

// PlatformVersion derives the three-part Sec-CH-UA-Platform-Version of opt.
func PlatformVersion(p platform.Platform, opt OSOption) (string, error) {
	if opt.OSVersion != "" {
		return normVersion(opt.OSVersion), nil
	}
	if p == platform.MacIntel {
		m := macVersionRE.FindStringSubmatch(opt.OSInfo)
		if m == nil {
			return "", failure.Fatalf("fingerprint: no macOS version in %q", opt.OSInfo)
		}
		return normVersion(m[1]), nil
	}
	switch {
	case strings.Contains(opt.OSName, "Windows 10"):
		return "10.0.0", nil
	case strings.Contains(opt.OSName, "Windows 11"):
		if strings.Contains(opt.OSName, "19") {
			return "19.0.0", nil
		}
		return "15.0.0", nil
	}
	return "", failure.Fatalf("fingerprint: cannot derive platform version of %q", opt.OSName)
}

// normVersion turns 10_15_7, 14.6 or 15 into a dotted three-part version.
func normVersion(v string) string {
	parts := strings.Split(strings.ReplaceAll(strings.TrimSpace(v), "_", "."), ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return strings.Join(parts[:3], ".")
}

func (s *Synthesizer) pickVersion(b Brand, p platform.Platform, pv string) (string, int, error) {
	pool := s.pools.versions(b)
	if len(pool) == 0 {
		return "", 0, failure.Fatalf("fingerprint: no %s versions in pools", b)
	}
	r := s.rng

	if !b.Chromium() || p != platform.Win32 {
		v := pool[r.IntN(len(pool))]
		major, err := majorOf(v)
		if err != nil {
			return "", 0, failure.Fatalf("fingerprint: %v", err)
		}
		return v, major, nil
	}

	var major int
	if majors, ok := pinnedMajors[pv]; ok {
		major = majors[r.IntN(len(majors))]
	} else {
		m, err := majorOf(pool[r.IntN(len(pool))])
		if err != nil {
			return "", 0, failure.Fatalf("fingerprint: %v", err)
		}
		major = m
	}
	prefix := strconv.Itoa(major) + "."
	var builds []string
	for _, v := range pool {
		if strings.HasPrefix(v, prefix) {
			builds = append(builds, v)
		}
	}
	if len(builds) == 0 {
		return "", 0, failure.Fatalf("fingerprint: no %s builds %s* for platform version %s", b, prefix, pv)
	}
	return builds[r.IntN(len(builds))], major, nil
}

func (s *Synthesizer) applyGPU(id *Identity, r *rand.Rand) error {
	gpus := s.pools.GPUs[id.Platform]
	if len(gpus) == 0 {
		return failure.Fatalf("fingerprint: no gpus for %s", id.Platform)
	}
	g := gpus[r.IntN(len(gpus))]
	if len(g.Resolution) == 0 {
		return failure.Fatalf("fingerprint: gpu %q has no resolutions", g.Name)
	}
	res := g.Resolution[r.IntN(len(g.Resolution))]
	dpr, ok := resolutionDPR[res]
	if !ok {
		return failure.Fatalf("fingerprint: unknown resolution %q for gpu %q", res, g.Name)
	}
	w, h, err := parseResolution(res)
	if err != nil {
		return failure.Fatalf("fingerprint: %v", err)
	}
	id.ScreenWidth, id.ScreenHeight, id.DPR = w, h, dpr

	amd := strings.Contains(g.Name, "AMD") || strings.Contains(g.Name, "Radeon")
	id.GPUVendor = "nvidia"
	if amd {
		id.GPUVendor = "amd"
	}
	id.GPUType = g.Type
	id.GPUArchitecture = g.Architecture
	id.WebGLVendor = id.Browser.info().webglVendor
	id.WebGLRenderer = "WebKit WebGL"

	if id.Platform == platform.MacIntel {
		id.WebGLUnmaskedVendor = "Apple Inc."
		id.WebGLUnmaskedRenderer = g.Name
		return nil
	}
	v := "NVIDIA"
	if amd {
		v = "AMD"
	}
	adapter := g.Name
	if g.ProdCode != "" {
		adapter += " (" + g.ProdCode + ")"
	}
	id.WebGLUnmaskedVendor = "Google Inc. (" + v + ")"
	id.WebGLUnmaskedRenderer = fmt.Sprintf("ANGLE (%s, %s Direct3D11 vs_5_0 ps_5_0, D3D11)", v, adapter)
	return nil
}

func parseResolution(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: %w", s, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: %w", s, err)
	}
	return w, h, nil
}

// ─── Weighted choice ─────────────────────────────────────────────────────────

// pick draws one item with probability proportional to weight.  items must
// be non-empty.
func pick[T any](r *rand.Rand, items []T, weight func(T) float64) T {
	var total float64
	for _, it := range items {
		total += weight(it)
	}
	x := r.Float64() * total
	var upto float64
	for _, it := range items {
		upto += weight(it)
		if x < upto {
			return it
		}
	}
	return items[len(items)-1]
}

func pickWeightedInt(r *rand.Rand, ws []weighted) int {
	return pick(r, ws, func(w weighted) float64 { return float64(w.w) }).v
}

func pickLabel(r *rand.Rand, pool []string) []string {
	if len(pool) == 0 {
		return []string{}
	}
	return []string{pool[r.IntN(len(pool))]}
}
