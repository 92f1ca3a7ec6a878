package fingerprint

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/firasghr/GoPersonaEngine/platform"
)

//go:embed pools.yaml
var defaultPools []byte

// PlatformWeight is one entry of the platform table.
type PlatformWeight struct {
	Name   platform.Platform `yaml:"name"`
	Weight float64           `yaml:"weight"`
}

// BrandWeight is one entry of a per-platform browser table.
type BrandWeight struct {
	Brand  string  `yaml:"brand"`
	Weight float64 `yaml:"weight"`
}

// OSOption is one operating-system build an identity may claim.
type OSOption struct {
	OSInfo    string  `yaml:"os_info"`
	OSName    string  `yaml:"os_name"`
	OSVersion string  `yaml:"os_version,omitempty"`
	Weight    float64 `yaml:"weight,omitempty"` // zero means 1
}

// GPU is one graphics adapter with the screen resolutions it plausibly drives.
type GPU struct {
	Name         string   `yaml:"name"`
	ProdCode     string   `yaml:"prod_code,omitempty"`
	Architecture string   `yaml:"architecture"`
	Type         string   `yaml:"type"`
	Resolution   []string `yaml:"resolution"`
}

// DevicePools holds media device labels.
type DevicePools struct {
	Microphone []string `yaml:"microphone"`
	VideoInput []string `yaml:"videoinput"`
	Headphone  []string `yaml:"headphone"`
}

// Pools is the data set identities are drawn from.
type Pools struct {
	Platforms []PlatformWeight                    `yaml:"platforms"`
	Browsers  map[platform.Platform][]BrandWeight `yaml:"browsers"`
	OS        map[platform.Platform][]OSOption    `yaml:"os"`
	GPUs      map[platform.Platform][]GPU         `yaml:"gpus"`
	Devices   DevicePools                         `yaml:"devices"`
	Versions  map[string][]string                 `yaml:"versions"`
}

// resolutionDPR maps the supported screen sizes to their device pixel ratio.
var resolutionDPR = map[string]float64{
	"1920x1080": 1.0,
	"2560x1440": 1.25,
	"3840x2160": 2.0,
	"7680x4320": 3.0,
}

// DefaultPools returns the built-in pools.
func DefaultPools() (*Pools, error) {
	return decodePools(bytes.NewReader(defaultPools), "built-in pools")
}

// LoadPools reads pools from a YAML file.  An empty path yields the built-in
// pools.
func LoadPools(path string) (*Pools, error) {
	if path == "" {
		return DefaultPools()
	}
	f, err := os.Open(path) // #nosec G304 – operator-supplied pools file
	if err != nil {
		return nil, fmt.Errorf("fingerprint: open pools %q: %w", path, err)
	}
	defer f.Close()
	return decodePools(f, path)
}

func decodePools(r io.Reader, name string) (*Pools, error) {
	p := &Pools{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("fingerprint: decode %s: %w", name, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("fingerprint: %s: %w", name, err)
	}
	return p, nil
}

// Validate checks the structural requirements of the pools.  Cross-field
// consistency (OS markers, pinned majors, resolutions) is checked per
// identity during synthesis.
func (p *Pools) Validate() error {
	if len(p.Platforms) == 0 {
		return fmt.Errorf("no platforms enabled")
	}
	for _, pw := range p.Platforms {
		if _, err := platform.Parse(string(pw.Name)); err != nil {
			return err
		}
		if pw.Weight <= 0 {
			return fmt.Errorf("platform %s: weight must be positive", pw.Name)
		}
		if len(p.Browsers[pw.Name]) == 0 {
			return fmt.Errorf("platform %s: no browsers", pw.Name)
		}
		if len(p.OS[pw.Name]) == 0 {
			return fmt.Errorf("platform %s: no os options", pw.Name)
		}
		if len(p.GPUs[pw.Name]) == 0 {
			return fmt.Errorf("platform %s: no gpus", pw.Name)
		}
		for _, bw := range p.Browsers[pw.Name] {
			if _, err := ParseBrand(bw.Brand); err != nil {
				return fmt.Errorf("platform %s: %w", pw.Name, err)
			}
		}
	}
	return nil
}

// versions returns the version pool of b.
func (p *Pools) versions(b Brand) []string { return p.Versions[b.String()] }

// majorOf returns the leading numeric component of a version string.
func majorOf(v string) (int, error) {
	head, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", v, err)
	}
	return n, nil
}
