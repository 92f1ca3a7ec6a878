// Package config provides configuration management for GoPersonaEngine.
// It supports YAML-based configuration loading with safe defaults and a small
// set of environment overrides inherited from the session launcher.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/firasghr/GoPersonaEngine/logger"
)

// Environment variables read by ApplyEnv.
const (
	EnvSeed      = "__GLOBAL_SEED"
	EnvFontsMinN = "FONTS_MIN_N"
	EnvFontsMaxN = "FONTS_MAX_N"
)

// Config holds all tunable parameters.  It is loaded once at startup and then
// shared across goroutines as a read-only value.
type Config struct {
	// Seed is the process-wide session seed.  Empty means "generate one";
	// the environment variable __GLOBAL_SEED takes precedence.
	Seed string `yaml:"seed"`

	// AssetsDir is the root of the font asset layout (fonts_raw/,
	// generated_fonts/<platform>/).
	AssetsDir string `yaml:"assets_dir"`

	// ProfileDir receives profile.json and the profiles/ audit copies.
	ProfileDir string `yaml:"profile_dir"`

	// ManifestPath is where the font manifest is written.
	ManifestPath string `yaml:"manifest_path"`

	// PoolsFile optionally replaces the built-in identity pools.
	PoolsFile string `yaml:"pools_file"`

	Fonts  FontsConfig   `yaml:"fonts"`
	Locale LocaleConfig  `yaml:"locale"`
	Proxy  ProxyConfig   `yaml:"proxy"`
	Log    logger.Config `yaml:"log"`
}

// FontsConfig tunes the font store and manifest sampling.
type FontsConfig struct {
	MinN int `yaml:"min_n"`
	MaxN int `yaml:"max_n"`

	// Workers bounds parallel font inspection during ingest.
	Workers int `yaml:"workers"`
}

// LocaleConfig describes where locale data comes from.  When GeoIPDB and
// ExitIP are both set the country is resolved from the database; otherwise
// Languages is used as given.
type LocaleConfig struct {
	Languages     []string `yaml:"languages"`
	Timezone      string   `yaml:"timezone"`
	OffsetMinutes int      `yaml:"offset_minutes"`
	Latitude      float64  `yaml:"latitude"`
	Longitude     float64  `yaml:"longitude"`
	GeoIPDB       string   `yaml:"geoip_db"`
	ExitIP        string   `yaml:"exit_ip"`
}

// ProxyConfig tunes the traffic consistency proxy.
type ProxyConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	DashboardAddr string `yaml:"dashboard_addr"`

	// RawLogPath receives the human-readable traffic log.  Empty disables it.
	RawLogPath string `yaml:"raw_log_path"`

	// CACert/CAKey are PEM files for TLS interception.  Empty uses the
	// interception library's built-in CA.
	CACert string `yaml:"ca_cert"`
	CAKey  string `yaml:"ca_key"`

	// AlignClientHints rewrites outbound identity headers from profile.json.
	AlignClientHints bool `yaml:"align_client_hints"`

	// RedisAddr enables the shared escalation store when non-empty.
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`

	// UpstreamFile lists socks5:// upstreams, one per line.
	UpstreamFile string `yaml:"upstream_file"`

	// StoreSyncInterval is how often the shared store is re-read.
	StoreSyncInterval time.Duration `yaml:"store_sync_interval"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	RingSize       int           `yaml:"ring_size"`
}

// LoadConfig reads a YAML file at filename and decodes it over DefaultConfig,
// so omitted fields keep their defaults.  Unknown keys are rejected to catch
// typos early.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return cfg, nil
}

// DefaultConfig returns a *Config pre-filled with defaults.  Each call returns
// a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		AssetsDir:    "assets",
		ProfileDir:   ".",
		ManifestPath: "assets/Manifest/fonts-manifest.json",
		Fonts: FontsConfig{
			MinN:    14,
			MaxN:    16,
			Workers: 4,
		},
		Locale: LocaleConfig{
			Languages: []string{"en-GB"},
			Timezone:  "UTC",
		},
		Proxy: ProxyConfig{
			ListenAddr:        "127.0.0.1:8080",
			DashboardAddr:     "127.0.0.1:8090",
			RawLogPath:        "logs/traffic.log",
			RedisKey:          "persona:passthrough",
			RequestTimeout:    60 * time.Second,
			StoreSyncInterval: 30 * time.Second,
			RingSize:          300,
		},
		Log: logger.Config{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// ApplyEnv overlays the launcher's environment variables onto c.  getenv is
// usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvSeed); v != "" {
		c.Seed = v
	}
	for _, kv := range []struct {
		name string
		dst  *int
	}{
		{EnvFontsMinN, &c.Fonts.MinN},
		{EnvFontsMaxN, &c.Fonts.MaxN},
	} {
		v := getenv(kv.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: env %s=%q: %w", kv.name, v, err)
		}
		*kv.dst = n
	}
	return nil
}

// Validate reports the first out-of-range value.
func (c *Config) Validate() error {
	switch {
	case c.Fonts.MinN < 1:
		return fmt.Errorf("config: fonts.min_n must be >= 1, got %d", c.Fonts.MinN)
	case c.Fonts.MaxN < c.Fonts.MinN:
		return fmt.Errorf("config: fonts.max_n (%d) must be >= fonts.min_n (%d)", c.Fonts.MaxN, c.Fonts.MinN)
	case c.Proxy.RingSize < 10:
		return fmt.Errorf("config: proxy.ring_size must be >= 10, got %d", c.Proxy.RingSize)
	case (c.Proxy.CACert == "") != (c.Proxy.CAKey == ""):
		return errors.New("config: proxy.ca_cert and proxy.ca_key must be set together")
	}
	return nil
}
