package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/config"
	"github.com/firasghr/GoPersonaEngine/fingerprint"
	"github.com/firasghr/GoPersonaEngine/fontstore"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/manifest"
	"github.com/firasghr/GoPersonaEngine/seed"
)

func newSynthCmd(a *app) *cobra.Command {
	var skipManifest bool
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize the session identity and its font manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSynth(cmd.Context(), a.cfg, a.log, skipManifest)
		},
	}
	cmd.Flags().BoolVar(&skipManifest, "no-manifest", false, "write profile.json only")
	return cmd
}

func runSynth(ctx context.Context, cfg *config.Config, log *logger.Logger, skipManifest bool) error {
	// ── Session seed ───────────────────────────────────────────────────────
	sessionSeed := cfg.Seed
	if sessionSeed == "" {
		sessionSeed = seed.New()
		log.Info("generated session seed", zap.String(config.EnvSeed, sessionSeed))
	}

	// ── Identity ───────────────────────────────────────────────────────────
	pools, err := loadPools(cfg.PoolsFile)
	if err != nil {
		return err
	}
	src, closeSrc, err := localeSource(cfg.Locale)
	if err != nil {
		return err
	}
	defer closeSrc()
	geo, err := src.Locale(ctx)
	if err != nil {
		return err
	}

	id, err := fingerprint.NewSynthesizer(pools, seed.Session(sessionSeed), log).Synthesize(geo)
	if err != nil {
		return err
	}
	path, err := fingerprint.WriteBootstrap(cfg.ProfileDir, fingerprint.NewBootstrap(id, sessionSeed, time.Now()))
	if err != nil {
		return err
	}
	log.Info("identity written",
		zap.String("path", path),
		zap.Stringer("platform", id.Platform),
		zap.String("browser", id.UserAgent),
		zap.String("country", geo.Country))

	if skipManifest {
		return nil
	}

	// ── Font manifest ──────────────────────────────────────────────────────
	store := fontstore.New(cfg.AssetsDir, log, fontstore.WithWorkers(cfg.Fonts.Workers))
	entries, err := manifest.New(store, log, manifest.WithRange(cfg.Fonts.MinN, cfg.Fonts.MaxN)).
		Build(ctx, sessionSeed, id.Platform)
	if err != nil {
		return err
	}
	if err := manifest.Write(cfg.ManifestPath, entries); err != nil {
		return err
	}
	log.Info("font manifest written", zap.String("path", cfg.ManifestPath), zap.Int("fonts", len(entries)))
	return nil
}

func loadPools(path string) (*fingerprint.Pools, error) {
	if path == "" {
		return fingerprint.DefaultPools()
	}
	return fingerprint.LoadPools(path)
}

// localeSource resolves the exit IP through GeoIP when both the database
// and the address are configured, and uses the configured locale otherwise.
func localeSource(lc config.LocaleConfig) (fingerprint.LocaleSource, func(), error) {
	static := fingerprint.Geo{
		Timezone:      lc.Timezone,
		OffsetMinutes: lc.OffsetMinutes,
		Latitude:      lc.Latitude,
		Longitude:     lc.Longitude,
		Languages:     lc.Languages,
	}
	if lc.GeoIPDB == "" || lc.ExitIP == "" {
		return fingerprint.StaticLocale(static), func() {}, nil
	}
	g, err := fingerprint.OpenGeoIP(lc.GeoIPDB, lc.ExitIP, static)
	if err != nil {
		return nil, nil, err
	}
	return g, func() { _ = g.Close() }, nil
}
