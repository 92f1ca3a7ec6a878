package main

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/client"
	"github.com/firasghr/GoPersonaEngine/config"
	"github.com/firasghr/GoPersonaEngine/dashboard"
	"github.com/firasghr/GoPersonaEngine/fingerprint"
	"github.com/firasghr/GoPersonaEngine/interceptor"
	"github.com/firasghr/GoPersonaEngine/logger"
	"github.com/firasghr/GoPersonaEngine/metrics"
	"github.com/firasghr/GoPersonaEngine/traffic"
	"github.com/firasghr/GoPersonaEngine/upstream"
)

func newProxyCmd(a *app) *cobra.Command {
	var noDashboard bool
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the traffic consistency proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProxy(cmd.Context(), a.cfg, a.log, !noDashboard)
		},
	}
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "do not serve the diagnostics API")
	return cmd
}

func runProxy(ctx context.Context, cfg *config.Config, log *logger.Logger, withDashboard bool) error {
	pc := cfg.Proxy

	// ── Dashboard feed ─────────────────────────────────────────────────────
	feed := dashboard.NewFeed()
	if withDashboard {
		log = log.WithOptions(zap.Hooks(feed.Hook))
	}

	// ── Bootstrap ──────────────────────────────────────────────────────────
	doc := fingerprint.ReadBootstrap(filepath.Join(cfg.ProfileDir, fingerprint.BootstrapFile), log)
	pass, err := traffic.NewPassList(traffic.FromSuffixes(doc.PassthroughSuffixes)...)
	if err != nil {
		return err
	}
	brand := fingerprint.Chrome
	if !doc.Empty() {
		brand = doc.Profile.Browser
	}

	// ── Upstream ───────────────────────────────────────────────────────────
	pool := upstream.New(nil)
	if pc.UpstreamFile != "" {
		if err := pool.Load(pc.UpstreamFile); err != nil {
			return err
		}
		log.Info("upstreams loaded", zap.Int("count", pool.Count()), zap.String("file", pc.UpstreamFile))
	}
	tr := client.NewTransport(client.Config{Brand: brand, Dial: pool})

	var ca *tls.Certificate
	if pc.CACert != "" {
		if ca, err = interceptor.LoadCA(pc.CACert, pc.CAKey); err != nil {
			return err
		}
	}

	// ── Addon options ──────────────────────────────────────────────────────
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	m := metrics.NewMetrics()
	opts := []traffic.Option{
		traffic.WithRing(traffic.NewRing(pc.RingSize)),
		traffic.WithMetrics(m),
	}
	if withDashboard {
		opts = append(opts, traffic.WithEventHook(feed.AddEvent))
	}
	if pc.RawLogPath != "" {
		raw, c := traffic.OpenRawLog(pc.RawLogPath, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
		closers = append(closers, c)
		opts = append(opts, traffic.WithRawLog(raw))
	}
	if pc.AlignClientHints && !doc.Empty() {
		opts = append(opts, traffic.WithIdentity(doc.Profile))
	}
	var store *traffic.RedisStore
	if pc.RedisAddr != "" {
		store = traffic.NewRedisStore(pc.RedisAddr, pc.RedisKey)
		closers = append(closers, store)
		opts = append(opts, traffic.WithStore(store))
	}

	// ── Interceptor ────────────────────────────────────────────────────────
	p, err := interceptor.New(interceptor.Config{
		Pass:           pass,
		Transport:      tr,
		Dial:           pool,
		CA:             ca,
		RequestTimeout: pc.RequestTimeout,
	}, log, opts...)
	if err != nil {
		return err
	}
	if store != nil {
		n, err := p.Addon().SyncStore(ctx)
		if err != nil {
			log.Warn("shared pass-through store unavailable", zap.String("addr", pc.RedisAddr), zap.Error(err))
		} else {
			log.Info("shared pass-through list loaded", zap.Int("patterns", n))
		}
	}
	log.Info("traffic proxy ready",
		zap.Stringer("brand", brand),
		zap.Bool("identity", !doc.Empty()),
		zap.Int("passthrough", len(p.Passthrough())))

	// ── Serve ──────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	serve := func(fn func(context.Context, string) error, addr string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx, addr); err != nil {
				errs <- err
				cancel()
			}
		}()
	}
	if store != nil {
		go p.Addon().WatchStore(ctx, pc.StoreSyncInterval)
	}
	serve(p.ListenAndServe, pc.ListenAddr)
	if withDashboard {
		serve(dashboard.New(p.Addon(), feed, log).ListenAndServe, pc.DashboardAddr)
	}
	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}
