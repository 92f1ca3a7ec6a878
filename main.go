// GoPersonaEngine prepares and serves one consistent browser persona.
//
// Commands:
//
//	synth            synthesize the session identity, write profile.json and
//	                 the font manifest
//	fonts ingest     validate and store new WOFF2 fonts for a platform
//	fonts reconcile  rebuild the font index of a platform
//	proxy            run the traffic consistency proxy and its dashboard
//
// Every command loads the YAML configuration (or defaults), overlays the
// launcher's environment variables and validates the result before doing
// any work.  SIGINT and SIGTERM cancel the running command.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/firasghr/GoPersonaEngine/config"
	"github.com/firasghr/GoPersonaEngine/failure"
	"github.com/firasghr/GoPersonaEngine/logger"
)

// Exit codes.
const (
	exitError = 1
	exitFatal = 2
)

// app carries the state shared by all commands once the root pre-run has
// loaded it.
type app struct {
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if a.log != nil {
		_ = a.log.Sync()
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	if failure.IsFatal(err) {
		os.Exit(exitFatal)
	}
	os.Exit(exitError)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "persona",
		Short:             "Synthesize a browser persona and keep its traffic consistent",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "path to YAML config file (defaults when omitted)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(newSynthCmd(a), newFontsCmd(a), newProxyCmd(a))
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	// ── Configuration ──────────────────────────────────────────────────────
	cfg := config.DefaultConfig()
	if a.cfgFile != "" {
		var err error
		if cfg, err = config.LoadConfig(a.cfgFile); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── Logger ─────────────────────────────────────────────────────────────
	log, err := logger.NewWithConfig(cfg.Log, zapcore.Lock(os.Stderr))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.cfg, a.log = cfg, log
	if a.cfgFile != "" {
		log.Debug("configuration loaded", zap.String("path", a.cfgFile), zap.String("command", cmd.Name()))
	} else {
		log.Debug("using default configuration", zap.String("command", cmd.Name()))
	}
	return nil
}
