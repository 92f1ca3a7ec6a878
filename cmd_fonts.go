package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firasghr/GoPersonaEngine/fontstore"
	"github.com/firasghr/GoPersonaEngine/platform"
)

func newFontsCmd(a *app) *cobra.Command {
	var platformName string
	cmd := &cobra.Command{
		Use:   "fonts",
		Short: "Manage the per-platform font asset store",
	}
	cmd.PersistentFlags().StringVarP(&platformName, "platform", "p", "", "target platform (Win32 or MacIntel)")
	_ = cmd.MarkPersistentFlagRequired("platform")

	store := func() (*fontstore.Store, platform.Platform, error) {
		p, err := platform.Parse(platformName)
		if err != nil {
			return nil, "", err
		}
		return fontstore.New(a.cfg.AssetsDir, a.log, fontstore.WithWorkers(a.cfg.Fonts.Workers)), p, nil
	}

	ingest := &cobra.Command{
		Use:   "ingest [file.woff2...]",
		Short: "Validate and store fonts; without arguments reads the intake directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, p, err := store()
			if err != nil {
				return err
			}
			var res *fontstore.IngestResult
			if len(args) == 0 {
				res, err = s.IngestRaw(cmd.Context(), p)
			} else {
				res, err = s.Ingest(cmd.Context(), p, args)
			}
			if err != nil {
				return err
			}
			for _, r := range res.Rejected {
				a.log.Warn("font rejected", zap.String("file", r.File), zap.Error(r.Reason))
			}
			a.log.Info("fonts ingested",
				zap.Stringer("platform", p),
				zap.Int("accepted", len(res.Accepted)),
				zap.Int("rejected", len(res.Rejected)))
			return nil
		},
	}

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the font index from the asset directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, p, err := store()
			if err != nil {
				return err
			}
			idx, err := s.Reconcile(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d fonts indexed in %s\n", p, len(idx.Files), s.Dir(p))
			return nil
		},
	}

	cmd.AddCommand(ingest, reconcile)
	return cmd
}
