package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	pix2pix "github.com/LdDl/pix2pix-go"
	"github.com/LdDl/pix2pix-go/dataset"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newSynthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synth PATCHES_DIR",
		Short: "Synthesize side-by-side (sketch, photograph) pairs from raw patches",
		Args:  cobra.ExactArgs(1),
		RunE:  SynthHandler,
	}
	cmd.Flags().StringP("out", "o", "paired", "Output directory for <name>_<i>.png pairs")
	cmd.Flags().Int("rotation", 0, "Rotation step in degrees (overrides config)")
	return cmd
}

// SynthHandler Writes every synthesized pair as a side-by-side PNG
func SynthHandler(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := pix2pix.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("rotation") {
		cfg.Data.Pipeline.RotationStep, _ = cmd.Flags().GetInt("rotation")
	}
	samples, err := dataset.SynthesizeDir(cmd.Context(), args[0], cfg.Data.Pipeline, logger)
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "Can't create output directory '%s'", outDir)
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(runtime.NumCPU())
	for _, s := range samples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return dataset.SavePairedImage(filepath.Join(outDir, s.Name+".png"), s.Pair)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("pairs written", "dir", outDir, "count", len(samples))
	return nil
}
