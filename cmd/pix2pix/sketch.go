package main

import (
	"log/slog"
	"os"
	"path/filepath"

	pix2pix "github.com/LdDl/pix2pix-go"
	"github.com/LdDl/pix2pix-go/border"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newSketchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sketch IMAGE...",
		Short: "Turn hand-drawn sketches into generator inputs (<name>_input.png)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  SketchHandler,
	}
	cmd.Flags().StringP("out", "o", ".", "Output directory")
	cmd.Flags().Int("size", 0, "Output side in pixels (defaults to model image size)")
	cmd.Flags().Float64("canny-low", 0, "Low Canny threshold (overrides config)")
	cmd.Flags().Float64("canny-high", 0, "High Canny threshold (overrides config)")
	return cmd
}

// productionCanny Configured production thresholds with flag overrides
func productionCanny(cmd *cobra.Command, cfg *pix2pix.Config) border.CannyParams {
	params := cfg.Data.ProductionCanny
	if cmd.Flags().Changed("canny-low") {
		params.Low, _ = cmd.Flags().GetFloat64("canny-low")
	}
	if cmd.Flags().Changed("canny-high") {
		params.High, _ = cmd.Flags().GetFloat64("canny-high")
	}
	return params
}

// SketchHandler Preprocesses every given image
func SketchHandler(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := pix2pix.LoadConfig(configPath)
	if err != nil {
		return err
	}
	size, _ := cmd.Flags().GetInt("size")
	if size <= 0 {
		size = cfg.Model.ImageSize
	}
	params := productionCanny(cmd, cfg)
	outDir, _ := cmd.Flags().GetString("out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "Can't create output directory '%s'", outDir)
	}
	for _, path := range args {
		img, err := imaging.Open(path)
		if err != nil {
			return errors.Wrapf(err, "Can't open image '%s'", path)
		}
		sketch, err := pix2pix.PreprocessSketch(img, size, params)
		if err != nil {
			return errors.Wrapf(err, "Can't preprocess '%s'", path)
		}
		out := filepath.Join(outDir, stem(path)+"_input.png")
		if err := imaging.Save(sketch, out); err != nil {
			return errors.Wrapf(err, "Can't save '%s'", out)
		}
		logger.Info("sketch written", "source", path, "path", out)
	}
	return nil
}
