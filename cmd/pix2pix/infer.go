package main

import (
	"log/slog"
	"os"
	"path/filepath"

	pix2pix "github.com/LdDl/pix2pix-go"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newInferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infer IMAGE...",
		Short: "Generate photographs for sketches (<name>_output.png)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  InferHandler,
	}
	cmd.Flags().String("checkpoint", "training_checkpoints", "Checkpoint file or checkpoint directory (latest is used)")
	cmd.Flags().StringP("out", "o", ".", "Output directory")
	cmd.Flags().Bool("prepared", false, "Inputs are already preprocessed sketches: skip edge extraction")
	cmd.Flags().Float64("canny-low", 0, "Low Canny threshold (overrides config)")
	cmd.Flags().Float64("canny-high", 0, "High Canny threshold (overrides config)")
	return cmd
}

// InferHandler Restores generator and runs it over every given image
func InferHandler(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := pix2pix.LoadConfig(configPath)
	if err != nil {
		return err
	}
	checkpoint, _ := cmd.Flags().GetString("checkpoint")
	predictor, err := pix2pix.LoadPredictor(checkpoint, productionCanny(cmd, cfg))
	if err != nil {
		return err
	}
	defer predictor.Close()
	logger.Info("generator restored", "checkpoint", checkpoint, "step", predictor.Step(), "image_size", predictor.ImageSize())

	prepared, _ := cmd.Flags().GetBool("prepared")
	outDir, _ := cmd.Flags().GetString("out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "Can't create output directory '%s'", outDir)
	}
	for _, path := range args {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		img, err := imaging.Open(path)
		if err != nil {
			return errors.Wrapf(err, "Can't open image '%s'", path)
		}
		photo, err := predictor.Predict(img, !prepared)
		if err != nil {
			return errors.Wrapf(err, "Can't generate photograph for '%s'", path)
		}
		out := filepath.Join(outDir, stem(path)+"_output.png")
		if err := imaging.Save(photo, out); err != nil {
			return errors.Wrapf(err, "Can't save '%s'", out)
		}
		logger.Info("photograph written", "source", path, "path", out)
	}
	return nil
}
