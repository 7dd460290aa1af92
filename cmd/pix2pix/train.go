package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	pix2pix "github.com/LdDl/pix2pix-go"
	"github.com/LdDl/pix2pix-go/dataset"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train generator and discriminator",
		Long: `Train on paired images (--data) or on raw patches turned into pairs on the fly (--patches).
Every 100 steps losses are logged, every 1000 steps a test sample is written and every 5000 steps
a checkpoint is saved (cadences are configurable).`,
		Args: cobra.NoArgs,
		RunE: TrainHandler,
	}
	flags := cmd.Flags()
	flags.String("data", "", "Directory of side-by-side paired PNG images")
	flags.String("patches", "", "Directory of raw PNG patches to synthesize pairs from")
	flags.String("test", "", "Directory of side-by-side paired PNG images used for samples")
	flags.String("checkpoints", "training_checkpoints", "Checkpoint directory")
	flags.String("logs", "logs", "Directory for per-run loss logs")
	flags.String("samples", "output", "Directory for generated samples")
	flags.Int("steps", 0, "Total number of training steps (overrides config)")
	flags.Int("rotation", 0, "Rotation step in degrees for --patches (overrides config)")
	flags.Float64("lr", 0, "Learning rate of both optimizers (overrides config)")
	flags.Int("batch-size", 0, "Batch size (overrides config)")
	flags.Bool("resume", false, "Continue from the latest checkpoint in --checkpoints")
	cmd.MarkFlagsMutuallyExclusive("data", "patches")
	return cmd
}

// overlayTrainFlags Puts explicitly set flags over configuration
func overlayTrainFlags(cmd *cobra.Command, cfg *pix2pix.Config) {
	flags := cmd.Flags()
	if flags.Changed("steps") {
		cfg.Train.Steps, _ = flags.GetInt("steps")
	}
	if flags.Changed("rotation") {
		cfg.Data.Pipeline.RotationStep, _ = flags.GetInt("rotation")
	}
	if flags.Changed("lr") {
		cfg.Model.Optimizer.LearnRate, _ = flags.GetFloat64("lr")
	}
	if flags.Changed("batch-size") {
		cfg.Data.Stream.BatchSize, _ = flags.GetInt("batch-size")
	}
}

// loadPairs Reads paired images or synthesizes them out of raw patches
func loadPairs(ctx context.Context, cfg *pix2pix.Config, dataDir, patchesDir string, logger *slog.Logger) ([]dataset.Sample, error) {
	if patchesDir != "" {
		return dataset.SynthesizeDir(ctx, patchesDir, cfg.Data.Pipeline, logger)
	}
	return dataset.LoadPairedDir(ctx, dataDir, logger)
}

// TrainHandler Runs the training loop
func TrainHandler(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := pix2pix.LoadConfig(configPath)
	if err != nil {
		return err
	}
	overlayTrainFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "Bad configuration")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	dataDir, _ := cmd.Flags().GetString("data")
	patchesDir, _ := cmd.Flags().GetString("patches")
	if dataDir == "" && patchesDir == "" {
		return fmt.Errorf("either --data or --patches must be set")
	}
	samples, err := loadPairs(ctx, cfg, dataDir, patchesDir, logger)
	if err != nil {
		return errors.Wrap(err, "Can't prepare training pairs")
	}
	pairs := dataset.Pairs(samples)
	rng := rand.New(rand.NewSource(cfg.Data.Seed))
	train, err := dataset.NewTrainDataset(pairs, cfg.Data.Stream, rng)
	if err != nil {
		return errors.Wrap(err, "Can't create train dataset")
	}

	testPairs := pairs[:1]
	if testDir, _ := cmd.Flags().GetString("test"); testDir != "" {
		testSamples, err := dataset.LoadPairedDir(ctx, testDir, logger)
		if err != nil {
			return errors.Wrap(err, "Can't load test pairs")
		}
		testPairs = dataset.Pairs(testSamples)
	}
	test, err := dataset.NewTestDataset(testPairs, cfg.Model.ImageSize, 1)
	if err != nil {
		return errors.Wrap(err, "Can't create test dataset")
	}

	checkpointDir, _ := cmd.Flags().GetString("checkpoints")
	store := &pix2pix.CheckpointStore{Dir: checkpointDir, Prefix: "ckpt", Keep: cfg.Train.KeepCheckpoints}
	model, err := newTrainModel(cmd, cfg, store, logger)
	if err != nil {
		return err
	}
	defer model.Close()

	logDir, _ := cmd.Flags().GetString("logs")
	runDir, err := pix2pix.NewRunDir(logDir, time.Now())
	if err != nil {
		return err
	}
	if err := pix2pix.SaveConfig(cfg, filepath.Join(runDir, "config.yaml")); err != nil {
		logger.Warn("can't store run configuration", "error", err)
	}
	sampleDir, _ := cmd.Flags().GetString("samples")

	trainer := &pix2pix.Trainer{
		Engine:      model,
		Data:        train,
		Example:     test.Pair(0),
		Schedule:    cfg.Train,
		Checkpoints: store,
		Samples:     pix2pix.SampleDir(sampleDir),
		RunDir:      runDir,
		Logger:      logger,
	}
	logger.Info("training",
		"pairs", len(pairs),
		"test_pairs", test.Len(),
		"batch_size", cfg.Data.Stream.BatchSize,
		"image_size", cfg.Model.ImageSize,
		"run_dir", runDir,
	)
	return trainer.Fit(ctx, cfg.Train.Steps)
}

// newTrainModel Restores the latest checkpoint when asked to, otherwise initializes a fresh model
func newTrainModel(cmd *cobra.Command, cfg *pix2pix.Config, store *pix2pix.CheckpointStore, logger *slog.Logger) (*pix2pix.Model, error) {
	resume, _ := cmd.Flags().GetBool("resume")
	if !resume {
		return pix2pix.NewModel(cfg.Model, cfg.Data.Stream.BatchSize)
	}
	state, err := pix2pix.LoadCheckpoint(store.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "Can't resume training")
	}
	if state.Config.ImageSize != cfg.Model.ImageSize {
		return nil, fmt.Errorf("checkpoint image size %d differs from configured %d", state.Config.ImageSize, cfg.Model.ImageSize)
	}
	// Optimizer hyperparameters may change between runs, moments are kept
	state.Config.Optimizer = cfg.Model.Optimizer
	if state.Config != cfg.Model {
		logger.Warn("model configuration of the checkpoint differs from the configured one; checkpoint wins")
	}
	logger.Info("resuming", "step", state.Step, "checkpoints", store.Dir)
	return pix2pix.NewModelFromState(state, cfg.Data.Stream.BatchSize)
}
