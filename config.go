package pix2pix

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/LdDl/pix2pix-go/border"
	"github.com/LdDl/pix2pix-go/dataset"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config Settings of the whole system as stored in a YAML file
type Config struct {
	// Model Network geometry and optimization; stored inside every checkpoint
	Model ModelConfig `yaml:"model"`
	// Data Pair synthesis and training stream
	Data DataConfig `yaml:"data"`
	// Train Step budget and cadence of side effects
	Train ScheduleConfig `yaml:"train"`
}

// ModelConfig Everything needed to rebuild the networks
type ModelConfig struct {
	// ImageSize Side of square working images
	ImageSize int `yaml:"imageSize"`
	// L1Lambda Weight of L1 term in generator loss
	L1Lambda float64 `yaml:"l1Lambda"`
	// Seed Seed of parameter initialization
	Seed          int64               `yaml:"seed"`
	Generator     GeneratorConfig     `yaml:"generator"`
	Discriminator DiscriminatorConfig `yaml:"discriminator"`
	Optimizer     AdamConfig          `yaml:"optimizer"`
}

// DataConfig Settings of pair synthesis and of the training stream
type DataConfig struct {
	// Pipeline Synthetic pair generation out of plain images
	Pipeline dataset.Pipeline `yaml:"pipeline"`
	// Stream Batching, shuffle buffer and jitter
	Stream dataset.TrainConfig `yaml:"stream"`
	// ProductionCanny Edge thresholds for hand-drawn sketches at inference
	ProductionCanny border.CannyParams `yaml:"productionCanny"`
	// Seed Seed of shuffling and jitter
	Seed int64 `yaml:"seed"`
}

// ScheduleConfig Step budget and cadence of logging, sampling and checkpointing
type ScheduleConfig struct {
	Steps           int `yaml:"steps"`
	LogEvery        int `yaml:"logEvery"`
	SampleEvery     int `yaml:"sampleEvery"`
	CheckpointEvery int `yaml:"checkpointEvery"`
	// KeepCheckpoints Number of recent checkpoints to retain, 0 keeps all
	KeepCheckpoints int `yaml:"keepCheckpoints"`
}

// DefaultModelConfig pix2pix for 256x256 images
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ImageSize:     256,
		L1Lambda:      100,
		Seed:          1337,
		Generator:     DefaultGeneratorConfig(),
		Discriminator: DefaultDiscriminatorConfig(),
		Optimizer:     DefaultAdamConfig(),
	}
}

// DefaultScheduleConfig 40000 steps, log every 100, sample every 1000, checkpoint every 5000
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Steps:           40000,
		LogEvery:        100,
		SampleEvery:     1000,
		CheckpointEvery: 5000,
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Model: DefaultModelConfig(),
		Data: DataConfig{
			Pipeline:        dataset.DefaultPipeline(),
			Stream:          dataset.DefaultTrainConfig(),
			ProductionCanny: border.ProductionCanny,
			Seed:            1337,
		},
		Train: DefaultScheduleConfig(),
	}
}

// Validate Checks geometry of both networks against image size
func (c ModelConfig) Validate() error {
	if c.ImageSize <= 0 {
		return fmt.Errorf("image size must be positive, got %d", c.ImageSize)
	}
	if c.L1Lambda < 0 {
		return fmt.Errorf("L1 weight must not be negative, got %f", c.L1Lambda)
	}
	if err := c.Generator.Validate(c.ImageSize); err != nil {
		return errors.Wrap(err, "Bad generator config")
	}
	if err := c.Discriminator.Validate(c.ImageSize); err != nil {
		return errors.Wrap(err, "Bad discriminator config")
	}
	if err := c.Optimizer.Validate(); err != nil {
		return errors.Wrap(err, "Bad optimizer config")
	}
	return nil
}

// Validate Checks that cadences are positive
func (c ScheduleConfig) Validate() error {
	if c.Steps < 0 {
		return fmt.Errorf("step budget must not be negative, got %d", c.Steps)
	}
	if c.LogEvery <= 0 || c.SampleEvery <= 0 || c.CheckpointEvery <= 0 {
		return fmt.Errorf("log (%d), sample (%d) and checkpoint (%d) cadences must be positive", c.LogEvery, c.SampleEvery, c.CheckpointEvery)
	}
	if c.KeepCheckpoints < 0 {
		return fmt.Errorf("number of kept checkpoints must not be negative, got %d", c.KeepCheckpoints)
	}
	return nil
}

// Validate Checks every section. Working size of the stream must match model image size.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Data.Pipeline.Validate(); err != nil {
		return errors.Wrap(err, "Bad pipeline config")
	}
	if err := c.Data.Stream.Jitter.Validate(); err != nil {
		return errors.Wrap(err, "Bad jitter config")
	}
	if c.Data.Stream.Jitter.CropTo != c.Model.ImageSize {
		return fmt.Errorf("jitter crop size %d differs from model image size %d", c.Data.Stream.Jitter.CropTo, c.Model.ImageSize)
	}
	if err := c.Train.Validate(); err != nil {
		return errors.Wrap(err, "Bad schedule config")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't read config file '%s'", configPath)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "Can't parse config file '%s'", configPath)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.Wrap(err, "Can't create config directory")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "Can't marshal config")
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "Can't write config file '%s'", configPath)
	}
	return nil
}
