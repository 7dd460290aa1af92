package pix2pix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/LdDl/pix2pix-go/border"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 256, cfg.Model.ImageSize)
	assert.Equal(t, 100.0, cfg.Model.L1Lambda)
	assert.Equal(t, 40000, cfg.Train.Steps)
	assert.Equal(t, 100, cfg.Train.LogEvery)
	assert.Equal(t, 1000, cfg.Train.SampleEvery)
	assert.Equal(t, 5000, cfg.Train.CheckpointEvery)
	assert.Equal(t, border.ProductionCanny, cfg.Data.ProductionCanny)
	assert.Equal(t, 2e-4, cfg.Model.Optimizer.LearnRate)
	assert.Equal(t, 0.5, cfg.Model.Optimizer.Beta1)
}

func TestLoadConfigMissing(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Model = tinyConfig()
	cfg.Data.Stream.Jitter.ResizeTo = 10
	cfg.Data.Stream.Jitter.CropTo = 8
	cfg.Train.KeepCheckpoints = 3
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.NoError(t, loaded.Validate())
}

func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "train:\n  steps: 10\nmodel:\n  optimizer:\n    learnRate: 0.001\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Train.Steps)
	assert.Equal(t, 100, cfg.Train.LogEvery)
	assert.Equal(t, 0.001, cfg.Model.Optimizer.LearnRate)
	assert.Equal(t, 0.5, cfg.Model.Optimizer.Beta1)
	assert.Equal(t, 256, cfg.Model.ImageSize)
}

func TestLoadConfigBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("train: [1, 2"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Data.Stream.Jitter.CropTo = 128
	assert.Error(t, cfg.Validate(), "stream crop must match model size")

	cfg = DefaultConfig()
	cfg.Train.SampleEvery = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Data.Pipeline.RotationStep = 400
	assert.Error(t, cfg.Validate())
}
