package main

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	pix2pix "github.com/LdDl/pix2pix-go"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blob(size int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(20)
			if (x-size/2)*(x-size/2)+(y-size/2)*(y-size/2) < size*size/9 {
				v = 220
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := NewCLI()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestStem(t *testing.T) {
	assert.Equal(t, "cat_3", stem("/tmp/data/cat_3.png"))
	assert.Equal(t, "noext", stem("noext"))
}

func TestSynthCommand(t *testing.T) {
	patches := t.TempDir()
	require.NoError(t, imaging.Save(blob(48), filepath.Join(patches, "blob.png")))
	out := filepath.Join(t.TempDir(), "paired")

	require.NoError(t, run(t, "synth", patches, "-o", out, "--rotation", "180"))
	assert.FileExists(t, filepath.Join(out, "blob_0.png"))
	assert.FileExists(t, filepath.Join(out, "blob_1.png"))

	paired, err := imaging.Open(filepath.Join(out, "blob_1.png"))
	require.NoError(t, err)
	size := pix2pix.DefaultConfig().Data.Pipeline.Size
	assert.Equal(t, image.Rect(0, 0, 2*size, size), paired.Bounds())
}

func TestSketchCommand(t *testing.T) {
	src := filepath.Join(t.TempDir(), "drawing.png")
	require.NoError(t, imaging.Save(blob(40), src))
	out := t.TempDir()

	require.NoError(t, run(t, "sketch", src, "-o", out, "--size", "32"))
	img, err := imaging.Open(filepath.Join(out, "drawing_input.png"))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), img.Bounds())
}

func TestTrainCommandNeedsData(t *testing.T) {
	assert.Error(t, run(t, "train", "--steps", "1"))
	assert.Error(t, run(t, "train", "--data", "a", "--patches", "b"))
}

func TestInferCommandNeedsCheckpoint(t *testing.T) {
	src := filepath.Join(t.TempDir(), "drawing.png")
	require.NoError(t, imaging.Save(blob(16), src))
	assert.Error(t, run(t, "infer", src, "--checkpoint", t.TempDir()))
}

func TestInspectCommand(t *testing.T) {
	cfg := pix2pix.DefaultModelConfig()
	cfg.ImageSize = 8
	cfg.Generator = pix2pix.GeneratorConfig{Depth: 3, BaseFilters: 2, MaxFilters: 4}
	cfg.Discriminator = pix2pix.DiscriminatorConfig{Depth: 2, BaseFilters: 2, MaxFilters: 4}
	model, err := pix2pix.NewModel(cfg, 1)
	require.NoError(t, err)
	defer model.Close()
	dir := t.TempDir()
	_, err = pix2pix.NewCheckpointStore(dir).Save(model.State())
	require.NoError(t, err)

	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"inspect", dir, "--params"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "generator_encoder_0_w")
	assert.Contains(t, out.String(), "discriminator_score_b")
	assert.Contains(t, out.String(), "2x2")
}
