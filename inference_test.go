package pix2pix

import (
	"image"
	"image/color"
	"testing"

	"github.com/LdDl/pix2pix-go/border"
	"github.com/LdDl/pix2pix-go/dataset"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// strokeImage White paper with a dark filled rectangle, the way a scanned sketch looks
func strokeImage(size int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(255)
			if x >= size/4 && x < 3*size/4 && y >= size/4 && y < 3*size/4 {
				v = 10
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestPreprocessSketch(t *testing.T) {
	out, err := PreprocessSketch(strokeImage(32), 16, border.ProductionCanny)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), out.Bounds())

	dark := 0
	for i := 0; i < len(out.Pix); i += 4 {
		assert.Equal(t, out.Pix[i], out.Pix[i+1])
		assert.Equal(t, out.Pix[i], out.Pix[i+2])
		assert.Equal(t, uint8(255), out.Pix[i+3])
		if out.Pix[i] < 250 {
			dark++
		}
	}
	// Outline is dark on white background, inside of the shape stays white
	assert.Greater(t, dark, 0)
	assert.Less(t, dark, 16*16*3/4)
	assert.Equal(t, uint8(255), out.Pix[0])
	assert.Equal(t, uint8(255), out.NRGBAAt(8, 8).R)

	_, err = PreprocessSketch(image.NewNRGBA(image.Rect(0, 0, 0, 0)), 16, border.ProductionCanny)
	assert.Error(t, err)
}

func TestPredictor(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())
	_, err := store.Save(tinyState(t, 5000))
	require.NoError(t, err)

	p, err := LoadPredictor(store.Dir, border.ProductionCanny)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 5000, p.Step())
	assert.Equal(t, 8, p.ImageSize())

	for _, raw := range []bool{false, true} {
		out, err := p.Predict(strokeImage(24), raw)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 8, 8), out.Bounds())
	}

	features, err := p.Features(strokeImage(8), false)
	require.NoError(t, err)
	assert.Contains(t, features, "generator_decoder_0")

	_, err = p.Predict(image.NewAlpha(image.Rect(0, 0, 8, 8)), false)
	var invalid *border.InvalidImageError
	assert.True(t, errors.As(err, &invalid))
}

func TestLoadPredictorMissing(t *testing.T) {
	_, err := LoadPredictor(t.TempDir(), border.ProductionCanny)
	var ioErr *CheckpointIOError
	assert.True(t, errors.As(err, &ioErr))
}

func TestPredictorGeneratorOnly(t *testing.T) {
	m := newTinyModel(t, 1)
	state := m.State()
	state.Discriminator = NewParamSet()
	state.GeneratorOptimizer = nil
	state.DiscriminatorOptimizer = nil

	p, err := NewPredictor(state, border.ProductionCanny)
	require.NoError(t, err)
	defer p.Close()

	img := strokeImage(8)
	got, err := p.Predict(img, false)
	require.NoError(t, err)
	input, err := p.Input(img, false)
	require.NoError(t, err)
	out, err := m.Generate(dataset.ImageToTensor(input))
	require.NoError(t, err)
	want, err := dataset.TensorToImage(out)
	require.NoError(t, err)
	assert.Equal(t, want.Pix, got.Pix)

	_, err = NewPredictor(nil, border.ProductionCanny)
	assert.Error(t, err)
	state.Generator = NewParamSet()
	_, err = NewPredictor(state, border.ProductionCanny)
	assert.Error(t, err)
}
