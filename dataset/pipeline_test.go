package dataset

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobImage Gray image with a bright disc on dark background
func blobImage(size int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	c := float64(size) / 2
	r := float64(size) / 3
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)-c, float64(y)-c)
			v := uint8(40)
			if d < r {
				v = uint8(160 + int(d)%60)
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestTotalPerSource(t *testing.T) {
	p := DefaultPipeline()
	p.RotationStep = 30
	assert.Equal(t, 12, p.TotalPerSource())
	p.RotationStep = 90
	assert.Equal(t, 4, p.TotalPerSource())
	p.RotationStep = 7
	assert.Equal(t, 51, p.TotalPerSource())
	p.RotationStep = 360
	assert.Equal(t, 1, p.TotalPerSource())
	p.RotationStep = 0
	assert.Equal(t, 1, p.TotalPerSource())
}

func TestPipelineValidate(t *testing.T) {
	p := DefaultPipeline()
	p.RotationStep = -10
	assert.Error(t, p.Validate())
	p.RotationStep = 361
	assert.Error(t, p.Validate())
	p.RotationStep = 45
	p.Size = 0
	assert.Error(t, p.Validate())
}

func TestGenerateNinetyDegrees(t *testing.T) {
	p := DefaultPipeline()
	p.RotationStep = 90
	p.Size = 256

	pairs, err := p.Generate(blobImage(256))
	require.NoError(t, err)
	require.Len(t, pairs, 4)
	for i, pair := range pairs {
		size, err := pair.Size()
		require.NoError(t, err, "pair %d", i)
		assert.Equal(t, image.Pt(256, 256), size)

		tp := Normalize(pair)
		for _, tt := range []struct {
			name string
			data []float64
			shp  []int
		}{
			{"input", tp.Input.Data().([]float64), tp.Input.Shape()},
			{"target", tp.Target.Data().([]float64), tp.Target.Shape()},
		} {
			assert.Equal(t, []int{3, 256, 256}, tt.shp, "%s of pair %d", tt.name, i)
			for _, v := range tt.data {
				if v < -1 || v > 1 {
					t.Fatalf("%s of pair %d has value %f out of [-1, 1]", tt.name, i, v)
				}
			}
		}
	}
}

func TestGenerateWithoutRotation(t *testing.T) {
	p := DefaultPipeline()
	p.RotationStep = 0
	p.Size = 32
	pairs, err := p.Generate(blobImage(48))
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	size, err := pairs[0].Size()
	require.NoError(t, err)
	assert.Equal(t, image.Pt(32, 32), size)
}

func TestGenerateSketchIsGrayReplicated(t *testing.T) {
	p := DefaultPipeline()
	p.RotationStep = 0
	p.Size = 64
	pairs, err := p.Generate(blobImage(64))
	require.NoError(t, err)
	in := pairs[0].Input
	for i := 0; i < len(in.Pix); i += 4 {
		require.Equal(t, in.Pix[i], in.Pix[i+1])
		require.Equal(t, in.Pix[i], in.Pix[i+2])
	}
	// Inverted sketch: corners are background, drawn white
	assert.Equal(t, uint8(255), in.NRGBAAt(0, 0).R)
}

func TestGenerateInvalidImage(t *testing.T) {
	p := DefaultPipeline()
	_, err := p.Generate(image.NewAlpha(image.Rect(0, 0, 8, 8)))
	assert.Error(t, err)
	_, err = p.Generate(nil)
	assert.Error(t, err)
}

func TestRotateContentRightAngles(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 255
	}
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})

	r0 := RotateContent(src, 0)
	assert.Equal(t, src.Pix, r0.Pix)

	r90 := RotateContent(src, 90)
	assert.Equal(t, image.Pt(2, 4), r90.Bounds().Size())
	// Counter-clockwise: top-left corner goes to bottom-left
	assert.Equal(t, uint8(255), r90.NRGBAAt(0, 3).R)

	r360 := RotateContent(src, 360)
	assert.Equal(t, src.Pix, r360.Pix)

	r180 := RotateContent(src, -180)
	assert.Equal(t, uint8(255), r180.NRGBAAt(3, 1).R)
}

func TestRotateContentCropsBorder(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 200, 200, 200, 255
	}
	rotated := RotateContent(src, 45)
	size := rotated.Bounds().Size()
	// 100/sqrt(2) ~ 70.7 minus margin
	assert.InDelta(t, 66, size.X, 1)
	assert.InDelta(t, 66, size.Y, 1)
	for i := 0; i < len(rotated.Pix); i += 4 {
		// Nothing of the transparent black background leaks into the result
		require.InDelta(t, 200, int(rotated.Pix[i]), 2, "pixel %d", i/4)
		require.Equal(t, uint8(255), rotated.Pix[i+3])
	}
}

func TestInscribedSize(t *testing.T) {
	w, h := inscribedSize(100, 50, 0)
	assert.InDelta(t, 100, w, 1e-9)
	assert.InDelta(t, 50, h, 1e-9)

	w, h = inscribedSize(100, 50, math.Pi/2)
	assert.InDelta(t, 50, w, 1e-6)
	assert.InDelta(t, 100, h, 1e-6)

	w, h = inscribedSize(100, 100, math.Pi/4)
	assert.InDelta(t, 100/math.Sqrt2, w, 1e-6)
	assert.InDelta(t, 100/math.Sqrt2, h, 1e-6)

	w, h = inscribedSize(0, 10, 1)
	assert.Zero(t, w)
	assert.Zero(t, h)
}
