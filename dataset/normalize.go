package dataset

import (
	"fmt"
	"image"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Channels Number of colour channels carried through the pipeline
const Channels = 3

// NormalizeValue Maps [0, 255] to [-1, 1]
func NormalizeValue(v uint8) float64 {
	return float64(v)/127.5 - 1
}

// DenormalizeValue Maps [-1, 1] back to [0, 255], rounding and clamping
func DenormalizeValue(f float64) uint8 {
	v := math.Round((f + 1) * 127.5)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// ImageToTensor Returns 3xHxW tensor of normalized R, G, B planes. Alpha is dropped.
func ImageToTensor(img *image.NRGBA) *tensor.Dense {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float64, Channels*plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < Channels; c++ {
				data[c*plane+y*w+x] = NormalizeValue(px[c])
			}
		}
	}
	return tensor.New(tensor.WithShape(Channels, h, w), tensor.WithBacking(data))
}

// TensorToImage Converts 3xHxW (or 1x3xHxW) tensor with values in [-1, 1] back to an opaque image
func TensorToImage(t *tensor.Dense) (*image.NRGBA, error) {
	if t == nil {
		return nil, fmt.Errorf("tensor is nil")
	}
	shp := t.Shape()
	switch {
	case len(shp) == 3:
	case len(shp) == 4 && shp[0] == 1:
		shp = shp[1:]
	default:
		return nil, fmt.Errorf("expected tensor of shape (3, H, W) or (1, 3, H, W), got %v", t.Shape())
	}
	if shp[0] != Channels {
		return nil, fmt.Errorf("expected %d channels, got %d", Channels, shp[0])
	}
	data, ok := t.Materialize().Data().([]float64)
	if !ok {
		return nil, errors.Errorf("expected float64 tensor, got %v", t.Dtype())
	}
	h, w := shp[1], shp[2]
	plane := w * h
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*img.Stride + x*4
			for c := 0; c < Channels; c++ {
				img.Pix[i+c] = DenormalizeValue(data[c*plane+y*w+x])
			}
			img.Pix[i+3] = 255
		}
	}
	return img, nil
}

// Normalize Converts both images of the pair into normalized tensors. Pair is not modified.
func Normalize(pair ImagePair) TensorPair {
	return TensorPair{
		Input:  ImageToTensor(pair.Input),
		Target: ImageToTensor(pair.Target),
	}
}

// Denormalize Inverse of Normalize
func Denormalize(pair TensorPair) (ImagePair, error) {
	input, err := TensorToImage(pair.Input)
	if err != nil {
		return ImagePair{}, errors.Wrap(err, "Can't denormalize input")
	}
	target, err := TensorToImage(pair.Target)
	if err != nil {
		return ImagePair{}, errors.Wrap(err, "Can't denormalize target")
	}
	return ImagePair{Input: input, Target: target}, nil
}
