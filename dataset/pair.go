// Package dataset builds aligned (sketch, target) samples and feeds them to training as batches.
package dataset

import (
	"image"
	"image/color"

	"github.com/LdDl/pix2pix-go/border"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"gorgonia.org/tensor"
)

// ImagePair Aligned sketch and target images. Both have the same size and 3 colour channels.
type ImagePair struct {
	Input  *image.NRGBA
	Target *image.NRGBA
}

// TensorPair Normalized form of ImagePair: two 3xHxW tensors with values in [-1, 1]
type TensorPair struct {
	Input  *tensor.Dense
	Target *tensor.Dense
}

// Sample ImagePair with a name derived from its source file
type Sample struct {
	Name string
	Pair ImagePair
}

// Pairs Strips names from samples
func Pairs(samples []Sample) []ImagePair {
	pairs := make([]ImagePair, len(samples))
	for i := range samples {
		pairs[i] = samples[i].Pair
	}
	return pairs
}

// Size Returns spatial size of the pair, or an error if images are not aligned
func (p ImagePair) Size() (image.Point, error) {
	if p.Input == nil || p.Target == nil {
		return image.Point{}, &border.InvalidImageError{Reason: "pair has nil image"}
	}
	in, tg := p.Input.Bounds().Size(), p.Target.Bounds().Size()
	if in != tg {
		return image.Point{}, &border.InvalidImageError{Reason: "input " + in.String() + " and target " + tg.String() + " differ in size"}
	}
	return in, nil
}

// SplitPaired Splits side-by-side image at the horizontal midpoint: left half is the sketch, right half is the target.
func SplitPaired(img image.Image) (ImagePair, error) {
	if err := border.Validate(img); err != nil {
		return ImagePair{}, err
	}
	b := img.Bounds()
	half := b.Dx() / 2
	if half == 0 {
		return ImagePair{}, &border.InvalidImageError{Reason: "paired image is too narrow to split"}
	}
	src := toNRGBA(img)
	h := b.Dy()
	return ImagePair{
		Input:  imaging.Crop(src, image.Rect(0, 0, half, h)),
		Target: imaging.Crop(src, image.Rect(half, 0, 2*half, h)),
	}, nil
}

// LoadPairedImage Reads side-by-side PNG and splits it into ImagePair
func LoadPairedImage(path string) (ImagePair, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return ImagePair{}, errors.Wrapf(err, "Can't open paired image '%s'", path)
	}
	pair, err := SplitPaired(img)
	if err != nil {
		return ImagePair{}, errors.Wrapf(err, "Can't split paired image '%s'", path)
	}
	return pair, nil
}

// JoinPaired Places sketch on the left and target on the right
func JoinPaired(pair ImagePair) (*image.NRGBA, error) {
	size, err := pair.Size()
	if err != nil {
		return nil, err
	}
	dst := imaging.New(2*size.X, size.Y, color.NRGBA{A: 255})
	dst = imaging.Paste(dst, pair.Input, image.Pt(0, 0))
	dst = imaging.Paste(dst, pair.Target, image.Pt(size.X, 0))
	return dst, nil
}

// SavePairedImage Writes pair as a single side-by-side image. Format is deduced from extension.
func SavePairedImage(path string, pair ImagePair) error {
	joined, err := JoinPaired(pair)
	if err != nil {
		return errors.Wrap(err, "Can't join pair")
	}
	if err := imaging.Save(joined, path); err != nil {
		return errors.Wrapf(err, "Can't save paired image '%s'", path)
	}
	return nil
}

// toNRGBA Converts any image to NRGBA with origin at (0, 0) and opaque alpha
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	opaque(dst)
	return dst
}

// opaque Drops alpha in place; colour channels are the only signal the networks see
func opaque(img *image.NRGBA) *image.NRGBA {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}
