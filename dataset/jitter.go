package dataset

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Rand Source of randomness for augmentation. *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// JitterConfig Random jitter geometry
//
// ResizeTo - side of the oversized intermediate image (286 in pix2pix)
// CropTo - side of the random crop, the working resolution
//
type JitterConfig struct {
	ResizeTo int `yaml:"resizeTo"`
	CropTo   int `yaml:"cropTo"`
}

// DefaultJitter 286 -> 256
func DefaultJitter() JitterConfig {
	return JitterConfig{ResizeTo: 286, CropTo: 256}
}

// Validate Checks that crop fits into the intermediate image
func (c JitterConfig) Validate() error {
	if c.CropTo <= 0 {
		return fmt.Errorf("jitter crop size must be positive, got %d", c.CropTo)
	}
	if c.ResizeTo < c.CropTo {
		return fmt.Errorf("jitter resize (%d) must not be smaller than crop (%d)", c.ResizeTo, c.CropTo)
	}
	return nil
}

// Jitter Resizes both images with nearest neighbour interpolation, crops them with one random offset and
// mirrors both left-right with probability 0.5. Exactly three draws are taken from rng per call:
// x offset, y offset, mirror decision. Input pair is not modified.
func Jitter(pair ImagePair, rng Rand, cfg JitterConfig) (ImagePair, error) {
	if err := cfg.Validate(); err != nil {
		return ImagePair{}, err
	}
	if _, err := pair.Size(); err != nil {
		return ImagePair{}, err
	}
	input := imaging.Resize(pair.Input, cfg.ResizeTo, cfg.ResizeTo, imaging.NearestNeighbor)
	target := imaging.Resize(pair.Target, cfg.ResizeTo, cfg.ResizeTo, imaging.NearestNeighbor)

	spare := cfg.ResizeTo - cfg.CropTo
	x := rng.Intn(spare + 1)
	y := rng.Intn(spare + 1)
	rect := image.Rect(x, y, x+cfg.CropTo, y+cfg.CropTo)
	input = imaging.Crop(input, rect)
	target = imaging.Crop(target, rect)

	if rng.Float64() > 0.5 {
		input = imaging.FlipH(input)
		target = imaging.FlipH(target)
	}
	return ImagePair{Input: input, Target: target}, nil
}
