package dataset

import (
	"fmt"
	"image"

	"github.com/LdDl/pix2pix-go/border"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Pipeline Derives training pairs from one raw image: rotation fan-out, sketch synthesis, resize.
//
// Size - side of the square output images
// RotationStep - rotation step in degrees, (0; 360]. Zero means no rotation: one pair per source image
// SegmentThreshold - gray level used for segmentation before edge extraction
// Canny - edge detector thresholds
// InvertSketch - store sketch as dark lines on white background, the way it looks when drawn by hand
//
type Pipeline struct {
	Size             int                `yaml:"size"`
	RotationStep     int                `yaml:"rotationStep"`
	SegmentThreshold uint8              `yaml:"segmentThreshold"`
	Canny            border.CannyParams `yaml:"canny"`
	InvertSketch     bool               `yaml:"invertSketch"`
}

// DefaultPipeline 256x256 pairs, 30 degrees rotation step, training Canny thresholds
func DefaultPipeline() Pipeline {
	return Pipeline{
		Size:             256,
		RotationStep:     30,
		SegmentThreshold: border.DefaultSegmentThreshold,
		Canny:            border.TrainingCanny,
		InvertSketch:     true,
	}
}

// Validate Checks pipeline parameters
func (p Pipeline) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("pipeline size must be positive, got %d", p.Size)
	}
	if p.RotationStep < 0 || p.RotationStep > 360 {
		return fmt.Errorf("rotation step must be in (0; 360] or 0 for no rotation, got %d", p.RotationStep)
	}
	return nil
}

// TotalPerSource Number of pairs produced from every source image: floor(360/d), or 1 without rotation
func (p Pipeline) TotalPerSource() int {
	if p.RotationStep <= 0 {
		return 1
	}
	return 360 / p.RotationStep
}

// Generate Builds all pairs for one source image. Pair i is made from the source rotated by i*RotationStep degrees.
func (p Pipeline) Generate(img image.Image) ([]ImagePair, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := border.Validate(img); err != nil {
		return nil, err
	}
	total := p.TotalPerSource()
	pairs := make([]ImagePair, 0, total)
	for i := 0; i < total; i++ {
		rotated := RotateContent(img, float64(i*p.RotationStep))
		pair, err := p.pairFrom(rotated)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't build pair for rotation #%d", i)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// pairFrom Synthesizes sketch for the image and resizes both to the output size
func (p Pipeline) pairFrom(img *image.NRGBA) (ImagePair, error) {
	sketch, err := border.Sketch(img, p.SegmentThreshold, p.Canny)
	if err != nil {
		return ImagePair{}, err
	}
	if p.InvertSketch {
		sketch = border.Invert(sketch)
	}
	return ImagePair{
		Input:  opaque(imaging.Resize(border.ToColor(sketch), p.Size, p.Size, imaging.Linear)),
		Target: opaque(imaging.Resize(img, p.Size, p.Size, imaging.Linear)),
	}, nil
}
