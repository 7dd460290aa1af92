// Package border turns colour or gray images into single-channel sketches:
// binary segmentation and Canny edge extraction.
package border

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// CannyParams Hysteresis thresholds of the edge detector.
// The order does not matter: the smaller value is used as the low threshold.
type CannyParams struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

var (
	// TrainingCanny Thresholds used when synthesizing training pairs from segmented patches
	TrainingCanny = CannyParams{Low: 128, High: 100}
	// ProductionCanny Thresholds used for real hand-drawn sketches; suppresses pen noise
	ProductionCanny = CannyParams{Low: 128, High: 200}
)

// DefaultSegmentThreshold Gray level splitting foreground from background
const DefaultSegmentThreshold = 100

// InvalidImageError Image is absent, empty or has unsupported channel layout.
type InvalidImageError struct {
	Reason string
}

func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid image: %s", e.Reason)
}

// Channels Returns number of colour channels of the image. Alpha is not counted.
//
// Gray images have 1 channel, alpha-only images 0, CMYK images 4, everything else 3.
func Channels(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.Alpha, *image.Alpha16:
		return 0
	case *image.CMYK:
		return 4
	default:
		return 3
	}
}

// Validate Checks that image could be processed by the transforms of this package
func Validate(img image.Image) error {
	if img == nil {
		return &InvalidImageError{Reason: "image is nil"}
	}
	if img.Bounds().Empty() {
		return &InvalidImageError{Reason: "image is empty"}
	}
	if c := Channels(img); c != 1 && c != 3 {
		return &InvalidImageError{Reason: fmt.Sprintf("expected 1 or 3 channels, got %d", c)}
	}
	return nil
}

// Segment Converts image to grayscale and binarizes it: pixels >= threshold become 255, others 0.
func Segment(img image.Image, threshold uint8) (*image.Gray, error) {
	gray, err := toGray(img)
	if err != nil {
		return nil, err
	}
	out := image.NewGray(gray.Rect)
	for i, v := range gray.Pix {
		if v >= threshold {
			out.Pix[i] = 255
		}
	}
	return out, nil
}

// ExtractBorder Applies Canny edge detection to the image and returns thin 255-valued lines on 0 background.
func ExtractBorder(img image.Image, params CannyParams) (*image.Gray, error) {
	gray, err := toGray(img)
	if err != nil {
		return nil, err
	}
	low, high := params.Low, params.High
	if low > high {
		low, high = high, low
	}
	return canny(gray, low, high), nil
}

// Sketch Segments the image and extracts the border of the segmented region.
// This is how a free-hand drawing is simulated from a raw patch.
func Sketch(img image.Image, segmentThreshold uint8, params CannyParams) (*image.Gray, error) {
	segmented, err := Segment(img, segmentThreshold)
	if err != nil {
		return nil, err
	}
	return ExtractBorder(segmented, params)
}

// Invert Returns negative of the gray image (white lines become black ones and vice versa)
func Invert(gray *image.Gray) *image.Gray {
	out := image.NewGray(gray.Rect)
	for i, v := range gray.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

// ToColor Replicates gray channel into R, G and B
func ToColor(gray *image.Gray) *image.NRGBA {
	return imaging.Clone(gray)
}

// toGray validates image and returns its luma with origin at (0, 0)
func toGray(img image.Image) (*image.Gray, error) {
	if err := Validate(img); err != nil {
		return nil, err
	}
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g, nil
	}
	luma := imaging.Grayscale(img)
	b := luma.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := luma.Pix[y*luma.Stride : y*luma.Stride+b.Dx()*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x := range dst {
			dst[x] = src[x*4]
		}
	}
	return out, nil
}
