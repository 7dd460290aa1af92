package dataset

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// rotationMargin Pixels removed from every side of the inscribed rectangle: interpolation blends the
// outermost content pixels with the background.
const rotationMargin = 2

// RotateContent Rotates image counter-clockwise by angle (degrees) about its center and returns only image
// content: the canvas is expanded so nothing is clipped, then center-cropped to the largest axis-aligned
// rectangle lying entirely inside the rotated source. No background fill survives.
func RotateContent(img image.Image, angle float64) *image.NRGBA {
	a := math.Mod(angle, 360)
	if a < 0 {
		a += 360
	}
	switch a {
	case 0:
		return toNRGBA(img)
	case 90:
		return imaging.Rotate90(toNRGBA(img))
	case 180:
		return imaging.Rotate180(toNRGBA(img))
	case 270:
		return imaging.Rotate270(toNRGBA(img))
	}
	b := img.Bounds()
	rotated := imaging.Rotate(toNRGBA(img), a, color.Transparent)
	w, h := inscribedSize(float64(b.Dx()), float64(b.Dy()), a*math.Pi/180)
	cw := int(math.Floor(w)) - 2*rotationMargin
	ch := int(math.Floor(h)) - 2*rotationMargin
	if cw < 1 {
		cw = 1
	}
	if ch < 1 {
		ch = 1
	}
	return opaque(imaging.CropCenter(rotated, cw, ch))
}

// inscribedSize Width and height of the largest axis-aligned rectangle fitting inside a w x h rectangle
// rotated by angle (radians)
func inscribedSize(w, h, angle float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	widthIsLonger := w >= h
	sideLong, sideShort := w, h
	if !widthIsLonger {
		sideLong, sideShort = h, w
	}
	sinA, cosA := math.Abs(math.Sin(angle)), math.Abs(math.Cos(angle))
	if sideShort <= 2*sinA*cosA*sideLong || math.Abs(sinA-cosA) < 1e-10 {
		// Half constrained: two opposite corners touch the longer side
		x := 0.5 * sideShort
		if widthIsLonger {
			return x / sinA, x / cosA
		}
		return x / cosA, x / sinA
	}
	// Fully constrained: all four corners touch the sides
	cos2a := cosA*cosA - sinA*sinA
	return (w*cosA - h*sinA) / cos2a, (h*cosA - w*sinA) / cos2a
}
