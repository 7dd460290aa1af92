package border

import (
	"image"
	"math"
)

var (
	tan22 = math.Tan(22.5 * math.Pi / 180)
	tan67 = math.Tan(67.5 * math.Pi / 180)
)

// canny Classic Canny detector: 3x3 Sobel aperture, L1 magnitude, non-maximum suppression along
// 4 quantized directions and hysteresis with 8-connectivity.
//
// low, high - magnitudes for weak and strong edges (low <= high)
//
func canny(gray *image.Gray, low, high float64) *image.Gray {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}

	at := func(x, y int) float64 {
		// Replicated border
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return float64(gray.Pix[y*gray.Stride+x])
	}

	gx := make([]float64, w*h)
	gy := make([]float64, w*h)
	mag := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)) - (at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1))
			dy := (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)) - (at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1))
			i := y*w + x
			gx[i], gy[i] = dx, dy
			mag[i] = math.Abs(dx) + math.Abs(dy)
		}
	}

	magAt := func(x, y int) float64 {
		if x < 0 || x >= w || y < 0 || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		notEdge = iota
		weakEdge
		strongEdge
	)
	state := make([]uint8, w*h)
	stack := make([]int, 0, w+h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(gx[i]), math.Abs(gy[i])
			var a, b float64
			switch {
			case ay < ax*tan22:
				a, b = magAt(x-1, y), magAt(x+1, y)
			case ay > ax*tan67:
				a, b = magAt(x, y-1), magAt(x, y+1)
			case gx[i]*gy[i] < 0:
				a, b = magAt(x-1, y+1), magAt(x+1, y-1)
			default:
				a, b = magAt(x-1, y-1), magAt(x+1, y+1)
			}
			if !(m > a && m >= b) {
				continue
			}
			if m > high {
				state[i] = strongEdge
				stack = append(stack, i)
			} else {
				state[i] = weakEdge
			}
		}
	}

	// Hysteresis: grow strong edges through connected weak ones
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out.Pix[(i/w)*out.Stride+i%w] = 255
		x, y := i%w, i/w
		for ny := y - 1; ny <= y+1; ny++ {
			for nx := x - 1; nx <= x+1; nx++ {
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == weakEdge {
					state[j] = strongEdge
					stack = append(stack, j)
				}
			}
		}
	}
	return out
}
