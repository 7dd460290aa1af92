package pix2pix

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// LossHistory Per-step losses of a training run
type LossHistory struct {
	Steps    []float64
	GenTotal []float64
	GenGAN   []float64
	GenL1    []float64
	Disc     []float64
}

// Add Appends losses of one step
func (h *LossHistory) Add(step int, l Losses) {
	h.Steps = append(h.Steps, float64(step))
	h.GenTotal = append(h.GenTotal, l.GenTotal)
	h.GenGAN = append(h.GenGAN, l.GenGAN)
	h.GenL1 = append(h.GenL1, l.GenL1)
	h.Disc = append(h.Disc, l.Disc)
}

// Len Number of recorded steps
func (h *LossHistory) Len() int {
	return len(h.Steps)
}

// WindowMean Means of the last n recorded steps (all of them when fewer are recorded)
func (h *LossHistory) WindowMean(n int) Losses {
	if h.Len() == 0 {
		return Losses{}
	}
	start := h.Len() - n
	if start < 0 || n <= 0 {
		start = 0
	}
	return Losses{
		GenTotal: stat.Mean(h.GenTotal[start:], nil),
		GenGAN:   stat.Mean(h.GenGAN[start:], nil),
		GenL1:    stat.Mean(h.GenL1[start:], nil),
		Disc:     stat.Mean(h.Disc[start:], nil),
	}
}

// PlotLosses Plot chart of every loss against training step
func PlotLosses(h *LossHistory, fname string) error {
	if h.Len() == 0 {
		return fmt.Errorf("loss history is empty")
	}
	p := plot.New()
	p.Title.Text = "Losses"
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())
	series := []struct {
		name   string
		values []float64
		color  color.RGBA
	}{
		{"gen_total", h.GenTotal, color.RGBA{R: 255, B: 128, A: 255}},
		{"gen_gan", h.GenGAN, color.RGBA{G: 160, A: 255}},
		{"gen_l1", h.GenL1, color.RGBA{B: 255, A: 255}},
		{"disc", h.Disc, color.RGBA{R: 200, G: 120, A: 255}},
	}
	for _, s := range series {
		xys := make(plotter.XYs, len(s.values))
		for i := range s.values {
			xys[i].X = h.Steps[i]
			xys[i].Y = s.values[i]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "Can't init line for '%s'", s.name)
		}
		line.Color = s.color
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	// Save the plot to a PNG file.
	if err := p.Save(8*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
