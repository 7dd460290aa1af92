package pix2pix

import (
	"fmt"
	"image"

	"github.com/LdDl/pix2pix-go/border"
	"github.com/LdDl/pix2pix-go/dataset"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// PreprocessSketch Turns a hand-drawn sketch into generator input: edges with production thresholds,
// resize to size x size, black lines on white, three channels.
func PreprocessSketch(img image.Image, size int, params border.CannyParams) (*image.NRGBA, error) {
	edges, err := border.ExtractBorder(img, params)
	if err != nil {
		return nil, errors.Wrap(err, "Can't extract sketch edges")
	}
	sketch := border.ToColor(border.Invert(edges))
	return imaging.Resize(sketch, size, size, imaging.Linear), nil
}

// Predictor Generator restored from a checkpoint, run in inference mode one image at a time.
// Only the generator inference graph is compiled: no discriminator, no gradients.
type Predictor struct {
	cfg   ModelConfig
	step  int
	eval  *generatorGraph
	canny border.CannyParams
}

// NewPredictor Builds predictor from generator parameters of state. Canny parameters are used for raw sketches only.
func NewPredictor(state *ModelState, canny border.CannyParams) (*Predictor, error) {
	if state == nil {
		return nil, fmt.Errorf("model state is nil")
	}
	if err := state.Config.Validate(); err != nil {
		return nil, err
	}
	if state.Generator == nil {
		return nil, fmt.Errorf("model state has no generator parameters")
	}
	eval, err := newGeneratorGraph(state.Config, state.Generator)
	if err != nil {
		return nil, errors.Wrap(err, "Can't restore generator")
	}
	return &Predictor{cfg: state.Config, step: state.Step, eval: eval, canny: canny}, nil
}

// LoadPredictor Reads checkpoint file (or latest checkpoint of a directory) and builds predictor
func LoadPredictor(path string, canny border.CannyParams) (*Predictor, error) {
	state, err := LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	return NewPredictor(state, canny)
}

// Step Training step the restored parameters come from
func (p *Predictor) Step() int {
	return p.step
}

// ImageSize Side of images the generator works with
func (p *Predictor) ImageSize() int {
	return p.cfg.ImageSize
}

// Input Returns generator input for img: raw sketches are preprocessed, prepared ones are only resized
func (p *Predictor) Input(img image.Image, raw bool) (*image.NRGBA, error) {
	if err := border.Validate(img); err != nil {
		return nil, err
	}
	size := p.ImageSize()
	if raw {
		return PreprocessSketch(img, size, p.canny)
	}
	return imaging.Resize(img, size, size, imaging.Linear), nil
}

// Predict Generates photograph for the sketch
func (p *Predictor) Predict(img image.Image, raw bool) (*image.NRGBA, error) {
	x, err := p.tensor(img, raw)
	if err != nil {
		return nil, err
	}
	out, err := p.eval.run(x)
	if err != nil {
		return nil, errors.Wrap(err, "Can't generate image")
	}
	return dataset.TensorToImage(out)
}

// Features Returns decoder activations of the generator for the sketch
func (p *Predictor) Features(img image.Image, raw bool) (map[string]*tensor.Dense, error) {
	x, err := p.tensor(img, raw)
	if err != nil {
		return nil, err
	}
	return p.eval.features(x)
}

func (p *Predictor) tensor(img image.Image, raw bool) (*tensor.Dense, error) {
	input, err := p.Input(img, raw)
	if err != nil {
		return nil, err
	}
	return singleImage(dataset.ImageToTensor(input), p.cfg.ImageSize)
}

// Close Releases compiled graph
func (p *Predictor) Close() error {
	return p.eval.Close()
}
