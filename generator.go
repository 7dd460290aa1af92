package pix2pix

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// ImageChannels Colour channels of sketches and photographs
const ImageChannels = 3

// GeneratorConfig U-Net geometry
//
// Depth - number of downsampling stages; image side must be divisible by 2^Depth
// BaseFilters, MaxFilters - stage i has min(BaseFilters*2^i, MaxFilters) filters
// DropoutRate, DropoutStages - dropout of the first DropoutStages decoder stages (training only)
//
type GeneratorConfig struct {
	Depth         int     `yaml:"depth"`
	BaseFilters   int     `yaml:"baseFilters"`
	MaxFilters    int     `yaml:"maxFilters"`
	DropoutRate   float64 `yaml:"dropoutRate"`
	DropoutStages int     `yaml:"dropoutStages"`
}

// DefaultGeneratorConfig pix2pix U-Net for 256x256 images: 8 stages, 64..512 filters
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Depth:         8,
		BaseFilters:   64,
		MaxFilters:    512,
		DropoutRate:   0.5,
		DropoutStages: 3,
	}
}

// Validate Checks geometry against the working image size
func (c GeneratorConfig) Validate(imageSize int) error {
	if c.Depth < 2 {
		return fmt.Errorf("generator depth must be at least 2, got %d", c.Depth)
	}
	if c.BaseFilters <= 0 || c.MaxFilters < c.BaseFilters {
		return fmt.Errorf("generator filters must satisfy 0 < base (%d) <= max (%d)", c.BaseFilters, c.MaxFilters)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("generator dropout rate must be in [0, 1), got %f", c.DropoutRate)
	}
	if imageSize <= 0 || imageSize%(1<<c.Depth) != 0 {
		return fmt.Errorf("image size %d is not divisible by 2^%d", imageSize, c.Depth)
	}
	return nil
}

func (c GeneratorConfig) filters(stage int) int {
	f := c.BaseFilters << stage
	if f > c.MaxFilters || f <= 0 {
		return c.MaxFilters
	}
	return f
}

// Specs Returns encoder, decoder and output layer descriptions
func (c GeneratorConfig) Specs() (encoder, decoder []LayerSpec, output LayerSpec) {
	encoder = make([]LayerSpec, c.Depth)
	in := ImageChannels
	for i := range encoder {
		encoder[i] = LayerSpec{
			Name:        fmt.Sprintf("generator_encoder_%d", i),
			Type:        LayerConvolutional,
			InChannels:  in,
			OutChannels: c.filters(i),
			KernelSize:  4,
			Padding:     1,
			Stride:      2,
			Activation:  LeakyRelu(0.2),
		}
		// Outermost stage sees raw pixels. Innermost one is 1x1 at full depth, where instance
		// normalization would map every activation to zero: it keeps bias instead.
		if i == 0 || i == c.Depth-1 {
			encoder[i].Bias = true
		} else {
			encoder[i].Normalize = true
		}
		in = c.filters(i)
	}
	decoder = make([]LayerSpec, c.Depth-1)
	for j := range decoder {
		out := c.filters(c.Depth - 2 - j)
		decoder[j] = LayerSpec{
			Name:        fmt.Sprintf("generator_decoder_%d", j),
			Type:        LayerUpsampleConvolutional,
			InChannels:  in,
			OutChannels: out,
			KernelSize:  3,
			Padding:     1,
			Stride:      1,
			Normalize:   true,
			Activation:  Rectify,
		}
		if j < c.DropoutStages {
			decoder[j].Dropout = c.DropoutRate
		}
		// Skip connection doubles the channels
		in = 2 * out
	}
	output = LayerSpec{
		Name:        "generator_output",
		Type:        LayerUpsampleConvolutional,
		InChannels:  in,
		OutChannels: ImageChannels,
		KernelSize:  3,
		Padding:     1,
		Stride:      1,
		Bias:        true,
		Activation:  Tanh,
	}
	return encoder, decoder, output
}

// ExtractionPoints Returns names of decoder stage outputs available for feature extraction, innermost first
func (c GeneratorConfig) ExtractionPoints() []string {
	_, decoder, _ := c.Specs()
	names := make([]string, len(decoder))
	for j, s := range decoder {
		names[j] = s.Name
	}
	return names
}

// InitParams Returns freshly initialized generator parameters
func (c GeneratorConfig) InitParams(rng *rand.Rand) *ParamSet {
	ps := NewParamSet()
	encoder, decoder, output := c.Specs()
	for _, s := range encoder {
		s.InitParams(ps, rng)
	}
	for _, s := range decoder {
		s.InitParams(ps, rng)
	}
	output.InitParams(ps, rng)
	return ps
}

// GeneratorNet U-Net generator: encoder stages with skip connections into mirrored decoder stages.
//
// encoder - downsampling stages
// decoder - upsampling stages; output of stage j is concatenated with encoder stage Depth-2-j
// output - final upsampling to image channels with tanh
// out - alias to output node
//
type GeneratorNet struct {
	encoder []*Layer
	decoder []*Layer
	output  *Layer
	out     *gorgonia.Node
	names   []string
	points  gorgonia.Nodes
}

// NewGenerator Binds generator layers on graph g
func NewGenerator(g *gorgonia.ExprGraph, cfg GeneratorConfig, ps *ParamSet) (*GeneratorNet, error) {
	encoderSpecs, decoderSpecs, outputSpec := cfg.Specs()
	net := &GeneratorNet{
		encoder: make([]*Layer, len(encoderSpecs)),
		decoder: make([]*Layer, len(decoderSpecs)),
		names:   cfg.ExtractionPoints(),
	}
	var err error
	for i, s := range encoderSpecs {
		if net.encoder[i], err = NewLayer(g, s, ps, ""); err != nil {
			return nil, errors.Wrap(err, "[Generator]")
		}
	}
	for j, s := range decoderSpecs {
		if net.decoder[j], err = NewLayer(g, s, ps, ""); err != nil {
			return nil, errors.Wrap(err, "[Generator]")
		}
	}
	if net.output, err = NewLayer(g, outputSpec, ps, ""); err != nil {
		return nil, errors.Wrap(err, "[Generator]")
	}
	return net, nil
}

// Out Returns reference to output node
func (net *GeneratorNet) Out() *gorgonia.Node {
	return net.out
}

// ExtractionPointNames Returns names of extraction points, known right after NewGenerator
func (net *GeneratorNet) ExtractionPointNames() []string {
	return net.names
}

// ExtractionPoints Returns output nodes of decoder stages, innermost first. Node names are ExtractionPointNames.
// Nodes exist once Fwd has been called.
func (net *GeneratorNet) ExtractionPoints() gorgonia.Nodes {
	return net.points
}

// Learnables Returns learnables nodes
func (net *GeneratorNet) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0)
	for _, l := range net.encoder {
		learnables = append(learnables, l.Learnables()...)
	}
	for _, l := range net.decoder {
		learnables = append(learnables, l.Learnables()...)
	}
	return append(learnables, net.output.Learnables()...)
}

// Fwd Initializates feedforward for provided input
//
// input - sketch node of shape (N, 3, H, W)
// training - enables dropout of the innermost decoder stages
//
func (net *GeneratorNet) Fwd(input *gorgonia.Node, training bool) error {
	skips := make([]*gorgonia.Node, len(net.encoder))
	last := input
	for i, l := range net.encoder {
		out, err := l.Fwd(last, nil, training)
		if err != nil {
			return errors.Wrapf(err, "[Generator, encoder #%d] Can't feedforward input", i)
		}
		skips[i] = out
		last = out
	}
	depth := len(net.encoder)
	net.points = make(gorgonia.Nodes, len(net.decoder))
	for j, l := range net.decoder {
		out, err := l.Fwd(last, skips[depth-2-j], training)
		if err != nil {
			return errors.Wrapf(err, "[Generator, decoder #%d] Can't feedforward input", j)
		}
		net.points[j] = out
		last = out
	}
	out, err := net.output.Fwd(last, nil, training)
	if err != nil {
		return errors.Wrap(err, "[Generator, output] Can't feedforward input")
	}
	net.out = out
	return nil
}
