package pix2pix

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// DiscriminatorConfig PatchGAN geometry
//
// Depth - number of stride-2 stages; score grid side is imageSize/2^Depth
// BaseFilters, MaxFilters - stage i has min(BaseFilters*2^i, MaxFilters) filters
//
type DiscriminatorConfig struct {
	Depth       int `yaml:"depth"`
	BaseFilters int `yaml:"baseFilters"`
	MaxFilters  int `yaml:"maxFilters"`
}

// DefaultDiscriminatorConfig 64 -> 128 -> 256 -> 512, 16x16 grid for 256x256 images
func DefaultDiscriminatorConfig() DiscriminatorConfig {
	return DiscriminatorConfig{
		Depth:       4,
		BaseFilters: 64,
		MaxFilters:  512,
	}
}

// Validate Checks geometry against the working image size
func (c DiscriminatorConfig) Validate(imageSize int) error {
	if c.Depth < 1 {
		return fmt.Errorf("discriminator depth must be at least 1, got %d", c.Depth)
	}
	if c.BaseFilters <= 0 || c.MaxFilters < c.BaseFilters {
		return fmt.Errorf("discriminator filters must satisfy 0 < base (%d) <= max (%d)", c.BaseFilters, c.MaxFilters)
	}
	if imageSize <= 0 || imageSize%(1<<c.Depth) != 0 {
		return fmt.Errorf("image size %d is not divisible by 2^%d", imageSize, c.Depth)
	}
	return nil
}

// GridSize Side of the score grid for imageSize x imageSize input
func (c DiscriminatorConfig) GridSize(imageSize int) int {
	return imageSize >> c.Depth
}

func (c DiscriminatorConfig) filters(stage int) int {
	f := c.BaseFilters << stage
	if f > c.MaxFilters || f <= 0 {
		return c.MaxFilters
	}
	return f
}

// Specs Returns layer descriptions: stride-2 stages, one stride-1 stage at max width, 1-channel scoring stage
func (c DiscriminatorConfig) Specs() []LayerSpec {
	specs := make([]LayerSpec, 0, c.Depth+2)
	in := 2 * ImageChannels
	for i := 0; i < c.Depth; i++ {
		specs = append(specs, LayerSpec{
			Name:        fmt.Sprintf("discriminator_%d", i),
			Type:        LayerConvolutional,
			InChannels:  in,
			OutChannels: c.filters(i),
			KernelSize:  4,
			Padding:     1,
			Stride:      2,
			Normalize:   i > 0,
			Bias:        i == 0,
			Activation:  LeakyRelu(0.2),
		})
		in = c.filters(i)
	}
	specs = append(specs, LayerSpec{
		Name:        fmt.Sprintf("discriminator_%d", c.Depth),
		Type:        LayerConvolutional,
		InChannels:  in,
		OutChannels: c.MaxFilters,
		KernelSize:  3,
		Padding:     1,
		Stride:      1,
		Normalize:   true,
		Activation:  LeakyRelu(0.2),
	}, LayerSpec{
		Name:        "discriminator_score",
		Type:        LayerConvolutional,
		InChannels:  c.MaxFilters,
		OutChannels: 1,
		KernelSize:  3,
		Padding:     1,
		Stride:      1,
		Bias:        true,
		Activation:  Sigmoid,
	})
	return specs
}

// InitParams Returns freshly initialized discriminator parameters
func (c DiscriminatorConfig) InitParams(rng *rand.Rand) *ParamSet {
	ps := NewParamSet()
	for _, s := range c.Specs() {
		s.InitParams(ps, rng)
	}
	return ps
}

// DiscriminatorNet Abstraction for discriminator part of GAN. It's simple neural network actually.
//
// Input is (sketch, candidate) concatenated along channels; output is a grid of probabilities
// that the corresponding patch of the candidate is a real photograph.
//
type DiscriminatorNet struct {
	private *Network
}

// NewDiscriminator Binds discriminator layers on graph g. Suffix is appended to every node name.
func NewDiscriminator(g *gorgonia.ExprGraph, cfg DiscriminatorConfig, ps *ParamSet, suffix string) (*DiscriminatorNet, error) {
	net, err := NewNetwork(g, "discriminator"+suffix, cfg.Specs(), ps, suffix)
	if err != nil {
		return nil, errors.Wrap(err, "[Discriminator]")
	}
	return &DiscriminatorNet{private: net}, nil
}

// Out Returns reference to output node
func (net *DiscriminatorNet) Out() *gorgonia.Node {
	return net.private.out
}

// Learnables Returns learnables nodes
func (net *DiscriminatorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Fwd Initializates feedforward for provided input
//
// sketch - node of shape (N, 3, H, W)
// candidate - node of shape (N, 3, H, W), real or generated photograph
//
func (net *DiscriminatorNet) Fwd(sketch, candidate *gorgonia.Node) error {
	input, err := gorgonia.Concat(1, sketch, candidate)
	if err != nil {
		return errors.Wrap(err, "[Discriminator] Can't concatenate sketch and candidate")
	}
	if err := net.private.Fwd(input, false); err != nil {
		return errors.Wrap(err, "[Discriminator]")
	}
	return nil
}
