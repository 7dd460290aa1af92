package pix2pix

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LayerType Kind of spatial operation of a layer
type LayerType uint16

const (
	// LayerConvolutional Plain 2D convolution
	LayerConvolutional = LayerType(iota)
	// LayerUpsampleConvolutional Nearest neighbour x2 upsampling followed by 2D convolution
	LayerUpsampleConvolutional
)

const (
	weightInitStd = 0.02
	normEpsilon   = 1e-3
)

// LayerSpec Static description of a layer. It drives both parameter initialization and graph construction.
//
// Name - prefix of parameter names and name of the output node
// Normalize - per-sample, per-channel normalization with learnable scale and shift
// Bias - additive bias after convolution (redundant when Normalize is set)
// Dropout - drop probability, applied in training mode only
// Activation - applied after normalization and dropout; nil means no activation
//
type LayerSpec struct {
	Name        string
	Type        LayerType
	InChannels  int
	OutChannels int
	KernelSize  int
	Padding     int
	Stride      int
	Normalize   bool
	Bias        bool
	Dropout     float64
	Activation  ActivationFunc
}

func (s LayerSpec) weightShape() tensor.Shape {
	return tensor.Shape{s.OutChannels, s.InChannels, s.KernelSize, s.KernelSize}
}

func (s LayerSpec) channelShape() tensor.Shape {
	return tensor.Shape{1, s.OutChannels, 1, 1}
}

// InitParams Adds layer's parameters to ps: kernel ~ N(0, 0.02^2), bias and shift 0, scale 1
func (s LayerSpec) InitParams(ps *ParamSet, rng *rand.Rand) {
	ps.Set(s.Name+"_w", NormRandDense(rng, weightInitStd, s.weightShape()...))
	if s.Bias {
		ps.Set(s.Name+"_b", ConstDense(0, s.channelShape()...))
	}
	if s.Normalize {
		ps.Set(s.Name+"_gamma", ConstDense(1, s.channelShape()...))
		ps.Set(s.Name+"_beta", ConstDense(0, s.channelShape()...))
	}
}

// Layer LayerSpec bound to parameter nodes of one expression graph
type Layer struct {
	Spec       LayerSpec
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	GammaNode  *gorgonia.Node
	BetaNode   *gorgonia.Node

	suffix string
}

// NewLayer Creates parameter nodes on g bound to tensors of ps. Node names are parameter names plus suffix.
func NewLayer(g *gorgonia.ExprGraph, spec LayerSpec, ps *ParamSet, suffix string) (*Layer, error) {
	if spec.KernelSize <= 0 || spec.Stride <= 0 || spec.InChannels <= 0 || spec.OutChannels <= 0 {
		return nil, fmt.Errorf("layer '%s' has non-positive geometry", spec.Name)
	}
	l := &Layer{Spec: spec, suffix: suffix}
	var err error
	l.WeightNode, err = paramNode(g, ps, spec.Name+"_w", spec.weightShape(), suffix)
	if err != nil {
		return nil, err
	}
	if spec.Bias {
		l.BiasNode, err = paramNode(g, ps, spec.Name+"_b", spec.channelShape(), suffix)
		if err != nil {
			return nil, err
		}
	}
	if spec.Normalize {
		l.GammaNode, err = paramNode(g, ps, spec.Name+"_gamma", spec.channelShape(), suffix)
		if err != nil {
			return nil, err
		}
		l.BetaNode, err = paramNode(g, ps, spec.Name+"_beta", spec.channelShape(), suffix)
		if err != nil {
			return nil, err
		}
	}
	return l, nil
}

func paramNode(g *gorgonia.ExprGraph, ps *ParamSet, name string, shape tensor.Shape, suffix string) (*gorgonia.Node, error) {
	v, err := ps.require(name, shape)
	if err != nil {
		return nil, err
	}
	return gorgonia.NewTensor(g, gorgonia.Float64, shape.Dims(), gorgonia.WithShape(shape...), gorgonia.WithName(name+suffix), gorgonia.WithValue(v)), nil
}

// Learnables Returns learnables nodes
func (l *Layer) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 4)
	for _, n := range []*gorgonia.Node{l.WeightNode, l.BiasNode, l.GammaNode, l.BetaNode} {
		if n != nil {
			learnables = append(learnables, n)
		}
	}
	return learnables
}

// Fwd Initializates feedforward for provided input
//
// input - Input node of shape (N, InChannels, H, W)
// skip - optional node concatenated along channels to the activated output
// training - enables dropout
//
func (l *Layer) Fwd(input, skip *gorgonia.Node, training bool) (*gorgonia.Node, error) {
	var err error
	name := l.Spec.Name + l.suffix
	x := input
	switch l.Spec.Type {
	case LayerConvolutional:
	case LayerUpsampleConvolutional:
		x, err = gorgonia.Upsample2D(x, 2)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't upsample input of layer '%s'", name)
		}
	default:
		return nil, fmt.Errorf("Layer '%s' type '%d' (uint16) is not handled", name, l.Spec.Type)
	}
	k, p, s := l.Spec.KernelSize, l.Spec.Padding, l.Spec.Stride
	x, err = gorgonia.Conv2d(x, l.WeightNode, tensor.Shape{k, k}, []int{p, p}, []int{s, s}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't convolve[2D] input by kernel of layer '%s'", name)
	}
	if l.BiasNode != nil {
		x, err = gorgonia.BroadcastAdd(x, l.BiasNode, nil, []byte{0, 2, 3})
		if err != nil {
			return nil, errors.Wrapf(err, "Can't add bias to output of layer '%s'", name)
		}
	}
	if l.Spec.Normalize {
		x, err = instanceNorm(x, l.GammaNode, l.BetaNode)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't normalize output of layer '%s'", name)
		}
	}
	if training && l.Spec.Dropout > 0 {
		x, err = gorgonia.Dropout(x, l.Spec.Dropout)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't apply dropout to output of layer '%s'", name)
		}
	}
	activation := l.Spec.Activation
	if activation == nil {
		activation = NoActivation
	}
	x, err = activation(x)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't apply activation function to output of layer '%s'", name)
	}
	if skip != nil {
		x, err = gorgonia.Concat(1, x, skip)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't concatenate skip connection to output of layer '%s'", name)
		}
	}
	gorgonia.WithName(name)(x)
	return x, nil
}

// instanceNorm Normalizes every (sample, channel) plane to zero mean and unit variance, then scales and shifts it
func instanceNorm(x, gamma, beta *gorgonia.Node) (*gorgonia.Node, error) {
	shp := x.Shape()
	if len(shp) != 4 {
		return nil, fmt.Errorf("expected 4D input, got %v", shp)
	}
	n, c, plane := shp[0], shp[1], shp[2]*shp[3]
	planeMean := func(a *gorgonia.Node) (*gorgonia.Node, error) {
		flat, err := gorgonia.Reshape(a, tensor.Shape{n, c, plane})
		if err != nil {
			return nil, err
		}
		m, err := gorgonia.Mean(flat, 2)
		if err != nil {
			return nil, err
		}
		return gorgonia.Reshape(m, tensor.Shape{n, c, 1, 1})
	}
	mean, err := planeMean(x)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute mean")
	}
	centered, err := gorgonia.BroadcastSub(x, mean, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x-mean)")
	}
	sqr, err := gorgonia.Square(centered)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	variance, err := planeMean(sqr)
	if err != nil {
		return nil, errors.Wrap(err, "Can't compute variance")
	}
	shifted, err := gorgonia.Add(variance, gorgonia.NewConstant(normEpsilon))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (var+eps)")
	}
	std, err := gorgonia.Sqrt(shifted)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sqrt(x)")
	}
	normed, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x/std)")
	}
	scaled, err := gorgonia.BroadcastHadamardProd(normed, gamma, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x*gamma)")
	}
	return gorgonia.BroadcastAdd(scaled, beta, nil, []byte{0, 2, 3})
}
