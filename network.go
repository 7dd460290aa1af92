package pix2pix

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Network Abstraction for sequential neural network.
//
// Layers - simple sequence of layers
// out - alias to activated output of last layer
//
type Network struct {
	Name   string
	Layers []*Layer
	out    *gorgonia.Node
}

// NewNetwork Binds layers described by specs on graph g
func NewNetwork(g *gorgonia.ExprGraph, name string, specs []LayerSpec, ps *ParamSet, suffix string) (*Network, error) {
	net := &Network{Name: name, Layers: make([]*Layer, len(specs))}
	for i, spec := range specs {
		l, err := NewLayer(g, spec, ps, suffix)
		if err != nil {
			return nil, errors.Wrapf(err, "[%s] Can't create layer #%d", name, i)
		}
		net.Layers[i] = l
	}
	return net, nil
}

// Out Returns reference to output node
func (net *Network) Out() *gorgonia.Node {
	return net.out
}

// Learnables Returns learnables nodes
func (net *Network) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 4*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			learnables = append(learnables, l.Learnables()...)
		}
	}
	return learnables
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// training - enables dropout of layers which have one
//
func (net *Network) Fwd(input *gorgonia.Node, training bool) error {
	networkName := "network"
	if net.Name != "" {
		networkName = net.Name
	}
	if len(net.Layers) == 0 {
		return fmt.Errorf("Network '%s' must have one layer atleast", networkName)
	}
	last := input
	for i, l := range net.Layers {
		if l == nil {
			return fmt.Errorf("Network's '%s' layer #%d is nil", networkName, i)
		}
		out, err := l.Fwd(last, nil, training)
		if err != nil {
			return errors.Wrapf(err, "[%s, Layer #%d] Can't feedforward input", networkName, i)
		}
		last = out
	}
	net.out = last
	return nil
}
