package pix2pix

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

// ParamSet Named learnable tensors of one network.
//
// Tensors are owned by the set: expression graphs bind their weight nodes to them directly,
// so solver updates made through any graph are seen by every other graph of the same model.
//
type ParamSet struct {
	names  []string
	values map[string]*tensor.Dense
}

// NewParamSet Creates empty set
func NewParamSet() *ParamSet {
	return &ParamSet{values: make(map[string]*tensor.Dense)}
}

// Names Returns parameter names in insertion order
func (ps *ParamSet) Names() []string {
	return ps.names
}

// Len Number of tensors
func (ps *ParamSet) Len() int {
	return len(ps.names)
}

// Get Returns tensor by name or nil
func (ps *ParamSet) Get(name string) *tensor.Dense {
	return ps.values[name]
}

// Set Adds or replaces tensor. Replacing keeps the original position.
func (ps *ParamSet) Set(name string, value *tensor.Dense) {
	if _, ok := ps.values[name]; !ok {
		ps.names = append(ps.names, name)
	}
	ps.values[name] = value
}

// NumElements Total number of scalars over all tensors
func (ps *ParamSet) NumElements() int {
	total := 0
	for _, name := range ps.names {
		total += ps.values[name].Shape().TotalSize()
	}
	return total
}

// Clone Deep copy
func (ps *ParamSet) Clone() *ParamSet {
	cp := NewParamSet()
	for _, name := range ps.names {
		cp.Set(name, ps.values[name].Clone().(*tensor.Dense))
	}
	return cp
}

// require Returns tensor checking its shape
func (ps *ParamSet) require(name string, shape tensor.Shape) (*tensor.Dense, error) {
	v, ok := ps.values[name]
	if !ok {
		return nil, fmt.Errorf("parameter '%s' is missing", name)
	}
	if !v.Shape().Eq(shape) {
		return nil, fmt.Errorf("parameter '%s' has shape %v, expected %v", name, v.Shape(), shape)
	}
	return v, nil
}

// NormRandDense Return reference to tensor.Dense filled with normally distributed values N(0, std^2)
func NormRandDense(rng *rand.Rand, std float64, shape ...int) *tensor.Dense {
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// ConstDense Return reference to tensor.Dense filled with v
func ConstDense(v float64, shape ...int) *tensor.Dense {
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = v
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}
