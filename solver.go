package pix2pix

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// AdamConfig Hyperparameters of Adam. Defaults are the pix2pix ones: lr 2e-4, beta1 0.5.
type AdamConfig struct {
	LearnRate float64 `yaml:"learnRate"`
	Beta1     float64 `yaml:"beta1"`
	Beta2     float64 `yaml:"beta2"`
	Epsilon   float64 `yaml:"epsilon"`
}

// DefaultAdamConfig lr 2e-4, beta1 0.5, beta2 0.999, epsilon 1e-7
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearnRate: 2e-4,
		Beta1:     0.5,
		Beta2:     0.999,
		Epsilon:   1e-7,
	}
}

// Validate Checks hyperparameters ranges
func (c AdamConfig) Validate() error {
	if c.LearnRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %f", c.LearnRate)
	}
	if c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1 {
		return fmt.Errorf("betas must be in [0, 1), got %f and %f", c.Beta1, c.Beta2)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %f", c.Epsilon)
	}
	return nil
}

// AdamState Moment estimates keyed by parameter name plus number of applied updates
type AdamState struct {
	Updates int
	M       map[string][]float64
	V       map[string][]float64
}

// NewAdamState Empty state: moments are created lazily on first update
func NewAdamState() *AdamState {
	return &AdamState{
		M: make(map[string][]float64),
		V: make(map[string][]float64),
	}
}

// Clone Deep copy
func (s *AdamState) Clone() *AdamState {
	cp := &AdamState{
		Updates: s.Updates,
		M:       make(map[string][]float64, len(s.M)),
		V:       make(map[string][]float64, len(s.V)),
	}
	for k, v := range s.M {
		cp.M[k] = append([]float64(nil), v...)
	}
	for k, v := range s.V {
		cp.V[k] = append([]float64(nil), v...)
	}
	return cp
}

// AdamSolver Adam optimizer updating tensors of a ParamSet.
// It implements gorgonia.Solver: gradients are taken from provided nodes, matched to parameters by node name.
type AdamSolver struct {
	cfg    AdamConfig
	params *ParamSet
	state  *AdamState
}

var _ gorgonia.Solver = (*AdamSolver)(nil)

// NewAdamSolver Creates solver over params. Nil state starts from scratch.
func NewAdamSolver(params *ParamSet, cfg AdamConfig, state *AdamState) (*AdamSolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if state == nil {
		state = NewAdamState()
	}
	if state.M == nil || state.V == nil {
		return nil, fmt.Errorf("optimizer state has no moments")
	}
	return &AdamSolver{cfg: cfg, params: params, state: state}, nil
}

// State Returns reference to optimizer state
func (s *AdamSolver) State() *AdamState {
	return s.state
}

// adamUpdate Parameter and gradient slices resolved for one node
type adamUpdate struct {
	name string
	w    []float64
	g    []float64
}

// Step Applies one update for every provided node and zeroes their gradients.
// Nothing is changed when any node can't be matched to a parameter.
func (s *AdamSolver) Step(model []gorgonia.ValueGrad) error {
	updates, err := s.prepare(model)
	if err != nil {
		return err
	}
	s.apply(updates)
	return nil
}

// prepare Matches every node to its parameter and checks gradient and moments sizes. State is not touched.
func (s *AdamSolver) prepare(model []gorgonia.ValueGrad) ([]adamUpdate, error) {
	updates := make([]adamUpdate, 0, len(model))
	for _, vg := range model {
		named, ok := vg.(interface{ Name() string })
		if !ok {
			return nil, fmt.Errorf("can't match value of type %T to a parameter: it has no name", vg)
		}
		name := named.Name()
		w := s.params.Get(name)
		if w == nil {
			return nil, fmt.Errorf("parameter '%s' is missing", name)
		}
		gv, err := vg.Grad()
		if err != nil {
			return nil, errors.Wrapf(err, "Can't get gradient of '%s'", name)
		}
		g, ok := gv.(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("gradient of '%s' is %T, expected *tensor.Dense", name, gv)
		}
		wd, ok := w.Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("parameter '%s' is not float64", name)
		}
		gd, ok := g.Data().([]float64)
		if !ok || len(gd) != len(wd) {
			return nil, fmt.Errorf("gradient of '%s' doesn't match parameter", name)
		}
		if m, v := s.state.M[name], s.state.V[name]; (m != nil || v != nil) && (len(m) != len(wd) || len(v) != len(wd)) {
			return nil, fmt.Errorf("optimizer moments of '%s' don't match parameter size %d", name, len(wd))
		}
		updates = append(updates, adamUpdate{name: name, w: wd, g: gd})
	}
	return updates, nil
}

// apply Updates parameters and moments, then zeroes consumed gradients: tape machines accumulate into them
func (s *AdamSolver) apply(updates []adamUpdate) {
	s.state.Updates++
	t := float64(s.state.Updates)
	b1, b2 := s.cfg.Beta1, s.cfg.Beta2
	lrT := s.cfg.LearnRate * math.Sqrt(1-math.Pow(b2, t)) / (1 - math.Pow(b1, t))

	for _, u := range updates {
		m, v := s.state.M[u.name], s.state.V[u.name]
		if m == nil {
			m = make([]float64, len(u.w))
			v = make([]float64, len(u.w))
			s.state.M[u.name], s.state.V[u.name] = m, v
		}
		for i, gi := range u.g {
			m[i] = b1*m[i] + (1-b1)*gi
			v[i] = b2*v[i] + (1-b2)*gi*gi
			u.w[i] -= lrT * m[i] / (math.Sqrt(v[i]) + s.cfg.Epsilon)
			u.g[i] = 0
		}
	}
}
