package pix2pix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// namedGrad Stands for a learnable node: value, gradient and name
type namedGrad struct {
	name  string
	value *tensor.Dense
	grad  *tensor.Dense
}

func (n namedGrad) Name() string                  { return n.name }
func (n namedGrad) Value() gorgonia.Value         { return n.value }
func (n namedGrad) Grad() (gorgonia.Value, error) { return n.grad, nil }

// unnamedGrad Value and gradient with no way to match them to a parameter
type unnamedGrad struct {
	value *tensor.Dense
	grad  *tensor.Dense
}

func (u unnamedGrad) Value() gorgonia.Value         { return u.value }
func (u unnamedGrad) Grad() (gorgonia.Value, error) { return u.grad, nil }

func vector(values ...float64) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(values)), tensor.WithBacking(values))
}

func TestAdamStep(t *testing.T) {
	ps := NewParamSet()
	w := vector(1, 2, 3)
	ps.Set("w", w)
	cfg := AdamConfig{LearnRate: 0.1, Beta1: 0.5, Beta2: 0.999, Epsilon: 1e-7}
	solver, err := NewAdamSolver(ps, cfg, nil)
	require.NoError(t, err)

	grad := []float64{0.5, -2, 0}
	consumed := vector(grad...)
	require.NoError(t, solver.Step([]gorgonia.ValueGrad{namedGrad{name: "w", value: w, grad: consumed}}))
	// Gradient is cleared so the next backward pass doesn't add to it
	assert.Equal(t, []float64{0, 0, 0}, consumed.Data())

	// First step moves every weight by about lr against the gradient sign
	lrT := cfg.LearnRate * math.Sqrt(1-cfg.Beta2) / (1 - cfg.Beta1)
	for i, g := range grad {
		m := (1 - cfg.Beta1) * g
		v := (1 - cfg.Beta2) * g * g
		expected := float64(i+1) - lrT*m/(math.Sqrt(v)+cfg.Epsilon)
		assert.InDelta(t, expected, ps.Get("w").Data().([]float64)[i], 1e-12)
	}
	assert.InDelta(t, 0.9, ps.Get("w").Data().([]float64)[0], 1e-5)
	assert.InDelta(t, 2.1, ps.Get("w").Data().([]float64)[1], 1e-5)
	assert.Equal(t, 3.0, ps.Get("w").Data().([]float64)[2])

	state := solver.State()
	assert.Equal(t, 1, state.Updates)
	assert.InDelta(t, 0.25, state.M["w"][0], 1e-12)
	assert.InDelta(t, 0.004, state.V["w"][1], 1e-12)

	require.NoError(t, solver.Step([]gorgonia.ValueGrad{namedGrad{name: "w", value: w, grad: vector(grad...)}}))
	assert.Equal(t, 2, state.Updates)
}

func TestAdamResume(t *testing.T) {
	cfg := DefaultAdamConfig()
	grads := [][]float64{{0.3, -0.1}, {-0.2, 0.4}, {0.05, 0.05}}

	straight := NewParamSet()
	straight.Set("w", vector(1, -1))
	s1, err := NewAdamSolver(straight, cfg, nil)
	require.NoError(t, err)
	for _, g := range grads {
		require.NoError(t, s1.Step([]gorgonia.ValueGrad{namedGrad{name: "w", value: straight.Get("w"), grad: vector(g...)}}))
	}

	resumed := NewParamSet()
	resumed.Set("w", vector(1, -1))
	s2, err := NewAdamSolver(resumed, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s2.Step([]gorgonia.ValueGrad{namedGrad{name: "w", value: resumed.Get("w"), grad: vector(grads[0]...)}}))
	// Continue with cloned parameters and moments
	params := resumed.Clone()
	s3, err := NewAdamSolver(params, cfg, s2.State().Clone())
	require.NoError(t, err)
	for _, g := range grads[1:] {
		require.NoError(t, s3.Step([]gorgonia.ValueGrad{namedGrad{name: "w", value: params.Get("w"), grad: vector(g...)}}))
	}
	assert.Equal(t, straight.Get("w").Data(), params.Get("w").Data())
}

func TestAdamErrors(t *testing.T) {
	ps := NewParamSet()
	ps.Set("w", vector(1, 2))
	solver, err := NewAdamSolver(ps, DefaultAdamConfig(), nil)
	require.NoError(t, err)

	err = solver.Step([]gorgonia.ValueGrad{namedGrad{name: "missing", value: vector(1, 2), grad: vector(1, 1)}})
	assert.Error(t, err)
	err = solver.Step([]gorgonia.ValueGrad{namedGrad{name: "w", value: ps.Get("w"), grad: vector(1, 1, 1)}})
	assert.Error(t, err)
	err = solver.Step([]gorgonia.ValueGrad{unnamedGrad{value: ps.Get("w"), grad: vector(1, 1)}})
	assert.Error(t, err)

	_, err = NewAdamSolver(ps, AdamConfig{LearnRate: 0, Beta1: 0.5, Beta2: 0.9, Epsilon: 1e-7}, nil)
	assert.Error(t, err)
	_, err = NewAdamSolver(ps, DefaultAdamConfig(), &AdamState{})
	assert.Error(t, err)
}

func TestAdamStepAllOrNothing(t *testing.T) {
	ps := NewParamSet()
	ps.Set("w", vector(1, 2))
	ps.Set("b", vector(3))
	solver, err := NewAdamSolver(ps, DefaultAdamConfig(), nil)
	require.NoError(t, err)

	grad := vector(0.5, 0.5)
	err = solver.Step([]gorgonia.ValueGrad{
		namedGrad{name: "w", value: ps.Get("w"), grad: grad},
		namedGrad{name: "b", value: ps.Get("b"), grad: vector(1, 1)},
	})
	require.Error(t, err)
	assert.Equal(t, []float64{1, 2}, ps.Get("w").Data())
	assert.Equal(t, []float64{0.5, 0.5}, grad.Data())
	assert.Equal(t, 0, solver.State().Updates)
	assert.Empty(t, solver.State().M)

	state := NewAdamState()
	state.M["w"], state.V["w"] = []float64{0}, []float64{0}
	solver, err = NewAdamSolver(ps, DefaultAdamConfig(), state)
	require.NoError(t, err)
	require.Error(t, solver.Step([]gorgonia.ValueGrad{namedGrad{name: "w", value: ps.Get("w"), grad: grad}}))
	assert.Equal(t, 0, state.Updates)
	assert.Equal(t, []float64{1, 2}, ps.Get("w").Data())
}
