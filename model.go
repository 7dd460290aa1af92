package pix2pix

import (
	"fmt"
	"math/rand"

	"github.com/LdDl/pix2pix-go/dataset"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Losses Scalar losses of one training step
//
// GenTotal - GenGAN + lambda*GenL1, the value the generator minimizes
// GenGAN - adversarial part of generator loss
// GenL1 - mean absolute error between generated and target photographs
// Disc - discriminator loss, 0.5*(real + fake)
//
type Losses struct {
	GenTotal float64
	GenGAN   float64
	GenL1    float64
	Disc     float64
}

// Engine Trainable image-to-image model as seen by the Trainer
type Engine interface {
	// TrainStep Runs one simultaneous update of generator and discriminator
	TrainStep(batch *dataset.Batch) (Losses, error)
	// Generate Runs generator in inference mode on (3, H, W) or (1, 3, H, W) input
	Generate(input *tensor.Dense) (*tensor.Dense, error)
	// Step Number of completed training steps
	Step() int
	// State Returns snapshot of everything needed to resume training
	State() *ModelState
}

// Model pix2pix generator and discriminator with their optimizers and compiled graphs.
// It is not safe for concurrent use.
type Model struct {
	cfg       ModelConfig
	batchSize int
	step      int

	genParams  *ParamSet
	discParams *ParamSet
	genSolver  *AdamSolver
	discSolver *AdamSolver

	gan    *GAN
	disc   *discriminatorGraph
	eval   *generatorGraph
	scorer *scorerGraph
}

var _ Engine = (*Model)(nil)

// NewModel Creates model with freshly initialized parameters. Training graphs are compiled for batchSize.
func NewModel(cfg ModelConfig, batchSize int) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	state := &ModelState{
		Config:        cfg,
		Generator:     cfg.Generator.InitParams(rng),
		Discriminator: cfg.Discriminator.InitParams(rng),
	}
	return NewModelFromState(state, batchSize)
}

// NewModelFromState Creates model continuing from state. State is used by reference.
func NewModelFromState(state *ModelState, batchSize int) (*Model, error) {
	if state == nil {
		return nil, fmt.Errorf("model state is nil")
	}
	cfg := state.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	m := &Model{
		cfg:        cfg,
		batchSize:  batchSize,
		step:       state.Step,
		genParams:  state.Generator,
		discParams: state.Discriminator,
	}
	var err error
	if m.genSolver, err = NewAdamSolver(m.genParams, cfg.Optimizer, state.GeneratorOptimizer); err != nil {
		return nil, errors.Wrap(err, "Can't create generator optimizer")
	}
	if m.discSolver, err = NewAdamSolver(m.discParams, cfg.Optimizer, state.DiscriminatorOptimizer); err != nil {
		return nil, errors.Wrap(err, "Can't create discriminator optimizer")
	}
	if m.gan, err = NewGAN(cfg, batchSize, m.genParams, m.discParams); err != nil {
		return nil, errors.Wrap(err, "Can't build generator training graph")
	}
	if m.disc, err = newDiscriminatorGraph(cfg, batchSize, m.discParams); err != nil {
		m.Close()
		return nil, errors.Wrap(err, "Can't build discriminator training graph")
	}
	if m.eval, err = newGeneratorGraph(cfg, m.genParams); err != nil {
		m.Close()
		return nil, errors.Wrap(err, "Can't build generator inference graph")
	}
	if m.scorer, err = newScorerGraph(cfg, m.discParams); err != nil {
		m.Close()
		return nil, errors.Wrap(err, "Can't build discriminator inference graph")
	}
	return m, nil
}

// Config Returns model configuration
func (m *Model) Config() ModelConfig {
	return m.cfg
}

// BatchSize Returns batch size training graphs are compiled for
func (m *Model) BatchSize() int {
	return m.batchSize
}

// Step Number of completed training steps
func (m *Model) Step() int {
	return m.step
}

// checkBatch Validates batch against compiled shape
func (m *Model) checkBatch(batch *dataset.Batch) error {
	expected := tensor.Shape{m.batchSize, ImageChannels, m.cfg.ImageSize, m.cfg.ImageSize}
	if batch == nil || batch.Input == nil || batch.Target == nil {
		return &BatchShapeError{Reason: "batch has nil tensor", Expected: expected}
	}
	if !batch.Input.Shape().Eq(batch.Target.Shape()) {
		return &BatchShapeError{Reason: "input and target shapes differ", Expected: batch.Input.Shape().Clone(), Got: batch.Target.Shape().Clone()}
	}
	if !batch.Input.Shape().Eq(expected) {
		return &BatchShapeError{Reason: "unexpected batch shape", Expected: expected, Got: batch.Input.Shape().Clone()}
	}
	return nil
}

// TrainStep Computes both losses and gradients against the current parameters, then updates generator
// and discriminator. The discriminator judges the generator output of the same step.
// On error neither network nor optimizer state is changed.
func (m *Model) TrainStep(batch *dataset.Batch) (Losses, error) {
	if err := m.checkBatch(batch); err != nil {
		return Losses{}, err
	}
	defer m.gan.reset()
	defer m.disc.reset()

	applied := false
	defer func() {
		if !applied {
			zeroGrads(m.gan.GeneratorLearnables())
			zeroGrads(m.disc.learnables())
		}
	}()

	fake, losses, err := m.gan.run(batch.Input, batch.Target)
	if err != nil {
		return Losses{}, errors.Wrapf(err, "Can't do generator pass at step %d", m.step)
	}
	if losses.Disc, err = m.disc.run(batch.Input, batch.Target, fake); err != nil {
		return Losses{}, errors.Wrapf(err, "Can't do discriminator pass at step %d", m.step)
	}
	genUpdates, err := m.genSolver.prepare(gorgonia.NodesToValueGrads(m.gan.GeneratorLearnables()))
	if err != nil {
		return Losses{}, errors.Wrap(err, "Can't update generator")
	}
	discUpdates, err := m.discSolver.prepare(gorgonia.NodesToValueGrads(m.disc.learnables()))
	if err != nil {
		return Losses{}, errors.Wrap(err, "Can't update discriminator")
	}
	m.genSolver.apply(genUpdates)
	m.discSolver.apply(discUpdates)
	applied = true
	m.step++
	return losses, nil
}

// Generate Runs generator in inference mode (no dropout). Result has shape (1, 3, H, W).
func (m *Model) Generate(input *tensor.Dense) (*tensor.Dense, error) {
	x, err := m.single(input)
	if err != nil {
		return nil, err
	}
	return m.eval.run(x)
}

// ExtractFeatures Runs generator in inference mode and returns activations of its decoder stages
// (see GeneratorConfig.ExtractionPoints) keyed by node name, e.g. "generator_decoder_0".
func (m *Model) ExtractFeatures(input *tensor.Dense) (map[string]*tensor.Dense, error) {
	x, err := m.single(input)
	if err != nil {
		return nil, err
	}
	return m.eval.features(x)
}

// Discriminate Returns (1, 1, G, G) grid of probabilities that candidate is the real photograph for sketch
func (m *Model) Discriminate(sketch, candidate *tensor.Dense) (*tensor.Dense, error) {
	s, err := m.single(sketch)
	if err != nil {
		return nil, err
	}
	c, err := m.single(candidate)
	if err != nil {
		return nil, err
	}
	return m.scorer.run(s, c)
}

// single Reshapes (3, H, W) into (1, 3, H, W) view and checks it against image size
func (m *Model) single(t *tensor.Dense) (*tensor.Dense, error) {
	return singleImage(t, m.cfg.ImageSize)
}

func singleImage(t *tensor.Dense, imageSize int) (*tensor.Dense, error) {
	expected := tensor.Shape{1, ImageChannels, imageSize, imageSize}
	if t == nil {
		return nil, &BatchShapeError{Reason: "tensor is nil", Expected: expected}
	}
	shp := t.Shape()
	if len(shp) == 3 {
		shp = append(tensor.Shape{1}, shp...)
	}
	if !shp.Eq(expected) {
		return nil, &BatchShapeError{Reason: "unexpected image shape", Expected: expected, Got: t.Shape().Clone()}
	}
	data, ok := t.Materialize().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("expected float64 tensor, got %v", t.Dtype())
	}
	return tensor.New(tensor.WithShape(expected...), tensor.WithBacking(data)), nil
}

// State Returns deep copy of parameters and optimizer moments
func (m *Model) State() *ModelState {
	return &ModelState{
		Step:                   m.step,
		Config:                 m.cfg,
		Generator:              m.genParams.Clone(),
		Discriminator:          m.discParams.Clone(),
		GeneratorOptimizer:     m.genSolver.State().Clone(),
		DiscriminatorOptimizer: m.discSolver.State().Clone(),
	}
}

// Close Releases compiled graphs
func (m *Model) Close() error {
	var firstErr error
	closers := []interface{ Close() error }{}
	if m.gan != nil {
		closers = append(closers, m.gan)
	}
	if m.disc != nil {
		closers = append(closers, m.disc)
	}
	if m.eval != nil {
		closers = append(closers, m.eval)
	}
	if m.scorer != nil {
		closers = append(closers, m.scorer)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
