package pix2pix

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// boundParam Weight node together with the ParamSet tensor it must see on every run
type boundParam struct {
	node  *gorgonia.Node
	value *tensor.Dense
}

func bindParams(nodes gorgonia.Nodes, ps *ParamSet, suffix string) ([]boundParam, error) {
	bound := make([]boundParam, len(nodes))
	for i, n := range nodes {
		name := n.Name()[:len(n.Name())-len(suffix)]
		v := ps.Get(name)
		if v == nil {
			return nil, fmt.Errorf("node '%s' has no parameter '%s'", n.Name(), name)
		}
		bound[i] = boundParam{node: n, value: v}
	}
	return bound, nil
}

// letParams Rebinds weight nodes to their parameters before a run
func letParams(bound []boundParam) error {
	for _, b := range bound {
		if err := gorgonia.Let(b.node, b.value); err != nil {
			return errors.Wrapf(err, "Can't bind parameter '%s'", b.node.Name())
		}
	}
	return nil
}

// zeroGrads Clears gradients bound to nodes. Nodes without gradient are skipped.
func zeroGrads(nodes gorgonia.Nodes) {
	for _, n := range nodes {
		gv, err := n.Grad()
		if err != nil {
			continue
		}
		if z, ok := gv.(interface{ Zero() }); ok {
			z.Zero()
		}
	}
}

// GAN Generator training graph.
//
// generatorPart - generator in training mode (dropout on)
// modifiedDiscriminator - copy of structure of Discriminator which learnables would be ignored during the training process.
// Its weight nodes are bound to discriminator parameters, so it always judges with the current discriminator.
//
type GAN struct {
	graph                 *gorgonia.ExprGraph
	generatorPart         *GeneratorNet
	modifiedDiscriminator *DiscriminatorNet

	sketch *gorgonia.Node
	target *gorgonia.Node

	lossGAN   *gorgonia.Node
	lossL1    *gorgonia.Node
	lossTotal *gorgonia.Node

	learnablesGen gorgonia.Nodes
	params        []boundParam

	fakeVal      gorgonia.Value
	lossGANVal   gorgonia.Value
	lossL1Val    gorgonia.Value
	lossTotalVal gorgonia.Value

	vm gorgonia.VM
}

// NewGAN Builds generator training graph for batches of batchSize
//
// Loss = BCE(D(x, G(x)), 1) + l1Lambda * mean|G(x) - y|, gradients w.r.t. generator learnables only
//
func NewGAN(cfg ModelConfig, batchSize int, genParams, discParams *ParamSet) (*GAN, error) {
	g := gorgonia.NewGraph()
	imgShape := []int{batchSize, ImageChannels, cfg.ImageSize, cfg.ImageSize}
	gan := &GAN{
		graph:  g,
		sketch: gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(imgShape...), gorgonia.WithName("generator_input")),
		target: gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(imgShape...), gorgonia.WithName("generator_target")),
	}
	var err error
	gan.generatorPart, err = NewGenerator(g, cfg.Generator, genParams)
	if err != nil {
		return nil, err
	}
	if err = gan.generatorPart.Fwd(gan.sketch, true); err != nil {
		return nil, err
	}
	gan.modifiedDiscriminator, err = NewDiscriminator(g, cfg.Discriminator, discParams, "_gan")
	if err != nil {
		return nil, err
	}
	if err = gan.modifiedDiscriminator.Fwd(gan.sketch, gan.generatorPart.Out()); err != nil {
		return nil, err
	}

	scores := gan.modifiedDiscriminator.Out()
	labels := gorgonia.NewTensor(g, gorgonia.Float64, scores.Dims(), gorgonia.WithShape(scores.Shape()...), gorgonia.WithName("gan_discriminator_target"), gorgonia.WithValue(ConstDense(1, scores.Shape()...)))
	if gan.lossGAN, err = BinaryCrossEntropyLoss(scores, labels); err != nil {
		return nil, errors.Wrap(err, "Can't define adversarial loss")
	}
	gorgonia.WithName("gan_discriminator_loss")(gan.lossGAN)
	if gan.lossL1, err = L1Loss(gan.generatorPart.Out(), gan.target); err != nil {
		return nil, errors.Wrap(err, "Can't define L1 loss")
	}
	gorgonia.WithName("generator_l1_loss")(gan.lossL1)
	weighted, err := gorgonia.Mul(gorgonia.NewConstant(cfg.L1Lambda), gan.lossL1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't weight L1 loss")
	}
	if gan.lossTotal, err = gorgonia.Add(gan.lossGAN, weighted); err != nil {
		return nil, errors.Wrap(err, "Can't sum generator losses")
	}
	gorgonia.WithName("generator_loss")(gan.lossTotal)

	gan.learnablesGen = gan.generatorPart.Learnables()
	if _, err = gorgonia.Grad(gan.lossTotal, gan.learnablesGen...); err != nil {
		return nil, errors.Wrap(err, "Can't define gradients for generator")
	}

	genBound, err := bindParams(gan.learnablesGen, genParams, "")
	if err != nil {
		return nil, err
	}
	discBound, err := bindParams(gan.modifiedDiscriminator.Learnables(), discParams, "_gan")
	if err != nil {
		return nil, err
	}
	gan.params = append(genBound, discBound...)

	gorgonia.Read(gan.generatorPart.Out(), &gan.fakeVal)
	gorgonia.Read(gan.lossGAN, &gan.lossGANVal)
	gorgonia.Read(gan.lossL1, &gan.lossL1Val)
	gorgonia.Read(gan.lossTotal, &gan.lossTotalVal)

	gan.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(gan.learnablesGen...))
	return gan, nil
}

// GeneratorOut Returns reference to output node of generator part
func (gan *GAN) GeneratorOut() *gorgonia.Node {
	return gan.generatorPart.Out()
}

// GeneratorLearnables Returns learnables nodes of generator part
func (gan *GAN) GeneratorLearnables() gorgonia.Nodes {
	return gan.learnablesGen
}

// run Does forward and backward pass. Gradients are left on learnables until reset.
func (gan *GAN) run(sketch, target *tensor.Dense) (fake *tensor.Dense, losses Losses, err error) {
	if err = letParams(gan.params); err != nil {
		return nil, losses, err
	}
	if err = gorgonia.Let(gan.sketch, sketch); err != nil {
		return nil, losses, errors.Wrap(err, "Can't init generator input value")
	}
	if err = gorgonia.Let(gan.target, target); err != nil {
		return nil, losses, errors.Wrap(err, "Can't init generator target value")
	}
	if err = gan.vm.RunAll(); err != nil {
		return nil, losses, errors.Wrap(err, "Can't run generator graph")
	}
	if losses.GenTotal, err = scalarValue(gan.lossTotalVal); err != nil {
		return nil, losses, err
	}
	if losses.GenGAN, err = scalarValue(gan.lossGANVal); err != nil {
		return nil, losses, err
	}
	if losses.GenL1, err = scalarValue(gan.lossL1Val); err != nil {
		return nil, losses, err
	}
	fake, err = denseValue(gan.fakeVal)
	return fake, losses, err
}

func (gan *GAN) reset() {
	gan.vm.Reset()
}

// Close Releases tape machine
func (gan *GAN) Close() error {
	return gan.vm.Close()
}

// discriminatorGraph Discriminator training graph. Real and candidate pairs are stacked along the batch axis:
// the first half of the rows is labeled 1, the second half 0, so the mean BCE is 0.5*real + 0.5*fake.
type discriminatorGraph struct {
	graph     *gorgonia.ExprGraph
	net       *DiscriminatorNet
	sketch    *gorgonia.Node
	candidate *gorgonia.Node
	loss      *gorgonia.Node
	params    []boundParam

	lossVal gorgonia.Value
	vm      gorgonia.VM
}

func newDiscriminatorGraph(cfg ModelConfig, batchSize int, discParams *ParamSet) (*discriminatorGraph, error) {
	g := gorgonia.NewGraph()
	stacked := []int{2 * batchSize, ImageChannels, cfg.ImageSize, cfg.ImageSize}
	dg := &discriminatorGraph{
		graph:     g,
		sketch:    gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(stacked...), gorgonia.WithName("discriminator_train_sketch")),
		candidate: gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(stacked...), gorgonia.WithName("discriminator_train_candidate")),
	}
	var err error
	if dg.net, err = NewDiscriminator(g, cfg.Discriminator, discParams, ""); err != nil {
		return nil, err
	}
	if err = dg.net.Fwd(dg.sketch, dg.candidate); err != nil {
		return nil, err
	}
	scores := dg.net.Out()
	shp := scores.Shape().Clone()
	labelsData := ConstDense(0, shp...)
	half := labelsData.Data().([]float64)[:shp.TotalSize()/2]
	for i := range half {
		half[i] = 1
	}
	labels := gorgonia.NewTensor(g, gorgonia.Float64, scores.Dims(), gorgonia.WithShape(shp...), gorgonia.WithName("discriminator_target"), gorgonia.WithValue(labelsData))
	if dg.loss, err = BinaryCrossEntropyLoss(scores, labels); err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator loss")
	}
	gorgonia.WithName("discriminator_loss")(dg.loss)
	learnables := dg.net.Learnables()
	if _, err = gorgonia.Grad(dg.loss, learnables...); err != nil {
		return nil, errors.Wrap(err, "Can't define gradients for discriminator")
	}
	if dg.params, err = bindParams(learnables, discParams, ""); err != nil {
		return nil, err
	}
	gorgonia.Read(dg.loss, &dg.lossVal)
	dg.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	return dg, nil
}

func (dg *discriminatorGraph) learnables() gorgonia.Nodes {
	return dg.net.Learnables()
}

// run Scores (sketch, target) against (sketch, fake) and leaves gradients on learnables until reset
func (dg *discriminatorGraph) run(sketch, target, fake *tensor.Dense) (float64, error) {
	sketches, err := sketch.Concat(0, sketch)
	if err != nil {
		return 0, errors.Wrap(err, "Can't stack sketches")
	}
	candidates, err := target.Concat(0, fake)
	if err != nil {
		return 0, errors.Wrap(err, "Can't stack candidates")
	}
	if err = letParams(dg.params); err != nil {
		return 0, err
	}
	if err = gorgonia.Let(dg.sketch, sketches); err != nil {
		return 0, errors.Wrap(err, "Can't init discriminator sketch value")
	}
	if err = gorgonia.Let(dg.candidate, candidates); err != nil {
		return 0, errors.Wrap(err, "Can't init discriminator candidate value")
	}
	if err = dg.vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "Can't run discriminator graph")
	}
	return scalarValue(dg.lossVal)
}

func (dg *discriminatorGraph) reset() {
	dg.vm.Reset()
}

func (dg *discriminatorGraph) Close() error {
	return dg.vm.Close()
}

// generatorGraph Inference-mode generator for single images: no dropout, no gradients
type generatorGraph struct {
	graph  *gorgonia.ExprGraph
	net    *GeneratorNet
	input  *gorgonia.Node
	params []boundParam

	outVal    gorgonia.Value
	pointVals []gorgonia.Value
	vm        gorgonia.VM
}

func newGeneratorGraph(cfg ModelConfig, genParams *ParamSet) (*generatorGraph, error) {
	g := gorgonia.NewGraph()
	gg := &generatorGraph{
		graph: g,
		input: gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, ImageChannels, cfg.ImageSize, cfg.ImageSize), gorgonia.WithName("generator_input")),
	}
	var err error
	if gg.net, err = NewGenerator(g, cfg.Generator, genParams); err != nil {
		return nil, err
	}
	if err = gg.net.Fwd(gg.input, false); err != nil {
		return nil, err
	}
	if gg.params, err = bindParams(gg.net.Learnables(), genParams, ""); err != nil {
		return nil, err
	}
	gorgonia.Read(gg.net.Out(), &gg.outVal)
	points := gg.net.ExtractionPoints()
	gg.pointVals = make([]gorgonia.Value, len(points))
	for i, p := range points {
		gorgonia.Read(p, &gg.pointVals[i])
	}
	gg.vm = gorgonia.NewTapeMachine(g)
	return gg, nil
}

// run Returns generator output of shape (1, 3, H, W)
func (gg *generatorGraph) run(input *tensor.Dense) (*tensor.Dense, error) {
	defer gg.vm.Reset()
	if err := letParams(gg.params); err != nil {
		return nil, err
	}
	if err := gorgonia.Let(gg.input, input); err != nil {
		return nil, errors.Wrap(err, "Can't init generator input value")
	}
	if err := gg.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run generator")
	}
	return denseValue(gg.outVal)
}

// features Runs generator and returns values of its extraction points keyed by node name
func (gg *generatorGraph) features(input *tensor.Dense) (map[string]*tensor.Dense, error) {
	if _, err := gg.run(input); err != nil {
		return nil, err
	}
	names := gg.net.ExtractionPointNames()
	out := make(map[string]*tensor.Dense, len(names))
	for i, name := range names {
		v, err := denseValue(gg.pointVals[i])
		if err != nil {
			return nil, errors.Wrapf(err, "Can't read '%s'", name)
		}
		out[name] = v
	}
	return out, nil
}

func (gg *generatorGraph) Close() error {
	return gg.vm.Close()
}

// scorerGraph Discriminator for single (sketch, candidate) pairs, no gradients
type scorerGraph struct {
	graph     *gorgonia.ExprGraph
	net       *DiscriminatorNet
	sketch    *gorgonia.Node
	candidate *gorgonia.Node
	params    []boundParam

	outVal gorgonia.Value
	vm     gorgonia.VM
}

func newScorerGraph(cfg ModelConfig, discParams *ParamSet) (*scorerGraph, error) {
	g := gorgonia.NewGraph()
	shp := []int{1, ImageChannels, cfg.ImageSize, cfg.ImageSize}
	sg := &scorerGraph{
		graph:     g,
		sketch:    gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shp...), gorgonia.WithName("discriminator_sketch")),
		candidate: gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shp...), gorgonia.WithName("discriminator_candidate")),
	}
	var err error
	if sg.net, err = NewDiscriminator(g, cfg.Discriminator, discParams, ""); err != nil {
		return nil, err
	}
	if err = sg.net.Fwd(sg.sketch, sg.candidate); err != nil {
		return nil, err
	}
	if sg.params, err = bindParams(sg.net.Learnables(), discParams, ""); err != nil {
		return nil, err
	}
	gorgonia.Read(sg.net.Out(), &sg.outVal)
	sg.vm = gorgonia.NewTapeMachine(g)
	return sg, nil
}

func (sg *scorerGraph) run(sketch, candidate *tensor.Dense) (*tensor.Dense, error) {
	defer sg.vm.Reset()
	if err := letParams(sg.params); err != nil {
		return nil, err
	}
	if err := gorgonia.Let(sg.sketch, sketch); err != nil {
		return nil, errors.Wrap(err, "Can't init discriminator sketch value")
	}
	if err := gorgonia.Let(sg.candidate, candidate); err != nil {
		return nil, errors.Wrap(err, "Can't init discriminator candidate value")
	}
	if err := sg.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run discriminator")
	}
	return denseValue(sg.outVal)
}

func (sg *scorerGraph) Close() error {
	return sg.vm.Close()
}

// scalarValue Extracts float64 out of a scalar (or single element) value
func scalarValue(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("value has not been computed")
	}
	switch d := v.Data().(type) {
	case float64:
		return d, nil
	case []float64:
		if len(d) == 1 {
			return d[0], nil
		}
	}
	return 0, fmt.Errorf("expected float64 scalar, got %v", v)
}

// denseValue Returns a copy of tensor value: tape machines reuse their buffers between runs
func denseValue(v gorgonia.Value) (*tensor.Dense, error) {
	d, ok := v.(*tensor.Dense)
	if !ok || d == nil {
		return nil, fmt.Errorf("expected *tensor.Dense, got %T", v)
	}
	return d.Clone().(*tensor.Dense), nil
}
