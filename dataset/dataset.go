package dataset

import (
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Batch Stacked TensorPairs: Input and Target both have shape (N, 3, H, W)
type Batch struct {
	Input  *tensor.Dense
	Target *tensor.Dense
	Size   int
}

// NewBatch Stacks pairs along new leading axis. All tensors must share one shape.
func NewBatch(pairs []TensorPair) (*Batch, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("batch must have one pair atleast")
	}
	if pairs[0].Input == nil {
		return nil, fmt.Errorf("pair #0 has nil tensor")
	}
	shp := pairs[0].Input.Shape().Clone()
	for i, p := range pairs {
		if p.Input == nil || p.Target == nil {
			return nil, fmt.Errorf("pair #%d has nil tensor", i)
		}
		if !p.Input.Shape().Eq(shp) || !p.Target.Shape().Eq(shp) {
			return nil, fmt.Errorf("pair #%d has shapes %v/%v, expected %v", i, p.Input.Shape(), p.Target.Shape(), shp)
		}
	}
	n := shp.TotalSize()
	inputData := make([]float64, 0, n*len(pairs))
	targetData := make([]float64, 0, n*len(pairs))
	for _, p := range pairs {
		inputData = append(inputData, p.Input.Materialize().Data().([]float64)...)
		targetData = append(targetData, p.Target.Materialize().Data().([]float64)...)
	}
	batchShape := append(tensor.Shape{len(pairs)}, shp...)
	return &Batch{
		Input:  tensor.New(tensor.WithShape(batchShape...), tensor.WithBacking(inputData)),
		Target: tensor.New(tensor.WithShape(batchShape.Clone()...), tensor.WithBacking(targetData)),
		Size:   len(pairs),
	}, nil
}

// TrainConfig Settings of the infinite training stream
//
// BatchSize - pairs per batch (1 in pix2pix)
// BufferSize - size of the shuffle reservoir (400 in pix2pix)
// Jitter - random jitter geometry; Jitter.CropTo is the working resolution
//
type TrainConfig struct {
	BatchSize  int          `yaml:"batchSize"`
	BufferSize int          `yaml:"bufferSize"`
	Jitter     JitterConfig `yaml:"jitter"`
}

// DefaultTrainConfig Batch of 1, buffer of 400, 286 -> 256 jitter
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		BatchSize:  1,
		BufferSize: 400,
		Jitter:     DefaultJitter(),
	}
}

// TrainDataset Infinite shuffled stream of jittered and normalized batches.
//
// Every epoch walks the pairs in a fresh random order; every emitted pair gets its own jitter draw.
// Emission order is further mixed by a reservoir of BufferSize pair indices.
type TrainDataset struct {
	pairs []ImagePair
	cfg   TrainConfig
	rng   Rand

	order  []int
	pos    int
	buffer []int
	epoch  int
}

// NewTrainDataset Creates training stream over pairs
func NewTrainDataset(pairs []ImagePair, cfg TrainConfig, rng Rand) (*TrainDataset, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("train dataset must have one pair atleast")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("shuffle buffer size must be positive, got %d", cfg.BufferSize)
	}
	if err := cfg.Jitter.Validate(); err != nil {
		return nil, err
	}
	for i := range pairs {
		if _, err := pairs[i].Size(); err != nil {
			return nil, errors.Wrapf(err, "pair #%d", i)
		}
	}
	return &TrainDataset{
		pairs: pairs,
		cfg:   cfg,
		rng:   rng,
	}, nil
}

// Epoch Number of times the underlying pairs have been fully walked
func (d *TrainDataset) Epoch() int {
	return d.epoch
}

// Next Returns next batch. Never runs out.
func (d *TrainDataset) Next() (*Batch, error) {
	if d.buffer == nil {
		d.buffer = make([]int, 0, d.cfg.BufferSize)
		for len(d.buffer) < d.cfg.BufferSize {
			d.buffer = append(d.buffer, d.nextIndex())
		}
	}
	tensors := make([]TensorPair, d.cfg.BatchSize)
	for i := range tensors {
		slot := d.rng.Intn(len(d.buffer))
		idx := d.buffer[slot]
		d.buffer[slot] = d.nextIndex()

		jittered, err := Jitter(d.pairs[idx], d.rng, d.cfg.Jitter)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't jitter pair #%d", idx)
		}
		tensors[i] = Normalize(jittered)
	}
	return NewBatch(tensors)
}

// nextIndex Walks the pairs, reshuffling the order at every epoch boundary
func (d *TrainDataset) nextIndex() int {
	if d.pos >= len(d.order) {
		if d.order != nil {
			d.epoch++
		}
		d.order = permutation(d.rng, len(d.pairs))
		d.pos = 0
	}
	idx := d.order[d.pos]
	d.pos++
	return idx
}

// permutation Fisher-Yates shuffle of [0, n)
func permutation(rng Rand, n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// TestDataset Finite ordered dataset: resize and normalize only, no randomness
type TestDataset struct {
	pairs     []TensorPair
	batchSize int
}

// NewTestDataset Resizes pairs to size x size with nearest neighbour interpolation and normalizes them
func NewTestDataset(pairs []ImagePair, size, batchSize int) (*TestDataset, error) {
	if size <= 0 {
		return nil, fmt.Errorf("test image size must be positive, got %d", size)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	tensors := make([]TensorPair, len(pairs))
	for i, p := range pairs {
		if _, err := p.Size(); err != nil {
			return nil, errors.Wrapf(err, "pair #%d", i)
		}
		tensors[i] = Normalize(ImagePair{
			Input:  imaging.Resize(p.Input, size, size, imaging.NearestNeighbor),
			Target: imaging.Resize(p.Target, size, size, imaging.NearestNeighbor),
		})
	}
	return &TestDataset{pairs: tensors, batchSize: batchSize}, nil
}

// Len Number of pairs
func (d *TestDataset) Len() int {
	return len(d.pairs)
}

// Pair Returns i-th normalized pair
func (d *TestDataset) Pair(i int) TensorPair {
	return d.pairs[i]
}

// Batches Returns all pairs grouped into batches in order; the last batch may be smaller
func (d *TestDataset) Batches() ([]*Batch, error) {
	batches := make([]*Batch, 0, (len(d.pairs)+d.batchSize-1)/d.batchSize)
	for start := 0; start < len(d.pairs); start += d.batchSize {
		end := start + d.batchSize
		if end > len(d.pairs) {
			end = len(d.pairs)
		}
		b, err := NewBatch(d.pairs[start:end])
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}
