package pix2pix

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// stateVersion Layout version of encoded ModelState
const stateVersion = 1

// ModelState Everything needed to resume training or run inference
//
// Step - number of completed training steps
// Generator, Discriminator - learnable parameters, kept apart so their gradients never mix
// GeneratorOptimizer, DiscriminatorOptimizer - independent Adam moments, nil before the first update
//
type ModelState struct {
	Step                   int
	Config                 ModelConfig
	Generator              *ParamSet
	Discriminator          *ParamSet
	GeneratorOptimizer     *AdamState
	DiscriminatorOptimizer *AdamState
}

type tensorRecord struct {
	Name  string
	Shape []int
	Data  []float64
}

type stateRecord struct {
	Version                int
	Step                   int
	Config                 ModelConfig
	Generator              []tensorRecord
	Discriminator          []tensorRecord
	GeneratorOptimizer     *AdamState
	DiscriminatorOptimizer *AdamState
}

func paramsToRecords(ps *ParamSet) ([]tensorRecord, error) {
	if ps == nil {
		return nil, fmt.Errorf("parameter set is nil")
	}
	records := make([]tensorRecord, 0, ps.Len())
	for _, name := range ps.Names() {
		v := ps.Get(name)
		data, ok := v.Materialize().Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("parameter '%s' is not float64", name)
		}
		records = append(records, tensorRecord{
			Name:  name,
			Shape: []int(v.Shape().Clone()),
			Data:  append([]float64(nil), data...),
		})
	}
	return records, nil
}

func recordsToParams(records []tensorRecord) (*ParamSet, error) {
	ps := NewParamSet()
	for _, r := range records {
		if tensor.Shape(r.Shape).TotalSize() != len(r.Data) {
			return nil, fmt.Errorf("parameter '%s' has %d values for shape %v", r.Name, len(r.Data), r.Shape)
		}
		ps.Set(r.Name, tensor.New(tensor.WithShape(r.Shape...), tensor.WithBacking(r.Data)))
	}
	return ps, nil
}

// Encode Writes state in gob encoding
func (s *ModelState) Encode(w io.Writer) error {
	gen, err := paramsToRecords(s.Generator)
	if err != nil {
		return errors.Wrap(err, "Can't encode generator")
	}
	disc, err := paramsToRecords(s.Discriminator)
	if err != nil {
		return errors.Wrap(err, "Can't encode discriminator")
	}
	rec := stateRecord{
		Version:                stateVersion,
		Step:                   s.Step,
		Config:                 s.Config,
		Generator:              gen,
		Discriminator:          disc,
		GeneratorOptimizer:     s.GeneratorOptimizer,
		DiscriminatorOptimizer: s.DiscriminatorOptimizer,
	}
	if err := gob.NewEncoder(w).Encode(&rec); err != nil {
		return errors.Wrap(err, "Can't encode model state")
	}
	return nil
}

// DecodeModelState Reads state written by Encode
func DecodeModelState(r io.Reader) (*ModelState, error) {
	var rec stateRecord
	if err := gob.NewDecoder(r).Decode(&rec); err != nil {
		return nil, errors.Wrap(err, "Can't decode model state")
	}
	if rec.Version != stateVersion {
		return nil, fmt.Errorf("model state version %d is not supported", rec.Version)
	}
	gen, err := recordsToParams(rec.Generator)
	if err != nil {
		return nil, errors.Wrap(err, "Can't decode generator")
	}
	disc, err := recordsToParams(rec.Discriminator)
	if err != nil {
		return nil, errors.Wrap(err, "Can't decode discriminator")
	}
	for _, opt := range []*AdamState{rec.GeneratorOptimizer, rec.DiscriminatorOptimizer} {
		if opt == nil {
			continue
		}
		if opt.M == nil {
			opt.M = make(map[string][]float64)
		}
		if opt.V == nil {
			opt.V = make(map[string][]float64)
		}
	}
	return &ModelState{
		Step:                   rec.Step,
		Config:                 rec.Config,
		Generator:              gen,
		Discriminator:          disc,
		GeneratorOptimizer:     rec.GeneratorOptimizer,
		DiscriminatorOptimizer: rec.DiscriminatorOptimizer,
	}, nil
}
