package pix2pix

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LdDl/pix2pix-go/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// fakeEngine Counts steps and reports losses derived from the step number
type fakeEngine struct {
	step      int
	generated int
	failAt    int
}

func (e *fakeEngine) TrainStep(batch *dataset.Batch) (Losses, error) {
	if e.failAt > 0 && e.step+1 == e.failAt {
		return Losses{}, fmt.Errorf("step %d failed", e.failAt)
	}
	e.step++
	v := float64(e.step)
	return Losses{GenTotal: v, GenGAN: v / 2, GenL1: v / 4, Disc: v / 8}, nil
}

func (e *fakeEngine) Generate(input *tensor.Dense) (*tensor.Dense, error) {
	e.generated++
	return tensor.New(tensor.WithShape(1, ImageChannels, 4, 4), tensor.Of(tensor.Float64)), nil
}

func (e *fakeEngine) Step() int {
	return e.step
}

func (e *fakeEngine) State() *ModelState {
	return &ModelState{Step: e.step}
}

type fakeData struct {
	served int
}

func (d *fakeData) Next() (*dataset.Batch, error) {
	d.served++
	return &dataset.Batch{Size: 1}, nil
}

type failingData struct{}

func (failingData) Next() (*dataset.Batch, error) {
	return nil, fmt.Errorf("stream is broken")
}

type fakeSaver struct {
	steps []int
	err   error
}

func (s *fakeSaver) Save(state *ModelState) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.steps = append(s.steps, state.Step)
	return fmt.Sprintf("ckpt-%d.gob", state.Step), nil
}

type fakeSamples struct {
	tags []string
	err  error
}

func (s *fakeSamples) SaveSample(tag string, sample Sample) error {
	if s.err != nil {
		return s.err
	}
	s.tags = append(s.tags, tag)
	return nil
}

func example() dataset.TensorPair {
	return dataset.TensorPair{
		Input:  tensor.New(tensor.WithShape(ImageChannels, 4, 4), tensor.Of(tensor.Float64)),
		Target: tensor.New(tensor.WithShape(ImageChannels, 4, 4), tensor.Of(tensor.Float64)),
	}
}

func newFakeTrainer(engine *fakeEngine) (*Trainer, *fakeData, *fakeSaver, *fakeSamples) {
	data := &fakeData{}
	saver := &fakeSaver{}
	samples := &fakeSamples{}
	return &Trainer{
		Engine:      engine,
		Data:        data,
		Example:     example(),
		Schedule:    DefaultScheduleConfig(),
		Checkpoints: saver,
		Samples:     samples,
		Logger:      slog.New(slog.DiscardHandler),
	}, data, saver, samples
}

func TestFitCadence(t *testing.T) {
	engine := &fakeEngine{}
	trainer, data, saver, samples := newFakeTrainer(engine)

	require.NoError(t, trainer.Fit(context.Background(), 5000))
	assert.Equal(t, 5000, engine.step)
	assert.Equal(t, 5000, data.served)
	assert.Equal(t, []int{5000}, saver.steps)
	assert.Equal(t, []string{
		"image_at_step_1000",
		"image_at_step_2000",
		"image_at_step_3000",
		"image_at_step_4000",
		"image_at_step_5000",
	}, samples.tags)
	assert.Equal(t, 5, engine.generated)
	assert.Equal(t, 5000, trainer.History().Len())
}

func TestFitResume(t *testing.T) {
	engine := &fakeEngine{step: 4999}
	trainer, data, saver, samples := newFakeTrainer(engine)

	require.NoError(t, trainer.Fit(context.Background(), 5000))
	assert.Equal(t, 1, data.served)
	assert.Equal(t, []int{5000}, saver.steps)
	assert.Equal(t, []string{"image_at_step_5000"}, samples.tags)

	// Budget already reached: nothing to do
	require.NoError(t, trainer.Fit(context.Background(), 5000))
	assert.Equal(t, 1, data.served)
}

func TestFitSideEffectFailures(t *testing.T) {
	engine := &fakeEngine{}
	trainer, _, saver, samples := newFakeTrainer(engine)
	saver.err = &CheckpointIOError{Op: "save", Path: "/nowhere", Err: os.ErrPermission}
	samples.err = &CheckpointIOError{Op: "write sample", Path: "/nowhere", Err: os.ErrPermission}

	require.NoError(t, trainer.Fit(context.Background(), 10000))
	assert.Equal(t, 10000, engine.step)
	assert.Empty(t, saver.steps)
	assert.Empty(t, samples.tags)
}

func TestFitErrors(t *testing.T) {
	engine := &fakeEngine{failAt: 3}
	trainer, _, _, _ := newFakeTrainer(engine)
	assert.Error(t, trainer.Fit(context.Background(), 10))
	assert.Equal(t, 2, engine.step)

	trainer, _, _, _ = newFakeTrainer(&fakeEngine{})
	trainer.Data = failingData{}
	assert.Error(t, trainer.Fit(context.Background(), 10))

	trainer, _, _, _ = newFakeTrainer(&fakeEngine{})
	trainer.Schedule.LogEvery = 0
	assert.Error(t, trainer.Fit(context.Background(), 10))
}

func TestFitCancel(t *testing.T) {
	engine := &fakeEngine{}
	trainer, data, _, _ := newFakeTrainer(engine)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, trainer.Fit(ctx, 100), context.Canceled)
	assert.Equal(t, 0, data.served)
}

func TestFitLossLog(t *testing.T) {
	engine := &fakeEngine{}
	trainer, _, _, _ := newFakeTrainer(engine)
	trainer.Schedule = ScheduleConfig{LogEvery: 2, SampleEvery: 4, CheckpointEvery: 4}
	runDir, err := NewRunDir(t.TempDir(), time.Date(2024, 5, 17, 13, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("fit", "20240517-130405"), filepath.Join(filepath.Base(filepath.Dir(runDir)), filepath.Base(runDir)))
	trainer.RunDir = runDir

	require.NoError(t, trainer.Fit(context.Background(), 8))
	f, err := os.Open(filepath.Join(runDir, "losses.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 9)
	assert.Equal(t, []string{"step", "gen_total_loss", "gen_gan_loss", "gen_l1_loss", "disc_loss"}, rows[0])
	assert.Equal(t, []string{"8", "8", "4", "2", "1"}, rows[8])
	assert.FileExists(t, filepath.Join(runDir, "losses.png"))

	// Continuing appends without a second header
	require.NoError(t, trainer.Fit(context.Background(), 10))
	f2, err := os.Open(filepath.Join(runDir, "losses.csv"))
	require.NoError(t, err)
	defer f2.Close()
	rows, err = csv.NewReader(f2).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 11)
}

func TestSampleDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "samples")
	images, err := dataset.Denormalize(example())
	require.NoError(t, err)
	sample := Sample{Input: images.Input, Prediction: images.Target, Target: images.Target}
	require.NoError(t, SampleDir(dir).SaveSample(SampleTag(1000), sample))
	for _, prefix := range []string{"prediction_", "target_", "test_input_"} {
		assert.FileExists(t, filepath.Join(dir, prefix+"image_at_step_1000.png"))
	}
}

func TestLossHistory(t *testing.T) {
	var h LossHistory
	assert.Equal(t, Losses{}, h.WindowMean(10))
	assert.Error(t, PlotLosses(&h, filepath.Join(t.TempDir(), "empty.png")))
	for step := 1; step <= 4; step++ {
		v := float64(step)
		h.Add(step, Losses{GenTotal: v, GenGAN: 2 * v, GenL1: 3 * v, Disc: 4 * v})
	}
	assert.Equal(t, Losses{GenTotal: 3.5, GenGAN: 7, GenL1: 10.5, Disc: 14}, h.WindowMean(2))
	assert.Equal(t, Losses{GenTotal: 2.5, GenGAN: 5, GenL1: 7.5, Disc: 10}, h.WindowMean(100))

	path := filepath.Join(t.TempDir(), "losses.png")
	require.NoError(t, PlotLosses(&h, path))
	assert.FileExists(t, path)
}
