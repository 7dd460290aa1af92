package pix2pix

import (
	"context"
	"encoding/csv"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/LdDl/pix2pix-go/dataset"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// BatchIterator Infinite source of training batches
type BatchIterator interface {
	Next() (*dataset.Batch, error)
}

// CheckpointSaver Persists model state. *CheckpointStore satisfies it.
type CheckpointSaver interface {
	Save(state *ModelState) (string, error)
}

// Sample Qualitative snapshot: sketch, generated photograph and the genuine one
type Sample struct {
	Input      *image.NRGBA
	Prediction *image.NRGBA
	Target     *image.NRGBA
}

// SampleSaver Persists qualitative samples
type SampleSaver interface {
	SaveSample(tag string, s Sample) error
}

// SampleDir Writes samples as prediction_<tag>.png, target_<tag>.png and test_input_<tag>.png into a directory
type SampleDir string

// SaveSample See SampleSaver
func (d SampleDir) SaveSample(tag string, s Sample) error {
	if err := os.MkdirAll(string(d), 0o755); err != nil {
		return &CheckpointIOError{Op: "write sample", Path: string(d), Err: err}
	}
	for _, f := range []struct {
		prefix string
		img    *image.NRGBA
	}{
		{"prediction_", s.Prediction},
		{"target_", s.Target},
		{"test_input_", s.Input},
	} {
		path := filepath.Join(string(d), f.prefix+tag+".png")
		if err := imaging.Save(f.img, path); err != nil {
			return &CheckpointIOError{Op: "write sample", Path: path, Err: err}
		}
	}
	return nil
}

// SampleTag Name of the sample written after step
func SampleTag(step int) string {
	return "image_at_step_" + strconv.Itoa(step)
}

// Trainer Drives an Engine over a batch stream for a fixed step budget.
//
// Example - normalized test pair used for every qualitative sample; nil tensors disable sampling
// Checkpoints, Samples - optional sinks; their failures are logged and training goes on
// RunDir - optional directory for per-step losses (losses.csv) and the loss curve (losses.png)
//
type Trainer struct {
	Engine      Engine
	Data        BatchIterator
	Example     dataset.TensorPair
	Schedule    ScheduleConfig
	Checkpoints CheckpointSaver
	Samples     SampleSaver
	RunDir      string
	Logger      *slog.Logger

	history LossHistory
	csv     *csv.Writer
	csvFile *os.File
}

// NewRunDir Creates "<logDir>/fit/<YYYYMMDD-HHMMSS>"
func NewRunDir(logDir string, now time.Time) (string, error) {
	dir := filepath.Join(logDir, "fit", now.Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "Can't create run directory '%s'", dir)
	}
	return dir, nil
}

// History Returns losses recorded so far
func (t *Trainer) History() *LossHistory {
	return &t.history
}

// Fit Trains until the engine reaches totalSteps completed steps. A resumed engine continues from its own step.
//
// After every step s: losses are logged when s%LogEvery == 0, a sample tagged SampleTag(s) is written when
// s%SampleEvery == 0, and the model state is checkpointed when s%CheckpointEvery == 0. All of it happens
// before the next batch is consumed. Cancelling ctx stops training between steps.
func (t *Trainer) Fit(ctx context.Context, totalSteps int) error {
	if t.Engine == nil || t.Data == nil {
		return fmt.Errorf("trainer needs engine and data")
	}
	if err := t.Schedule.Validate(); err != nil {
		return err
	}
	if t.Logger == nil {
		t.Logger = slog.Default()
	}
	if t.RunDir != "" {
		if err := t.openLossLog(); err != nil {
			return err
		}
		defer t.closeLossLog()
	}

	start := t.Engine.Step()
	t.Logger.Info("training started", "step", start, "total_steps", totalSteps)
	windowStart := time.Now()
	sampleStart := time.Now()
	for t.Engine.Step() < totalSteps {
		if err := ctx.Err(); err != nil {
			t.Logger.Warn("training interrupted", "step", t.Engine.Step(), "error", err)
			return err
		}
		batch, err := t.Data.Next()
		if err != nil {
			return errors.Wrapf(err, "Can't get batch for step %d", t.Engine.Step()+1)
		}
		losses, err := t.Engine.TrainStep(batch)
		if err != nil {
			return err
		}
		step := t.Engine.Step()
		t.history.Add(step, losses)
		t.appendLossLog(step, losses)

		if step%t.Schedule.LogEvery == 0 {
			mean := t.history.WindowMean(t.Schedule.LogEvery)
			elapsed := time.Since(windowStart)
			t.Logger.Info("step",
				"step", step,
				"gen_total", mean.GenTotal,
				"gen_gan", mean.GenGAN,
				"gen_l1", mean.GenL1,
				"disc", mean.Disc,
				"elapsed", elapsed.Round(time.Millisecond),
			)
			windowStart = time.Now()
			if t.csv != nil {
				t.csv.Flush()
			}
		}
		if step%t.Schedule.SampleEvery == 0 {
			t.Logger.Info("time taken for sample window", "steps", t.Schedule.SampleEvery, "elapsed", time.Since(sampleStart).Round(time.Millisecond))
			sampleStart = time.Now()
			t.writeSample(step)
		}
		if step%t.Schedule.CheckpointEvery == 0 {
			t.writeCheckpoint(step)
		}
	}
	t.Logger.Info("training finished", "step", t.Engine.Step(), "steps_done", t.Engine.Step()-start)
	return nil
}

// writeSample Generates prediction for the example pair and hands it to the sample sink
func (t *Trainer) writeSample(step int) {
	if t.Example.Input == nil || t.Example.Target == nil {
		return
	}
	tag := SampleTag(step)
	sample, err := t.makeSample()
	if err != nil {
		t.Logger.Warn("can't generate sample", "step", step, "tag", tag, "error", err)
		return
	}
	if t.Samples != nil {
		if err := t.Samples.SaveSample(tag, sample); err != nil {
			t.Logger.Warn("can't write sample", "step", step, "tag", tag, "error", err)
		} else {
			t.Logger.Info("sample written", "step", step, "tag", tag)
		}
	}
	if t.RunDir != "" {
		path := filepath.Join(t.RunDir, "losses.png")
		if err := PlotLosses(&t.history, path); err != nil {
			t.Logger.Warn("can't plot losses", "step", step, "path", path, "error", err)
		}
	}
}

func (t *Trainer) makeSample() (Sample, error) {
	prediction, err := t.Engine.Generate(t.Example.Input)
	if err != nil {
		return Sample{}, err
	}
	images, err := dataset.Denormalize(dataset.TensorPair{Input: t.Example.Input, Target: t.Example.Target})
	if err != nil {
		return Sample{}, err
	}
	predicted, err := dataset.TensorToImage(prediction)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Input: images.Input, Prediction: predicted, Target: images.Target}, nil
}

// writeCheckpoint Saves state synchronously; a failure is reported and training continues
func (t *Trainer) writeCheckpoint(step int) {
	if t.Checkpoints == nil {
		return
	}
	path, err := t.Checkpoints.Save(t.Engine.State())
	if err != nil {
		t.Logger.Warn("can't save checkpoint", "step", step, "error", err)
		return
	}
	t.Logger.Info("checkpoint saved", "step", step, "path", path)
}

func (t *Trainer) openLossLog() error {
	if err := os.MkdirAll(t.RunDir, 0o755); err != nil {
		return errors.Wrapf(err, "Can't create run directory '%s'", t.RunDir)
	}
	path := filepath.Join(t.RunDir, "losses.csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "Can't open loss log '%s'", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "Can't stat loss log '%s'", path)
	}
	t.csvFile = f
	t.csv = csv.NewWriter(f)
	if info.Size() == 0 {
		t.csv.Write([]string{"step", "gen_total_loss", "gen_gan_loss", "gen_l1_loss", "disc_loss"})
	}
	return nil
}

func (t *Trainer) appendLossLog(step int, l Losses) {
	if t.csv == nil {
		return
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	t.csv.Write([]string{strconv.Itoa(step), format(l.GenTotal), format(l.GenGAN), format(l.GenL1), format(l.Disc)})
}

func (t *Trainer) closeLossLog() {
	t.csv.Flush()
	if err := t.csv.Error(); err != nil {
		t.Logger.Warn("can't write loss log", "error", err)
	}
	t.csvFile.Close()
	t.csv, t.csvFile = nil, nil
}
