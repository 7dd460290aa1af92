package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ListImages Returns sorted paths of PNG files in dir (not recursive)
func ListImages(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, errors.Wrapf(err, "Can't list images in '%s'", dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadPairedDir Loads every side-by-side PNG of dir. Unreadable or malformed files are logged and skipped.
func LoadPairedDir(ctx context.Context, dir string, logger *slog.Logger) ([]Sample, error) {
	paths, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("loading paired images", "dir", dir, "files", len(paths))
	return collect(ctx, paths, logger, func(path string) ([]Sample, error) {
		pair, err := LoadPairedImage(path)
		if err != nil {
			return nil, err
		}
		return []Sample{{Name: baseName(path), Pair: pair}}, nil
	})
}

// SynthesizeDir Runs the pipeline over every PNG of dir. Sample names are "<file>_<i>" where i is
// the rotation index. Images failing the pipeline are logged and skipped.
func SynthesizeDir(ctx context.Context, dir string, p Pipeline, logger *slog.Logger) ([]Sample, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	paths, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("synthesizing pairs",
		"dir", dir,
		"files", len(paths),
		"per_image", p.TotalPerSource(),
		"expected_total", len(paths)*p.TotalPerSource(),
	)
	return collect(ctx, paths, logger, func(path string) ([]Sample, error) {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't open image '%s'", path)
		}
		pairs, err := p.Generate(img)
		if err != nil {
			return nil, err
		}
		name := baseName(path)
		samples := make([]Sample, len(pairs))
		for i := range pairs {
			samples[i] = Sample{Name: fmt.Sprintf("%s_%d", name, i), Pair: pairs[i]}
		}
		return samples, nil
	})
}

// collect Applies fn to every path in parallel and flattens results in path order.
// Errors of fn are isolated per path; only context cancellation aborts the sweep.
func collect(ctx context.Context, paths []string, logger *slog.Logger, fn func(string) ([]Sample, error)) ([]Sample, error) {
	results := make([][]Sample, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			samples, err := fn(path)
			if err != nil {
				logger.Warn("skipping image", "path", path, "error", err)
				return nil
			}
			results[i] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []Sample
	for _, r := range results {
		out = append(out, r...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable images among %d files", len(paths))
	}
	logger.Debug("collected samples", "samples", len(out))
	return out, nil
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
