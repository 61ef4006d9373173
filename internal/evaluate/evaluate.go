// Package evaluate scores a classifier against a labeled image directory laid
// out as <root>/Normal/* and <root>/Tuberculosis/*, the same layout the
// training job reads.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/tbscan/internal/imaging"
	"github.com/Brownie44l1/tbscan/internal/model"
)

var Labels = []string{model.LabelNormal, model.LabelTuberculosis}

type Sample struct {
	Path  string
	Label string
}

type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Discover lists every regular, non-hidden file under the label directories.
func Discover(root string) ([]Sample, error) {
	var samples []Sample
	for _, label := range Labels {
		dir := filepath.Join(root, label)
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("dataset class %s: %w", label, err)
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() && path != dir {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				samples = append(samples, Sample{Path: path, Label: label})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	return samples, nil
}

type Options struct {
	Workers  int
	MaxBytes int64
}

// Run classifies every sample with bounded concurrency. Files that fail
// validation are reported as skipped; any other failure aborts the run.
func Run(ctx context.Context, classifier model.Classifier, samples []Sample, opts Options) (*Report, error) {
	report := NewReport()
	meta := classifier.Info()

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))

	for _, s := range samples {
		g.Go(func() error {
			predicted, err := classifyFile(ctx, classifier, meta, s.Path, opts.MaxBytes)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Add(s.Label, predicted.Label)
				return nil
			case errors.Is(err, imaging.ErrUnsupportedType),
				errors.Is(err, imaging.ErrCorruptImage),
				errors.Is(err, imaging.ErrFileTooLarge):
				report.Skipped = append(report.Skipped, Skip{Path: s.Path, Reason: err.Error()})
				return nil
			default:
				return fmt.Errorf("%s: %w", s.Path, err)
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(report.Skipped, func(i, j int) bool { return report.Skipped[i].Path < report.Skipped[j].Path })
	return report, nil
}

func classifyFile(ctx context.Context, classifier model.Classifier, meta model.Metadata, path string, maxBytes int64) (model.Prediction, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Prediction{}, err
	}
	defer f.Close()

	input, _, err := imaging.Prepare(f, maxBytes, meta.ImageSize, meta.Layout)
	if err != nil {
		return model.Prediction{}, err
	}
	score, err := classifier.Score(ctx, input)
	if err != nil {
		return model.Prediction{}, err
	}
	return model.Interpret(float64(score))
}
