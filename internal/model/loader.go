package model

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Brownie44l1/tbscan/internal/logging"
)

type LoadOptions struct {
	Path             string
	FallbackPath     string
	MetadataPath     string
	MetadataFallback string
}

// Opener builds a Classifier from an artifact path; NewSession in production.
type Opener func(modelPath, metadataPath string) (Classifier, error)

func OpenSession(modelPath, metadataPath string) (Classifier, error) {
	session, err := NewSession(modelPath, metadataPath)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Load tries the primary artifact, then the fallback. It returns the classifier
// and the path that worked, or the joined errors of every attempt.
func Load(opts LoadOptions, open Opener, logger *slog.Logger) (Classifier, string, error) {
	type candidate struct {
		model, metadata string
	}
	candidates := []candidate{{opts.Path, opts.MetadataPath}}
	if opts.FallbackPath != "" && opts.FallbackPath != opts.Path {
		meta := opts.MetadataFallback
		if meta == "" {
			meta = opts.MetadataPath
		}
		candidates = append(candidates, candidate{opts.FallbackPath, meta})
	}

	var errs []error
	for _, c := range candidates {
		if c.model == "" {
			continue
		}
		logger.Info("loading model", "path", c.model)
		classifier, err := open(c.model, c.metadata)
		if err == nil {
			return classifier, c.model, nil
		}
		logger.Warn("model load failed", "path", c.model, logging.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", c.model, err))
	}

	if len(errs) == 0 {
		return nil, "", fmt.Errorf("%w: no model path configured", ErrModelUnavailable)
	}
	return nil, "", fmt.Errorf("%w: %w", ErrModelUnavailable, errors.Join(errs...))
}
