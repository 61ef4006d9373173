package model

import (
	"context"
	"errors"
	"fmt"
)

const (
	LabelNormal       = "Normal"
	LabelTuberculosis = "Tuberculosis"

	// Threshold must match the sigmoid head the artifact was trained with.
	Threshold = 0.5

	DefaultImageSize = 224
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrScoreOutOfRange  = errors.New("score out of range")
)

// Classifier produces the positive-class probability for a prepared tensor.
// Implementations must allow concurrent calls to Score.
type Classifier interface {
	Score(ctx context.Context, input []float32) (float32, error)
	Info() Metadata
	Close() error
}

// Layout is the memory order of the input tensor.
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

type Metadata struct {
	Version     string   `json:"version"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Layout      Layout   `json:"layout"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, DefaultImageSize, DefaultImageSize, 3},
		OutputShape: []int64{1, 1},
		Layout:      LayoutNHWC,
		Classes:     []string{LabelNormal, LabelTuberculosis},
		ImageSize:   DefaultImageSize,
	}
}

// InputSize is the number of float32 values the model expects per call.
func (m Metadata) InputSize() int {
	return 3 * m.ImageSize * m.ImageSize
}

func (m Metadata) validate() error {
	if m.ImageSize <= 0 {
		return fmt.Errorf("invalid image size %d", m.ImageSize)
	}
	if m.Layout != LayoutNHWC && m.Layout != LayoutNCHW {
		return fmt.Errorf("unknown layout %q", m.Layout)
	}
	if n := product(m.InputShape); n != int64(m.InputSize()) {
		return fmt.Errorf("input shape %v holds %d values, want %d", m.InputShape, n, m.InputSize())
	}
	if len(m.InputShape) == 4 {
		channels := m.InputShape[3]
		if m.Layout == LayoutNCHW {
			channels = m.InputShape[1]
		}
		if channels != 3 {
			return fmt.Errorf("input shape %v is not %s RGB", m.InputShape, m.Layout)
		}
	}
	if n := product(m.OutputShape); n != 1 {
		return fmt.Errorf("output shape %v holds %d values, want a single score", m.OutputShape, n)
	}
	if len(m.Classes) != 2 {
		return fmt.Errorf("expected 2 classes, got %d", len(m.Classes))
	}
	return nil
}

func product(dims []int64) int64 {
	if len(dims) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

type Prediction struct {
	Label      string
	Confidence float64
	RawScore   float64
}

func (p Prediction) FormatConfidence() string {
	return fmt.Sprintf("%.2f%%", p.Confidence)
}
