package model

import (
	"fmt"
	"math"
)

// Interpret maps a sigmoid score to a label. A score of exactly Threshold is Normal.
func Interpret(score float64) (Prediction, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return Prediction{}, fmt.Errorf("%w: %v", ErrScoreOutOfRange, score)
	}

	if score > Threshold {
		return Prediction{
			Label:      LabelTuberculosis,
			Confidence: score * 100,
			RawScore:   score,
		}, nil
	}
	return Prediction{
		Label:      LabelNormal,
		Confidence: (1 - score) * 100,
		RawScore:   score,
	}, nil
}
