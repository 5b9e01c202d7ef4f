// Package confidence turns per-token recognition scores into a single page score.
//
// The page score drives both pass escalation and final reporting, so it is
// always defined: a page without a single valid token scores 0.
package confidence

import (
	"math"

	"scanocr/pkg/models"
)

const (
	// Min and Max bound every aggregate confidence.
	Min = 0.0
	Max = 100.0
)

// Valid reports whether an engine confidence is a real detection.
// Engines use negative values (and occasionally NaN) as "no detection" markers.
func Valid(c float64) bool {
	return !math.IsNaN(c) && !math.IsInf(c, 0) && c >= 0
}

// Aggregate returns the arithmetic mean of the valid token confidences, clamped to [0, 100].
func Aggregate(tokens []models.TokenConfidence) float64 {
	var sum float64
	var n int
	for _, t := range tokens {
		if !Valid(t.Confidence) {
			continue
		}
		sum += clamp(t.Confidence)
		n++
	}
	if n == 0 {
		return Min
	}
	return clamp(sum / float64(n))
}

// Of is Aggregate applied to a recognition result; a nil result scores 0.
func Of(r *models.RecognitionResult) float64 {
	if r == nil {
		return Min
	}
	return Aggregate(r.Tokens)
}

// ValidCount returns how many tokens carry a real detection.
func ValidCount(tokens []models.TokenConfidence) int {
	n := 0
	for _, t := range tokens {
		if Valid(t.Confidence) {
			n++
		}
	}
	return n
}

func clamp(c float64) float64 {
	switch {
	case c < Min:
		return Min
	case c > Max:
		return Max
	default:
		return c
	}
}
