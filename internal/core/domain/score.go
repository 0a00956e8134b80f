package domain

import (
	"fmt"
	"math"
)

// Similarity maps a distance in the given metric to [0,1].
//
// cosine and dot: distance = 1 - score, similarity = 1 - distance.
// l2:             similarity = 1 / (1 + distance).
func Similarity(metric Metric, distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	switch metric {
	case MetricL2:
		if distance < 0 {
			distance = 0
		}
		return clamp01(1 / (1 + distance))
	default:
		return clamp01(1 - distance)
	}
}

// Weights parameterise the confidence score. Structured must exceed
// Semantic and Corroboration must be positive.
type Weights struct {
	Structured    float64
	Semantic      float64
	Corroboration float64
}

func DefaultWeights() Weights {
	return Weights{Structured: 0.5, Semantic: 0.3, Corroboration: 0.2}
}

func (w Weights) Validate() error {
	for _, v := range []float64{w.Structured, w.Semantic, w.Corroboration} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("fusion weights must be finite and non-negative: %+v", w)
		}
	}
	if w.Structured <= w.Semantic {
		return fmt.Errorf("structured weight %.3f must exceed semantic weight %.3f", w.Structured, w.Semantic)
	}
	if w.Corroboration <= 0 {
		return fmt.Errorf("corroboration weight must be positive")
	}
	return nil
}

// Normalized scales the weights so that they sum to 1.
func (w Weights) Normalized() Weights {
	sum := w.Structured + w.Semantic + w.Corroboration
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Structured:    w.Structured / sum,
		Semantic:      w.Semantic / sum,
		Corroboration: w.Corroboration / sum,
	}
}

// Score is the confidence of an entity. It is non-decreasing in
// sourcesCount and bestSimilarity, and a structured match alone scores
// above any semantic-only match.
func (w Weights) Score(sourcesCount int, structuredHit bool, bestSimilarity float64) float64 {
	n := w.Normalized()
	score := n.Semantic * clamp01(bestSimilarity)
	if structuredHit {
		score += n.Structured
	}
	if sourcesCount >= 2 {
		score += n.Corroboration
	}
	return clamp01(score)
}

// Score uses the default weights.
func Score(sourcesCount int, structuredHit bool, bestSimilarity float64) float64 {
	return DefaultWeights().Score(sourcesCount, structuredHit, bestSimilarity)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
