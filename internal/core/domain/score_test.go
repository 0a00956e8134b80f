package domain

import (
	"math"
	"testing"
)

func TestScoreOrderingContract(t *testing.T) {
	structuredOnly := Score(1, true, 0)
	for _, sim := range []float64{0, 0.25, 0.5, 0.75, 1} {
		semanticOnly := Score(1, false, sim)
		both := Score(2, true, sim)
		if semanticOnly >= structuredOnly {
			t.Fatalf("semantic-only %v must stay below structured-only %v", semanticOnly, structuredOnly)
		}
		if both <= structuredOnly || both <= semanticOnly {
			t.Fatalf("corroborated %v must exceed single-source scores", both)
		}
		if both < 0 || both > 1 {
			t.Fatalf("score %v out of [0,1]", both)
		}
	}
}

func TestScoreMonotonicInSimilarity(t *testing.T) {
	prev := -1.0
	for sim := 0.0; sim <= 1.0; sim += 0.1 {
		s := Score(1, false, sim)
		if s < prev {
			t.Fatalf("score decreased at similarity %v", sim)
		}
		prev = s
	}
}

func TestScoreClampsSimilarity(t *testing.T) {
	if got := Score(1, false, 7); got != Score(1, false, 1) {
		t.Fatalf("expected similarity above 1 to clamp, got %v", got)
	}
	if got := Score(1, false, math.NaN()); got != 0 {
		t.Fatalf("expected NaN similarity to score 0, got %v", got)
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights rejected: %v", err)
	}
	bad := []Weights{
		{Structured: 0.3, Semantic: 0.3, Corroboration: 0.4},
		{Structured: 0.7, Semantic: 0.3, Corroboration: 0},
		{Structured: -1, Semantic: 0.3, Corroboration: 0.2},
	}
	for _, w := range bad {
		if err := w.Validate(); err == nil {
			t.Fatalf("expected %+v to be rejected", w)
		}
	}
}

func TestWeightsNormalized(t *testing.T) {
	n := Weights{Structured: 5, Semantic: 3, Corroboration: 2}.Normalized()
	if math.Abs(n.Structured+n.Semantic+n.Corroboration-1) > 1e-9 {
		t.Fatalf("normalized weights must sum to 1, got %+v", n)
	}
	if math.Abs(n.Structured-0.5) > 1e-9 {
		t.Fatalf("unexpected structured weight %v", n.Structured)
	}
}

func TestSimilarityPerMetric(t *testing.T) {
	cases := []struct {
		metric   Metric
		distance float64
		want     float64
	}{
		{MetricCosine, 0, 1},
		{MetricCosine, 0.25, 0.75},
		{MetricCosine, 1.5, 0},
		{MetricCosine, -0.2, 1},
		{MetricDot, 0.4, 0.6},
		{MetricL2, 0, 1},
		{MetricL2, 1, 0.5},
		{MetricL2, -3, 1},
		{MetricL2, math.NaN(), 0},
	}
	for _, tc := range cases {
		if got := Similarity(tc.metric, tc.distance); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Similarity(%s, %v) = %v, want %v", tc.metric, tc.distance, got, tc.want)
		}
	}
}
