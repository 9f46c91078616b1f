package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineDistance(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	assert.InDelta(t, 0, Distance(Cosine, a, a), 1e-9)
	assert.InDelta(t, 1, Distance(Cosine, a, b), 1e-9)
	assert.InDelta(t, 2, Distance(Cosine, a, []float32{-1, 0, 0}), 1e-9)

	// Normalization happens at comparison time.
	assert.InDelta(t, 0, Distance(Cosine, a, []float32{5, 0, 0}), 1e-9)
}

func TestL2Distance(t *testing.T) {
	assert.InDelta(t, 5, Distance(L2, []float32{0, 0}, []float32{3, 4}), 1e-9)
	assert.InDelta(t, 0, Distance(L2, []float32{1, 2}, []float32{1, 2}), 1e-9)
}

func TestDotDistanceOrdersByAffinity(t *testing.T) {
	q := []float32{1, 1}
	strong := Distance(Dot, q, []float32{2, 2})
	weak := Distance(Dot, q, []float32{0.1, 0.1})
	assert.Less(t, strong, weak, "higher inner product must mean smaller distance")
}

func TestSimilarityInUnitRange(t *testing.T) {
	for _, m := range []Metric{Cosine, L2, Dot} {
		for _, d := range []float64{0, 0.5, 1, 2, 10} {
			s := Similarity(m, d)
			assert.GreaterOrEqual(t, s, 0.0, "metric %s dist %v", m, d)
			assert.LessOrEqual(t, s, 1.0, "metric %s dist %v", m, d)
		}
	}

	// Identical vectors score 1 under cosine.
	assert.InDelta(t, 1, Similarity(Cosine, 0), 1e-9)
	// L2 similarity decays with distance.
	assert.Greater(t, Similarity(L2, 0.1), Similarity(L2, 5.0))
}
