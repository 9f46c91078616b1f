package vector

import (
	"math"

	"github.com/josedab/pocket-go/pkg/errdefs"
)

// Metric selects the distance function of an index.
type Metric string

const (
	// Cosine distance: 1 - cosine similarity. Vectors are normalized at
	// comparison time, so inputs need not be unit length.
	Cosine Metric = "cosine"
	// L2 is euclidean distance.
	L2 Metric = "l2"
	// Dot is inner-product affinity, negated so smaller means closer.
	Dot Metric = "dot"
)

func (m Metric) valid() bool {
	switch m {
	case Cosine, L2, Dot:
		return true
	}
	return false
}

// Distance computes the metric's distance between two equal-length vectors.
// Smaller is always closer.
func Distance(m Metric, a, b []float32) float64 {
	switch m {
	case L2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	case Dot:
		return -dot(a, b)
	default: // Cosine
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot(a, b)/(na*nb)
	}
}

// Similarity maps a distance into a score in [0, 1], higher is better.
func Similarity(m Metric, dist float64) float64 {
	switch m {
	case L2:
		return 1 / (1 + dist)
	case Dot:
		// dist is the negated inner product; squash through a sigmoid.
		return 1 / (1 + math.Exp(dist))
	default: // Cosine, dist in [0, 2]
		return clamp01(1 - dist/2)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(a []float32) float64 {
	return math.Sqrt(dot(a, a))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// checkDimensions validates a vector against the expected dimensionality.
func checkDimensions(op string, vec []float32, dims int) error {
	if len(vec) != dims {
		return errdefs.New(errdefs.ErrInvalidArgument, op,
			"vector has %d dimensions, store expects %d", len(vec), dims)
	}
	return nil
}
