// Package distance provides distance metrics over embedding vectors and the
// pairwise distance matrix used for in-batch mining.
package distance

import (
	"fmt"
	"math"

	"github.com/embedkit/trihard/internal/vecmath"
)

// Metric represents the distance metric used for embedding comparison.
type Metric int

const (
	// MetricEuclidean is the non-squared L2 distance.
	MetricEuclidean Metric = iota
	// MetricSquaredEuclidean is the squared L2 distance.
	MetricSquaredEuclidean
)

func (m Metric) String() string {
	switch m {
	case MetricEuclidean:
		return "euclidean"
	case MetricSquaredEuclidean:
		return "sqeuclidean"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// ParseMetric parses a metric name as used on the command line.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "euclidean":
		return MetricEuclidean, nil
	case "sqeuclidean":
		return MetricSquaredEuclidean, nil
	default:
		return 0, fmt.Errorf("unsupported metric: %q", s)
	}
}

// Func is a function type for distance calculation between two vectors.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricEuclidean:
		return func(a, b []float32) float32 {
			return float32(math.Sqrt(float64(max(vecmath.SquaredL2(a, b), 0))))
		}, nil
	case MetricSquaredEuclidean:
		return func(a, b []float32) float32 {
			return max(vecmath.SquaredL2(a, b), 0)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// DimensionMismatchError indicates inconsistent embedding dimensions.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	Row      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch at row %d: expected %d, got %d", e.Row, e.Expected, e.Actual)
}

// Matrix is a dense N×N distance matrix, row-major.
type Matrix struct {
	n    int
	data []float32
}

// N returns the number of rows (and columns).
func (m *Matrix) N() int { return m.n }

// At returns the distance between rows i and j.
func (m *Matrix) At(i, j int) float32 {
	return m.data[i*m.n+j]
}

// Row returns row i as a slice view. The slice must not be modified.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.n : (i+1)*m.n]
}

// Pairwise computes the full pairwise distance matrix over a batch of
// embeddings under the given metric.
//
// Squared distances come from the expansion ‖a‖² + ‖b‖² − 2·a·b, clamped at
// zero before any square root so floating-point noise can never produce a
// negative entry or a NaN. The diagonal is forced to exactly zero and the
// matrix is exactly symmetric.
func Pairwise(embeddings [][]float32, metric Metric) (*Matrix, error) {
	n := len(embeddings)
	if n == 0 {
		return nil, fmt.Errorf("pairwise distance over empty batch")
	}

	dim := len(embeddings[0])
	for i, e := range embeddings {
		if len(e) != dim {
			return nil, &DimensionMismatchError{Expected: dim, Actual: len(e), Row: i}
		}
	}
	if _, err := Provider(metric); err != nil {
		return nil, err
	}

	norms := make([]float32, n)
	for i, e := range embeddings {
		norms[i] = vecmath.Dot(e, e)
	}

	m := &Matrix{n: n, data: make([]float32, n*n)}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := norms[i] + norms[j] - 2*vecmath.Dot(embeddings[i], embeddings[j])
			if d < 0 {
				d = 0
			}
			if metric == MetricEuclidean {
				d = float32(math.Sqrt(float64(d)))
			}
			m.data[i*n+j] = d
			m.data[j*n+i] = d
		}
	}

	return m, nil
}
