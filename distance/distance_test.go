package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	tests := []struct {
		input    string
		expected Metric
		wantErr  bool
	}{
		{"euclidean", MetricEuclidean, false},
		{"sqeuclidean", MetricSquaredEuclidean, false},
		{"cosine", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, err := ParseMetric(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m)
			assert.Equal(t, tt.input, m.String())
		})
	}
}

func TestPairwiseKnownValues(t *testing.T) {
	embs := [][]float32{
		{0, 0},
		{3, 4},
		{0, 1},
	}

	m, err := Pairwise(embs, MetricEuclidean)
	require.NoError(t, err)
	require.Equal(t, 3, m.N())

	assert.InDelta(t, 5.0, m.At(0, 1), 1e-5)
	assert.InDelta(t, 1.0, m.At(0, 2), 1e-5)
	assert.InDelta(t, math.Sqrt(18), float64(m.At(1, 2)), 1e-5)

	sq, err := Pairwise(embs, MetricSquaredEuclidean)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, sq.At(0, 1), 1e-4)
	assert.InDelta(t, 1.0, sq.At(0, 2), 1e-5)
}

func TestPairwiseZeroDiagonal(t *testing.T) {
	// Identical vectors: the Gram expansion would give tiny negatives
	// without clamping. The diagonal and the off-diagonal entry must both be
	// exactly zero.
	embs := [][]float32{
		{0.1, 0.2, 0.30000001},
		{0.1, 0.2, 0.30000001},
	}

	for _, metric := range []Metric{MetricEuclidean, MetricSquaredEuclidean} {
		m, err := Pairwise(embs, metric)
		require.NoError(t, err)
		assert.Equal(t, float32(0), m.At(0, 0))
		assert.Equal(t, float32(0), m.At(1, 1))
		assert.Equal(t, float32(0), m.At(0, 1))
		assert.Equal(t, float32(0), m.At(1, 0))
		assert.False(t, math.IsNaN(float64(m.At(0, 1))))
	}
}

func TestPairwiseZeroVectors(t *testing.T) {
	m, err := Pairwise([][]float32{{0, 0}, {0, 0}}, MetricSquaredEuclidean)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.Equal(t, float32(0), m.At(i, j))
		}
	}
}

func TestPairwiseSymmetry(t *testing.T) {
	embs := [][]float32{
		{1, 2, 3}, {4, 5, 6}, {-1, 0, 2}, {0.5, 0.25, -3},
	}

	m, err := Pairwise(embs, MetricEuclidean)
	require.NoError(t, err)
	for i := 0; i < m.N(); i++ {
		for j := 0; j < m.N(); j++ {
			assert.Equal(t, m.At(i, j), m.At(j, i))
			assert.GreaterOrEqual(t, m.At(i, j), float32(0))
		}
	}
}

func TestPairwiseDimensionMismatch(t *testing.T) {
	_, err := Pairwise([][]float32{{1, 2}, {1, 2, 3}}, MetricEuclidean)
	var dme *DimensionMismatchError
	require.ErrorAs(t, err, &dme)
	assert.Equal(t, 2, dme.Expected)
	assert.Equal(t, 3, dme.Actual)
}

func TestPairwiseEmptyBatch(t *testing.T) {
	_, err := Pairwise(nil, MetricEuclidean)
	assert.Error(t, err)
}

func TestProviderMatchesPairwise(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-2, 0, 1}

	f, err := Provider(MetricEuclidean)
	require.NoError(t, err)
	m, err := Pairwise([][]float32{a, b}, MetricEuclidean)
	require.NoError(t, err)
	assert.InDelta(t, f(a, b), m.At(0, 1), 1e-4)
}
