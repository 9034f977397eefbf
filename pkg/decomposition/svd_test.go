package decomposition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// rankTwoMatrix builds a (positions x pixels) matrix from two orthogonal
// detector patterns with known spatial weights, so the decomposition has an
// exactly rank-2 ground truth.
func rankTwoMatrix(positions, pixels int) *mat.Dense {
	data := mat.NewDense(positions, pixels, nil)
	for i := 0; i < positions; i++ {
		w1 := 1.0 + float64(i%7)
		w2 := float64(i % 3)
		for j := 0; j < pixels; j++ {
			// Pattern 1 lights even pixels, pattern 2 odd pixels.
			if j%2 == 0 {
				data.Set(i, j, w1)
			} else {
				data.Set(i, j, w2)
			}
		}
	}
	return data
}

func TestDecomposeRankTwo(t *testing.T) {
	data := rankTwoMatrix(36, 16)

	res, err := Decompose(data, Options{MaxComponents: 5})
	require.NoError(t, err)

	rows, cols := res.Scores.Dims()
	assert.Equal(t, 36, rows)
	assert.Equal(t, 5, cols)

	eRows, eCols := res.Endmembers.Dims()
	assert.Equal(t, 5, eRows)
	assert.Equal(t, 16, eCols)

	require.Len(t, res.Values, 5)
	require.Len(t, res.ExplainedVariance, 5)

	// The data is rank 2, so the first two components capture everything.
	assert.InDelta(t, 1.0, res.ExplainedVariance[0]+res.ExplainedVariance[1], 1e-9)
	for j := 2; j < 5; j++ {
		assert.InDelta(t, 0.0, res.ExplainedVariance[j], 1e-9)
	}

	// Singular values are in descending order.
	for j := 1; j < len(res.Values); j++ {
		assert.LessOrEqual(t, res.Values[j], res.Values[j-1])
	}
}

func TestDecomposeReconstruction(t *testing.T) {
	data := rankTwoMatrix(24, 9)

	res, err := Decompose(data, Options{MaxComponents: 4})
	require.NoError(t, err)

	// Rank-2 reconstruction of rank-2 data is exact.
	assert.InDelta(t, 0.0, ReconstructionRMSE(data, res, 2), 1e-9)

	// Rank-1 reconstruction loses the second component.
	assert.Greater(t, ReconstructionRMSE(data, res, 1), 1e-6)
}

func TestDecomposeClampsComponents(t *testing.T) {
	data := rankTwoMatrix(10, 4)

	res, err := Decompose(data, Options{MaxComponents: 100})
	require.NoError(t, err)

	// min(positions, pixels) bounds the component count.
	assert.Equal(t, 4, res.Components())
}

func TestDecomposeMeanCenter(t *testing.T) {
	data := rankTwoMatrix(20, 8)

	res, err := Decompose(data, Options{MaxComponents: 4, MeanCenter: true})
	require.NoError(t, err)

	// Centering must not mutate the input matrix.
	assert.Equal(t, 1.0, data.At(0, 0))

	// Centered data of an exactly rank-2 matrix has rank at most 2.
	assert.InDelta(t, 0.0, res.ExplainedVariance[2], 1e-9)
}

func TestTruncatedScores(t *testing.T) {
	data := rankTwoMatrix(12, 6)

	res, err := Decompose(data, Options{MaxComponents: 4})
	require.NoError(t, err)

	scores := TruncatedScores(res, 2)
	rows, cols := scores.Dims()
	assert.Equal(t, 12, rows)
	assert.Equal(t, 2, cols)

	// Out-of-range counts clamp to the retained components.
	scores = TruncatedScores(res, 50)
	_, cols = scores.Dims()
	assert.Equal(t, 4, cols)
}

func TestMeanResponseMatchesSerial(t *testing.T) {
	data := rankTwoMatrix(31, 10)

	want := MeanResponse(data, 1)
	for _, cores := range []int{2, 4, 8, 100} {
		got := MeanResponse(data, cores)
		require.Len(t, got, 10)
		for j := range want {
			assert.InDelta(t, want[j], got[j], 1e-12, "cores=%d pixel=%d", cores, j)
		}
	}
}
