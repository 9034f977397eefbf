package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLinkageThreeCentroids(t *testing.T) {
	// Centroids on a line at 0, 1 and 10: the first merge joins C0 and C1
	// at distance 1, the second joins that pair with C2 at single-linkage
	// distance 9.
	centroids := mat.NewDense(3, 1, []float64{0, 1, 10})

	merges := Linkage(centroids)
	require.Len(t, merges, 2)

	first := merges[0]
	assert.ElementsMatch(t, []int{0, 1}, []int{first.A, first.B})
	assert.InDelta(t, 1.0, first.Distance, 1e-12)
	assert.Equal(t, 2, first.Size)

	second := merges[1]
	// Node 3 is the cluster created by the first merge.
	assert.ElementsMatch(t, []int{2, 3}, []int{second.A, second.B})
	assert.InDelta(t, 9.0, second.Distance, 1e-12)
	assert.Equal(t, 3, second.Size)
}

func TestLinkageDistancesNondecreasing(t *testing.T) {
	centroids := mat.NewDense(5, 2, []float64{
		0, 0,
		0.5, 0,
		4, 4,
		4.5, 4,
		-10, 3,
	})

	merges := Linkage(centroids)
	require.Len(t, merges, 4)

	for i := 1; i < len(merges); i++ {
		assert.GreaterOrEqual(t, merges[i].Distance, merges[i-1].Distance)
	}
}

func TestLinkageSingleCluster(t *testing.T) {
	centroids := mat.NewDense(1, 3, []float64{1, 2, 3})
	assert.Nil(t, Linkage(centroids))
}

func TestEuclidean(t *testing.T) {
	assert.InDelta(t, 5.0, euclidean([]float64{0, 0}, []float64{3, 4}), 1e-12)
	assert.InDelta(t, 0.0, euclidean([]float64{1, 1}, []float64{1, 1}), 1e-12)
}
