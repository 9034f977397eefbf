package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// blobs builds a score matrix with two well-separated groups of positions
// and a matching raw matrix whose rows carry the group id, so both the
// labels and the mean responses have a known ground truth.
func blobs(perGroup int) (scores, raw *mat.Dense) {
	n := 2 * perGroup
	scores = mat.NewDense(n, 2, nil)
	raw = mat.NewDense(n, 4, nil)
	for i := 0; i < n; i++ {
		group := i / perGroup
		jitter := 0.01 * float64(i%perGroup)
		scores.Set(i, 0, 100.0*float64(group)+jitter)
		scores.Set(i, 1, jitter)
		for j := 0; j < 4; j++ {
			raw.Set(i, j, float64(group))
		}
	}
	return scores, raw
}

func TestSegmentSeparatedBlobs(t *testing.T) {
	scores, raw := blobs(10)

	res, err := Segment(scores, raw, 2, Options{MaxIterations: 100, NumCores: 2})
	require.NoError(t, err)

	require.Len(t, res.Labels, 20)
	assert.Equal(t, []int{10, 10}, res.Sizes)

	// All positions in one blob share a label, and the blobs differ.
	first := res.Labels[0]
	for i := 1; i < 10; i++ {
		assert.Equal(t, first, res.Labels[i])
	}
	second := res.Labels[10]
	assert.NotEqual(t, first, second)
	for i := 11; i < 20; i++ {
		assert.Equal(t, second, res.Labels[i])
	}

	// Mean responses recover the constant raw rows of each blob.
	assert.InDelta(t, 0.0, res.MeanResponses.At(res.Labels[0], 0), 1e-9)
	assert.InDelta(t, 1.0, res.MeanResponses.At(res.Labels[10], 0), 1e-9)

	// Tight blobs give a small within-cluster sum of squares.
	assert.Less(t, res.WithinSS, 1.0)
}

func TestSegmentLabelsOrderedBySize(t *testing.T) {
	// 15 positions in one blob, 5 in another: the larger blob must get
	// label 0 regardless of the clusterer's internal numbering.
	n := 20
	scores := mat.NewDense(n, 1, nil)
	raw := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		if i < 15 {
			scores.Set(i, 0, 0.001*float64(i))
		} else {
			scores.Set(i, 0, 1000.0+0.001*float64(i))
		}
	}

	res, err := Segment(scores, raw, 2, Options{})
	require.NoError(t, err)

	assert.Equal(t, []int{15, 5}, res.Sizes)
	assert.Equal(t, 0, res.Labels[0])
	assert.Equal(t, 1, res.Labels[19])
}

func TestSegmentValidation(t *testing.T) {
	scores, raw := blobs(5)

	_, err := Segment(scores, raw, 1, Options{})
	assert.Error(t, err)

	_, err = Segment(scores, raw, 11, Options{})
	assert.Error(t, err)

	short := mat.NewDense(3, 4, nil)
	_, err = Segment(scores, short, 2, Options{})
	assert.Error(t, err)
}

func TestRelabelBySize(t *testing.T) {
	labels := []int{2, 2, 2, 0, 0, 1}

	relabeled, sizes := relabelBySize(labels, 3)

	assert.Equal(t, []int{3, 2, 1}, sizes)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 2}, relabeled)
}

func TestGroupMeans(t *testing.T) {
	data := mat.NewDense(4, 2, []float64{
		1, 2,
		3, 4,
		10, 20,
		30, 40,
	})
	labels := []int{0, 0, 1, 1}

	for _, cores := range []int{1, 2, 4} {
		means := groupMeans(data, labels, 2, cores)
		assert.InDelta(t, 2.0, means.At(0, 0), 1e-12)
		assert.InDelta(t, 3.0, means.At(0, 1), 1e-12)
		assert.InDelta(t, 20.0, means.At(1, 0), 1e-12)
		assert.InDelta(t, 30.0, means.At(1, 1), 1e-12)
	}
}
