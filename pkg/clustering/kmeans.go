// Package clustering segments scan positions into groups with similar
// detector response. Positions are clustered with k-means in the reduced
// component score space, and cluster separations are summarized by an
// agglomerative linkage over the cluster centers.
package clustering

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mpraski/clusters"
	"gonum.org/v1/gonum/mat"

	"stem4d/internal/models"
)

// Options controls the segmentation.
type Options struct {
	// MaxIterations bounds the k-means iteration count
	MaxIterations int

	// NumCores specifies how many CPU cores to use when computing the
	// per-cluster mean responses
	NumCores int
}

// DefaultMaxIterations is used when Options.MaxIterations is not set.
const DefaultMaxIterations = 300

// Segment clusters the rows of the score matrix into k groups with k-means
// and returns labels ordered by descending cluster population, so label 0 is
// always the largest group. The raw (positions x pixels) matrix supplies the
// per-cluster mean detector responses.
func Segment(scores, raw *mat.Dense, k int, opts Options) (*models.ClusterResult, error) {
	rows, _ := scores.Dims()
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 clusters, got %d", k)
	}
	if k > rows {
		return nil, fmt.Errorf("cannot split %d positions into %d clusters", rows, k)
	}
	rawRows, _ := raw.Dims()
	if rawRows != rows {
		return nil, fmt.Errorf("score matrix has %d positions but raw matrix has %d", rows, rawRows)
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	// Hand the feature matrix to the k-means implementation.
	features := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		features[i] = scores.RawRowView(i)
	}

	c, err := clusters.KMeans(maxIter, k, clusters.EuclideanDistance)
	if err != nil {
		return nil, fmt.Errorf("failed to create k-means clusterer: %v", err)
	}
	if err := c.Learn(features); err != nil {
		return nil, fmt.Errorf("k-means clustering failed: %v", err)
	}

	// Guesses are 1-based cluster numbers.
	labels := make([]int, rows)
	for i, guess := range c.Guesses() {
		if guess < 1 || guess > k {
			return nil, fmt.Errorf("k-means returned label %d for position %d, want [1, %d]", guess, i, k)
		}
		labels[i] = guess - 1
	}

	labels, sizes := relabelBySize(labels, k)
	for cl, size := range sizes {
		if size == 0 {
			return nil, fmt.Errorf("k-means produced an empty cluster (%d of %d)", cl, k)
		}
	}

	centroids := groupMeans(scores, labels, k, 1)

	return &models.ClusterResult{
		Labels:        labels,
		Centroids:     centroids,
		MeanResponses: groupMeans(raw, labels, k, opts.NumCores),
		Sizes:         sizes,
		WithinSS:      withinSS(scores, labels, centroids),
	}, nil
}

// relabelBySize renumbers cluster labels in descending population order and
// returns the renumbered labels with the matching size table.
func relabelBySize(labels []int, k int) ([]int, []int) {
	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] > counts[order[b]]
	})

	remap := make([]int, k)
	sizes := make([]int, k)
	for newLabel, oldLabel := range order {
		remap[oldLabel] = newLabel
		sizes[newLabel] = counts[oldLabel]
	}

	relabeled := make([]int, len(labels))
	for i, l := range labels {
		relabeled[i] = remap[l]
	}

	return relabeled, sizes
}

// groupMeans computes the per-cluster mean row of a matrix, fanning the
// clusters out across numCores goroutines.
func groupMeans(data *mat.Dense, labels []int, k, numCores int) *mat.Dense {
	rows, cols := data.Dims()
	means := mat.NewDense(k, cols, nil)

	if numCores < 1 {
		numCores = 1
	}
	if numCores > k {
		numCores = k
	}

	var wg sync.WaitGroup
	clusterChan := make(chan int, k)
	for cl := 0; cl < k; cl++ {
		clusterChan <- cl
	}
	close(clusterChan)

	for c := 0; c < numCores; c++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for cl := range clusterChan {
				sum := make([]float64, cols)
				count := 0
				for i := 0; i < rows; i++ {
					if labels[i] != cl {
						continue
					}
					row := data.RawRowView(i)
					for j, v := range row {
						sum[j] += v
					}
					count++
				}
				if count > 0 {
					for j := range sum {
						sum[j] /= float64(count)
					}
				}
				means.SetRow(cl, sum)
			}
		}()
	}
	wg.Wait()

	return means
}

// withinSS sums the squared distances of positions to their cluster centers.
func withinSS(scores *mat.Dense, labels []int, centroids *mat.Dense) float64 {
	rows, cols := scores.Dims()
	total := 0.0
	for i := 0; i < rows; i++ {
		row := scores.RawRowView(i)
		center := centroids.RawRowView(labels[i])
		for j := 0; j < cols; j++ {
			diff := row[j] - center[j]
			total += diff * diff
		}
	}
	return total
}
