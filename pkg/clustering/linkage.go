package clustering

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Merge records one step of the agglomerative linkage. Leaf nodes carry the
// cluster labels 0..K-1; the node created by merge i gets id K+i.
type Merge struct {
	// A and B are the ids of the merged nodes
	A, B int

	// Distance is the single-linkage distance between the merged nodes
	Distance float64

	// Size is the number of leaf clusters under the new node
	Size int
}

// Linkage builds a single-linkage merge sequence over the cluster centers,
// describing how separated the clusters are from one another. The result
// has K-1 merges and drives the dendrogram rendering.
func Linkage(centroids *mat.Dense) []Merge {
	k, _ := centroids.Dims()
	if k < 2 {
		return nil
	}

	type node struct {
		id     int
		leaves []int // leaf cluster labels under this node
	}

	active := make([]node, k)
	for i := 0; i < k; i++ {
		active[i] = node{id: i, leaves: []int{i}}
	}

	merges := make([]Merge, 0, k-1)
	nextID := k

	for len(active) > 1 {
		// Find the closest pair under single linkage: the minimum
		// centroid distance across the two leaf sets.
		bestA, bestB := 0, 1
		bestDist := math.Inf(1)
		for a := 0; a < len(active); a++ {
			for b := a + 1; b < len(active); b++ {
				d := setDistance(centroids, active[a].leaves, active[b].leaves)
				if d < bestDist {
					bestDist = d
					bestA, bestB = a, b
				}
			}
		}

		na, nb := active[bestA], active[bestB]
		merged := node{
			id:     nextID,
			leaves: append(append([]int{}, na.leaves...), nb.leaves...),
		}
		nextID++

		merges = append(merges, Merge{
			A:        na.id,
			B:        nb.id,
			Distance: bestDist,
			Size:     len(merged.leaves),
		})

		// Remove the merged pair (higher index first) and add the new node.
		active = append(active[:bestB], active[bestB+1:]...)
		active = append(active[:bestA], active[bestA+1:]...)
		active = append(active, merged)
	}

	return merges
}

// setDistance returns the minimum pairwise Euclidean distance between the
// centroids of two leaf sets.
func setDistance(centroids *mat.Dense, a, b []int) float64 {
	best := math.Inf(1)
	for _, i := range a {
		for _, j := range b {
			d := euclidean(centroids.RawRowView(i), centroids.RawRowView(j))
			if d < best {
				best = d
			}
		}
	}
	return best
}

// euclidean returns the Euclidean distance between two equal-length vectors.
func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
