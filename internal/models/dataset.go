package models

import (
	"gonum.org/v1/gonum/mat"
)

// ScanShape describes the raster grid of beam positions in a 4D-STEM
// acquisition. Positions are stored row-major: position index
// i = row*Cols + col.
type ScanShape struct {
	// Rows is the number of scan lines
	Rows int

	// Cols is the number of beam positions per scan line
	Cols int
}

// NumPositions returns the total number of beam positions in the scan.
func (s ScanShape) NumPositions() int {
	return s.Rows * s.Cols
}

// DetectorShape describes the pixel grid of the 2D detector that records
// one ronchigram per beam position.
type DetectorShape struct {
	// Rows is the number of detector rows
	Rows int

	// Cols is the number of detector columns
	Cols int
}

// NumPixels returns the total number of detector pixels per ronchigram.
func (d DetectorShape) NumPixels() int {
	return d.Rows * d.Cols
}

// DatasetInfo carries the identity and geometry of a main dataset inside
// an acquisition file. The raw data is a (positions x pixels) matrix with
// one flattened ronchigram per row.
type DatasetInfo struct {
	// Path is the acquisition file the dataset was read from
	Path string

	// Name is the HDF5 path of the main dataset within the file
	Name string

	// Scan is the beam position grid
	Scan ScanShape

	// Detector is the sensor pixel grid
	Detector DetectorShape
}

// DecompositionResult holds the output of a singular value decomposition
// of the (positions x pixels) matrix.
type DecompositionResult struct {
	// Scores is the (positions x components) spatial abundance matrix U*S.
	// Column j reshaped to the scan grid is the abundance map of
	// component j.
	Scores *mat.Dense

	// Endmembers is the (components x pixels) matrix V^T. Row j reshaped
	// to the detector grid is the characteristic pattern of component j.
	Endmembers *mat.Dense

	// Values are the singular values in descending order
	Values []float64

	// ExplainedVariance[j] is the fraction of total variance captured by
	// component j
	ExplainedVariance []float64
}

// Components returns the number of retained components.
func (r *DecompositionResult) Components() int {
	if r.Scores == nil {
		return 0
	}
	_, k := r.Scores.Dims()
	return k
}

// ClusterResult holds the output of k-means segmentation of the scan
// positions in component score space.
type ClusterResult struct {
	// Labels assigns each position a cluster index in [0, K).
	// Clusters are ordered by descending population, so label 0 is
	// always the largest cluster.
	Labels []int

	// Centroids is the (K x components) matrix of cluster centers in
	// score space
	Centroids *mat.Dense

	// MeanResponses is the (K x pixels) matrix of per-cluster mean
	// ronchigrams in detector space
	MeanResponses *mat.Dense

	// Sizes[c] is the number of positions assigned to cluster c
	Sizes []int

	// WithinSS is the total within-cluster sum of squared distances in
	// score space
	WithinSS float64
}

// K returns the number of clusters.
func (r *ClusterResult) K() int {
	return len(r.Sizes)
}
