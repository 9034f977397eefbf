// Package decomposition reduces the (positions x pixels) matrix of a 4D-STEM
// dataset to a small number of orthogonal components via singular value
// decomposition. Column j of the score matrix reshaped to the scan grid is
// the spatial abundance map of component j; row j of the endmember matrix
// reshaped to the detector grid is its characteristic diffraction pattern.
package decomposition

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"stem4d/internal/models"
)

// Options controls the decomposition.
type Options struct {
	// MaxComponents is the number of components to retain. Values larger
	// than min(positions, pixels) are clamped.
	MaxComponents int

	// MeanCenter subtracts the per-pixel mean response before factorizing,
	// so the first component captures variance rather than the mean signal.
	MeanCenter bool
}

// Decompose factorizes the (positions x pixels) matrix with a thin SVD and
// returns the retained components.
func Decompose(data *mat.Dense, opts Options) (*models.DecompositionResult, error) {
	rows, cols := data.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("cannot decompose an empty %dx%d matrix", rows, cols)
	}

	minDim := rows
	if cols < minDim {
		minDim = cols
	}
	k := opts.MaxComponents
	if k <= 0 || k > minDim {
		k = minDim
	}

	a := data
	if opts.MeanCenter {
		centered := mat.DenseCopyOf(data)
		meanPixel := columnMeans(data)
		for i := 0; i < rows; i++ {
			row := centered.RawRowView(i)
			for j := range row {
				row[j] -= meanPixel[j]
			}
		}
		a = centered
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD factorization of %dx%d matrix did not converge", rows, cols)
	}

	values := svd.Values(nil)

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// Scores are U*Sigma so that row i holds the weights of position i in
	// each component, on the scale of the data.
	scores := mat.NewDense(rows, k, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < k; j++ {
			scores.Set(i, j, u.At(i, j)*values[j])
		}
	}

	// Endmembers are V^T truncated to the retained components.
	endmembers := mat.NewDense(k, cols, nil)
	for j := 0; j < k; j++ {
		for p := 0; p < cols; p++ {
			endmembers.Set(j, p, v.At(p, j))
		}
	}

	total := 0.0
	for _, s := range values {
		total += s * s
	}
	explained := make([]float64, k)
	if total > 0 {
		for j := 0; j < k; j++ {
			explained[j] = values[j] * values[j] / total
		}
	}

	return &models.DecompositionResult{
		Scores:            scores,
		Endmembers:        endmembers,
		Values:            values[:k],
		ExplainedVariance: explained,
	}, nil
}

// TruncatedScores returns the leading k columns of the score matrix as the
// feature matrix for clustering. k values beyond the retained component
// count are clamped.
func TruncatedScores(res *models.DecompositionResult, k int) *mat.Dense {
	rows, cols := res.Scores.Dims()
	if k <= 0 || k > cols {
		k = cols
	}
	return res.Scores.Slice(0, rows, 0, k).(*mat.Dense)
}

// ReconstructionRMSE measures the root mean square error of the rank-k
// reconstruction Scores[:, :k] * Endmembers[:k, :] against the raw data.
func ReconstructionRMSE(data *mat.Dense, res *models.DecompositionResult, k int) float64 {
	rows, cols := data.Dims()
	_, kept := res.Scores.Dims()
	if k <= 0 || k > kept {
		k = kept
	}

	scores := res.Scores.Slice(0, rows, 0, k)
	endmembers := res.Endmembers.Slice(0, k, 0, cols)

	var approx mat.Dense
	approx.Mul(scores, endmembers)

	sum := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			diff := data.At(i, j) - approx.At(i, j)
			sum += diff * diff
		}
	}

	return math.Sqrt(sum / float64(rows*cols))
}

// MeanResponse computes the mean detector response over all scan positions,
// dividing the position range across numCores goroutines.
func MeanResponse(data *mat.Dense, numCores int) []float64 {
	rows, cols := data.Dims()
	if numCores < 1 {
		numCores = 1
	}

	partials := make([][]float64, numCores)
	rowsPerCore := (rows + numCores - 1) / numCores

	var wg sync.WaitGroup
	for c := 0; c < numCores; c++ {
		wg.Add(1)

		go func(coreID int) {
			defer wg.Done()

			start := coreID * rowsPerCore
			end := (coreID + 1) * rowsPerCore
			if end > rows {
				end = rows
			}
			if start >= rows {
				return
			}

			sum := make([]float64, cols)
			for i := start; i < end; i++ {
				row := data.RawRowView(i)
				for j, v := range row {
					sum[j] += v
				}
			}
			partials[coreID] = sum
		}(c)
	}
	wg.Wait()

	mean := make([]float64, cols)
	for _, sum := range partials {
		if sum == nil {
			continue
		}
		for j, v := range sum {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(rows)
	}

	return mean
}

// columnMeans returns the per-column mean of a matrix.
func columnMeans(data *mat.Dense) []float64 {
	rows, cols := data.Dims()
	means := make([]float64, cols)
	for i := 0; i < rows; i++ {
		row := data.RawRowView(i)
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(rows)
	}
	return means
}
