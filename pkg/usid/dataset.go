package usid

import (
	"fmt"
	"math"
	"path"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/hdf5"

	"stem4d/internal/models"
)

// DefaultMainDataset is the conventional location of the raw 4D-STEM data
// inside an acquisition file.
const DefaultMainDataset = "Measurement_000/Channel_000/Raw_Data"

// meanResponseDataset is the conventional name of the precomputed mean
// detector response stored next to the main dataset.
const meanResponseDataset = "Mean_Ronchigram"

// MainDataset is a handle on the (positions x pixels) raw dataset plus the
// scan and detector geometry recovered from its index tables.
type MainDataset struct {
	file *File
	name string
	info models.DatasetInfo
}

// Main opens the named main dataset and recovers its geometry from the
// Position_Indices and Spectroscopic_Indices tables. When the index tables
// are absent, square scan and detector grids are inferred from the dataset
// extents.
func (f *File) Main(name string) (*MainDataset, error) {
	if name == "" {
		name = DefaultMainDataset
	}

	dset, err := f.f.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %v", name, err)
	}
	defer dset.Close()

	rows, cols, err := datasetDims(dset)
	if err != nil {
		return nil, fmt.Errorf("failed to read extents of %s: %v", name, err)
	}

	md := &MainDataset{
		file: f,
		name: name,
		info: models.DatasetInfo{
			Path: f.path,
			Name: name,
		},
	}

	parent := path.Dir(name)

	// Scan geometry from the position index table, detector geometry from
	// the spectroscopic index table. Both tables store 0-based indices, so
	// the grid extent along each dimension is max+1.
	scanDims, err := f.indexExtents(path.Join(parent, "Position_Indices"))
	if err == nil && len(scanDims) == 2 {
		md.info.Scan = models.ScanShape{Rows: scanDims[1], Cols: scanDims[0]}
	} else {
		side := int(math.Round(math.Sqrt(float64(rows))))
		if side*side != rows {
			return nil, fmt.Errorf("cannot infer scan shape for %s: %d positions is not a square grid and no Position_Indices table found", name, rows)
		}
		md.info.Scan = models.ScanShape{Rows: side, Cols: side}
	}

	detDims, err := f.indexExtents(path.Join(parent, "Spectroscopic_Indices"))
	if err == nil && len(detDims) == 2 {
		md.info.Detector = models.DetectorShape{Rows: detDims[1], Cols: detDims[0]}
	} else {
		side := int(math.Round(math.Sqrt(float64(cols))))
		if side*side != cols {
			return nil, fmt.Errorf("cannot infer detector shape for %s: %d pixels is not a square grid and no Spectroscopic_Indices table found", name, cols)
		}
		md.info.Detector = models.DetectorShape{Rows: side, Cols: side}
	}

	if md.info.Scan.NumPositions() != rows {
		return nil, fmt.Errorf("scan grid %dx%d does not match %d positions in %s",
			md.info.Scan.Rows, md.info.Scan.Cols, rows, name)
	}
	if md.info.Detector.NumPixels() != cols {
		return nil, fmt.Errorf("detector grid %dx%d does not match %d pixels in %s",
			md.info.Detector.Rows, md.info.Detector.Cols, cols, name)
	}

	return md, nil
}

// Info returns the dataset identity and geometry.
func (md *MainDataset) Info() models.DatasetInfo {
	return md.info
}

// ReadAll loads the full (positions x pixels) matrix into memory.
func (md *MainDataset) ReadAll() (*mat.Dense, error) {
	dset, err := md.file.f.OpenDataset(md.name)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %v", md.name, err)
	}
	defer dset.Close()

	rows := md.info.Scan.NumPositions()
	cols := md.info.Detector.NumPixels()

	flat := make([]float64, rows*cols)
	if err := dset.Read(&flat); err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %v", md.name, err)
	}

	return mat.NewDense(rows, cols, flat), nil
}

// ReadPosition reads the flattened ronchigram recorded at one scan position
// without loading the rest of the dataset.
func (md *MainDataset) ReadPosition(i int) ([]float64, error) {
	rows := md.info.Scan.NumPositions()
	cols := md.info.Detector.NumPixels()
	if i < 0 || i >= rows {
		return nil, fmt.Errorf("position %d out of range [0, %d)", i, rows)
	}

	dset, err := md.file.f.OpenDataset(md.name)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %v", md.name, err)
	}
	defer dset.Close()

	filespace := dset.Space()
	defer filespace.Close()

	offset := []uint{uint(i), 0}
	count := []uint{1, uint(cols)}
	if err := filespace.SelectHyperslab(offset, nil, count, nil); err != nil {
		return nil, fmt.Errorf("failed to select position %d in %s: %v", i, md.name, err)
	}

	memspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory dataspace: %v", err)
	}
	defer memspace.Close()

	buf := make([]float64, cols)
	if err := dset.ReadSubset(&buf, memspace, filespace); err != nil {
		return nil, fmt.Errorf("failed to read position %d from %s: %v", i, md.name, err)
	}

	return buf, nil
}

// MeanResponse returns the precomputed mean detector response stored next to
// the main dataset. The second return value reports whether the dataset was
// present; callers fall back to computing the mean from the raw matrix when
// it is not.
func (md *MainDataset) MeanResponse() ([]float64, bool, error) {
	name := path.Join(path.Dir(md.name), meanResponseDataset)

	dset, err := md.file.f.OpenDataset(name)
	if err != nil {
		return nil, false, nil
	}
	defer dset.Close()

	pixels := md.info.Detector.NumPixels()
	buf := make([]float64, pixels)
	if err := dset.Read(&buf); err != nil {
		return nil, true, fmt.Errorf("failed to read %s: %v", name, err)
	}

	return buf, true, nil
}

// datasetDims returns the row and column extents of a 2D dataset.
func datasetDims(dset *hdf5.Dataset) (int, int, error) {
	space := dset.Space()
	defer space.Close()

	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return 0, 0, err
	}
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("expected a 2D dataset, got rank %d", len(dims))
	}

	return int(dims[0]), int(dims[1]), nil
}

// indexExtents reads an index table and returns the grid extent (max
// index + 1) of each indexed dimension. Index tables are stored with one
// column per dimension and one row per position (or transposed for the
// spectroscopic table); the shorter extent is taken as the dimension count.
func (f *File) indexExtents(name string) ([]int, error) {
	dset, err := f.f.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open index table %s: %v", name, err)
	}
	defer dset.Close()

	rows, cols, err := datasetDims(dset)
	if err != nil {
		return nil, fmt.Errorf("failed to read extents of %s: %v", name, err)
	}

	flat := make([]uint32, rows*cols)
	if err := dset.Read(&flat); err != nil {
		return nil, fmt.Errorf("failed to read index table %s: %v", name, err)
	}

	// One row per position: element (d, j) lives at flat[j*cols+d].
	nDims, dimStride, rowStride := cols, 1, cols
	if rows < cols {
		// Transposed layout (spectroscopic tables): one row per dimension.
		nDims, dimStride, rowStride = rows, cols, 1
	}

	extents := make([]int, nDims)
	for d := 0; d < nDims; d++ {
		maxIdx := uint32(0)
		n := len(flat) / nDims
		for j := 0; j < n; j++ {
			v := flat[d*dimStride+j*rowStride]
			if v > maxIdx {
				maxIdx = v
			}
		}
		extents[d] = int(maxIdx) + 1
	}

	return extents, nil
}
