// Package usid provides access to 4D-STEM acquisition files that follow the
// USID-style HDF5 layout: a main (positions x pixels) dataset accompanied by
// position and spectroscopic index tables, with analysis results written back
// into the same file as sibling groups.
package usid

import (
	"fmt"
	"path"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/hdf5"

	"stem4d/internal/models"
)

// File wraps an open acquisition file handle.
type File struct {
	// path is the file location on disk
	path string

	// f is the underlying HDF5 handle
	f *hdf5.File

	// readOnly blocks result write-back when set
	readOnly bool
}

// Open opens an acquisition file for reading and result write-back.
func Open(filePath string) (*File, error) {
	return open(filePath, hdf5.F_ACC_RDWR, false)
}

// OpenReadOnly opens an acquisition file for reading only. Write-back
// operations return an error on a read-only handle.
func OpenReadOnly(filePath string) (*File, error) {
	return open(filePath, hdf5.F_ACC_RDONLY, true)
}

func open(filePath string, flags int, readOnly bool) (*File, error) {
	if !hdf5.IsHDF5(filePath) {
		return nil, fmt.Errorf("%s is not an HDF5 file", filePath)
	}

	f, err := hdf5.OpenFile(filePath, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", filePath, err)
	}

	return &File{path: filePath, f: f, readOnly: readOnly}, nil
}

// Path returns the location of the file on disk.
func (f *File) Path() string {
	return f.path
}

// Close releases the file handle. The handle must not be used afterwards.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %v", f.path, err)
	}
	return nil
}

// WriteSVD creates a new results group next to the main dataset and stores
// the decomposition in it as U, S and V datasets. The group is named
// <main>-SVD_NNN with NNN the first unused index, and the full group path
// is returned.
func (f *File) WriteSVD(mainName string, res *models.DecompositionResult) (string, error) {
	groupPath, err := f.nextResultGroup(mainName, "SVD")
	if err != nil {
		return "", err
	}

	g, err := f.f.CreateGroup(groupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create group %s: %v", groupPath, err)
	}
	defer g.Close()

	if err := writeMatrix(g, "U", res.Scores); err != nil {
		return "", err
	}
	if err := writeVector(g, "S", res.Values); err != nil {
		return "", err
	}
	if err := writeMatrix(g, "V", res.Endmembers); err != nil {
		return "", err
	}

	return groupPath, nil
}

// WriteClusters creates a new results group next to the main dataset and
// stores the segmentation in it as Labels, Mean_Response and Centroids
// datasets. The group is named <main>-Cluster_NNN and the full group path
// is returned.
func (f *File) WriteClusters(mainName string, res *models.ClusterResult) (string, error) {
	groupPath, err := f.nextResultGroup(mainName, "Cluster")
	if err != nil {
		return "", err
	}

	g, err := f.f.CreateGroup(groupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create group %s: %v", groupPath, err)
	}
	defer g.Close()

	labels := make([]uint32, len(res.Labels))
	for i, l := range res.Labels {
		labels[i] = uint32(l)
	}
	if err := writeUintVector(g, "Labels", labels); err != nil {
		return "", err
	}
	if err := writeMatrix(g, "Mean_Response", res.MeanResponses); err != nil {
		return "", err
	}
	if err := writeMatrix(g, "Centroids", res.Centroids); err != nil {
		return "", err
	}

	return groupPath, nil
}

// nextResultGroup finds the first unused <main>-<kind>_NNN group path.
func (f *File) nextResultGroup(mainName, kind string) (string, error) {
	if f.readOnly {
		return "", fmt.Errorf("cannot write results: %s opened read-only", f.path)
	}

	parent := path.Dir(mainName)
	base := path.Base(mainName)

	for i := 0; i < 1000; i++ {
		candidate := path.Join(parent, fmt.Sprintf("%s-%s_%03d", base, kind, i))
		g, err := f.f.OpenGroup(candidate)
		if err != nil {
			// First unused index.
			return candidate, nil
		}
		g.Close()
	}

	return "", fmt.Errorf("no free %s result index under %s", kind, parent)
}

// writeMatrix stores a dense matrix as a 2D float64 dataset, row-major.
func writeMatrix(g *hdf5.Group, name string, m *mat.Dense) error {
	rows, cols := m.Dims()
	flat := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		copy(flat[i*cols:(i+1)*cols], m.RawRowView(i))
	}

	space, err := hdf5.CreateSimpleDataspace([]uint{uint(rows), uint(cols)}, nil)
	if err != nil {
		return fmt.Errorf("failed to create dataspace for %s: %v", name, err)
	}
	defer space.Close()

	dset, err := g.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return fmt.Errorf("failed to create dataset %s: %v", name, err)
	}
	defer dset.Close()

	if err := dset.Write(&flat); err != nil {
		return fmt.Errorf("failed to write dataset %s: %v", name, err)
	}
	return nil
}

// writeVector stores a float64 slice as a 1D dataset.
func writeVector(g *hdf5.Group, name string, v []float64) error {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(v))}, nil)
	if err != nil {
		return fmt.Errorf("failed to create dataspace for %s: %v", name, err)
	}
	defer space.Close()

	dset, err := g.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return fmt.Errorf("failed to create dataset %s: %v", name, err)
	}
	defer dset.Close()

	if err := dset.Write(&v); err != nil {
		return fmt.Errorf("failed to write dataset %s: %v", name, err)
	}
	return nil
}

// writeUintVector stores a uint32 slice as a 1D dataset.
func writeUintVector(g *hdf5.Group, name string, v []uint32) error {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(v))}, nil)
	if err != nil {
		return fmt.Errorf("failed to create dataspace for %s: %v", name, err)
	}
	defer space.Close()

	dset, err := g.CreateDataset(name, hdf5.T_NATIVE_UINT32, space)
	if err != nil {
		return fmt.Errorf("failed to create dataset %s: %v", name, err)
	}
	defer dset.Close()

	if err := dset.Write(&v); err != nil {
		return fmt.Errorf("failed to write dataset %s: %v", name, err)
	}
	return nil
}
