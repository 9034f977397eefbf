package analysis

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/hdf5"
)

// The detector is deliberately larger than the scan so that detector-space
// vectors (one value per pixel) and scan-space vectors (one value per
// position) cannot be confused by length.
const (
	testScan = 4 // 4x4 scan grid, 16 positions
	testDet  = 8 // 8x8 detector, 64 pixels
)

// createAcquisitionFile writes a synthetic two-phase dataset: the first half
// of the scan positions carry an even-pixel pattern, the second half an
// odd-pixel pattern, so SVD needs two components and k-means with k=2 splits
// the scan in half.
func createAcquisitionFile(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "acquisition.h5")
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	defer f.Close()

	meas, err := f.CreateGroup("Measurement_000")
	if err != nil {
		t.Fatalf("Failed to create measurement group: %v", err)
	}
	defer meas.Close()

	chan0, err := meas.CreateGroup("Channel_000")
	if err != nil {
		t.Fatalf("Failed to create channel group: %v", err)
	}
	defer chan0.Close()

	nPos := testScan * testScan
	nPix := testDet * testDet

	raw := make([]float64, nPos*nPix)
	for i := 0; i < nPos; i++ {
		phase := 0
		if i >= nPos/2 {
			phase = 1
		}
		for j := 0; j < nPix; j++ {
			if j%2 == phase {
				raw[i*nPix+j] = 10 + 0.01*float64(i)
			}
		}
	}

	space, err := hdf5.CreateSimpleDataspace([]uint{uint(nPos), uint(nPix)}, nil)
	if err != nil {
		t.Fatalf("Failed to create dataspace: %v", err)
	}
	defer space.Close()

	dset, err := chan0.CreateDataset("Raw_Data", hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	defer dset.Close()

	if err := dset.Write(&raw); err != nil {
		t.Fatalf("Failed to write dataset: %v", err)
	}

	// No index tables: geometry falls back to square grid inference.
	return path
}

// TestPipeline runs the full analysis over a generated acquisition file.
// This test verifies that the entire pipeline can run without errors.
func TestPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir, err := os.MkdirTemp("", "stem4d-analysis-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	inputFile := createAcquisitionFile(t, tmpDir)
	resultsDir := filepath.Join(tmpDir, "results")

	params := &Params{
		InputFile:               inputFile,
		NumComponents:           4,
		ScoreComponents:         2,
		NumClusters:             2,
		MaxIterations:           100,
		NumCores:                2,
		ResultsDir:              resultsDir,
		SaveIntermediaryResults: true,
		WriteBack:               true,
	}

	analyzer := NewAnalyzer(params)
	defer analyzer.Close()

	if err := analyzer.Process(); err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}

	t.Run("Metrics", func(t *testing.T) {
		metrics := analyzer.GetMetrics()

		// The data is exactly rank 2, so 4 components capture everything.
		if metrics.ExplainedVariance < 0.999 {
			t.Errorf("Expected explained variance near 1, got %v", metrics.ExplainedVariance)
		}
		if metrics.ReconstructionRMSE > 1e-9 {
			t.Errorf("Expected near-zero reconstruction RMSE, got %v", metrics.ReconstructionRMSE)
		}

		// The two phases have equal population.
		if len(metrics.ClusterSizes) != 2 || metrics.ClusterSizes[0] != 8 || metrics.ClusterSizes[1] != 8 {
			t.Errorf("Expected cluster sizes [8 8], got %v", metrics.ClusterSizes)
		}
	})

	t.Run("WriteBack", func(t *testing.T) {
		svdGroup, clusterGroup := analyzer.ResultGroups()
		if svdGroup != "Measurement_000/Channel_000/Raw_Data-SVD_000" {
			t.Errorf("Unexpected SVD group %q", svdGroup)
		}
		if clusterGroup != "Measurement_000/Channel_000/Raw_Data-Cluster_000" {
			t.Errorf("Unexpected cluster group %q", clusterGroup)
		}
	})

	t.Run("Plots", func(t *testing.T) {
		for _, name := range []string{
			"01_mean/mean_ronchigram.png",
			"01_mean/mean_response_map.png",
			"02_svd/scree.png",
			"02_svd/abundance_00.png",
			"02_svd/endmember_00.png",
			"03_clusters/label_map.png",
			"03_clusters/dendrogram.png",
			"03_clusters/mean_response_00.png",
		} {
			if _, err := os.Stat(filepath.Join(resultsDir, name)); err != nil {
				t.Errorf("Expected output %s: %v", name, err)
			}
		}
	})

	t.Run("Browse", func(t *testing.T) {
		var out bytes.Buffer
		if err := analyzer.Browse(strings.NewReader("1 2\nq\n"), &out); err != nil {
			t.Fatalf("Browser failed: %v", err)
		}
		if !strings.Contains(out.String(), "ronchigram_r001_c002.png") {
			t.Errorf("Expected browser output to name the saved ronchigram, got:\n%s", out.String())
		}
		if !strings.Contains(out.String(), "mean_map_r001_c002.png") {
			t.Errorf("Expected browser output to name the saved mean map, got:\n%s", out.String())
		}
	})
}

func TestBrowseBeforeRun(t *testing.T) {
	analyzer := NewAnalyzer(&Params{})
	var out bytes.Buffer
	if err := analyzer.Browse(strings.NewReader("q\n"), &out); err == nil {
		t.Fatal("Expected error when browsing before the pipeline has run")
	}
}
