package analysis

import (
	"fmt"
	"io"
	"log"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"stem4d/internal/models"
	"stem4d/pkg/clustering"
	"stem4d/pkg/decomposition"
	"stem4d/pkg/usid"
	"stem4d/pkg/visualization"
)

// AnalysisMetrics summarizes the quality of the decomposition and the
// segmentation. The values are printed by the CLI after a run.
type AnalysisMetrics struct {
	// ExplainedVariance is the fraction of total variance captured by the
	// retained SVD components. Values close to 1 indicate the truncation
	// loses little information.
	ExplainedVariance float64

	// ReconstructionRMSE is the root mean square error of the rank-k
	// reconstruction against the raw data, on the intensity scale of the
	// detector. Lower values indicate better reconstruction fidelity.
	ReconstructionRMSE float64

	// WithinClusterSS is the total within-cluster sum of squared distances
	// in score space. Lower values indicate tighter clusters.
	WithinClusterSS float64

	// MapCorrelation is the Pearson correlation between the mean-response
	// map and the first component abundance map. High values confirm the
	// leading component tracks the dominant signal.
	MapCorrelation float64

	// ClusterSizes is the population of each cluster in descending order
	ClusterSizes []int
}

// Params holds the analysis parameters.
type Params struct {
	// InputFile is the 4D-STEM acquisition file in the USID HDF5 layout
	InputFile string

	// DatasetName is the HDF5 path of the main dataset; empty selects the
	// conventional Raw_Data location
	DatasetName string

	// NumComponents is the number of SVD components to retain
	NumComponents int

	// ScoreComponents is how many leading components feed the clustering
	ScoreComponents int

	// NumClusters is the number of k-means clusters
	NumClusters int

	// MaxIterations bounds the k-means iteration count
	MaxIterations int

	// MeanCenter subtracts the per-pixel mean before decomposition
	MeanCenter bool

	// NumCores specifies how many CPU cores to use for parallel processing
	NumCores int

	// ResultsDir is the directory where plots and maps are written
	ResultsDir string

	// SaveIntermediaryResults saves per-component and per-cluster images
	// at each processing stage
	SaveIntermediaryResults bool

	// WriteBack stores SVD and cluster results as new groups inside the
	// acquisition file
	WriteBack bool
}

// Analyzer runs the 4D-STEM analysis pipeline:
//
//  1. Open the acquisition file and locate the main dataset
//  2. Load the (positions x pixels) matrix
//  3. Compute the mean detector response map
//  4. Decompose with SVD and write the result back
//  5. Cluster positions in score space and write the result back
//  6. Compute summary metrics
type Analyzer struct {
	// params stores the analysis configuration
	params *Params

	// file is the open acquisition file
	file *usid.File

	// main is the raw dataset handle
	main *usid.MainDataset

	// data is the in-memory (positions x pixels) matrix
	data *mat.Dense

	// mean is the mean detector response over all positions; meanMap is
	// the per-position mean intensity over the scan grid
	mean    []float64
	meanMap []float64

	// decomposed and segmented hold the stage results
	decomposed *models.DecompositionResult
	segmented  *models.ClusterResult

	// renderer writes plots into the results directory
	renderer *visualization.Renderer

	// svdGroup and clusterGroup are the HDF5 groups written back
	svdGroup     string
	clusterGroup string

	// metrics stores the quality summary after a run
	metrics AnalysisMetrics
}

// NewAnalyzer creates a new analyzer instance with the provided parameters.
func NewAnalyzer(params *Params) *Analyzer {
	return &Analyzer{params: params}
}

// Process runs the complete analysis pipeline.
func (a *Analyzer) Process() error {
	renderer, err := visualization.NewRenderer(a.params.ResultsDir)
	if err != nil {
		return err
	}
	a.renderer = renderer

	// Step 1: Open the file and locate the main dataset
	fmt.Println("Step 1: Opening acquisition file...")
	if err := a.openInput(); err != nil {
		return fmt.Errorf("failed to open input: %v", err)
	}

	info := a.main.Info()
	fmt.Printf("Dataset %s: %dx%d scan, %dx%d detector\n",
		info.Name, info.Scan.Rows, info.Scan.Cols, info.Detector.Rows, info.Detector.Cols)

	// Step 2: Load the full position x pixel matrix
	fmt.Println("Step 2: Loading raw data matrix...")
	a.data, err = a.main.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to load raw data: %v", err)
	}

	// Step 3: Mean detector response
	fmt.Println("Step 3: Computing mean response map...")
	if err := a.computeMeanResponse(); err != nil {
		return err
	}

	// Step 4: Dimensionality reduction
	fmt.Println("Step 4: Decomposing with SVD...")
	if err := a.decompose(); err != nil {
		return err
	}

	// Step 5: Clustering
	fmt.Println("Step 5: Clustering positions with k-means...")
	if err := a.segment(); err != nil {
		return err
	}

	// Step 6: Summary metrics
	fmt.Println("Step 6: Calculating summary metrics...")
	a.calculateMetrics()

	return nil
}

// openInput opens the acquisition file with the access mode the run needs
// and locates the main dataset.
func (a *Analyzer) openInput() error {
	var err error
	if a.params.WriteBack {
		a.file, err = usid.Open(a.params.InputFile)
	} else {
		a.file, err = usid.OpenReadOnly(a.params.InputFile)
	}
	if err != nil {
		return err
	}

	a.main, err = a.file.Main(a.params.DatasetName)
	return err
}

// computeMeanResponse uses the precomputed mean dataset when the file has
// one, falling back to a parallel pass over the raw matrix.
func (a *Analyzer) computeMeanResponse() error {
	mean, found, err := a.main.MeanResponse()
	if err != nil {
		return err
	}
	if !found {
		mean = decomposition.MeanResponse(a.data, a.params.NumCores)
	}
	a.mean = mean
	a.meanMap = positionMeans(a.data)

	info := a.main.Info()
	if _, err := a.renderer.SaveRonchigram("01_mean/mean_ronchigram.png", a.mean, info.Detector); err != nil {
		log.Printf("Warning: failed to save mean ronchigram: %v", err)
	}
	if _, err := a.renderer.SaveSpatialMap("01_mean/mean_response_map.png", "Mean response", a.meanMap, info.Scan, -1, -1); err != nil {
		log.Printf("Warning: failed to save mean response map: %v", err)
	}

	return nil
}

// decompose runs the SVD, writes the result into the file and renders the
// spectrum, abundance maps and endmember patterns.
func (a *Analyzer) decompose() error {
	res, err := decomposition.Decompose(a.data, decomposition.Options{
		MaxComponents: a.params.NumComponents,
		MeanCenter:    a.params.MeanCenter,
	})
	if err != nil {
		return fmt.Errorf("decomposition failed: %v", err)
	}
	a.decomposed = res

	if a.params.WriteBack {
		group, err := a.file.WriteSVD(a.main.Info().Name, res)
		if err != nil {
			return fmt.Errorf("failed to write SVD results: %v", err)
		}
		a.svdGroup = group
		fmt.Printf("SVD results written to %s\n", group)
	}

	if _, err := a.renderer.SaveScree("02_svd/scree.png", res.Values); err != nil {
		log.Printf("Warning: failed to save scree plot: %v", err)
	}

	if a.params.SaveIntermediaryResults {
		fmt.Println("Saving abundance maps and endmembers...")
		info := a.main.Info()
		for j := 0; j < res.Components(); j++ {
			abundance := mat.Col(nil, j, res.Scores)
			name := fmt.Sprintf("02_svd/abundance_%02d.png", j)
			title := fmt.Sprintf("Component %d (%.1f%% variance)", j, res.ExplainedVariance[j]*100)
			if _, err := a.renderer.SaveSpatialMap(name, title, abundance, info.Scan, -1, -1); err != nil {
				log.Printf("Warning: failed to save abundance map %d: %v", j, err)
			}

			endmember := mat.Row(nil, j, res.Endmembers)
			name = fmt.Sprintf("02_svd/endmember_%02d.png", j)
			if _, err := a.renderer.SaveRonchigram(name, endmember, info.Detector); err != nil {
				log.Printf("Warning: failed to save endmember %d: %v", j, err)
			}
		}
	}

	return nil
}

// segment clusters the positions on the truncated score matrix, writes the
// result into the file and renders the label map and dendrogram.
func (a *Analyzer) segment() error {
	scores := decomposition.TruncatedScores(a.decomposed, a.params.ScoreComponents)

	res, err := clustering.Segment(scores, a.data, a.params.NumClusters, clustering.Options{
		MaxIterations: a.params.MaxIterations,
		NumCores:      a.params.NumCores,
	})
	if err != nil {
		return fmt.Errorf("clustering failed: %v", err)
	}
	a.segmented = res

	if a.params.WriteBack {
		group, err := a.file.WriteClusters(a.main.Info().Name, res)
		if err != nil {
			return fmt.Errorf("failed to write cluster results: %v", err)
		}
		a.clusterGroup = group
		fmt.Printf("Cluster results written to %s\n", group)
	}

	info := a.main.Info()
	if _, err := a.renderer.SaveLabelMap("03_clusters/label_map.png", res.Labels, res.K(), info.Scan); err != nil {
		log.Printf("Warning: failed to save label map: %v", err)
	}

	merges := clustering.Linkage(res.Centroids)
	if _, err := a.renderer.SaveDendrogram("03_clusters/dendrogram.png", merges, res.K()); err != nil {
		log.Printf("Warning: failed to save dendrogram: %v", err)
	}

	if a.params.SaveIntermediaryResults {
		fmt.Println("Saving per-cluster mean responses...")
		for cl := 0; cl < res.K(); cl++ {
			pattern := mat.Row(nil, cl, res.MeanResponses)
			name := fmt.Sprintf("03_clusters/mean_response_%02d.png", cl)
			if _, err := a.renderer.SaveRonchigram(name, pattern, info.Detector); err != nil {
				log.Printf("Warning: failed to save cluster mean response %d: %v", cl, err)
			}
		}
	}

	return nil
}

// calculateMetrics fills the summary printed after a run.
func (a *Analyzer) calculateMetrics() {
	kept := a.decomposed.Components()

	total := 0.0
	for _, f := range a.decomposed.ExplainedVariance {
		total += f
	}
	a.metrics.ExplainedVariance = total

	a.metrics.ReconstructionRMSE = decomposition.ReconstructionRMSE(a.data, a.decomposed, kept)
	a.metrics.WithinClusterSS = a.segmented.WithinSS
	a.metrics.ClusterSizes = a.segmented.Sizes

	// Correlation of the leading abundance map with the per-position mean
	// intensity: the first component should track the dominant signal.
	a.metrics.MapCorrelation = stat.Correlation(
		a.meanMap, mat.Col(nil, 0, a.decomposed.Scores), nil)
}

// GetMetrics returns the summary metrics of the last run.
func (a *Analyzer) GetMetrics() AnalysisMetrics {
	return a.metrics
}

// ResultGroups returns the HDF5 group paths written back by the last run.
// The strings are empty when write-back was disabled.
func (a *Analyzer) ResultGroups() (svd, cluster string) {
	return a.svdGroup, a.clusterGroup
}

// Browse starts the interactive position browser on the open dataset.
func (a *Analyzer) Browse(in io.Reader, out io.Writer) error {
	if a.main == nil || a.meanMap == nil {
		return fmt.Errorf("cannot browse before the pipeline has run")
	}
	browser := visualization.NewBrowser(a.renderer, a.main, a.meanMap, a.main.Info())
	return browser.Run(in, out)
}

// Close releases the acquisition file handle.
func (a *Analyzer) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// positionMeans returns the mean intensity of each position's ronchigram.
func positionMeans(data *mat.Dense) []float64 {
	rows, cols := data.Dims()
	means := make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := data.RawRowView(i)
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		means[i] = sum / float64(cols)
	}
	return means
}
