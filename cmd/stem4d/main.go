package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"stem4d/pkg/analysis"
	"stem4d/pkg/config"
)

func main() {
	// Parse command line arguments
	inputFile := flag.String("input", "", "4D-STEM acquisition file (HDF5, USID layout)")
	datasetName := flag.String("dataset", "", "HDF5 path of the main dataset (default: Measurement_000/Channel_000/Raw_Data)")
	configPath := flag.String("config", "stem4d.yaml", "YAML configuration file")
	components := flag.Int("components", 0, "Number of SVD components to retain (overrides config)")
	clusters := flag.Int("clusters", 0, "Number of k-means clusters (overrides config)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (overrides config)")
	resultsDir := flag.String("results-dir", "", "Directory for plots and maps (overrides config)")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save per-component and per-cluster images")
	noWriteBack := flag.Bool("no-write-back", false, "Do not write results into the acquisition file")
	interactive := flag.Bool("interactive", false, "Browse ronchigrams by scan position after the run")
	flag.Parse()

	// Validate inputs
	if *inputFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration and apply flag overrides
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *datasetName != "" {
		cfg.Analysis.DatasetName = *datasetName
	}
	if *components > 0 {
		cfg.Analysis.NumComponents = *components
	}
	if *clusters > 0 {
		cfg.Clustering.NumClusters = *clusters
	}
	if *numCores > 0 {
		cfg.Analysis.NumCores = *numCores
	}
	if *resultsDir != "" {
		cfg.Output.ResultsDir = *resultsDir
	}
	if *saveIntermediary {
		cfg.Output.SaveIntermediaryResults = true
	}
	if *noWriteBack {
		cfg.Output.WriteBack = false
	}

	fmt.Println("================================")
	fmt.Println("4D-STEM PATTERN ANALYSIS: SVD DECOMPOSITION AND K-MEANS SEGMENTATION")
	fmt.Println("================================")

	// Initialize analysis parameters
	params := &analysis.Params{
		InputFile:               *inputFile,
		DatasetName:             cfg.Analysis.DatasetName,
		NumComponents:           cfg.Analysis.NumComponents,
		ScoreComponents:         cfg.Clustering.ScoreComponents,
		NumClusters:             cfg.Clustering.NumClusters,
		MaxIterations:           cfg.Clustering.MaxIterations,
		MeanCenter:              cfg.Analysis.MeanCenter,
		NumCores:                cfg.Analysis.NumCores,
		ResultsDir:              cfg.Output.ResultsDir,
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		WriteBack:               cfg.Output.WriteBack,
	}

	// Create analyzer instance
	analyzer := analysis.NewAnalyzer(params)
	defer func() {
		if err := analyzer.Close(); err != nil {
			log.Printf("Warning: failed to close acquisition file: %v", err)
		}
	}()

	// Run the analysis pipeline
	fmt.Println("Starting 4D-STEM analysis...")
	startTime := time.Now()
	if err := analyzer.Process(); err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	processingTime := time.Since(startTime)

	// Display summary metrics
	metrics := analyzer.GetMetrics()
	fmt.Printf("\nAnalysis completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Plots and maps saved to: %s\n\n", cfg.Output.ResultsDir)

	fmt.Printf("Summary metrics:\n")
	fmt.Printf("================\n")
	fmt.Printf("Explained variance (kept components): %.2f%%\n", metrics.ExplainedVariance*100)
	fmt.Printf("Reconstruction RMSE: %.6f\n", metrics.ReconstructionRMSE)
	fmt.Printf("Within-cluster sum of squares: %.3f\n", metrics.WithinClusterSS)
	fmt.Printf("Mean-map correlation of first component: %.3f\n", metrics.MapCorrelation)
	fmt.Printf("Cluster sizes: %v\n", metrics.ClusterSizes)

	if svdGroup, clusterGroup := analyzer.ResultGroups(); svdGroup != "" {
		fmt.Println("\nResults written into the acquisition file:")
		fmt.Printf("- %s: U, S, V\n", svdGroup)
		fmt.Printf("- %s: Labels, Mean_Response, Centroids\n", clusterGroup)
	}

	fmt.Println("\nParallel processing:")
	fmt.Printf("- Used %d cores\n", cfg.Analysis.NumCores)
	fmt.Printf("- Total processing time: %.2f seconds\n", processingTime.Seconds())

	// Interactive ronchigram browsing by scan position
	if *interactive {
		fmt.Println()
		if err := analyzer.Browse(os.Stdin, os.Stdout); err != nil {
			log.Fatalf("Browser failed: %v", err)
		}
	}
}
