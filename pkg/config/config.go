// Package config provides configuration loading and management for stem4d.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Analysis parameters
	Analysis struct {
		// DatasetName is the HDF5 path of the main dataset inside the
		// acquisition file
		DatasetName string `yaml:"datasetName"`

		// NumComponents is the number of SVD components to compute
		NumComponents int `yaml:"numComponents"`

		// MeanCenter subtracts the per-pixel mean before decomposition
		MeanCenter bool `yaml:"meanCenter"`

		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`
	} `yaml:"analysis"`

	// Clustering parameters
	Clustering struct {
		// NumClusters is the number of k-means clusters
		NumClusters int `yaml:"numClusters"`

		// ScoreComponents is how many leading SVD components feed the
		// clustering step
		ScoreComponents int `yaml:"scoreComponents"`

		// MaxIterations bounds the k-means iteration count
		MaxIterations int `yaml:"maxIterations"`
	} `yaml:"clustering"`

	// Output parameters
	Output struct {
		// ResultsDir is the directory where plots and maps are written
		ResultsDir string `yaml:"resultsDir"`

		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// WriteBack controls whether SVD and cluster results are written
		// into the acquisition file
		WriteBack bool `yaml:"writeBack"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default analysis parameters
	cfg.Analysis.DatasetName = "Measurement_000/Channel_000/Raw_Data"
	cfg.Analysis.NumComponents = 25
	cfg.Analysis.MeanCenter = false
	cfg.Analysis.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default clustering parameters
	cfg.Clustering.NumClusters = 4
	cfg.Clustering.ScoreComponents = 9
	cfg.Clustering.MaxIterations = 300

	// Set default output parameters
	cfg.Output.ResultsDir = "analysis_results"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.WriteBack = true
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
