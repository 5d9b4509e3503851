// Package config provides configuration types, defaults, and persistence for modelforge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// OptimizationConfig holds defaults for optimization runs.
type OptimizationConfig struct {
	DefaultBackend   string `mapstructure:"default_backend"` // "auto", "onnx", "openvino", "bettertransformer"
	BatchSize        int    `mapstructure:"batch_size"`
	SequenceLength   int    `mapstructure:"sequence_length"`
	Quantization     bool   `mapstructure:"quantization"`
	QuantizationBits int    `mapstructure:"quantization_bits"`
	OutputDir        string `mapstructure:"output_dir"`
}

// BenchmarkConfig holds benchmark run parameters.
type BenchmarkConfig struct {
	WarmupRuns      int   `mapstructure:"warmup_runs"`
	TestRuns        int   `mapstructure:"test_runs"`
	BatchSizes      []int `mapstructure:"batch_sizes"`
	SequenceLengths []int `mapstructure:"sequence_lengths"`
}

// RegistryConfig holds registry storage locations.
type RegistryConfig struct {
	// DataDir is the root directory for registry state.
	// The database lives at <data_dir>/registry.db and managed artifact
	// storage at <data_dir>/models.
	DataDir string `mapstructure:"data_dir"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"` // "none", "file", "stdout", "otlp"
	FilePath     string  `mapstructure:"file_path"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Config holds all configuration options for modelforge.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Optimization OptimizationConfig `mapstructure:"optimization"`
	Benchmark    BenchmarkConfig    `mapstructure:"benchmark"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// DBPath returns the registry database path under the data directory.
func (c Config) DBPath() string {
	return filepath.Join(c.Registry.DataDir, "registry.db")
}

// StorageRoot returns the managed artifact storage root under the data directory.
func (c Config) StorageRoot() string {
	return filepath.Join(c.Registry.DataDir, "models")
}

// DefaultDataDir returns ~/.modelforge or a relative fallback when the home
// directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".modelforge"
	}
	return filepath.Join(home, ".modelforge")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	return filepath.Join(DefaultDataDir(), "traces", "traces.jsonl")
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8000,
		},
		Optimization: OptimizationConfig{
			DefaultBackend:   "auto",
			BatchSize:        1,
			SequenceLength:   128,
			Quantization:     true,
			QuantizationBits: 8,
			OutputDir:        "./optimized_models",
		},
		Benchmark: BenchmarkConfig{
			WarmupRuns:      5,
			TestRuns:        50,
			BatchSizes:      []int{1, 4, 8, 16},
			SequenceLengths: []int{32, 64, 128, 256},
		},
		Registry: RegistryConfig{
			DataDir: DefaultDataDir(),
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     DefaultTracesFilePath(),
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Validate checks the configuration for errors.
func Validate(cfg Config) error {
	switch cfg.Optimization.DefaultBackend {
	case "auto", "onnx", "openvino", "bettertransformer":
	default:
		return fmt.Errorf("optimization.default_backend: unknown backend %q", cfg.Optimization.DefaultBackend)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", cfg.Server.Port)
	}
	if cfg.Optimization.BatchSize < 1 {
		return fmt.Errorf("optimization.batch_size must be positive, got %d", cfg.Optimization.BatchSize)
	}
	if cfg.Benchmark.WarmupRuns < 0 || cfg.Benchmark.TestRuns < 1 {
		return fmt.Errorf("benchmark runs invalid: warmup=%d test=%d", cfg.Benchmark.WarmupRuns, cfg.Benchmark.TestRuns)
	}
	if cfg.Registry.DataDir == "" {
		return fmt.Errorf("registry.data_dir is required")
	}
	return nil
}
