package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/davidsonq/modelforge/internal/log"
)

// DefaultConfigTemplate returns the commented YAML written on first run.
func DefaultConfigTemplate() string {
	return `# modelforge configuration
# Values shown are the defaults; uncomment and edit to override.

server:
  host: localhost
  port: 8000

optimization:
  # Backend used when none is given: auto, onnx, openvino, bettertransformer.
  # "auto" picks from detected hardware.
  default_backend: auto
  batch_size: 1
  sequence_length: 128
  quantization: true
  quantization_bits: 8
  output_dir: ./optimized_models

benchmark:
  warmup_runs: 5
  test_runs: 50
  batch_sizes: [1, 4, 8, 16]
  sequence_lengths: [32, 64, 128, 256]

# registry:
#   data_dir: ~/.modelforge

# tracing:
#   enabled: false
#   exporter: file          # none, file, stdout, otlp
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0
`
}

// WriteDefaultConfig writes the default config template to the given path,
// creating parent directories as needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

// ToYAML renders the config with its canonical key names.
func ToYAML(cfg Config) ([]byte, error) {
	out := map[string]any{
		"server": map[string]any{
			"host": cfg.Server.Host,
			"port": cfg.Server.Port,
		},
		"optimization": map[string]any{
			"default_backend":   cfg.Optimization.DefaultBackend,
			"batch_size":        cfg.Optimization.BatchSize,
			"sequence_length":   cfg.Optimization.SequenceLength,
			"quantization":      cfg.Optimization.Quantization,
			"quantization_bits": cfg.Optimization.QuantizationBits,
			"output_dir":        cfg.Optimization.OutputDir,
		},
		"benchmark": map[string]any{
			"warmup_runs":      cfg.Benchmark.WarmupRuns,
			"test_runs":        cfg.Benchmark.TestRuns,
			"batch_sizes":      cfg.Benchmark.BatchSizes,
			"sequence_lengths": cfg.Benchmark.SequenceLengths,
		},
		"registry": map[string]any{
			"data_dir": cfg.Registry.DataDir,
		},
		"tracing": map[string]any{
			"enabled":       cfg.Tracing.Enabled,
			"exporter":      cfg.Tracing.Exporter,
			"file_path":     cfg.Tracing.FilePath,
			"otlp_endpoint": cfg.Tracing.OTLPEndpoint,
			"sample_rate":   cfg.Tracing.SampleRate,
		},
	}

	return yaml.Marshal(out)
}

// Save marshals the full config to YAML at the given path. Used by
// `modelforge config write` to persist flag overrides.
func Save(configPath string, cfg Config) error {
	data, err := ToYAML(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
