package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefaultConfig(configPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default_backend: auto")
	assert.Contains(t, string(data), "batch_sizes: [1, 4, 8, 16]")

	// The template must parse and match the built-in defaults.
	v := viper.New()
	v.SetConfigFile(configPath)
	require.NoError(t, v.ReadInConfig())

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	defaults := Defaults()
	assert.Equal(t, defaults.Server, cfg.Server)
	assert.Equal(t, defaults.Optimization, cfg.Optimization)
	assert.Equal(t, defaults.Benchmark, cfg.Benchmark)
}

func TestSave_RoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Defaults()
	cfg.Server.Port = 9100
	cfg.Optimization.DefaultBackend = "openvino"
	cfg.Benchmark.BatchSizes = []int{2, 8}
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"

	require.NoError(t, Save(configPath, cfg))

	v := viper.New()
	v.SetConfigFile(configPath)
	require.NoError(t, v.ReadInConfig())

	var loaded Config
	require.NoError(t, v.Unmarshal(&loaded))
	assert.Equal(t, cfg, loaded)
}

func TestToYAML_UsesCanonicalKeys(t *testing.T) {
	data, err := ToYAML(Defaults())
	require.NoError(t, err)
	assert.Contains(t, string(data), "default_backend:")
	assert.Contains(t, string(data), "sequence_lengths:")
	assert.Contains(t, string(data), "otlp_endpoint:")
}
