// Package cmd implements the modelforge command line interface.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidsonq/modelforge/internal/config"
	"github.com/davidsonq/modelforge/internal/log"
	"github.com/davidsonq/modelforge/internal/registry"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "modelforge",
	Short: "Optimize transformer models and track them in a local registry",
	Long: `Modelforge wraps the optimum toolchain to export and quantize
transformer models, keeps the results in a local model registry, and
records A/B comparisons between model versions.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.modelforge/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging to modelforge.log")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("optimization.default_backend", defaults.Optimization.DefaultBackend)
	viper.SetDefault("optimization.batch_size", defaults.Optimization.BatchSize)
	viper.SetDefault("optimization.sequence_length", defaults.Optimization.SequenceLength)
	viper.SetDefault("optimization.quantization", defaults.Optimization.Quantization)
	viper.SetDefault("optimization.quantization_bits", defaults.Optimization.QuantizationBits)
	viper.SetDefault("optimization.output_dir", defaults.Optimization.OutputDir)
	viper.SetDefault("benchmark.warmup_runs", defaults.Benchmark.WarmupRuns)
	viper.SetDefault("benchmark.test_runs", defaults.Benchmark.TestRuns)
	viper.SetDefault("benchmark.batch_sizes", defaults.Benchmark.BatchSizes)
	viper.SetDefault("benchmark.sequence_lengths", defaults.Benchmark.SequenceLengths)
	viper.SetDefault("registry.data_dir", defaults.Registry.DataDir)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .modelforge/config.yaml (current directory)
		// 2. ~/.modelforge/config.yaml (user config)
		if _, err := os.Stat(".modelforge/config.yaml"); err == nil {
			viper.SetConfigFile(".modelforge/config.yaml")
		} else {
			viper.AddConfigPath(config.DefaultDataDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file anywhere: write the commented default so the user
		// has something to edit, then keep going on defaults.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			defaultPath := filepath.Join(config.DefaultDataDir(), "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// initLogging enables the debug log when requested via flag or env var.
// The returned cleanup is safe to call even when logging stayed off.
func initLogging() (func(), error) {
	debug := debugFlag || os.Getenv("MODELFORGE_DEBUG") != ""
	if !debug {
		return func() {}, nil
	}

	logPath := os.Getenv("MODELFORGE_LOG")
	if logPath == "" {
		logPath = "modelforge.log"
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "modelforge starting", "version", version, "logPath", logPath)
	return cleanup, nil
}

// openStore opens the registry under the configured data directory.
func openStore() (*registry.Store, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := registry.OpenStore(cfg.DBPath(), cfg.StorageRoot())
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	return store, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
