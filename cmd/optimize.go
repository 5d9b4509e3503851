package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidsonq/modelforge/internal/backend"
	"github.com/davidsonq/modelforge/internal/hardware"
	"github.com/davidsonq/modelforge/internal/optimizer"
)

var (
	optBackend         string
	optTask            string
	optOutputDir       string
	optBatchSize       int
	optSeqLength       int
	optQuantize        bool
	optQuantizeBits    int
	optRegister        bool
	optRegisterName    string
	optRegisterVersion string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize MODEL",
	Short: "Optimize a transformer model for inference",
	Long: `Optimize a transformer model with the selected backend and write the
result to the output directory.

The model argument is a Hugging Face model id ("bert-base-uncased",
"org/model") or a local path previously exported. With --backend auto the
backend is picked from the detected hardware.

Examples:
  modelforge optimize bert-base-uncased
  modelforge optimize bert-base-uncased --backend openvino --quantize-bits 4
  modelforge optimize org/model --register --register-version 1.2.0`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().StringVarP(&optBackend, "backend", "b", "", "backend: auto, onnx, openvino, bettertransformer (default: config)")
	optimizeCmd.Flags().StringVarP(&optTask, "task", "t", "", "inference task hint, e.g. fill-mask")
	optimizeCmd.Flags().StringVarP(&optOutputDir, "output", "o", "", "output directory (default: config output_dir)")
	optimizeCmd.Flags().IntVar(&optBatchSize, "batch-size", 0, "batch size for export (default: config)")
	optimizeCmd.Flags().IntVar(&optSeqLength, "sequence-length", 0, "sequence length for export (default: config)")
	optimizeCmd.Flags().BoolVar(&optQuantize, "quantize", true, "quantize the exported model")
	optimizeCmd.Flags().IntVar(&optQuantizeBits, "quantize-bits", 0, "quantization bit width: 4, 8 or 16 (default: config)")
	optimizeCmd.Flags().BoolVar(&optRegister, "register", false, "register the optimized model in the registry")
	optimizeCmd.Flags().StringVar(&optRegisterName, "register-name", "", "registry name (default: derived from model id)")
	optimizeCmd.Flags().StringVar(&optRegisterVersion, "register-version", "", "registry version (default: 1.0.0)")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cleanup, err := initLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	params := optimizer.Params{
		ModelID:          args[0],
		Backend:          optBackend,
		Task:             optTask,
		OutputDir:        optOutputDir,
		BatchSize:        optBatchSize,
		SequenceLength:   optSeqLength,
		Quantize:         optQuantize,
		QuantizationBits: optQuantizeBits,
		Register:         optRegister,
		RegisterName:     optRegisterName,
		RegisterVersion:  optRegisterVersion,
	}
	applyOptimizationDefaults(&params)

	opt := optimizer.New(backend.NewManager(), hardware.NewDetector(), store, cfg.Optimization.OutputDir)
	outcome, err := opt.Run(cmd.Context(), params)
	if err != nil {
		return err
	}

	fmt.Printf("Optimized %s with %s in %s\n",
		params.ModelID, outcome.ResolvedBackend, outcome.Result.Duration.Round(time.Millisecond))
	fmt.Printf("Output: %s (%.1f MB)\n", outcome.Result.OutputPath, outcome.Result.SizeMB)
	if outcome.RegisteredID != 0 {
		fmt.Printf("Registered as id %d\n", outcome.RegisteredID)
	}
	return nil
}

// applyOptimizationDefaults fills unset flags from the config file.
func applyOptimizationDefaults(p *optimizer.Params) {
	if p.Backend == "" {
		p.Backend = cfg.Optimization.DefaultBackend
	}
	if p.BatchSize == 0 {
		p.BatchSize = cfg.Optimization.BatchSize
	}
	if p.SequenceLength == 0 {
		p.SequenceLength = cfg.Optimization.SequenceLength
	}
	if p.Quantize && p.QuantizationBits == 0 {
		p.QuantizationBits = cfg.Optimization.QuantizationBits
	}
}
