package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/davidsonq/modelforge/internal/optimizer"
	"github.com/davidsonq/modelforge/internal/registry"
)

var (
	benchTestID int64
	benchWarmup int
	benchRuns   int
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark NAME [VERSION]",
	Short: "Benchmark a registered model across batch and sequence sizes",
	Long: `Run inference benchmarks for a registered model over the configured
grid of batch sizes and sequence lengths. Each cell runs warmup iterations
first, then timed iterations.

With --test-id the measurements are recorded as metric observations on
that A/B test, so two model versions can be benchmarked into the same test
and compared with "modelforge abtest results".

Example:
  modelforge benchmark bert-quant 1.0.0
  modelforge benchmark bert-quant --test-id 3`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBenchmark,
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)

	benchmarkCmd.Flags().Int64Var(&benchTestID, "test-id", 0, "record measurements on this A/B test")
	benchmarkCmd.Flags().IntVar(&benchWarmup, "warmup", 0, "warmup runs per cell (default: config)")
	benchmarkCmd.Flags().IntVar(&benchRuns, "runs", 0, "timed runs per cell (default: config)")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	return withStore(func(store *registry.Store) error {
		version := ""
		if len(args) > 1 {
			version = args[1]
		}
		rec, err := store.GetModel(args[0], version)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("model %s not found", args[0])
		}

		warmup := benchWarmup
		if warmup == 0 {
			warmup = cfg.Benchmark.WarmupRuns
		}
		runs := benchRuns
		if runs == 0 {
			runs = cfg.Benchmark.TestRuns
		}

		runner := &optimizer.Runner{
			WarmupRuns:      warmup,
			TestRuns:        runs,
			BatchSizes:      cfg.Benchmark.BatchSizes,
			SequenceLengths: cfg.Benchmark.SequenceLengths,
			Probe:           pythonProber(rec.ModelPath),
		}

		fmt.Printf("Benchmarking %s:%s (%d warmup, %d timed runs per cell)\n",
			rec.Name, rec.Version, warmup, runs)
		measurements, err := runner.Run(cmd.Context())
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"BATCH", "SEQ", "MEAN MS", "P95 MS", "SAMPLES/S"})
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		for _, m := range measurements {
			table.Append([]string{
				strconv.Itoa(m.BatchSize),
				strconv.Itoa(m.SequenceLength),
				fmt.Sprintf("%.2f", m.MeanLatencyMS),
				fmt.Sprintf("%.2f", m.P95LatencyMS),
				fmt.Sprintf("%.1f", m.ThroughputPerSec),
			})
		}
		table.Render()

		if benchTestID != 0 {
			if err := optimizer.RecordResults(store, benchTestID, rec.ID, measurements); err != nil {
				return fmt.Errorf("recording results: %w", err)
			}
			fmt.Printf("Recorded %d measurements on test %d\n", len(measurements)*2, benchTestID)
		}
		return nil
	})
}

// pythonProber runs one ONNX Runtime inference per call against the stored
// artifact. Tokenization is synthetic, the probe measures the runtime path.
func pythonProber(modelPath string) optimizer.Prober {
	return func(ctx context.Context, batch, seq int) error {
		script := fmt.Sprintf(`
import glob, numpy as np, onnxruntime as ort
path = sorted(glob.glob(%q + "/*.onnx"))[0]
sess = ort.InferenceSession(path)
feeds = {}
for inp in sess.get_inputs():
    shape = [d if isinstance(d, int) else (%d if i == 0 else %d) for i, d in enumerate(inp.shape)]
    dtype = np.int64 if "int" in inp.type else np.float32
    feeds[inp.name] = np.ones(shape, dtype=dtype)
sess.run(None, feeds)
`, modelPath, batch, seq)
		out, err := exec.CommandContext(ctx, "python3", "-c", script).CombinedOutput()
		if err != nil {
			return fmt.Errorf("inference probe: %w: %s", err, string(out))
		}
		return nil
	}
}
