package optimizer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/davidsonq/modelforge/internal/log"
)

// Prober performs a single inference at the given shape. The benchmark
// runner times it from the outside.
type Prober func(ctx context.Context, batchSize, seqLength int) error

// Measurement is one cell of the benchmark grid.
type Measurement struct {
	BatchSize        int     `json:"batch_size"`
	SequenceLength   int     `json:"sequence_length"`
	MeanLatencyMS    float64 `json:"mean_latency_ms"`
	P95LatencyMS     float64 `json:"p95_latency_ms"`
	ThroughputPerSec float64 `json:"throughput_per_sec"` // samples per second at this batch size
}

// Runner benchmarks a model across a grid of batch sizes and sequence
// lengths. Warmup runs are executed and discarded before timing starts.
type Runner struct {
	WarmupRuns      int
	TestRuns        int
	BatchSizes      []int
	SequenceLengths []int
	Probe           Prober
}

// resultRecorder is the slice of the registry store the runner needs.
type resultRecorder interface {
	RecordABResult(testID, modelID int64, metricName string, metricValue float64) error
}

// Run executes the full grid and returns one measurement per cell.
func (r *Runner) Run(ctx context.Context) ([]Measurement, error) {
	if r.Probe == nil {
		return nil, fmt.Errorf("benchmark prober is not configured")
	}
	if r.TestRuns <= 0 {
		return nil, fmt.Errorf("test runs must be positive, got %d", r.TestRuns)
	}

	var out []Measurement
	for _, batch := range r.BatchSizes {
		for _, seq := range r.SequenceLengths {
			m, err := r.runCell(ctx, batch, seq)
			if err != nil {
				return nil, fmt.Errorf("benchmark batch=%d seq=%d: %w", batch, seq, err)
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *Runner) runCell(ctx context.Context, batch, seq int) (Measurement, error) {
	for i := 0; i < r.WarmupRuns; i++ {
		if err := r.Probe(ctx, batch, seq); err != nil {
			return Measurement{}, err
		}
	}

	latencies := make([]time.Duration, 0, r.TestRuns)
	for i := 0; i < r.TestRuns; i++ {
		if err := ctx.Err(); err != nil {
			return Measurement{}, err
		}
		start := time.Now()
		if err := r.Probe(ctx, batch, seq); err != nil {
			return Measurement{}, err
		}
		latencies = append(latencies, time.Since(start))
	}

	m := summarize(batch, seq, latencies)
	log.Debug(log.CatBench, "cell measured",
		"batch", batch, "seq", seq,
		"mean_ms", m.MeanLatencyMS, "throughput", m.ThroughputPerSec)
	return m, nil
}

func summarize(batch, seq int, latencies []time.Duration) Measurement {
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	mean := total / time.Duration(len(latencies))

	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	p95 := sorted[(len(sorted)*95)/100]

	meanMS := float64(mean) / float64(time.Millisecond)
	throughput := 0.0
	if meanMS > 0 {
		throughput = float64(batch) / (meanMS / 1000)
	}
	return Measurement{
		BatchSize:        batch,
		SequenceLength:   seq,
		MeanLatencyMS:    meanMS,
		P95LatencyMS:     float64(p95) / float64(time.Millisecond),
		ThroughputPerSec: throughput,
	}
}

// RecordResults writes benchmark measurements into an A/B test as metric
// observations, one latency and one throughput entry per grid cell.
func RecordResults(rec resultRecorder, testID, modelID int64, measurements []Measurement) error {
	for _, m := range measurements {
		prefix := fmt.Sprintf("b%d_s%d_", m.BatchSize, m.SequenceLength)
		if err := rec.RecordABResult(testID, modelID, prefix+"latency_ms", m.MeanLatencyMS); err != nil {
			return err
		}
		if err := rec.RecordABResult(testID, modelID, prefix+"throughput", m.ThroughputPerSec); err != nil {
			return err
		}
	}
	return nil
}
