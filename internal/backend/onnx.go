package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ONNX exports models to ONNX format through optimum-cli and optionally
// quantizes the result with onnxruntime's dynamic quantizer.
type ONNX struct {
	probe toolProbe
}

func NewONNX() *ONNX {
	b := &ONNX{}
	b.probe.check = func() bool {
		return haveExecutable("optimum-cli") && havePythonModule("onnxruntime")
	}
	return b
}

func (b *ONNX) Name() string { return "onnx" }

func (b *ONNX) Available() bool { return b.probe.available() }

func (b *ONNX) Requirements() []string {
	return []string{"optimum[exporters]", "onnx", "onnxruntime"}
}

func (b *ONNX) Optimize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	args := []string{"export", "onnx", "--model", req.ModelID}
	if req.Task != "" {
		args = append(args, "--task", req.Task)
	}
	if req.BatchSize > 0 {
		args = append(args, "--batch_size", strconv.Itoa(req.BatchSize))
	}
	if req.SequenceLength > 0 {
		args = append(args, "--sequence_length", strconv.Itoa(req.SequenceLength))
	}
	args = append(args, req.OutputDir)

	if _, err := runCommand(ctx, "optimum-cli", args...); err != nil {
		return nil, err
	}

	if req.Quantize {
		if err := b.quantize(ctx, req); err != nil {
			return nil, err
		}
	}

	return &Result{
		Backend:    b.Name(),
		ModelID:    req.ModelID,
		OutputPath: req.OutputDir,
		Duration:   time.Since(start),
		SizeMB:     dirSizeMB(req.OutputDir),
		Settings: map[string]any{
			"batch_size":      req.BatchSize,
			"sequence_length": req.SequenceLength,
			"quantized":       req.Quantize,
		},
	}, nil
}

// quantize runs onnxruntime dynamic quantization in place over every .onnx
// file in the output directory.
func (b *ONNX) quantize(ctx context.Context, req Request) error {
	script := fmt.Sprintf(`
import glob, os, sys
from onnxruntime.quantization import quantize_dynamic, QuantType
qtype = QuantType.QUInt8 if %d == 8 else QuantType.QInt4
for path in glob.glob(os.path.join(%q, "*.onnx")):
    out = path.replace(".onnx", ".quant.onnx")
    quantize_dynamic(path, out, weight_type=qtype)
    os.replace(out, path)
`, req.QuantizeBits, req.OutputDir)
	_, err := runCommand(ctx, pythonExecutable(), "-c", script)
	return err
}

func dirSizeMB(dir string) float64 {
	var total int64
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / (1024 * 1024)
}
