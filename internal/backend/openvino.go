package backend

import (
	"context"
	"fmt"
	"os"
	"time"
)

// OpenVINO exports models to OpenVINO IR through optimum-cli. Weight
// compression maps the requested quantization bits onto the int8/int4
// export flags.
type OpenVINO struct {
	probe toolProbe
}

func NewOpenVINO() *OpenVINO {
	b := &OpenVINO{}
	b.probe.check = func() bool {
		return haveExecutable("optimum-cli") && havePythonModule("openvino")
	}
	return b
}

func (b *OpenVINO) Name() string { return "openvino" }

func (b *OpenVINO) Available() bool { return b.probe.available() }

func (b *OpenVINO) Requirements() []string {
	return []string{"optimum[openvino]", "openvino", "nncf"}
}

func (b *OpenVINO) Optimize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	args := []string{"export", "openvino", "--model", req.ModelID}
	if req.Task != "" {
		args = append(args, "--task", req.Task)
	}
	if req.Quantize {
		switch req.QuantizeBits {
		case 4:
			args = append(args, "--weight-format", "int4")
		default:
			args = append(args, "--weight-format", "int8")
		}
	}
	args = append(args, req.OutputDir)

	if _, err := runCommand(ctx, "optimum-cli", args...); err != nil {
		return nil, err
	}

	return &Result{
		Backend:    b.Name(),
		ModelID:    req.ModelID,
		OutputPath: req.OutputDir,
		Duration:   time.Since(start),
		SizeMB:     dirSizeMB(req.OutputDir),
		Settings: map[string]any{
			"quantized":         req.Quantize,
			"quantization_bits": req.QuantizeBits,
		},
	}, nil
}
