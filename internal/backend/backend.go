// Package backend defines the optimization backend abstraction and its
// concrete adapters. Each adapter wraps an external toolchain (optimum-cli,
// a python runtime) behind a uniform Optimize call.
package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Request describes one optimization job.
type Request struct {
	ModelID        string         // source model identifier, e.g. "bert-base-uncased" or "org/model"
	Task           string         // inference task hint, empty means auto
	OutputDir      string         // directory the optimized artifact is written to
	BatchSize      int
	SequenceLength int
	Quantize       bool
	QuantizeBits   int
	Extra          map[string]any // backend-specific knobs
}

// Result describes a completed optimization.
type Result struct {
	Backend    string         `json:"backend"`
	ModelID    string         `json:"model_id"`
	OutputPath string         `json:"output_path"`
	Duration   time.Duration  `json:"duration"`
	SizeMB     float64        `json:"size_mb"`
	Settings   map[string]any `json:"settings,omitempty"`
}

// Backend is one optimization toolchain adapter.
type Backend interface {
	// Name returns the backend identifier (onnx, openvino, bettertransformer).
	Name() string
	// Available reports whether the backend's toolchain is installed.
	Available() bool
	// Requirements lists the external packages the backend needs.
	Requirements() []string
	// Optimize runs the toolchain. It blocks until completion or ctx cancel.
	Optimize(ctx context.Context, req Request) (*Result, error)
}

// UnsupportedError is returned when a requested backend is unknown or not
// installed on this machine.
type UnsupportedError struct {
	Requested string
	Available []string
}

func (e *UnsupportedError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("backend %q is not supported and no backends are available", e.Requested)
	}
	avail := append([]string(nil), e.Available...)
	sort.Strings(avail)
	return fmt.Sprintf("backend %q is not supported, available: %s",
		e.Requested, strings.Join(avail, ", "))
}
