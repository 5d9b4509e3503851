// Package optimizer orchestrates model optimization: it validates
// parameters, resolves the backend (including hardware-driven auto
// selection), runs the toolchain and optionally registers the produced
// artifact in the model registry.
package optimizer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/davidsonq/modelforge/internal/backend"
	"github.com/davidsonq/modelforge/internal/hardware"
	"github.com/davidsonq/modelforge/internal/log"
	"github.com/davidsonq/modelforge/internal/registry"
)

// Params describes one optimization request as the user states it.
type Params struct {
	ModelID          string `json:"model"`
	Backend          string `json:"backend"` // "auto" resolves via hardware detection
	Task             string `json:"task,omitempty"`
	OutputDir        string `json:"output_dir,omitempty"`
	BatchSize        int    `json:"batch_size"`
	SequenceLength   int    `json:"sequence_length"`
	Quantize         bool   `json:"quantize"`
	QuantizationBits int    `json:"quantization_bits"`

	// Register, when set, stores the optimized artifact in the registry
	// under RegisterName:RegisterVersion after the backend finishes.
	Register        bool   `json:"register"`
	RegisterName    string `json:"register_name,omitempty"`
	RegisterVersion string `json:"register_version,omitempty"`
}

// Validate checks every parameter and returns the first violation.
func (p *Params) Validate() error {
	if err := ValidateModelID(p.ModelID); err != nil {
		return err
	}
	if err := ValidateBackend(p.Backend); err != nil {
		return err
	}
	if err := ValidateBatchSize(p.BatchSize); err != nil {
		return err
	}
	if err := ValidateSequenceLength(p.SequenceLength); err != nil {
		return err
	}
	if p.Quantize {
		if err := ValidateQuantizationBits(p.QuantizationBits); err != nil {
			return err
		}
	}
	return nil
}

// Outcome is the result of one optimization run.
type Outcome struct {
	Result          *backend.Result `json:"result"`
	RegisteredID    int64           `json:"registered_id,omitempty"`
	ResolvedBackend string          `json:"resolved_backend"`
}

// Optimizer wires the backend manager, hardware detector and registry
// together.
type Optimizer struct {
	backends  *backend.Manager
	detector  *hardware.Detector
	store     *registry.Store
	outputDir string
}

// New returns an optimizer. The store may be nil when registration is not
// wanted (Params.Register then fails).
func New(backends *backend.Manager, detector *hardware.Detector, store *registry.Store, outputDir string) *Optimizer {
	return &Optimizer{
		backends:  backends,
		detector:  detector,
		store:     store,
		outputDir: outputDir,
	}
}

// ResolveBackend maps "auto" onto the hardware recommendation, constrained
// to installed backends. Explicit names pass through unchanged.
func (o *Optimizer) ResolveBackend(name string) (string, error) {
	if name != "auto" {
		return name, nil
	}
	info, err := o.detector.Detect()
	if err != nil {
		return "", fmt.Errorf("hardware detection: %w", err)
	}
	resolved := hardware.RecommendAvailable(info, o.backends.IsAvailable)
	log.Info(log.CatBackend, "auto-selected backend", "backend", resolved)
	return resolved, nil
}

// Run validates, resolves the backend and executes the optimization. When
// p.Register is set, the artifact is copied into the registry afterwards.
func (o *Optimizer) Run(ctx context.Context, p Params) (*Outcome, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	name, err := o.ResolveBackend(p.Backend)
	if err != nil {
		return nil, err
	}
	b, err := o.backends.Get(name)
	if err != nil {
		return nil, err
	}

	outDir := p.OutputDir
	if outDir == "" {
		outDir = filepath.Join(o.outputDir, sanitizeModelID(p.ModelID)+"-"+name)
	}

	log.Info(log.CatBackend, "optimization started",
		"model", p.ModelID, "backend", name, "output", outDir)
	result, err := b.Optimize(ctx, backend.Request{
		ModelID:        p.ModelID,
		Task:           p.Task,
		OutputDir:      outDir,
		BatchSize:      p.BatchSize,
		SequenceLength: p.SequenceLength,
		Quantize:       p.Quantize,
		QuantizeBits:   p.QuantizationBits,
	})
	if err != nil {
		log.ErrorErr(log.CatBackend, "optimization failed", err, "model", p.ModelID)
		return nil, err
	}
	log.Info(log.CatBackend, "optimization finished",
		"model", p.ModelID, "backend", name, "duration", result.Duration.String())

	outcome := &Outcome{Result: result, ResolvedBackend: name}
	if p.Register {
		id, err := o.register(p, name, result)
		if err != nil {
			return nil, err
		}
		outcome.RegisteredID = id
	}
	return outcome, nil
}

func (o *Optimizer) register(p Params, backendName string, result *backend.Result) (int64, error) {
	if o.store == nil {
		return 0, fmt.Errorf("registry is not configured")
	}
	name := p.RegisterName
	if name == "" {
		name = sanitizeModelID(p.ModelID)
	}
	version := p.RegisterVersion
	if version == "" {
		version = "1.0.0"
	}
	return o.store.RegisterModel(registry.RegisterParams{
		Name:       name,
		Version:    version,
		Backend:    backendName,
		SourcePath: result.OutputPath,
		BaseModel:  p.ModelID,
		Task:       p.Task,
		Metadata: map[string]any{
			"batch_size":      p.BatchSize,
			"sequence_length": p.SequenceLength,
			"quantized":       p.Quantize,
		},
	})
}

// sanitizeModelID flattens an org/name identifier into a single path
// component.
func sanitizeModelID(id string) string {
	return strings.ReplaceAll(id, "/", "--")
}
