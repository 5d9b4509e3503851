package backend

import (
	"context"
	"fmt"
	"os"
	"time"
)

// BetterTransformer applies the optimum BetterTransformer rewrite to a
// transformers model and saves the converted weights. There is no dedicated
// CLI for it, so the adapter drives a short python program.
type BetterTransformer struct {
	probe toolProbe
}

func NewBetterTransformer() *BetterTransformer {
	b := &BetterTransformer{}
	b.probe.check = func() bool {
		return havePythonModule("optimum.bettertransformer") && havePythonModule("torch")
	}
	return b
}

func (b *BetterTransformer) Name() string { return "bettertransformer" }

func (b *BetterTransformer) Available() bool { return b.probe.available() }

func (b *BetterTransformer) Requirements() []string {
	return []string{"optimum", "torch", "transformers"}
}

func (b *BetterTransformer) Optimize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	script := fmt.Sprintf(`
from transformers import AutoModel, AutoTokenizer
from optimum.bettertransformer import BetterTransformer
model = AutoModel.from_pretrained(%q)
model = BetterTransformer.transform(model)
model = BetterTransformer.reverse(model)
model.save_pretrained(%q)
tok = AutoTokenizer.from_pretrained(%q)
tok.save_pretrained(%q)
`, req.ModelID, req.OutputDir, req.ModelID, req.OutputDir)

	if _, err := runCommand(ctx, pythonExecutable(), "-c", script); err != nil {
		return nil, err
	}

	return &Result{
		Backend:    b.Name(),
		ModelID:    req.ModelID,
		OutputPath: req.OutputDir,
		Duration:   time.Since(start),
		SizeMB:     dirSizeMB(req.OutputDir),
	}, nil
}
