package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/davidsonq/modelforge/internal/log"
)

// runCommand executes an external tool and returns its combined output.
// On failure the last lines of output are folded into the error so the
// caller sees what the toolchain actually printed.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	log.Debug(log.CatBackend, "running command", "cmd", name, "args", strings.Join(args, " "))
	err := cmd.Run()
	out := buf.String()
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}
		return out, fmt.Errorf("%s failed: %w: %s", name, err, tail(out, 5))
	}
	return out, nil
}

// tail returns the last n non-empty lines of s on a single line.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	var kept []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimSpace(l))
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, " | ")
}

// toolProbe memoizes a toolchain availability check. Probes shell out, so
// each one runs at most once per process.
type toolProbe struct {
	once  sync.Once
	check func() bool
	ok    bool
}

func (p *toolProbe) available() bool {
	p.once.Do(func() { p.ok = p.check() })
	return p.ok
}

func haveExecutable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// havePythonModule reports whether `python -c "import <mod>"` succeeds.
func havePythonModule(mod string) bool {
	python, err := exec.LookPath("python3")
	if err != nil {
		python, err = exec.LookPath("python")
		if err != nil {
			return false
		}
	}
	return exec.Command(python, "-c", "import "+mod).Run() == nil
}

func pythonExecutable() string {
	if _, err := exec.LookPath("python3"); err == nil {
		return "python3"
	}
	return "python"
}
