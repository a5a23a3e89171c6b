// Package process launches the resolved executable.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// Runner implements domain.ProcessRunner with os/exec. The child inherits
// the environment and stdio of the current process.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewRunner creates a Runner wired to the process's standard streams.
func NewRunner() *Runner {
	return &Runner{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run starts spec.Path in spec.Dir and waits for it.
// A non-zero exit is reported through the exit code, not as an error.
func (r *Runner) Run(ctx context.Context, spec domain.ProcessSpec) (int, error) {
	cmd := exec.CommandContext(ctx, spec.Path)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return -1, fmt.Errorf("running %s: %w", spec.Path, ctx.Err())
	}
	return -1, fmt.Errorf("running %s: %w", spec.Path, err)
}
