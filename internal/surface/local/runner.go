package local

import (
	"context"
	"os"
	"os/exec"
)

// Runner executes one program and returns its combined output.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// OSRunner runs programs on this machine. env is appended to the inherited
// environment.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}
