package runtime

import (
	"context"
	"errors"
	"io"
	"os/exec"
)

// Executor runs an external program.
type Executor interface {
	// Run executes name with args and returns the exit code. A non-nil error
	// means the program could not be started or was interrupted.
	Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, name string, args ...string) (int, error)
}

// ExecRunner implements Executor with os/exec.
type ExecRunner struct{}

// Run implements Executor.
func (ExecRunner) Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return -1, err
}

// LookPath reports whether a program is available on PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
