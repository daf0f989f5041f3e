package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nholik/phaseup/internal/runtime"
	"github.com/rs/zerolog"
)

// ElevatedEnv marks a process that was restarted through sudo.
const ElevatedEnv = "PHASEUP_ELEVATED"

// Elevator re-runs phaseup with the given arguments under elevated privileges.
type Elevator interface {
	Elevate(ctx context.Context, args []string) error
}

// SudoElevator restarts the current executable through sudo exactly once.
// A process that already carries ElevatedEnv never elevates again.
type SudoElevator struct {
	logger     zerolog.Logger
	exec       runtime.Executor
	executable func() (string, error)
	getenv     func(string) string
	lookPath   func(string) bool
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
}

// NewSudoElevator constructs a SudoElevator wired to the process streams.
func NewSudoElevator(logger zerolog.Logger, exec runtime.Executor) *SudoElevator {
	return &SudoElevator{
		logger:     logger,
		exec:       exec,
		executable: os.Executable,
		getenv:     os.Getenv,
		lookPath:   runtime.LookPath,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
}

// Elevate runs "sudo -E env PHASEUP_ELEVATED=1 <self> args..." and returns an
// *ElevatedExit carrying the child's exit status.
func (s *SudoElevator) Elevate(ctx context.Context, args []string) error {
	if s.getenv(ElevatedEnv) != "" {
		return fmt.Errorf("%w: container runtime still unreachable with elevated privileges", ErrElevationFailed)
	}
	if !s.lookPath("sudo") {
		return fmt.Errorf("%w: sudo not found", ErrElevationFailed)
	}
	exe, err := s.executable()
	if err != nil {
		return fmt.Errorf("%w: resolve executable: %v", ErrElevationFailed, err)
	}

	argv := append([]string{"-E", "env", ElevatedEnv + "=1", exe}, args...)
	s.logger.Warn().Strs("args", args).Msg("container runtime not reachable, retrying with sudo")

	code, err := s.exec.Run(ctx, s.stdin, s.stdout, s.stderr, "sudo", argv...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrElevationFailed, err)
	}
	return &ElevatedExit{Code: code}
}
