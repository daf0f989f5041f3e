package cli

import (
	"errors"
	"fmt"

	"github.com/nholik/phaseup/internal/config"
	"github.com/nholik/phaseup/internal/lifecycle"
	"github.com/nholik/phaseup/internal/orchestrator"
	"github.com/nholik/phaseup/internal/runtime"
	"github.com/nholik/phaseup/internal/stack"
)

var (
	ErrPortConflict     = errors.New("database port is in use")
	ErrBuildFailures    = errors.New("one or more image builds failed")
	ErrElevationFailed  = errors.New("privilege elevation failed")
	ErrUnknownSelection = errors.New("unknown menu selection")
)

// ElevatedExit reports that the command was re-run with elevated privileges
// and the elevated process has finished with Code.
type ElevatedExit struct {
	Code int
}

func (e *ElevatedExit) Error() string {
	return fmt.Sprintf("elevated run exited with status %d", e.Code)
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, lifecycle.ErrCancelled) {
		return 0
	}
	var elevated *ElevatedExit
	if errors.As(err, &elevated) {
		return elevated.Code
	}
	return 1
}

// Hint returns remediation guidance for err, or an empty string.
func Hint(err error) string {
	var cmdErr *runtime.CommandError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, stack.ErrInvalidEnvironment):
		return "Use dev or prod."
	case errors.Is(err, config.ErrComposeFileNotFound):
		return "Place docker-compose.<env>.yml next to the phaseup binary or set PHASEUP_COMPOSE_DIR."
	case errors.Is(err, ErrElevationFailed):
		return "Run phaseup with sudo, or add your user to the docker group and log in again."
	case errors.Is(err, runtime.ErrRuntimeUnreachable):
		return "Start the Docker daemon (sudo systemctl start docker) and check DOCKER_HOST or PHASEUP_DOCKER_HOST."
	case errors.Is(err, runtime.ErrNoDialect):
		return "Install the Docker Compose plugin (docker compose) or the standalone docker-compose binary."
	case errors.Is(err, ErrPortConflict):
		return "Stop whatever listens on the database port (for example: sudo systemctl stop postgresql) and retry."
	case errors.Is(err, orchestrator.ErrInterrupted):
		return "Re-run the same command to resume; phases that are already satisfied are skipped."
	case errors.Is(err, ErrBuildFailures):
		return "Check the diagnostics above, fix the failing services and run the build again."
	case errors.As(err, &cmdErr):
		return "Check the compose output above; re-running resumes from the first unsatisfied phase."
	default:
		return ""
	}
}
