package cli

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nholik/phaseup/internal/config"
	"github.com/nholik/phaseup/internal/lifecycle"
	"github.com/nholik/phaseup/internal/orchestrator"
	"github.com/nholik/phaseup/internal/runtime"
	"github.com/nholik/phaseup/internal/stack"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "cancelled", err: lifecycle.ErrCancelled, want: 0},
		{name: "wrapped cancelled", err: fmt.Errorf("clean: %w", lifecycle.ErrCancelled), want: 0},
		{name: "elevated", err: &ElevatedExit{Code: 4}, want: 4},
		{name: "wrapped elevated", err: fmt.Errorf("start: %w", &ElevatedExit{Code: 2}), want: 2},
		{name: "generic", err: errors.New("boom"), want: 1},
		{name: "interrupted", err: orchestrator.ErrInterrupted, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "environment", err: stack.ErrInvalidEnvironment, want: "dev or prod"},
		{name: "compose file", err: fmt.Errorf("%w: /opt/x.yml", config.ErrComposeFileNotFound), want: "PHASEUP_COMPOSE_DIR"},
		{name: "elevation", err: ErrElevationFailed, want: "docker group"},
		{name: "unreachable", err: runtime.ErrRuntimeUnreachable, want: "Docker daemon"},
		{name: "no dialect", err: runtime.ErrNoDialect, want: "Compose plugin"},
		{name: "port", err: ErrPortConflict, want: "database port"},
		{name: "interrupted", err: fmt.Errorf("%w during phase 3", orchestrator.ErrInterrupted), want: "resume"},
		{name: "builds", err: ErrBuildFailures, want: "failing services"},
		{name: "command", err: fmt.Errorf("phase 1: %w", &runtime.CommandError{Op: "up", Err: errors.New("exit status 1")}), want: "compose output"},
		{name: "unknown", err: errors.New("boom"), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hint(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Fatalf("expected no hint, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Fatalf("expected hint containing %q, got %q", tt.want, got)
			}
		})
	}
}
