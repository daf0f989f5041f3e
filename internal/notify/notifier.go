package notify

import (
	"context"
	"fmt"
	"time"
)

// EventKind names the operation a RunEvent reports on.
type EventKind string

const (
	EventStart EventKind = "start"
	EventBuild EventKind = "build"
)

// PhaseOutcome is one phase line of a start run.
type PhaseOutcome struct {
	Phase    string        `json:"phase"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration_ns"`
}

// BuildFailure is one failed image build.
type BuildFailure struct {
	Service    string `json:"service"`
	Diagnostic string `json:"diagnostic"`
}

// RunEvent describes the outcome of a start or build run.
type RunEvent struct {
	Kind        EventKind      `json:"kind"`
	Environment string         `json:"environment"`
	Phases      []PhaseOutcome `json:"phases,omitempty"`
	Built       []string       `json:"built,omitempty"`
	Failed      []BuildFailure `json:"failed,omitempty"`
	Error       string         `json:"error,omitempty"`
	Fingerprint string         `json:"compose_fingerprint,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// OK reports whether the run finished without errors or failed builds.
func (e RunEvent) OK() bool {
	return e.Error == "" && len(e.Failed) == 0
}

// Summary returns a one-line description of the event.
func (e RunEvent) Summary() string {
	env := e.Environment
	if env == "" {
		env = "default"
	}
	switch e.Kind {
	case EventBuild:
		return fmt.Sprintf("%s build: %d succeeded, %d failed", env, len(e.Built), len(e.Failed))
	default:
		if e.Error != "" {
			return fmt.Sprintf("%s startup failed", env)
		}
		return fmt.Sprintf("%s startup complete (%d phases)", env, len(e.Phases))
	}
}

// Notifier delivers run outcomes to external systems.
type Notifier interface {
	Notify(ctx context.Context, event RunEvent) error
}
