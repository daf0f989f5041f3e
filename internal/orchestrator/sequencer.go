package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/nholik/phaseup/internal/health"
	"github.com/nholik/phaseup/internal/metrics"
	"github.com/nholik/phaseup/internal/runtime"
	"github.com/nholik/phaseup/internal/stack"
	"github.com/rs/zerolog"
)

// ErrInterrupted is returned when the run is cancelled between or during phases.
// Commands already issued are left running; re-running resumes from the first
// unsatisfied phase.
var ErrInterrupted = errors.New("startup interrupted")

// Outcome describes how a phase ended.
type Outcome string

const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeStarted     Outcome = "started"
	OutcomeTimedOut    Outcome = "timed-out"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted"
)

// Monitor answers container readiness questions.
type Monitor interface {
	State(ctx context.Context, container string) health.State
	Exists(ctx context.Context, container string) bool
	WaitUntilHealthy(ctx context.Context, container string, timeout, interval time.Duration) bool
}

// Commander starts compose services.
type Commander interface {
	Up(ctx context.Context, opts runtime.UpOptions, services ...string) error
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// PhaseResult records what happened in one phase.
type PhaseResult struct {
	Phase    stack.PhaseID
	Outcome  Outcome
	Started  []string
	Built    []string
	Duration time.Duration
}

// Report summarizes a run. Final is the last phase reached, PhaseDone on success.
type Report struct {
	Phases []PhaseResult
	Final  stack.PhaseID
}

// Sequencer walks the stack's phases in order, starting only what is not ready.
type Sequencer struct {
	logger          zerolog.Logger
	stack           stack.Stack
	monitor         Monitor
	commander       Commander
	sleep           Sleeper
	metrics         *metrics.Metrics
	interval        time.Duration
	rebuildCritical bool
	out             io.Writer
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithSleeper overrides how settle delays are waited out.
func WithSleeper(sleep Sleeper) Option {
	return func(s *Sequencer) {
		s.sleep = sleep
	}
}

// WithMetrics records phase outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sequencer) {
		s.metrics = m
	}
}

// WithHealthInterval sets the health polling interval.
func WithHealthInterval(interval time.Duration) Option {
	return func(s *Sequencer) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithRebuildCritical forces critical phases to rebuild and recreate their
// services even when already provisioned.
func WithRebuildCritical(enabled bool) Option {
	return func(s *Sequencer) {
		s.rebuildCritical = enabled
	}
}

// WithOutput sets where the access summary is printed.
func WithOutput(out io.Writer) Option {
	return func(s *Sequencer) {
		s.out = out
	}
}

// New constructs a Sequencer.
func New(logger zerolog.Logger, st stack.Stack, monitor Monitor, commander Commander, opts ...Option) *Sequencer {
	s := &Sequencer{
		logger:    logger,
		stack:     st,
		monitor:   monitor,
		commander: commander,
		sleep:     sleepContext,
		interval:  health.DefaultInterval,
		out:       os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes every phase in order. A failed compose command aborts the run
// with no rollback. Health timeouts are logged and the run continues.
func (s *Sequencer) Run(ctx context.Context) (Report, error) {
	report := Report{Final: stack.PhaseDatabase}
	if err := s.stack.Validate(); err != nil {
		return report, err
	}

	for _, phase := range s.stack.Phases {
		report.Final = phase.ID
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w before %s: %v", ErrInterrupted, phase.ID, err)
		}

		result, err := s.runPhase(ctx, phase)
		if err != nil {
			result.Outcome = OutcomeFailed
			if ctx.Err() != nil {
				result.Outcome = OutcomeInterrupted
			}
		}
		report.Phases = append(report.Phases, result)
		s.metrics.ObservePhase(phase.ID.String(), string(result.Outcome), result.Duration)

		if err != nil {
			if ctx.Err() != nil {
				return report, fmt.Errorf("%w during %s: %v", ErrInterrupted, phase.ID, err)
			}
			return report, fmt.Errorf("phase %s: %w", phase.ID, err)
		}
	}

	report.Final = stack.PhaseDone
	s.logger.Info().Msg("all phases complete")
	s.printSummary()
	return report, nil
}

func (s *Sequencer) runPhase(ctx context.Context, phase stack.Phase) (PhaseResult, error) {
	began := time.Now()
	result := PhaseResult{Phase: phase.ID}
	logger := s.logger.With().Str("phase", phase.ID.String()).Logger()

	forceBuild := phase.Critical && s.rebuildCritical
	toStart, satisfied := s.evaluate(ctx, phase)
	if satisfied && !forceBuild {
		logger.Info().Str("title", phase.Title).Msg("already satisfied, skipped")
		result.Outcome = OutcomeSkipped
		result.Duration = time.Since(began)
		return result, nil
	}
	if forceBuild {
		toStart = phase.Services
	}

	logger.Info().Str("title", phase.Title).Strs("services", toStart).Msg("starting phase")
	result.Outcome = OutcomeStarted

	build, plain := s.splitBuilds(ctx, phase, toStart, forceBuild)
	if len(build) > 0 {
		logger.Info().Strs("services", build).Msg("building critical services")
		if err := s.commander.Up(ctx, runtime.UpOptions{Build: true}, build...); err != nil {
			result.Duration = time.Since(began)
			return result, err
		}
		result.Built = build
	}
	if len(plain) > 0 {
		if err := s.commander.Up(ctx, runtime.UpOptions{}, plain...); err != nil {
			result.Duration = time.Since(began)
			return result, err
		}
	}
	result.Started = append(append([]string(nil), build...), plain...)
	if err := ctx.Err(); err != nil {
		result.Duration = time.Since(began)
		return result, err
	}

	switch {
	case phase.HealthGated():
		for _, service := range phase.Services {
			container := s.stack.ContainerName(service)
			if s.monitor.WaitUntilHealthy(ctx, container, phase.HealthTimeout, s.interval) {
				continue
			}
			if err := ctx.Err(); err != nil {
				result.Duration = time.Since(began)
				return result, err
			}
			logger.Warn().
				Str("container", container).
				Dur("timeout", phase.HealthTimeout).
				Msg("health check timed out, continuing")
			s.metrics.IncHealthTimeout(container)
			result.Outcome = OutcomeTimedOut
		}
	case phase.Settle > 0:
		logger.Info().Dur("delay", phase.Settle).Msg("waiting for phase to settle")
		if err := s.sleep(ctx, phase.Settle); err != nil {
			result.Duration = time.Since(began)
			return result, err
		}
	}

	result.Duration = time.Since(began)
	logger.Info().Dur("duration", result.Duration.Round(time.Millisecond)).Str("outcome", string(result.Outcome)).Msg("phase finished")
	return result, nil
}

// evaluate returns the members that are not running and whether every member
// already meets the phase requirement.
func (s *Sequencer) evaluate(ctx context.Context, phase stack.Phase) ([]string, bool) {
	var toStart []string
	satisfied := true
	for _, service := range phase.Services {
		state := s.monitor.State(ctx, s.stack.ContainerName(service))
		if !meets(state, phase.Require) {
			satisfied = false
		}
		if !state.Running() {
			toStart = append(toStart, service)
		}
	}
	return toStart, satisfied
}

// splitBuilds separates services that need an image build from those that only
// need starting. Only critical phases build, and only for containers that do
// not exist yet unless a rebuild is forced.
func (s *Sequencer) splitBuilds(ctx context.Context, phase stack.Phase, services []string, force bool) (build, plain []string) {
	if !phase.Critical {
		return nil, services
	}
	for _, service := range services {
		if force || !s.monitor.Exists(ctx, s.stack.ContainerName(service)) {
			build = append(build, service)
			continue
		}
		plain = append(plain, service)
	}
	return build, plain
}

func meets(state health.State, require stack.Requirement) bool {
	if require == stack.RequireHealthy {
		return state == health.StateRunningHealthy
	}
	return state.Running()
}

func (s *Sequencer) printSummary() {
	if s.out == nil {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintln(s.out, "All services started.")
	if len(s.stack.Endpoints) == 0 {
		return
	}
	fmt.Fprintln(s.out, "Access points:")
	label := color.New(color.FgCyan)
	for _, endpoint := range s.stack.Endpoints {
		fmt.Fprintf(s.out, "  - %s: %s\n", label.Sprint(endpoint.Name), endpoint.Address)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
