package health

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nholik/phaseup/internal/runtime"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	healthyStatus   = "healthy"
	DefaultInterval = 5 * time.Second
	progressEvery   = 15 * time.Second
)

var errNotHealthy = errors.New("container not healthy yet")

// State is the observed condition of one container. It is derived on every
// query and never cached.
type State uint8

const (
	StateUnknown State = iota
	StateNotRunning
	StateRunningUnhealthy
	StateRunningHealthy
)

func (s State) String() string {
	switch s {
	case StateNotRunning:
		return "not-running"
	case StateRunningUnhealthy:
		return "running-unhealthy"
	case StateRunningHealthy:
		return "running-healthy"
	default:
		return "unknown"
	}
}

// Running reports whether the container is up, healthy or not.
func (s State) Running() bool {
	return s == StateRunningUnhealthy || s == StateRunningHealthy
}

// Monitor answers readiness questions about containers.
type Monitor struct {
	logger    zerolog.Logger
	inspector runtime.Inspector
}

// NewMonitor constructs a Monitor over the given inspector.
func NewMonitor(logger zerolog.Logger, inspector runtime.Inspector) *Monitor {
	return &Monitor{
		logger:    logger,
		inspector: inspector,
	}
}

// State classifies the container. Inspect failures yield StateUnknown.
func (m *Monitor) State(ctx context.Context, container string) State {
	state, err := m.inspector.Inspect(ctx, container)
	if err != nil {
		if !errors.Is(err, runtime.ErrContainerNotFound) {
			m.logger.Debug().Err(err).Str("container", container).Msg("inspect failed")
		}
		return StateUnknown
	}
	switch {
	case !state.Running:
		return StateNotRunning
	case state.Health == healthyStatus:
		return StateRunningHealthy
	default:
		return StateRunningUnhealthy
	}
}

func (m *Monitor) IsRunning(ctx context.Context, container string) bool {
	return m.State(ctx, container).Running()
}

func (m *Monitor) IsHealthy(ctx context.Context, container string) bool {
	return m.State(ctx, container) == StateRunningHealthy
}

// Exists reports whether the runtime knows the container, running or not.
func (m *Monitor) Exists(ctx context.Context, container string) bool {
	_, err := m.inspector.Inspect(ctx, container)
	return err == nil
}

// WaitUntilHealthy polls every interval until the container reports healthy.
// It gives up after timeout/interval retries, or when ctx is done, and returns false.
func (m *Monitor) WaitUntilHealthy(ctx context.Context, container string, timeout, interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultInterval
	}
	retries := uint64(timeout / interval)

	logger := m.logger.With().Str("container", container).Logger()
	progress := rate.Sometimes{Interval: progressEvery}
	started := time.Now()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), retries),
		ctx,
	)
	err := backoff.Retry(func() error {
		state := m.State(ctx, container)
		if state == StateRunningHealthy {
			return nil
		}
		progress.Do(func() {
			logger.Info().
				Str("state", state.String()).
				Dur("elapsed", time.Since(started).Round(time.Second)).
				Dur("timeout", timeout).
				Msg("waiting for container to become healthy")
		})
		return errNotHealthy
	}, policy)
	if err != nil {
		return false
	}

	logger.Info().Dur("elapsed", time.Since(started).Round(time.Millisecond)).Msg("container healthy")
	return true
}
