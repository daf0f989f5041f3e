package ports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nholik/phaseup/internal/runtime"
	"github.com/rs/zerolog"
)

const (
	defaultDialTimeout     = 500 * time.Millisecond
	defaultReleaseTimeout  = 10 * time.Second
	defaultReleaseInterval = 500 * time.Millisecond
)

var errPortBusy = errors.New("port still in use")

// ServiceStopper stops a host service that competes for a port.
type ServiceStopper interface {
	// Available reports whether the stopper can run on this host.
	Available() bool
	Stop(ctx context.Context, unit string) error
}

// DialFunc opens a connection, as net.Dialer.DialContext does.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Resolver makes sure a host port is free for the stack's own container.
type Resolver struct {
	logger          zerolog.Logger
	inspector       runtime.Inspector
	stopper         ServiceStopper
	unit            string
	dial            DialFunc
	dialTimeout     time.Duration
	releaseTimeout  time.Duration
	releaseInterval time.Duration
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithDialer overrides how the port is probed.
func WithDialer(dial DialFunc) Option {
	return func(r *Resolver) {
		r.dial = dial
	}
}

// WithStopper overrides how the conflicting host service is stopped.
func WithStopper(stopper ServiceStopper) Option {
	return func(r *Resolver) {
		r.stopper = stopper
	}
}

// WithReleaseWait sets how long and how often to poll for the port after stopping the service.
func WithReleaseWait(timeout, interval time.Duration) Option {
	return func(r *Resolver) {
		r.releaseTimeout = timeout
		if interval > 0 {
			r.releaseInterval = interval
		}
	}
}

// NewResolver constructs a Resolver. unit names the host service known to
// hold the port, for example "postgresql".
func NewResolver(logger zerolog.Logger, inspector runtime.Inspector, unit string, opts ...Option) *Resolver {
	r := &Resolver{
		logger:          logger,
		inspector:       inspector,
		unit:            unit,
		stopper:         NewSystemctlStopper(runtime.ExecRunner{}),
		dialTimeout:     defaultDialTimeout,
		releaseTimeout:  defaultReleaseTimeout,
		releaseInterval: defaultReleaseInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dial == nil {
		dialer := &net.Dialer{Timeout: r.dialTimeout}
		r.dial = dialer.DialContext
	}
	return r
}

// EnsurePortFree returns true when port is free or held by expectedContainer.
// Otherwise it stops the known conflicting host service and waits for the
// port to be released. It never kills arbitrary processes.
func (r *Resolver) EnsurePortFree(ctx context.Context, port int, expectedContainer string) bool {
	logger := r.logger.With().Int("port", port).Logger()

	if !r.inUse(ctx, port) {
		logger.Debug().Msg("port is free")
		return true
	}

	if expectedContainer != "" {
		state, err := r.inspector.Inspect(ctx, expectedContainer)
		if err == nil && state.Running && runtime.PublishesHostPort(state.Ports, port) {
			logger.Info().Str("container", expectedContainer).Msg("port held by stack container")
			return true
		}
	}

	if r.unit == "" || r.stopper == nil || !r.stopper.Available() {
		logger.Warn().Msg("port is in use and no service stop command is available")
		return false
	}

	logger.Warn().Str("unit", r.unit).Msg("port is in use, stopping conflicting host service")
	if err := r.stopper.Stop(ctx, r.unit); err != nil {
		logger.Error().Err(err).Str("unit", r.unit).Msg("failed to stop host service")
		return false
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(r.releaseInterval),
			uint64(r.releaseTimeout/r.releaseInterval),
		),
		ctx,
	)
	err := backoff.Retry(func() error {
		if r.inUse(ctx, port) {
			return errPortBusy
		}
		return nil
	}, policy)
	if err != nil {
		logger.Error().Err(err).Msg("port was not released")
		return false
	}

	logger.Info().Str("unit", r.unit).Msg("port released")
	return true
}

func (r *Resolver) inUse(ctx context.Context, port int) bool {
	conn, err := r.dial(ctx, "tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// SystemctlStopper stops systemd units, through sudo when not running as root.
type SystemctlStopper struct {
	exec     runtime.Executor
	lookPath func(string) bool
	euid     func() int
}

// NewSystemctlStopper constructs a stopper that runs commands through exec.
func NewSystemctlStopper(exec runtime.Executor) *SystemctlStopper {
	return &SystemctlStopper{
		exec:     exec,
		lookPath: runtime.LookPath,
		euid:     os.Geteuid,
	}
}

// Available implements ServiceStopper.
func (s *SystemctlStopper) Available() bool {
	if !s.lookPath("systemctl") {
		return false
	}
	return s.euid() == 0 || s.lookPath("sudo")
}

// Stop implements ServiceStopper.
func (s *SystemctlStopper) Stop(ctx context.Context, unit string) error {
	name, args := "systemctl", []string{"stop", unit}
	if s.euid() != 0 {
		name, args = "sudo", append([]string{"systemctl"}, args...)
	}

	code, err := s.exec.Run(ctx, os.Stdin, io.Discard, os.Stderr, name, args...)
	if err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	if code != 0 {
		return fmt.Errorf("%s %v: exit status %d", name, args, code)
	}
	return nil
}
