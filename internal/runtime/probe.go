package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	defaultPingAttempts = 3
	defaultPingInterval = 500 * time.Millisecond
)

// Outcome classifies a probe result.
type Outcome uint8

const (
	// OutcomeReady means the runtime answered and a compose dialect was found.
	OutcomeReady Outcome = iota
	// OutcomeElevate means the runtime is unreachable, likely for lack of privileges.
	// The caller may restart the process with elevated rights and probe again.
	OutcomeElevate
	OutcomeUnreachable
	OutcomeNoDialect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeElevate:
		return "needs-elevation"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeNoDialect:
		return "no-dialect"
	default:
		return "unknown"
	}
}

// ProbeResult is the outcome of a runtime probe.
type ProbeResult struct {
	Outcome   Outcome
	Reachable bool
	Dialect   *Dialect
	PingErr   error
}

// Err maps non-ready outcomes to an error.
func (r ProbeResult) Err() error {
	switch r.Outcome {
	case OutcomeReady:
		return nil
	case OutcomeNoDialect:
		return ErrNoDialect
	default:
		if r.PingErr != nil {
			return fmt.Errorf("%w: %v", ErrRuntimeUnreachable, r.PingErr)
		}
		return ErrRuntimeUnreachable
	}
}

// Pinger checks that the container runtime answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober detects runtime reachability and the compose dialect.
type Prober struct {
	logger       zerolog.Logger
	pinger       Pinger
	exec         Executor
	dialects     []Dialect
	goos         string
	euid         func() int
	pingAttempts uint64
	pingInterval time.Duration
}

// ProbeOption customizes a Prober.
type ProbeOption func(*Prober)

// WithProbeExecutor overrides how dialect detection commands run.
func WithProbeExecutor(exec Executor) ProbeOption {
	return func(p *Prober) {
		p.exec = exec
	}
}

// WithPlatform overrides the host OS and effective uid lookup.
func WithPlatform(goos string, euid func() int) ProbeOption {
	return func(p *Prober) {
		p.goos = goos
		p.euid = euid
	}
}

// WithPingRetry sets how many times a failed ping is retried and how long to wait between tries.
func WithPingRetry(attempts uint64, interval time.Duration) ProbeOption {
	return func(p *Prober) {
		p.pingAttempts = attempts
		p.pingInterval = interval
	}
}

// NewProber constructs a Prober. Dialects are tried in order: plugin, then standalone.
func NewProber(logger zerolog.Logger, pinger Pinger, opts ...ProbeOption) *Prober {
	p := &Prober{
		logger:       logger,
		pinger:       pinger,
		exec:         ExecRunner{},
		dialects:     []Dialect{DialectPlugin, DialectStandalone},
		goos:         goruntime.GOOS,
		euid:         os.Geteuid,
		pingAttempts: defaultPingAttempts,
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks the runtime and returns the first working compose dialect.
func (p *Prober) Probe(ctx context.Context) ProbeResult {
	if err := p.ping(ctx); err != nil {
		p.logger.Debug().Err(err).Msg("container runtime ping failed")
		result := ProbeResult{Outcome: OutcomeUnreachable, PingErr: err}
		if p.canElevate() {
			result.Outcome = OutcomeElevate
		}
		return result
	}

	for _, dialect := range p.dialects {
		name, args := dialect.Command("version")
		code, err := p.exec.Run(ctx, nil, io.Discard, io.Discard, name, args...)
		if err == nil && code == 0 {
			p.logger.Debug().Str("dialect", dialect.Name).Msg("compose dialect detected")
			d := dialect
			return ProbeResult{Outcome: OutcomeReady, Reachable: true, Dialect: &d}
		}
		p.logger.Debug().Str("dialect", dialect.Name).Int("exit_code", code).Err(err).Msg("compose dialect unavailable")
	}

	return ProbeResult{Outcome: OutcomeNoDialect, Reachable: true}
}

func (p *Prober) ping(ctx context.Context) error {
	if p.pinger == nil {
		return ErrRuntimeUnreachable
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.pingInterval), p.pingAttempts),
		ctx,
	)
	return backoff.Retry(func() error {
		return p.pinger.Ping(ctx)
	}, policy)
}

func (p *Prober) canElevate() bool {
	if p.goos == "windows" || p.euid == nil {
		return false
	}
	return p.euid() != 0
}
