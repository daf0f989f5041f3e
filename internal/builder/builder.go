package builder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nholik/phaseup/internal/metrics"
	"github.com/nholik/phaseup/internal/runtime"
	"github.com/rs/zerolog"
)

// DefaultWorkers is the fixed build concurrency.
const DefaultWorkers = 3

// ImageBuilder builds the image for one service.
type ImageBuilder interface {
	Build(ctx context.Context, service string) error
}

// Result is the outcome of one service build.
type Result struct {
	Service  string
	Err      error
	Stderr   string
	Duration time.Duration
}

// OK reports whether the build succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Summary aggregates all build results. Results are in input order.
type Summary struct {
	Results   []Result
	Succeeded []string
	Failed    []Result
}

// Total returns the number of services processed.
func (s Summary) Total() int {
	return len(s.Succeeded) + len(s.Failed)
}

// Pool builds images with bounded concurrency. A failed build never cancels its siblings.
type Pool struct {
	logger  zerolog.Logger
	builder ImageBuilder
	workers int
	metrics *metrics.Metrics
}

// Option customizes a Pool.
type Option func(*Pool)

// WithWorkers overrides the worker count.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMetrics records build outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// New constructs a Pool.
func New(logger zerolog.Logger, builder ImageBuilder, opts ...Option) *Pool {
	p := &Pool{
		logger:  logger,
		builder: builder,
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BuildAll builds every service and returns once all builds have finished.
// Builds start in input order. If ctx is cancelled, services not yet started
// are reported as failed with the context error.
func (p *Pool) BuildAll(ctx context.Context, services []string) Summary {
	results := make([]Result, len(services))
	sem := make(chan struct{}, p.workers)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	p.logger.Info().Int("services", len(services)).Int("workers", p.workers).Msg("building images")

	for i, service := range services {
		if !p.acquire(ctx, sem) {
			mu.Lock()
			results[i] = Result{Service: service, Err: ctx.Err()}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(i int, service string) {
			defer wg.Done()
			defer func() { <-sem }()

			result := p.build(ctx, service)
			mu.Lock()
			results[i] = result
			mu.Unlock()
		}(i, service)
	}
	wg.Wait()

	summary := Summary{Results: results}
	for _, result := range results {
		if result.OK() {
			summary.Succeeded = append(summary.Succeeded, result.Service)
			continue
		}
		summary.Failed = append(summary.Failed, result)
	}

	p.logger.Info().
		Int("succeeded", len(summary.Succeeded)).
		Int("failed", len(summary.Failed)).
		Msg("image builds finished")
	return summary
}

func (p *Pool) acquire(ctx context.Context, sem chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case sem <- struct{}{}:
		return true
	}
}

func (p *Pool) build(ctx context.Context, service string) Result {
	logger := p.logger.With().Str("service", service).Logger()
	logger.Info().Msg("building image")

	started := time.Now()
	err := p.builder.Build(ctx, service)
	result := Result{Service: service, Err: err, Duration: time.Since(started)}

	if err != nil {
		var cmdErr *runtime.CommandError
		if errors.As(err, &cmdErr) {
			result.Stderr = cmdErr.Diagnostic()
		} else {
			result.Stderr = err.Error()
		}
		p.metrics.IncBuild("failed")
		logger.Error().Err(err).Dur("duration", result.Duration.Round(time.Millisecond)).Msg("image build failed")
		return result
	}

	p.metrics.IncBuild("succeeded")
	logger.Info().Dur("duration", result.Duration.Round(time.Millisecond)).Msg("image built")
	return result
}
