package runtime

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/nholik/phaseup/internal/metrics"
	"github.com/rs/zerolog"
)

const stderrTailLimit = 8 << 10

// Dialect is the invocation form accepted by the installed compose tooling.
// It is resolved once by Probe and passed to every command runner.
type Dialect struct {
	Name    string
	command string
	prefix  []string
}

var (
	// DialectPlugin is the compose v2 CLI plugin: "docker compose".
	DialectPlugin = Dialect{Name: "docker compose", command: "docker", prefix: []string{"compose"}}
	// DialectStandalone is the legacy standalone binary: "docker-compose".
	DialectStandalone = Dialect{Name: "docker-compose", command: "docker-compose"}
)

// Command returns the program and arguments for the given compose arguments.
func (d Dialect) Command(args ...string) (string, []string) {
	argv := make([]string, 0, len(d.prefix)+len(args))
	argv = append(argv, d.prefix...)
	argv = append(argv, args...)
	return d.command, argv
}

// UpOptions tunes an "up" invocation.
type UpOptions struct {
	Build bool
}

// Compose issues compose commands against one definition file.
type Compose struct {
	logger  zerolog.Logger
	dialect Dialect
	file    string
	exec    Executor
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	metrics *metrics.Metrics
}

// ComposeOption customizes a Compose runner.
type ComposeOption func(*Compose)

// WithExecutor overrides how processes are started.
func WithExecutor(exec Executor) ComposeOption {
	return func(c *Compose) {
		c.exec = exec
	}
}

// WithOutput sets where passthrough command output goes.
func WithOutput(stdout, stderr io.Writer) ComposeOption {
	return func(c *Compose) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithMetrics records command outcomes.
func WithMetrics(m *metrics.Metrics) ComposeOption {
	return func(c *Compose) {
		c.metrics = m
	}
}

// NewCompose constructs a runner for the given dialect and compose file.
func NewCompose(logger zerolog.Logger, dialect Dialect, file string, opts ...ComposeOption) *Compose {
	c := &Compose{
		logger:  logger,
		dialect: dialect,
		file:    file,
		exec:    ExecRunner{},
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dialect returns the dialect used by this runner.
func (c *Compose) Dialect() Dialect {
	return c.dialect
}

// Up starts services in detached mode, building images first when requested.
// Once issued, the command runs to completion even if ctx is cancelled.
func (c *Compose) Up(ctx context.Context, opts UpOptions, services ...string) error {
	args := []string{"up"}
	if opts.Build {
		args = append(args, "--build")
	}
	args = append(args, "-d")
	args = append(args, services...)
	return c.run(context.WithoutCancel(ctx), "up", true, args...)
}

// Build builds the image for a single service. Output is captured, not streamed,
// so concurrent builds do not interleave on the terminal.
func (c *Compose) Build(ctx context.Context, service string) error {
	return c.run(ctx, "build", false, "build", service)
}

// Down stops and removes the stack's containers, and its volumes when requested.
func (c *Compose) Down(ctx context.Context, volumes bool) error {
	args := []string{"down"}
	if volumes {
		args = append(args, "--volumes")
	}
	return c.run(ctx, "down", true, args...)
}

// Ps prints container status for the stack.
func (c *Compose) Ps(ctx context.Context) error {
	return c.run(ctx, "ps", true, "ps")
}

// Logs prints service logs, following them when requested.
func (c *Compose) Logs(ctx context.Context, follow bool, services ...string) error {
	args := []string{"logs"}
	if follow {
		args = append(args, "-f")
	}
	args = append(args, services...)
	return c.run(ctx, "logs", true, args...)
}

func (c *Compose) run(ctx context.Context, op string, passthrough bool, args ...string) error {
	full := append([]string{"-f", c.file}, args...)
	name, argv := c.dialect.Command(full...)

	tail := &tailBuffer{limit: stderrTailLimit}
	stdout := io.Discard
	var stderr io.Writer = tail
	var stdin io.Reader
	if passthrough {
		stdout = c.stdout
		stderr = io.MultiWriter(c.stderr, tail)
		stdin = c.stdin
	}

	c.logger.Debug().Str("command", name).Strs("args", argv).Msg("running compose command")

	code, err := c.exec.Run(ctx, stdin, stdout, stderr, name, argv...)
	if err == nil && code == 0 {
		c.metrics.IncCommand(op, "ok")
		return nil
	}

	c.metrics.IncCommand(op, "failed")
	return &CommandError{
		Op:       c.dialect.Name + " " + op,
		Args:     append([]string{name}, argv...),
		ExitCode: code,
		Stderr:   tail.String(),
		Err:      err,
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
