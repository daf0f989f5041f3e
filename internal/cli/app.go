package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/nholik/phaseup/internal/builder"
	"github.com/nholik/phaseup/internal/compose"
	"github.com/nholik/phaseup/internal/config"
	"github.com/nholik/phaseup/internal/health"
	"github.com/nholik/phaseup/internal/lifecycle"
	"github.com/nholik/phaseup/internal/metrics"
	"github.com/nholik/phaseup/internal/notify"
	"github.com/nholik/phaseup/internal/orchestrator"
	"github.com/nholik/phaseup/internal/ports"
	"github.com/nholik/phaseup/internal/runtime"
	"github.com/nholik/phaseup/internal/stack"
	"github.com/rs/zerolog"
)

const notifyTimeout = 30 * time.Second

// StartOptions tunes a start run.
type StartOptions struct {
	RebuildCritical bool
}

// Runner performs the operator-facing operations for one environment.
type Runner interface {
	Start(ctx context.Context, env stack.Environment, opts StartOptions) error
	Build(ctx context.Context, env stack.Environment) error
	Stop(ctx context.Context, env stack.Environment) error
	Clean(ctx context.Context, env stack.Environment) error
	Status(ctx context.Context, env stack.Environment) error
	Logs(ctx context.Context, env stack.Environment, services []string) error
	LogGroups() ([]stack.LogGroup, error)
}

// Streams are the terminal streams shared by the menu and the commands.
// In is shared so confirmation prompts do not lose buffered menu input.
type Streams struct {
	In     *bufio.Reader
	Out    io.Writer
	ErrOut io.Writer
}

func (s Streams) withDefaults() Streams {
	if s.In == nil {
		s.In = bufio.NewReader(os.Stdin)
	}
	if s.Out == nil {
		s.Out = os.Stdout
	}
	if s.ErrOut == nil {
		s.ErrOut = os.Stderr
	}
	return s
}

// App implements Runner against the local Docker runtime.
type App struct {
	cfg      config.Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	notifier notify.Notifier
	elevator Elevator
	streams  Streams
	// globalArgs are root flags repeated on an elevated re-run.
	globalArgs []string
}

// AppOption customizes an App.
type AppOption func(*App)

// WithGlobalArgs sets root flags, such as --log-level, that an elevated re-run
// must repeat ahead of the command.
func WithGlobalArgs(args ...string) AppOption {
	return func(a *App) {
		a.globalArgs = append([]string(nil), args...)
	}
}

// NewApp wires configuration, metrics and notifiers.
func NewApp(cfg config.Config, logger zerolog.Logger, streams Streams, opts ...AppOption) (*App, error) {
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(),
		notifier: notifier,
		elevator: NewSudoElevator(logger, runtime.ExecRunner{}),
		streams:  streams.withDefaults(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func newNotifier(cfg config.Config, logger zerolog.Logger) (notify.Notifier, error) {
	notifiers := []notify.Notifier{notify.NewSlackNotifier(logger, cfg.SlackWebhookURL)}

	webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
	if err != nil {
		return nil, err
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	var notifier notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if cfg.DryRunNotify {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}
	return notifier, nil
}

// session holds what a command needs to act on one environment.
type session struct {
	env       stack.Environment
	stack     stack.Stack
	def       *compose.Definition
	inspector *runtime.DockerInspector
	compose   *runtime.Compose
}

func (s *session) Close() error {
	return s.inspector.Close()
}

func (s *session) fingerprint() string {
	if s.def == nil {
		return ""
	}
	return s.def.Fingerprint
}

// loadStack resolves the compose file and the service tables for env. It
// issues no runtime command.
func (a *App) loadStack(ctx context.Context, env stack.Environment) (stack.Stack, string, *compose.Definition, error) {
	file, err := a.cfg.ComposeFile(env)
	if err != nil {
		return stack.Stack{}, "", nil, err
	}

	st, err := stack.LoadFile(a.cfg.StackFile, stack.Default())
	if err != nil {
		return stack.Stack{}, "", nil, err
	}

	st, def := mergeDefinition(a.logger, st, file, func() (compose.Definition, error) {
		return compose.LoadDefinition(ctx, file)
	})
	if err := st.Validate(); err != nil {
		return stack.Stack{}, "", nil, err
	}
	return st, file, def, nil
}

// mergeDefinition applies compose container names to st. A compose file that
// cannot be parsed is not fatal: the built-in tables are used instead.
func mergeDefinition(logger zerolog.Logger, st stack.Stack, file string, load func() (compose.Definition, error)) (stack.Stack, *compose.Definition) {
	def, err := load()
	if err != nil {
		logger.Warn().Err(err).Str("file", file).Msg("could not parse compose file, using built-in service table")
		return st, nil
	}
	if missing := def.Missing(st.Services()); len(missing) > 0 {
		logger.Warn().Strs("services", missing).Msg("services not declared in compose file")
	}
	return st.WithContainerNames(def.ContainerNames()), &def
}

// open probes the runtime and returns a ready session. When the runtime needs
// elevated rights, the command is re-run through the elevator with args.
func (a *App) open(ctx context.Context, env stack.Environment, args []string) (*session, error) {
	st, file, def, err := a.loadStack(ctx, env)
	if err != nil {
		return nil, err
	}

	inspector, err := runtime.NewDockerInspector(a.cfg.DockerHost, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runtime.ErrRuntimeUnreachable, err)
	}

	result := runtime.NewProber(a.logger, inspector).Probe(ctx)
	switch result.Outcome {
	case runtime.OutcomeReady:
	case runtime.OutcomeElevate:
		_ = inspector.Close()
		return nil, a.elevator.Elevate(ctx, a.elevationArgs(args))
	default:
		_ = inspector.Close()
		return nil, result.Err()
	}

	a.logger.Debug().
		Str("environment", string(env)).
		Str("dialect", result.Dialect.Name).
		Str("file", file).
		Msg("runtime ready")

	return &session{
		env:       env,
		stack:     st,
		def:       def,
		inspector: inspector,
		compose: runtime.NewCompose(a.logger, *result.Dialect, file,
			runtime.WithMetrics(a.metrics),
			runtime.WithOutput(a.streams.Out, a.streams.ErrOut),
		),
	}, nil
}

// elevationArgs prefixes the command with the root flags of this process.
func (a *App) elevationArgs(command []string) []string {
	args := make([]string, 0, len(a.globalArgs)+len(command))
	args = append(args, a.globalArgs...)
	return append(args, command...)
}

// Start brings the environment up phase by phase.
func (a *App) Start(ctx context.Context, env stack.Environment, opts StartOptions) error {
	args := []string{string(env)}
	if opts.RebuildCritical {
		args = append(args, "--rebuild-critical")
	}
	sess, err := a.open(ctx, env, args)
	if err != nil {
		return err
	}
	defer sess.Close()

	event := notify.RunEvent{
		Kind:        notify.EventStart,
		Environment: string(env),
		Fingerprint: sess.fingerprint(),
	}
	err = a.start(ctx, sess, opts, &event)
	a.finish(ctx, event, err)
	return err
}

func (a *App) start(ctx context.Context, sess *session, opts StartOptions, event *notify.RunEvent) error {
	st := sess.stack
	if st.DatabasePort > 0 {
		resolver := ports.NewResolver(a.logger, sess.inspector, st.ConflictingUnit)
		if !resolver.EnsurePortFree(ctx, st.DatabasePort, st.ContainerName(st.DatabaseService)) {
			return fmt.Errorf("%w: port %d", ErrPortConflict, st.DatabasePort)
		}
	}

	seq := orchestrator.New(a.logger, st, health.NewMonitor(a.logger, sess.inspector), sess.compose,
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithHealthInterval(a.cfg.HealthInterval),
		orchestrator.WithRebuildCritical(opts.RebuildCritical),
		orchestrator.WithOutput(a.streams.Out),
	)
	report, err := seq.Run(ctx)
	event.Phases = phaseOutcomes(report)
	return err
}

// Build builds every buildable image with the bounded worker pool.
func (a *App) Build(ctx context.Context, env stack.Environment) error {
	sess, err := a.open(ctx, env, []string{"build-" + string(env)})
	if err != nil {
		return err
	}
	defer sess.Close()

	services := buildServices(sess.stack, sess.def)
	summary := builder.New(a.logger, sess.compose, builder.WithMetrics(a.metrics)).BuildAll(ctx, services)
	printBuildSummary(a.streams.Out, summary)

	event := buildEvent(env, summary)
	event.Fingerprint = sess.fingerprint()

	if len(summary.Failed) > 0 {
		err = fmt.Errorf("%w: %d of %d", ErrBuildFailures, len(summary.Failed), summary.Total())
	}
	a.finish(ctx, event, err)
	return err
}

// Stop stops the environment's containers.
func (a *App) Stop(ctx context.Context, env stack.Environment) error {
	return a.withLifecycle(ctx, env, "stop-", func(m *lifecycle.Manager) error {
		return m.Stop(ctx)
	})
}

// Clean removes containers and volumes after confirmation.
func (a *App) Clean(ctx context.Context, env stack.Environment) error {
	return a.withLifecycle(ctx, env, "clean-", func(m *lifecycle.Manager) error {
		return m.Clean(ctx, a.streams.In)
	})
}

// Status prints container status.
func (a *App) Status(ctx context.Context, env stack.Environment) error {
	return a.withLifecycle(ctx, env, "status-", func(m *lifecycle.Manager) error {
		return m.Status(ctx)
	})
}

// Logs follows logs for services, or every service when empty.
func (a *App) Logs(ctx context.Context, env stack.Environment, services []string) error {
	return a.withLifecycle(ctx, env, "logs-", func(m *lifecycle.Manager) error {
		return m.StreamLogs(ctx, services...)
	}, services...)
}

// LogGroups returns the log selections for the interactive viewer.
func (a *App) LogGroups() ([]stack.LogGroup, error) {
	st, err := stack.LoadFile(a.cfg.StackFile, stack.Default())
	if err != nil {
		return nil, err
	}
	return st.LogGroups(), nil
}

func (a *App) withLifecycle(ctx context.Context, env stack.Environment, prefix string, fn func(*lifecycle.Manager) error, extra ...string) error {
	sess, err := a.open(ctx, env, append([]string{prefix + string(env)}, extra...))
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(lifecycle.New(a.logger, sess.compose, a.streams.Out))
}

// finish records metrics and sends the run notification. Neither can fail the run.
func (a *App) finish(ctx context.Context, event notify.RunEvent, runErr error) {
	now := time.Now().UTC()
	event.GeneratedAt = now
	result := "ok"
	if runErr != nil {
		event.Error = runErr.Error()
		result = "failed"
	}

	a.metrics.SetLastRun(event.Environment, result, now)
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.logger.Warn().Err(err).Str("path", a.cfg.MetricsFile).Msg("failed to write metrics textfile")
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := a.notifier.Notify(notifyCtx, event); err != nil {
		a.logger.Warn().Err(err).Msg("failed to send run notification")
	}
}

// buildServices prefers the compose file's buildable services, falling back
// to every service in the stack table.
func buildServices(st stack.Stack, def *compose.Definition) []string {
	if def != nil {
		if services := def.BuildableServices(st.Services()); len(services) > 0 {
			return services
		}
	}
	return st.Services()
}

func phaseOutcomes(report orchestrator.Report) []notify.PhaseOutcome {
	outcomes := make([]notify.PhaseOutcome, 0, len(report.Phases))
	for _, phase := range report.Phases {
		outcomes = append(outcomes, notify.PhaseOutcome{
			Phase:    phase.Phase.String(),
			Outcome:  string(phase.Outcome),
			Duration: phase.Duration,
		})
	}
	return outcomes
}

func buildEvent(env stack.Environment, summary builder.Summary) notify.RunEvent {
	event := notify.RunEvent{
		Kind:        notify.EventBuild,
		Environment: string(env),
		Built:       summary.Succeeded,
	}
	for _, failed := range summary.Failed {
		event.Failed = append(event.Failed, notify.BuildFailure{
			Service:    failed.Service,
			Diagnostic: failed.Stderr,
		})
	}
	return event
}

func printBuildSummary(out io.Writer, summary builder.Summary) {
	fmt.Fprintln(out)
	color.New(color.FgGreen, color.Bold).Fprintf(out, "Built %d of %d images\n", len(summary.Succeeded), summary.Total())
	if len(summary.Failed) == 0 {
		return
	}
	failColor := color.New(color.FgRed, color.Bold)
	failColor.Fprintf(out, "%d failed:\n", len(summary.Failed))
	for _, failed := range summary.Failed {
		failColor.Fprintf(out, "  - %s\n", failed.Service)
		for _, line := range strings.Split(strings.TrimSpace(failed.Stderr), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				fmt.Fprintf(out, "      %s\n", line)
			}
		}
	}
}
