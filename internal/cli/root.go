package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/nholik/phaseup/internal/lifecycle"
	"github.com/nholik/phaseup/internal/stack"
	"github.com/spf13/cobra"
)

// Version is reported by --version.
var Version = "dev"

// RunnerFactory builds the Runner once flags are parsed. logLevel is empty
// unless --log-level was given.
type RunnerFactory func(logLevel string) (Runner, error)

// NewRootCommand builds the phaseup command tree. Without arguments the root
// command shows the interactive menu.
func NewRootCommand(factory RunnerFactory, streams Streams) *cobra.Command {
	streams = streams.withDefaults()
	var (
		logLevel        string
		rebuildCritical bool
		runner          Runner
	)

	root := &cobra.Command{
		Use:   "phaseup",
		Short: "Start a docker compose stack phase by phase",
		Long: `phaseup brings a docker compose stack up in dependency-ordered phases,
waiting for each phase to become healthy before starting the next.

Run without arguments for an interactive menu.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			r, err := factory(logLevel)
			if err != nil {
				return err
			}
			runner = r
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return NewMenu(runner, streams).Run(cmd.Context())
		},
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.ErrOut)
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	for _, env := range []stack.Environment{stack.Dev, stack.Prod} {
		env := env // per-iteration copy for go < 1.22 loop semantics
		start := &cobra.Command{
			Use:   string(env),
			Short: fmt.Sprintf("Start the %s environment", env),
			Args:  cobra.NoArgs,
			RunE: action(func(ctx context.Context, _ []string) error {
				return runner.Start(ctx, env, StartOptions{RebuildCritical: rebuildCritical})
			}),
		}
		start.Flags().BoolVar(&rebuildCritical, "rebuild-critical", false, "rebuild critical phase images even when their containers exist")

		root.AddCommand(
			start,
			&cobra.Command{
				Use:   "build-" + string(env),
				Short: fmt.Sprintf("Build all %s images in parallel", env),
				Args:  cobra.NoArgs,
				RunE: action(func(ctx context.Context, _ []string) error {
					return runner.Build(ctx, env)
				}),
			},
			&cobra.Command{
				Use:   "stop-" + string(env),
				Short: fmt.Sprintf("Stop the %s environment", env),
				Args:  cobra.NoArgs,
				RunE: action(func(ctx context.Context, _ []string) error {
					return runner.Stop(ctx, env)
				}),
			},
			&cobra.Command{
				Use:   "clean-" + string(env),
				Short: fmt.Sprintf("Remove %s containers and volumes", env),
				Args:  cobra.NoArgs,
				RunE: action(func(ctx context.Context, _ []string) error {
					return runner.Clean(ctx, env)
				}),
			},
			&cobra.Command{
				Use:   "status-" + string(env),
				Short: fmt.Sprintf("Show %s container status", env),
				Args:  cobra.NoArgs,
				RunE: action(func(ctx context.Context, _ []string) error {
					return runner.Status(ctx, env)
				}),
			},
			&cobra.Command{
				Use:   "logs-" + string(env) + " [service...]",
				Short: fmt.Sprintf("Follow %s logs", env),
				Args:  cobra.ArbitraryArgs,
				RunE: action(func(ctx context.Context, args []string) error {
					return runner.Logs(ctx, env, args)
				}),
			},
		)
	}
	return root
}

func action(fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := withSignals(cmd.Context())
		defer stop()
		return fn(ctx, args)
	}
}

// Execute runs the command tree with args and returns the process exit code.
func Execute(ctx context.Context, args []string, factory RunnerFactory, streams Streams) int {
	streams = streams.withDefaults()
	root := NewRootCommand(factory, streams)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	var elevated *ElevatedExit
	switch {
	case err == nil:
	case errors.As(err, &elevated):
	case errors.Is(err, lifecycle.ErrCancelled):
		color.New(color.FgYellow).Fprintln(streams.ErrOut, "Operation cancelled.")
	case isUsageError(err):
		color.New(color.FgRed, color.Bold).Fprintf(streams.ErrOut, "Error: %v\n", err)
		fmt.Fprint(streams.ErrOut, root.UsageString())
	default:
		printError(streams.ErrOut, err)
	}
	return ExitCode(err)
}

// isUsageError reports errors cobra raises for bad arguments or flags.
func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "accepts ", "invalid argument"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
