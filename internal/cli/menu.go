package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/nholik/phaseup/internal/lifecycle"
	"github.com/nholik/phaseup/internal/stack"
)

type menuItem struct {
	label string
	run   func(ctx context.Context) error
}

// Menu is the interactive numbered menu shown when phaseup runs without
// arguments. It loops until the operator exits or input ends.
type Menu struct {
	runner Runner
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
	items  []menuItem
}

// NewMenu builds the menu over runner.
func NewMenu(runner Runner, streams Streams) *Menu {
	streams = streams.withDefaults()
	m := &Menu{
		runner: runner,
		in:     streams.In,
		out:    streams.Out,
		errOut: streams.ErrOut,
	}
	for _, env := range []stack.Environment{stack.Dev, stack.Prod} {
		m.items = append(m.items, m.envItems(env)...)
	}
	return m
}

func (m *Menu) envItems(env stack.Environment) []menuItem {
	return []menuItem{
		{label: fmt.Sprintf("Start %s environment", env), run: func(ctx context.Context) error {
			return m.runner.Start(ctx, env, StartOptions{})
		}},
		{label: fmt.Sprintf("Build %s images", env), run: func(ctx context.Context) error {
			return m.runner.Build(ctx, env)
		}},
		{label: fmt.Sprintf("Follow all %s logs", env), run: func(ctx context.Context) error {
			return m.runner.Logs(ctx, env, nil)
		}},
		{label: fmt.Sprintf("Follow specific %s logs", env), run: func(ctx context.Context) error {
			return m.specificLogs(ctx, env)
		}},
		{label: fmt.Sprintf("Show %s status", env), run: func(ctx context.Context) error {
			return m.runner.Status(ctx, env)
		}},
		{label: fmt.Sprintf("Stop %s environment", env), run: func(ctx context.Context) error {
			return m.runner.Stop(ctx, env)
		}},
		{label: fmt.Sprintf("Clean %s environment (removes volumes)", env), run: func(ctx context.Context) error {
			return m.runner.Clean(ctx, env)
		}},
	}
}

// Run shows the menu until the operator chooses exit, input ends or ctx is
// cancelled. Action failures are reported and the menu is shown again.
func (m *Menu) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.print()

		choice, err := m.prompt("Select an option: ")
		if err != nil {
			fmt.Fprintln(m.out)
			return nil
		}
		if choice == "" {
			continue
		}

		n, convErr := strconv.Atoi(choice)
		switch {
		case convErr == nil && n == len(m.items)+1:
			fmt.Fprintln(m.out, "Goodbye.")
			return nil
		case convErr != nil || n < 1 || n > len(m.items):
			m.report(fmt.Errorf("%w: %q", ErrUnknownSelection, choice))
			continue
		}

		actionCtx, stop := withSignals(ctx)
		err = m.items[n-1].run(actionCtx)
		stop()
		m.report(err)
	}
}

func (m *Menu) print() {
	header := color.New(color.FgCyan, color.Bold)
	fmt.Fprintln(m.out)
	header.Fprintln(m.out, "phaseup")
	for i, item := range m.items {
		fmt.Fprintf(m.out, "  %2d) %s\n", i+1, item.label)
	}
	fmt.Fprintf(m.out, "  %2d) Exit\n", len(m.items)+1)
}

// specificLogs offers the configured log groups plus a free-form service list.
func (m *Menu) specificLogs(ctx context.Context, env stack.Environment) error {
	groups, err := m.runner.LogGroups()
	if err != nil {
		return err
	}

	fmt.Fprintln(m.out)
	for i, group := range groups {
		fmt.Fprintf(m.out, "  %2d) %s\n", i+1, group.Name)
	}
	custom := len(groups) + 1
	fmt.Fprintf(m.out, "  %2d) Custom service list\n", custom)

	choice, err := m.prompt("Select logs: ")
	if err != nil {
		return nil
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > custom {
		return fmt.Errorf("%w: %q", ErrUnknownSelection, choice)
	}
	if n <= len(groups) {
		return m.runner.Logs(ctx, env, groups[n-1].Services)
	}

	line, err := m.prompt("Services (space separated): ")
	if err != nil {
		return nil
	}
	services := strings.Fields(line)
	if len(services) == 0 {
		return fmt.Errorf("%w: no services given", ErrUnknownSelection)
	}
	return m.runner.Logs(ctx, env, services)
}

func (m *Menu) prompt(label string) (string, error) {
	fmt.Fprint(m.out, label)
	line, err := m.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// report prints the outcome of a menu action. An elevated run that exited
// cleanly is not an error.
func (m *Menu) report(err error) {
	var elevated *ElevatedExit
	switch {
	case err == nil:
	case errors.As(err, &elevated) && elevated.Code == 0:
	case errors.Is(err, lifecycle.ErrCancelled):
		color.New(color.FgYellow).Fprintln(m.out, "Operation cancelled.")
	default:
		printError(m.errOut, err)
	}
}

// printError writes err and its remediation hint.
func printError(w io.Writer, err error) {
	color.New(color.FgRed, color.Bold).Fprintf(w, "Error: %v\n", err)
	if hint := Hint(err); hint != "" {
		color.New(color.FgYellow).Fprintf(w, "Hint: %s\n", hint)
	}
}

// withSignals scopes interrupt handling to one action so Ctrl+C stops the
// action without terminating the menu.
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
