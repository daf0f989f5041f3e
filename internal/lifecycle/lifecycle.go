package lifecycle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

const confirmToken = "yes"

// ErrCancelled is returned when a destructive operation is not confirmed.
var ErrCancelled = errors.New("operation cancelled")

// Commander runs the compose commands behind the lifecycle operations.
type Commander interface {
	Down(ctx context.Context, volumes bool) error
	Ps(ctx context.Context) error
	Logs(ctx context.Context, follow bool, services ...string) error
}

// Manager runs stop, clean, status and log operations for one environment.
type Manager struct {
	logger    zerolog.Logger
	commander Commander
	out       io.Writer
}

// New constructs a Manager. Prompts are written to out.
func New(logger zerolog.Logger, commander Commander, out io.Writer) *Manager {
	if out == nil {
		out = os.Stdout
	}
	return &Manager{
		logger:    logger,
		commander: commander,
		out:       out,
	}
}

// Stop stops and removes the stack's containers, keeping volumes.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info().Msg("stopping services")
	if err := m.commander.Down(ctx, false); err != nil {
		return err
	}
	m.logger.Info().Msg("services stopped")
	return nil
}

// Clean removes containers and volumes after the operator types "yes".
// Any other answer, including end of input, returns ErrCancelled without
// issuing a command.
func (m *Manager) Clean(ctx context.Context, confirmation io.Reader) error {
	warn := color.New(color.FgYellow, color.Bold)
	warn.Fprintln(m.out, "This removes all containers and volumes, including database and broker data.")
	fmt.Fprint(m.out, "Type 'yes' to continue: ")

	answer, err := readLine(confirmation)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(answer), confirmToken) {
		m.logger.Info().Msg("clean cancelled")
		return ErrCancelled
	}

	m.logger.Info().Msg("removing containers and volumes")
	if err := m.commander.Down(ctx, true); err != nil {
		return err
	}
	m.logger.Info().Msg("clean complete")
	return nil
}

// Status prints container status.
func (m *Manager) Status(ctx context.Context) error {
	return m.commander.Ps(ctx)
}

// StreamLogs follows logs for the given services, or all when none are given.
// Cancelling ctx ends the stream without error.
func (m *Manager) StreamLogs(ctx context.Context, services ...string) error {
	logger := m.logger.With().Strs("services", services).Logger()
	logger.Info().Msg("streaming logs, press Ctrl+C to stop")

	err := m.commander.Logs(ctx, true, services...)
	if ctx.Err() != nil {
		logger.Info().Msg("log streaming stopped")
		return nil
	}
	return err
}

// readLine reads one line without consuming more than needed from a shared
// *bufio.Reader.
func readLine(r io.Reader) (string, error) {
	if r == nil {
		return "", io.EOF
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return br.ReadString('\n')
}
