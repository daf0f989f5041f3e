package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/nholik/phaseup/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestDialectCommand(t *testing.T) {
	t.Parallel()

	name, args := DialectPlugin.Command("ps")
	if name != "docker" || strings.Join(args, " ") != "compose ps" {
		t.Fatalf("unexpected plugin command: %s %v", name, args)
	}

	name, args = DialectStandalone.Command("ps")
	if name != "docker-compose" || strings.Join(args, " ") != "ps" {
		t.Fatalf("unexpected standalone command: %s %v", name, args)
	}
}

func TestComposeCommandLines(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{}
	var out, errOut bytes.Buffer
	c := NewCompose(zerolog.Nop(), DialectPlugin, "/stack/docker-compose.dev.yml",
		WithExecutor(exec), WithOutput(&out, &errOut))
	ctx := context.Background()

	steps := []func() error{
		func() error { return c.Up(ctx, UpOptions{}, "kafka-0", "kafka-1") },
		func() error { return c.Up(ctx, UpOptions{Build: true}, "microservice-config") },
		func() error { return c.Build(ctx, "microservice-order") },
		func() error { return c.Down(ctx, false) },
		func() error { return c.Down(ctx, true) },
		func() error { return c.Ps(ctx) },
		func() error { return c.Logs(ctx, true, "postgres") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
	}

	want := []string{
		"docker compose -f /stack/docker-compose.dev.yml up -d kafka-0 kafka-1",
		"docker compose -f /stack/docker-compose.dev.yml up --build -d microservice-config",
		"docker compose -f /stack/docker-compose.dev.yml build microservice-order",
		"docker compose -f /stack/docker-compose.dev.yml down",
		"docker compose -f /stack/docker-compose.dev.yml down --volumes",
		"docker compose -f /stack/docker-compose.dev.yml ps",
		"docker compose -f /stack/docker-compose.dev.yml logs -f postgres",
	}
	got := exec.Calls()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected commands:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestComposeFailureCapturesStderr(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{results: map[string]fakeResult{
		"docker-compose -f dc.yml up -d postgres": {code: 1, stderr: "pulling\nError: port is already allocated\n"},
	}}
	var errOut bytes.Buffer
	m := metrics.New()
	c := NewCompose(zerolog.Nop(), DialectStandalone, "dc.yml",
		WithExecutor(exec), WithOutput(&bytes.Buffer{}, &errOut), WithMetrics(m))

	err := c.Up(context.Background(), UpOptions{}, "postgres")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.Error(), "port is already allocated") {
		t.Fatalf("expected last stderr line in error, got %q", cmdErr.Error())
	}
	if !strings.Contains(errOut.String(), "pulling") {
		t.Fatalf("expected stderr passthrough, got %q", errOut.String())
	}
	if count, err := testutil.GatherAndCount(m.Gatherer(), "phaseup_commands_total"); err != nil || count != 1 {
		t.Fatalf("expected one command series, got %d (%v)", count, err)
	}
}

func TestComposeBuildDoesNotStream(t *testing.T) {
	t.Parallel()

	exec := &fakeExec{results: map[string]fakeResult{
		"docker compose -f dc.yml build api": {code: 2, stdout: "step 1/9", stderr: "compile error"},
	}}
	var out, errOut bytes.Buffer
	c := NewCompose(zerolog.Nop(), DialectPlugin, "dc.yml", WithExecutor(exec), WithOutput(&out, &errOut))

	err := c.Build(context.Background(), "api")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Diagnostic() != "compile error" {
		t.Fatalf("unexpected diagnostic: %q", cmdErr.Diagnostic())
	}
	if out.Len() != 0 || errOut.Len() != 0 {
		t.Fatalf("build output must not be streamed: stdout=%q stderr=%q", out.String(), errOut.String())
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	t.Parallel()

	tail := &tailBuffer{limit: 4}
	_, _ = tail.Write([]byte("abc"))
	_, _ = tail.Write([]byte("defg"))
	if got := tail.String(); got != "defg" {
		t.Fatalf("expected defg, got %q", got)
	}
}

func TestCommandErrorStartFailure(t *testing.T) {
	t.Parallel()

	err := &CommandError{Op: "docker compose up", Args: []string{"docker", "compose", "up"}, ExitCode: -1, Err: errors.New("executable not found")}
	if !strings.Contains(err.Error(), "executable not found") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if err.Diagnostic() != "executable not found" {
		t.Fatalf("unexpected diagnostic: %q", err.Diagnostic())
	}
}

// blockingExec finishes only after release is closed, reporting whether its
// context was cancelled while the command was running.
type blockingExec struct {
	started   chan struct{}
	release   chan struct{}
	cancelled bool
}

func (b *blockingExec) Run(ctx context.Context, _ io.Reader, _, _ io.Writer, _ string, _ ...string) (int, error) {
	close(b.started)
	<-b.release
	b.cancelled = ctx.Err() != nil
	return 0, nil
}

func TestComposeUpSurvivesCancellation(t *testing.T) {
	t.Parallel()

	exec := &blockingExec{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCompose(zerolog.Nop(), DialectPlugin, "x.yml",
		WithExecutor(exec), WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Up(ctx, UpOptions{Build: true}, "microservice-config")
	}()

	<-exec.started
	cancel()
	close(exec.release)

	if err := <-done; err != nil {
		t.Fatalf("expected issued up to complete, got %v", err)
	}
	if exec.cancelled {
		t.Fatal("issued up command saw the cancellation")
	}
}
