package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeCommander struct {
	calls   []string
	err     error
	onLogs  func()
	logsErr error
}

func (f *fakeCommander) Down(_ context.Context, volumes bool) error {
	if volumes {
		f.calls = append(f.calls, "down --volumes")
	} else {
		f.calls = append(f.calls, "down")
	}
	return f.err
}

func (f *fakeCommander) Ps(context.Context) error {
	f.calls = append(f.calls, "ps")
	return f.err
}

func (f *fakeCommander) Logs(_ context.Context, follow bool, services ...string) error {
	call := "logs"
	if follow {
		call += " -f"
	}
	if len(services) > 0 {
		call += " " + strings.Join(services, " ")
	}
	f.calls = append(f.calls, call)
	if f.onLogs != nil {
		f.onLogs()
	}
	return f.logsErr
}

func TestCleanConfirmation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantCalls []string
		wantErr   error
	}{
		{name: "yes", input: "yes\n", wantCalls: []string{"down --volumes"}},
		{name: "uppercase with spaces", input: "  YES \n", wantCalls: []string{"down --volumes"}},
		{name: "no", input: "no\n", wantErr: ErrCancelled},
		{name: "y", input: "y\n", wantErr: ErrCancelled},
		{name: "empty", input: "\n", wantErr: ErrCancelled},
		{name: "eof", input: "", wantErr: ErrCancelled},
		{name: "yes without newline", input: "yes", wantCalls: []string{"down --volumes"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeCommander{}
			var out bytes.Buffer
			manager := New(zerolog.Nop(), fake, &out)

			err := manager.Clean(context.Background(), strings.NewReader(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if len(fake.calls) != len(tt.wantCalls) {
				t.Fatalf("expected calls %v, got %v", tt.wantCalls, fake.calls)
			}
			for i := range tt.wantCalls {
				if fake.calls[i] != tt.wantCalls[i] {
					t.Fatalf("expected calls %v, got %v", tt.wantCalls, fake.calls)
				}
			}
			if !strings.Contains(out.String(), "Type 'yes'") {
				t.Fatalf("expected prompt, got %q", out.String())
			}
		})
	}
}

func TestCleanSharedReaderLeavesRemainingInput(t *testing.T) {
	t.Parallel()

	reader := bufio.NewReader(strings.NewReader("no\n3\n"))
	manager := New(zerolog.Nop(), &fakeCommander{}, &bytes.Buffer{})

	if err := manager.Clean(context.Background(), reader); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	rest, _ := reader.ReadString('\n')
	if rest != "3\n" {
		t.Fatalf("expected remaining input to be preserved, got %q", rest)
	}
}

func TestCleanPropagatesCommandError(t *testing.T) {
	t.Parallel()

	fake := &fakeCommander{err: errors.New("down failed")}
	manager := New(zerolog.Nop(), fake, &bytes.Buffer{})

	if err := manager.Clean(context.Background(), strings.NewReader("yes\n")); err == nil || errors.Is(err, ErrCancelled) {
		t.Fatalf("expected command error, got %v", err)
	}
}

func TestStopAndStatus(t *testing.T) {
	t.Parallel()

	fake := &fakeCommander{}
	manager := New(zerolog.Nop(), fake, &bytes.Buffer{})

	if err := manager.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := manager.Status(context.Background()); err != nil {
		t.Fatalf("Status error: %v", err)
	}
	want := []string{"down", "ps"}
	if len(fake.calls) != 2 || fake.calls[0] != want[0] || fake.calls[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, fake.calls)
	}
}

func TestStreamLogs(t *testing.T) {
	t.Parallel()

	fake := &fakeCommander{}
	manager := New(zerolog.Nop(), fake, &bytes.Buffer{})

	if err := manager.StreamLogs(context.Background(), "kafka-0", "kafka-1"); err != nil {
		t.Fatalf("StreamLogs error: %v", err)
	}
	if fake.calls[0] != "logs -f kafka-0 kafka-1" {
		t.Fatalf("unexpected call %q", fake.calls[0])
	}
}

func TestStreamLogsInterruptIsNotAnError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeCommander{onLogs: cancel, logsErr: context.Canceled}
	manager := New(zerolog.Nop(), fake, &bytes.Buffer{})

	if err := manager.StreamLogs(ctx); err != nil {
		t.Fatalf("expected nil on interrupt, got %v", err)
	}
	if fake.calls[0] != "logs -f" {
		t.Fatalf("unexpected call %q", fake.calls[0])
	}
}

func TestStreamLogsFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeCommander{logsErr: errors.New("no such service")}
	manager := New(zerolog.Nop(), fake, &bytes.Buffer{})

	if err := manager.StreamLogs(context.Background(), "nope"); err == nil {
		t.Fatal("expected error")
	}
}
