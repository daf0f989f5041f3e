package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nholik/phaseup/internal/runtime"
	"github.com/rs/zerolog"
)

type fakeInspector struct {
	mu     sync.Mutex
	states map[string][]runtime.ContainerState
	errs   map[string]error
	calls  map[string]int
}

// Inspect returns the next queued state for name, repeating the last one.
func (f *fakeInspector) Inspect(_ context.Context, name string) (runtime.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
	if err, ok := f.errs[name]; ok {
		return runtime.ContainerState{}, err
	}
	queue, ok := f.states[name]
	if !ok || len(queue) == 0 {
		return runtime.ContainerState{}, fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, name)
	}
	idx := f.calls[name] - 1
	if idx >= len(queue) {
		idx = len(queue) - 1
	}
	return queue[idx], nil
}

func (f *fakeInspector) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func TestMonitorState(t *testing.T) {
	t.Parallel()

	inspector := &fakeInspector{
		states: map[string][]runtime.ContainerState{
			"postgres":            {{Running: true, Health: "healthy"}},
			"kafka-0":             {{Running: true, Health: "starting"}},
			"microservice-users":  {{Running: true}},
			"microservice-config": {{Running: false}},
		},
		errs: map[string]error{
			"broken": errors.New("daemon error"),
		},
	}
	monitor := NewMonitor(zerolog.Nop(), inspector)

	tests := []struct {
		container string
		want      State
		running   bool
		healthy   bool
		exists    bool
	}{
		{container: "postgres", want: StateRunningHealthy, running: true, healthy: true, exists: true},
		{container: "kafka-0", want: StateRunningUnhealthy, running: true, exists: true},
		{container: "microservice-users", want: StateRunningUnhealthy, running: true, exists: true},
		{container: "microservice-config", want: StateNotRunning, exists: true},
		{container: "missing", want: StateUnknown},
		{container: "broken", want: StateUnknown},
	}

	ctx := context.Background()
	for _, tt := range tests {
		if got := monitor.State(ctx, tt.container); got != tt.want {
			t.Errorf("%s: expected state %s, got %s", tt.container, tt.want, got)
		}
		if got := monitor.IsRunning(ctx, tt.container); got != tt.running {
			t.Errorf("%s: expected running %v, got %v", tt.container, tt.running, got)
		}
		if got := monitor.IsHealthy(ctx, tt.container); got != tt.healthy {
			t.Errorf("%s: expected healthy %v, got %v", tt.container, tt.healthy, got)
		}
		if got := monitor.Exists(ctx, tt.container); got != tt.exists {
			t.Errorf("%s: expected exists %v, got %v", tt.container, tt.exists, got)
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	if StateRunningHealthy.String() != "running-healthy" {
		t.Fatalf("unexpected string %q", StateRunningHealthy.String())
	}
	if State(42).String() != "unknown" {
		t.Fatalf("unexpected string for invalid state")
	}
}

func TestWaitUntilHealthyBecomesHealthy(t *testing.T) {
	t.Parallel()

	inspector := &fakeInspector{
		states: map[string][]runtime.ContainerState{
			"microservice-config": {
				{Running: true, Health: "starting"},
				{Running: true, Health: "starting"},
				{Running: true, Health: "healthy"},
			},
		},
	}
	monitor := NewMonitor(zerolog.Nop(), inspector)

	if !monitor.WaitUntilHealthy(context.Background(), "microservice-config", time.Second, time.Millisecond) {
		t.Fatal("expected container to become healthy")
	}
	if calls := inspector.Calls("microservice-config"); calls != 3 {
		t.Fatalf("expected 3 polls, got %d", calls)
	}
}

func TestWaitUntilHealthyTimesOut(t *testing.T) {
	t.Parallel()

	inspector := &fakeInspector{
		states: map[string][]runtime.ContainerState{
			"microservice-eureka": {{Running: true, Health: "unhealthy"}},
		},
	}
	monitor := NewMonitor(zerolog.Nop(), inspector)

	if monitor.WaitUntilHealthy(context.Background(), "microservice-eureka", 10*time.Millisecond, 2*time.Millisecond) {
		t.Fatal("expected timeout")
	}
	// One initial poll plus timeout/interval retries.
	if calls := inspector.Calls("microservice-eureka"); calls != 6 {
		t.Fatalf("expected 6 polls, got %d", calls)
	}
}

func TestWaitUntilHealthyStopsOnCancel(t *testing.T) {
	t.Parallel()

	inspector := &fakeInspector{
		states: map[string][]runtime.ContainerState{
			"postgres": {{Running: false}},
		},
	}
	monitor := NewMonitor(zerolog.Nop(), inspector)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if monitor.WaitUntilHealthy(ctx, "postgres", time.Minute, time.Second) {
		t.Fatal("expected false on cancelled context")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected prompt return, took %s", elapsed)
	}
}
