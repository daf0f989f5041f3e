package cli

import (
	"context"
	"strings"
	"sync"

	"github.com/nholik/phaseup/internal/stack"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	groups []stack.LogGroup
	err    error
	start  StartOptions
}

func (f *fakeRunner) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeRunner) Start(_ context.Context, env stack.Environment, opts StartOptions) error {
	f.start = opts
	return f.record("start " + string(env))
}

func (f *fakeRunner) Build(_ context.Context, env stack.Environment) error {
	return f.record("build " + string(env))
}

func (f *fakeRunner) Stop(_ context.Context, env stack.Environment) error {
	return f.record("stop " + string(env))
}

func (f *fakeRunner) Clean(_ context.Context, env stack.Environment) error {
	return f.record("clean " + string(env))
}

func (f *fakeRunner) Status(_ context.Context, env stack.Environment) error {
	return f.record("status " + string(env))
}

func (f *fakeRunner) Logs(_ context.Context, env stack.Environment, services []string) error {
	call := "logs " + string(env)
	if len(services) > 0 {
		call += " " + strings.Join(services, " ")
	}
	return f.record(call)
}

func (f *fakeRunner) LogGroups() ([]stack.LogGroup, error) {
	return f.groups, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
