package runtime

import (
	"context"
	"io"
	"strings"
	"sync"
)

type execCall struct {
	Name string
	Args []string
}

func (c execCall) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// fakeExec records invocations and answers from a table keyed by the full command line.
type fakeExec struct {
	mu      sync.Mutex
	calls   []execCall
	results map[string]fakeResult
}

type fakeResult struct {
	code   int
	err    error
	stderr string
	stdout string
}

func (f *fakeExec) Run(_ context.Context, _ io.Reader, stdout, stderr io.Writer, name string, args ...string) (int, error) {
	call := execCall{Name: name, Args: append([]string(nil), args...)}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	result := f.results[call.String()]
	f.mu.Unlock()

	if result.stdout != "" {
		_, _ = io.WriteString(stdout, result.stdout)
	}
	if result.stderr != "" {
		_, _ = io.WriteString(stderr, result.stderr)
	}
	return result.code, result.err
}

func (f *fakeExec) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, call.String())
	}
	return out
}
