package runtime

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrContainerNotFound  = errors.New("container not found")
	ErrRuntimeUnreachable = errors.New("container runtime unreachable")
	ErrNoDialect          = errors.New("no docker compose command found")
)

// CommandError captures a compose command that exited unsuccessfully.
type CommandError struct {
	Op       string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, strings.Join(e.Args, " "))
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("%s: exit status %d", msg, e.ExitCode)
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if stderr := lastLine(e.Stderr); stderr != "" {
		msg = fmt.Sprintf("%s (%s)", msg, stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Diagnostic returns the captured stderr, falling back to the error text.
func (e *CommandError) Diagnostic() string {
	if text := strings.TrimSpace(e.Stderr); text != "" {
		return text
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func lastLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return text
}
