package shell

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotRoot is returned when a command needs root but the process does not
// hold root privileges.
var ErrNotRoot = errors.New("root privileges required")

// ProcessExecutionError describes a command that exited with a code outside
// the accepted set.
type ProcessExecutionError struct {
	Cmd      []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ProcessExecutionError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", strings.Join(e.Cmd, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

// Output returns stdout and stderr combined, for matching on error text.
func (e *ProcessExecutionError) Output() string {
	return e.Stdout + "\n" + e.Stderr
}

// AsProcessError unwraps err to a *ProcessExecutionError when it is one.
func AsProcessError(err error) (*ProcessExecutionError, bool) {
	var pe *ProcessExecutionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
