// Package shell runs external commands and performs filesystem mutations on
// behalf of components. Every mutation helper can record what it did into a
// journal, and every helper honours dry-run mode.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/anvil/internal/logging"
)

// RunContext carries the process-wide settings of one anvil invocation. It is
// created once by the CLI and passed explicitly to everything that needs it.
type RunContext struct {
	DryRun     bool
	RootDir    string
	KeepOld    bool
	Force      bool
	Jobs       int
	Privileges Privileges
}

// ExecOpts tunes a single Execute call.
type ExecOpts struct {
	Cwd string
	Env map[string]string
	// RunAsRoot keeps root credentials for this command instead of dropping
	// to the invoking user.
	RunAsRoot bool
	// AcceptCodes lists the exit codes treated as success (default: 0).
	AcceptCodes []int
	// IgnoreExit disables exit code checking entirely.
	IgnoreExit bool
	Input      []byte
}

// Executor runs commands. A rooted executor (see Rooted) runs every command
// with root credentials.
type Executor struct {
	DryRun     bool
	Privileges Privileges

	rooted bool
	logger zerolog.Logger
}

// New returns an executor for rc.
func New(rc RunContext) *Executor {
	return &Executor{
		DryRun:     rc.DryRun,
		Privileges: rc.Privileges,
		logger:     logging.For("shell"),
	}
}

// Rooted calls fn with a copy of e whose commands keep root credentials. The
// elevation exists only inside fn; e itself is never modified.
func (e *Executor) Rooted(fn func(root *Executor) error) error {
	root := *e
	root.rooted = true
	return fn(&root)
}

// IsRooted reports whether e runs commands as root.
func (e *Executor) IsRooted() bool { return e.rooted }

// Execute runs args and returns its captured stdout and stderr. A disallowed
// exit code yields a *ProcessExecutionError. In dry-run mode nothing runs and
// two empty strings are returned.
func (e *Executor) Execute(ctx context.Context, args []string, opts ExecOpts) (string, string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", "", errors.New("execute: empty command")
	}
	asRoot := opts.RunAsRoot || e.rooted

	e.logger.Debug().
		Strs("cmd", args).
		Str("cwd", opts.Cwd).
		Bool("root", asRoot).
		Bool("dryrun", e.DryRun).
		Msg("Executing command")

	if e.DryRun {
		return "", "", nil
	}
	if asRoot && !e.Privileges.IsRoot() {
		return "", "", fmt.Errorf("%w: %s", ErrNotRoot, strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = opts.Cwd
	if len(opts.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), opts.Env)
	}
	if !asRoot {
		dropCredentials(cmd, e.Privileges)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.Input != nil {
		cmd.Stdin = bytes.NewReader(opts.Input)
	}

	runErr := cmd.Run()
	code := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return stdout.String(), stderr.String(), fmt.Errorf("run %q: %w", args[0], runErr)
		}
		code = exitErr.ExitCode()
	}

	if !opts.IgnoreExit && !accepted(code, opts.AcceptCodes) {
		err := &ProcessExecutionError{
			Cmd:      slices.Clone(args),
			ExitCode: code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
		e.logger.Debug().Err(err).Msg("Command failed")
		return err.Stdout, err.Stderr, err
	}
	return stdout.String(), stderr.String(), nil
}

func accepted(code int, codes []int) bool {
	if len(codes) == 0 {
		return code == 0
	}
	return slices.Contains(codes, code)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
