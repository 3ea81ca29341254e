package packager

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/atomikpanda/anvil/internal/shell"
)

// Backend installs and removes packages with one package manager.
type Backend interface {
	Name() string
	Install(ctx context.Context, pkg Package) error
	Remove(ctx context.Context, pkg Package) error
}

// Commands looks up command lines from the distro descriptor. A nil result
// means the distro does not override the backend's default.
type Commands interface {
	CommandQuiet(keys ...string) []string
}

// Constructor builds a backend.
type Constructor func(exec *shell.Executor, cmds Commands) Backend

var backends = map[string]Constructor{
	"yum": newYum,
	"apt": newApt,
	"pip": newPip,
}

// commandBackend drives a package manager through two command lines.
type commandBackend struct {
	name       string
	exec       *shell.Executor
	install    []string
	remove     []string
	versionSep string
	env        map[string]string
	// removeTolerated reports removal failures that still count as removed.
	removeTolerated func(*shell.ProcessExecutionError) bool
}

func newCommandBackend(name string, exec *shell.Executor, cmds Commands, install, remove []string) *commandBackend {
	if c := cmds.CommandQuiet(name, "install"); len(c) > 0 {
		install = c
	}
	if c := cmds.CommandQuiet(name, "remove"); len(c) > 0 {
		remove = c
	}
	return &commandBackend{name: name, exec: exec, install: install, remove: remove}
}

func newYum(exec *shell.Executor, cmds Commands) Backend {
	b := newCommandBackend("yum", exec, cmds, []string{"yum", "install", "-y"}, []string{"yum", "erase", "-y"})
	b.versionSep = "-"
	return b
}

func newApt(exec *shell.Executor, cmds Commands) Backend {
	b := newCommandBackend("apt", exec, cmds, []string{"apt-get", "install", "-y", "-q"}, []string{"apt-get", "purge", "-y", "-q"})
	b.versionSep = "="
	b.env = map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
	return b
}

func newPip(exec *shell.Executor, cmds Commands) Backend {
	b := newCommandBackend("pip", exec, cmds, []string{"pip", "install", "-q"}, []string{"pip", "uninstall", "-y"})
	b.versionSep = "=="
	b.removeTolerated = pipNotInstalled
	return b
}

func (b *commandBackend) Name() string { return b.name }

func (b *commandBackend) Install(ctx context.Context, pkg Package) error {
	_, _, err := b.exec.Execute(ctx, b.installArgs(pkg), shell.ExecOpts{RunAsRoot: true, Env: b.env})
	if err != nil {
		return fmt.Errorf("%s install %s: %w", b.name, pkg, err)
	}
	return nil
}

func (b *commandBackend) Remove(ctx context.Context, pkg Package) error {
	_, _, err := b.exec.Execute(ctx, b.removeArgs(pkg), shell.ExecOpts{RunAsRoot: true, Env: b.env})
	if err == nil {
		return nil
	}
	if pe, ok := shell.AsProcessError(err); ok && b.removeTolerated != nil && b.removeTolerated(pe) {
		return nil
	}
	return fmt.Errorf("%s remove %s: %w", b.name, pkg, err)
}

func (b *commandBackend) installArgs(pkg Package) []string {
	args := slices.Clone(b.install)
	args = append(args, pkg.Options...)
	spec := pkg.Name
	if pkg.Version != "" {
		spec += b.versionSep + pkg.Version
	}
	return append(args, spec)
}

func (b *commandBackend) removeArgs(pkg Package) []string {
	return append(slices.Clone(b.remove), pkg.Name)
}

// pipNotInstalled matches pip's report for removing a package that is not
// there; depending on the pip version it exits non-zero and says so on
// stdout or stderr.
func pipNotInstalled(pe *shell.ProcessExecutionError) bool {
	return strings.Contains(strings.ToLower(pe.Output()), "not installed")
}
