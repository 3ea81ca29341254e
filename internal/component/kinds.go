package component

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"sort"

	"github.com/atomikpanda/anvil/internal/distro"
	"github.com/atomikpanda/anvil/internal/journal"
	"github.com/atomikpanda/anvil/internal/shell"
	"github.com/atomikpanda/anvil/internal/template"
)

// installer is the install strategy selected by a component's installer kind.
type installer interface {
	install(ctx context.Context, c *Component, w *journal.Writer, params map[string]any) (int, error)
	preUninstall(ctx context.Context, c *Component, r *journal.Reader) (int, error)
}

// runtimeKind is the strategy selected by a component's runtime kind.
type runtimeKind interface {
	kind() string
	start(ctx context.Context, c *Component, app distro.App, params map[string]any) error
	stop(ctx context.Context, c *Component, app distro.App, params map[string]any) error
	status(ctx context.Context, c *Component, app distro.App, params map[string]any) AppStatus
}

var installers = map[string]func() installer{
	"pkg":    func() installer { return pkgInstaller{} },
	"python": func() installer { return pythonInstaller{} },
}

var runtimes = map[string]func() runtimeKind{
	"empty":   func() runtimeKind { return emptyRuntime{} },
	"program": func() runtimeKind { return appRuntime{how: "program"} },
	"service": func() runtimeKind { return appRuntime{how: "service"} },
}

func newInstaller(kind string) (installer, error) {
	if kind == "" {
		kind = "pkg"
	}
	mk, ok := installers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown installer %q (known: %v)", kind, kindNames(installers))
	}
	return mk(), nil
}

func newRuntime(kind string) (runtimeKind, error) {
	if kind == "" {
		kind = "empty"
	}
	mk, ok := runtimes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown runtime %q (known: %v)", kind, kindNames(runtimes))
	}
	return mk(), nil
}

func kindNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// pkgInstaller installs the component's system packages.
type pkgInstaller struct{}

func (pkgInstaller) install(ctx context.Context, c *Component, w *journal.Writer, _ map[string]any) (int, error) {
	return c.installPackages(ctx, w)
}

func (pkgInstaller) preUninstall(context.Context, *Component, *journal.Reader) (int, error) {
	return 0, nil
}

// pythonInstaller installs system packages, then pips, then puts the
// component's python projects into develop mode.
type pythonInstaller struct{}

func (pythonInstaller) install(ctx context.Context, c *Component, w *journal.Writer, params map[string]any) (int, error) {
	n, err := c.installPackages(ctx, w)
	if err != nil {
		return n, err
	}
	for _, pip := range c.pips() {
		if err := c.deps.Packager.Install(ctx, pip); err != nil {
			return n, err
		}
		if err := w.PipInstalled(journal.PackageRecord{
			Name:      pip.Name,
			Version:   pip.Version,
			Packager:  "pip",
			Removable: pip.IsRemovable(),
		}); err != nil {
			return n, err
		}
		n++
	}
	develop := c.deps.Distro.CommandQuiet("python", "develop")
	if develop == nil {
		develop = []string{"python", "setup.py", "develop"}
	}
	for _, project := range c.spec.Python {
		where := filepath.Join(c.Dirs().App, project)
		c.logger.Info().Str("project", project).Msg("Installing python project in develop mode")
		if _, _, err := c.deps.Exec.Execute(ctx, develop, shell.ExecOpts{Cwd: where, RunAsRoot: true}); err != nil {
			return n, fmt.Errorf("develop %s: %w", project, err)
		}
		if err := w.PyInstalled(journal.PyRecord{Name: project, Where: where}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (pythonInstaller) preUninstall(ctx context.Context, c *Component, r *journal.Reader) (int, error) {
	projects, err := r.PyListing()
	if err != nil {
		return 0, err
	}
	undevelop := c.deps.Distro.CommandQuiet("python", "undevelop")
	if undevelop == nil {
		undevelop = []string{"python", "setup.py", "develop", "--uninstall"}
	}
	n := 0
	for _, p := range projects {
		if !c.deps.Run.DryRun && !shell.Exists(p.Where) {
			c.logger.Warn().Str("project", p.Name).Str("where", p.Where).Msg("Python project is gone, skipping")
			continue
		}
		if _, _, err := c.deps.Exec.Execute(ctx, undevelop, shell.ExecOpts{Cwd: p.Where, RunAsRoot: true}); err != nil {
			return n, fmt.Errorf("undevelop %s: %w", p.Name, err)
		}
		n++
	}
	return n, nil
}

// emptyRuntime is for components with nothing to run.
type emptyRuntime struct{}

func (emptyRuntime) kind() string { return "empty" }

func (emptyRuntime) start(context.Context, *Component, distro.App, map[string]any) error {
	return nil
}

func (emptyRuntime) stop(context.Context, *Component, distro.App, map[string]any) error {
	return nil
}

func (emptyRuntime) status(_ context.Context, _ *Component, app distro.App, _ map[string]any) AppStatus {
	return AppStatus{Name: app.Name, Status: StatusUnknown}
}

// appRuntime runs apps either through the distro's service commands or as
// plain programs with their own command lines.
type appRuntime struct {
	how string
}

func (r appRuntime) kind() string { return r.how }

func (r appRuntime) command(c *Component, app distro.App, action string, params map[string]any) ([]string, error) {
	var args []string
	switch action {
	case "start":
		args = app.Start
	case "stop":
		args = app.Stop
	case "status":
		args = app.Status
	}
	if len(args) == 0 && r.how == "service" {
		var err error
		if args, err = c.deps.Distro.Command("service", action); err != nil {
			return nil, fmt.Errorf("app %s: %w", app.Name, err)
		}
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("app %s has no %s command", app.Name, action)
	}
	p := maps.Clone(params)
	p["app"] = app.Name
	return template.RenderArgs(args, p)
}

func (r appRuntime) start(ctx context.Context, c *Component, app distro.App, params map[string]any) error {
	args, err := r.command(c, app, "start", params)
	if err != nil {
		return err
	}
	_, _, err = c.deps.Exec.Execute(ctx, args, shell.ExecOpts{RunAsRoot: r.how == "service"})
	return err
}

func (r appRuntime) stop(ctx context.Context, c *Component, app distro.App, params map[string]any) error {
	args, err := r.command(c, app, "stop", params)
	if err != nil {
		return err
	}
	_, _, err = c.deps.Exec.Execute(ctx, args, shell.ExecOpts{RunAsRoot: r.how == "service"})
	return err
}

// status maps exit codes the way init scripts report them: 0 running, 1 or
// 3 stopped, anything else unknown.
func (r appRuntime) status(ctx context.Context, c *Component, app distro.App, params map[string]any) AppStatus {
	st := AppStatus{Name: app.Name, Status: StatusUnknown}
	if c.deps.Run.DryRun {
		st.Details = "dry run"
		return st
	}
	args, err := r.command(c, app, "status", params)
	if err != nil {
		st.Details = err.Error()
		return st
	}
	stdout, _, err := c.deps.Exec.Execute(ctx, args, shell.ExecOpts{})
	if err == nil {
		st.Status = StatusRunning
		st.Details = lastLine(stdout)
		return st
	}
	if perr, ok := shell.AsProcessError(err); ok && (perr.ExitCode == 1 || perr.ExitCode == 3) {
		st.Status = StatusStopped
		st.Details = lastLine(perr.Output())
		return st
	}
	if errors.Is(err, context.Canceled) {
		st.Details = "cancelled"
		return st
	}
	st.Details = err.Error()
	return st
}
