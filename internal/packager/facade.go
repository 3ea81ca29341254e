package packager

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/anvil/internal/logging"
	"github.com/atomikpanda/anvil/internal/shell"
	"github.com/atomikpanda/anvil/internal/template"
)

// Facade dispatches packages to backends. Backends are created on first use
// and cached by name.
type Facade struct {
	exec        *shell.Executor
	cmds        Commands
	defaultName string
	keepOld     bool
	logger      zerolog.Logger

	mu    sync.Mutex
	cache map[string]Backend
}

// NewFacade returns a facade whose packages default to defaultName. When
// keepOld is set, Remove leaves every package installed.
func NewFacade(exec *shell.Executor, cmds Commands, defaultName string, keepOld bool) (*Facade, error) {
	if defaultName == "" {
		return nil, fmt.Errorf("no default packager configured")
	}
	if err := Validate(defaultName); err != nil {
		return nil, err
	}
	return &Facade{
		exec:        exec,
		cmds:        cmds,
		defaultName: defaultName,
		keepOld:     keepOld,
		logger:      logging.For("packager"),
		cache:       make(map[string]Backend),
	}, nil
}

// BackendName returns the backend pkg is dispatched to.
func (f *Facade) BackendName(pkg Package) string {
	if pkg.Packager != "" {
		return pkg.Packager
	}
	return f.defaultName
}

// Backend returns the cached backend for name, creating it on first use.
func (f *Facade) Backend(name string) (Backend, error) {
	if name == "" {
		name = f.defaultName
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.cache[name]; ok {
		return b, nil
	}
	ctor, ok := backends[name]
	if !ok {
		return nil, &UnknownBackendError{Name: name}
	}
	b := ctor(f.exec, f.cmds)
	f.cache[name] = b
	return b, nil
}

// Install installs pkg.
func (f *Facade) Install(ctx context.Context, pkg Package) error {
	b, err := f.Backend(f.BackendName(pkg))
	if err != nil {
		return err
	}
	f.logger.Info().Str("package", pkg.String()).Str("packager", b.Name()).Msg("Installing package")
	return b.Install(ctx, pkg)
}

// Remove uninstalls pkg and reports whether it was removed. Packages marked
// non-removable, and every package under the keep-old policy, are left
// alone and reported as not removed.
func (f *Facade) Remove(ctx context.Context, pkg Package) (bool, error) {
	if f.keepOld || !pkg.IsRemovable() {
		f.logger.Info().Str("package", pkg.Name).Bool("keepOld", f.keepOld).Msg("Keeping package")
		return false, nil
	}
	b, err := f.Backend(f.BackendName(pkg))
	if err != nil {
		return false, err
	}
	f.logger.Info().Str("package", pkg.Name).Str("packager", b.Name()).Msg("Removing package")
	if err := b.Remove(ctx, pkg); err != nil {
		return false, err
	}
	return true, nil
}

// PreInstall runs the package's pre-install hooks.
func (f *Facade) PreInstall(ctx context.Context, pkg Package, params map[string]any) error {
	return f.runHooks(ctx, pkg, "pre-install", pkg.PreInstall, params)
}

// PostInstall runs the package's post-install hooks.
func (f *Facade) PostInstall(ctx context.Context, pkg Package, params map[string]any) error {
	return f.runHooks(ctx, pkg, "post-install", pkg.PostInstall, params)
}

func (f *Facade) runHooks(ctx context.Context, pkg Package, stage string, hooks []Hook, params map[string]any) error {
	for _, h := range hooks {
		args, err := template.RenderArgs(h.Cmd, params)
		if err != nil {
			return fmt.Errorf("%s hook for %s: %w", stage, pkg.Name, err)
		}
		_, _, err = f.exec.Execute(ctx, args, shell.ExecOpts{RunAsRoot: h.RunAsRoot, IgnoreExit: h.IgnoreFailure})
		if err != nil {
			return fmt.Errorf("%s hook for %s: %w", stage, pkg.Name, err)
		}
	}
	return nil
}
