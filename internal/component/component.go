// Package component implements the unit of deployable functionality. A
// component installs, configures, starts and removes one service, recording
// every side effect in its journals so that uninstall and stop can be driven
// from what was actually done.
package component

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/atomikpanda/anvil/internal/distro"
	"github.com/atomikpanda/anvil/internal/downloader"
	"github.com/atomikpanda/anvil/internal/journal"
	"github.com/atomikpanda/anvil/internal/logging"
	"github.com/atomikpanda/anvil/internal/packager"
	"github.com/atomikpanda/anvil/internal/shell"
)

// Installable is the install side of a component. Each phase returns how
// many things it handled.
type Installable interface {
	Download(ctx context.Context) (int, error)
	Configure(ctx context.Context) (int, error)
	PreInstall(ctx context.Context) (int, error)
	Install(ctx context.Context) (int, error)
	PostInstall(ctx context.Context) (int, error)
}

// Uninstallable reverses an install from its journal.
type Uninstallable interface {
	Unconfigure(ctx context.Context) (int, error)
	PreUninstall(ctx context.Context) (int, error)
	Uninstall(ctx context.Context) (int, error)
	PostUninstall(ctx context.Context) (int, error)
}

// Runtime starts, stops and queries the component's apps.
type Runtime interface {
	Start(ctx context.Context) (int, error)
	Stop(ctx context.Context) (int, error)
	Status(ctx context.Context) ([]AppStatus, error)
	Restart(ctx context.Context) (int, error)
	WaitActive(ctx context.Context) error
}

// Passwords hands out the passwords of password options.
type Passwords interface {
	Password(name, description string) (string, error)
}

// Siblings is the table of active components in one run, by name.
type Siblings map[string]*Component

// Deps are the collaborators shared by every component of a run.
type Deps struct {
	Run        shell.RunContext
	Exec       *shell.Executor
	Packager   *packager.Facade
	Downloader downloader.Downloader
	Distro     *distro.Distro
	Passwords  Passwords
	// Templates is the directory config file sources are relative to.
	Templates string
	// Out receives progress bars.
	Out io.Writer
	// Clock and the wait settings drive WaitActive.
	Clock        clock.Clock
	WaitAttempts int
	WaitDelay    time.Duration
}

// Config selects one component of the distro for this run.
type Config struct {
	Name       string
	Spec       distro.ComponentSpec
	Subsystems []string
	Options    map[string]string
}

// Component is one deployable service.
type Component struct {
	name       string
	spec       distro.ComponentSpec
	subsystems []string
	overrides  map[string]string
	deps       Deps
	installer  installer
	runtime    runtimeKind
	logger     zerolog.Logger

	siblings Siblings

	mu        sync.Mutex
	resolved  bool
	options   map[string]string
	passwords map[string]string
	install   *journal.Writer
}

// New builds a component. Unknown installer or runtime kinds are rejected.
func New(cfg Config, deps Deps) (*Component, error) {
	inst, err := newInstaller(cfg.Spec.Installer)
	if err != nil {
		return nil, fmt.Errorf("component %s: %w", cfg.Name, err)
	}
	rt, err := newRuntime(cfg.Spec.Runtime)
	if err != nil {
		return nil, fmt.Errorf("component %s: %w", cfg.Name, err)
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.WaitAttempts <= 0 {
		deps.WaitAttempts = 5
	}
	if deps.WaitDelay <= 0 {
		deps.WaitDelay = time.Second
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	return &Component{
		name:       cfg.Name,
		spec:       cfg.Spec,
		subsystems: slices.Clone(cfg.Subsystems),
		overrides:  maps.Clone(cfg.Options),
		deps:       deps,
		installer:  inst,
		runtime:    rt,
		logger:     logging.For("component").With().Str("name", cfg.Name).Logger(),
	}, nil
}

// NewSet builds the named components and wires them together as siblings.
func NewSet(names []string, d *distro.Distro, subsystems map[string][]string, options map[string]map[string]string, deps Deps) (Siblings, error) {
	set := make(Siblings, len(names))
	for _, name := range names {
		spec, err := d.Component(name)
		if err != nil {
			return nil, err
		}
		c, err := New(Config{Name: name, Spec: spec, Subsystems: subsystems[name], Options: options[name]}, deps)
		if err != nil {
			return nil, err
		}
		set[name] = c
	}
	for _, c := range set {
		c.siblings = set
	}
	return set, nil
}

// Name returns the component name.
func (c *Component) Name() string { return c.name }

// Dependencies returns the components this one needs first.
func (c *Component) Dependencies() []string { return slices.Clone(c.spec.Dependencies) }

// Priority returns the distro's ordering priority override, if any.
func (c *Component) Priority() (int, bool) {
	if c.spec.Priority == nil {
		return 0, false
	}
	return *c.spec.Priority, true
}

// Dirs are the directories a component owns under the install root.
type Dirs struct {
	Root   string
	App    string
	Config string
	Logs   string
	Traces string
}

// Dirs returns the component's directory layout.
func (c *Component) Dirs() Dirs {
	root := filepath.Join(c.deps.Run.RootDir, c.name)
	return Dirs{
		Root:   root,
		App:    filepath.Join(root, "app"),
		Config: filepath.Join(root, "config"),
		Logs:   filepath.Join(root, "logs"),
		Traces: filepath.Join(root, "traces"),
	}
}

// logFile is where app writes its log.
func (c *Component) logFile(app string) string {
	return filepath.Join(c.Dirs().Logs, app+".log")
}

// InstallTracePath is where the install journal of component name lives.
func InstallTracePath(root, name string) string {
	return filepath.Join(root, name, "traces", "install.trace")
}

// StartTracePath is where the start journal of component name lives.
func StartTracePath(root, name string) string {
	return filepath.Join(root, name, "traces", "start.trace")
}

func (c *Component) installTracePath() string {
	return InstallTracePath(c.deps.Run.RootDir, c.name)
}

func (c *Component) startTracePath() string {
	return StartTracePath(c.deps.Run.RootDir, c.name)
}

// State reports how far the component got, judged from its journals alone.
type State int

const (
	Uninstalled State = iota
	Installed
	Started
)

func (s State) String() string {
	switch s {
	case Installed:
		return "installed"
	case Started:
		return "started"
	}
	return "uninstalled"
}

// State derives the component's state from its journals.
func (c *Component) State() State {
	switch {
	case journal.NewReader(c.startTracePath()).Exists():
		return Started
	case journal.NewReader(c.installTracePath()).Exists():
		return Installed
	}
	return Uninstalled
}

// KnownOptions returns the option names the distro declares, sorted.
func (c *Component) KnownOptions() []string {
	names := make([]string, 0, len(c.spec.Options))
	for n := range c.spec.Options {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ConfigError collects everything wrong with a component's configuration.
type ConfigError struct {
	Component string
	Problems  []string
}

func (e *ConfigError) Error() string {
	msg := "component " + e.Component + ": "
	for i, p := range e.Problems {
		if i > 0 {
			msg += "; "
		}
		msg += p
	}
	return msg
}

// Verify checks options and subsystems and resolves passwords. It changes
// nothing on disk.
func (c *Component) Verify() error {
	var problems []string
	for _, name := range sortedKeys(c.overrides) {
		if _, ok := c.spec.Options[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown option %q", name))
		}
	}
	for _, s := range c.subsystems {
		if _, ok := c.spec.Subsystems[s]; !ok {
			problems = append(problems, fmt.Sprintf("unknown subsystem %q", s))
		}
	}
	if _, isPython := c.installer.(pythonInstaller); !isPython && (len(c.spec.Pips) > 0 || len(c.spec.Python) > 0) {
		problems = append(problems, "pips and python projects need the python installer")
	}
	for _, name := range c.KnownOptions() {
		opt := c.spec.Options[name]
		if opt.Required && !opt.Password && c.overrides[name] == "" && opt.Default == "" {
			problems = append(problems, fmt.Sprintf("option %q is required", name))
		}
	}
	if len(problems) > 0 {
		return &ConfigError{Component: c.name, Problems: problems}
	}
	return c.resolve()
}

// resolve fills in option values and passwords once.
func (c *Component) resolve() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return nil
	}
	options := make(map[string]string)
	passwords := make(map[string]string)
	for name, opt := range c.spec.Options {
		if opt.Password {
			v := c.overrides[name]
			if v == "" {
				if c.deps.Passwords == nil {
					return &ConfigError{Component: c.name, Problems: []string{fmt.Sprintf("no keyring for password %q", name)}}
				}
				var err error
				if v, err = c.deps.Passwords.Password(c.name+"."+name, opt.Description); err != nil {
					return err
				}
			}
			passwords[name] = v
			continue
		}
		v, ok := c.overrides[name]
		if !ok {
			v = opt.Default
		}
		options[name] = v
	}
	c.options, c.passwords, c.resolved = options, passwords, true
	return nil
}

// Options returns the resolved option values and passwords merged.
func (c *Component) Options() (map[string]string, error) {
	if err := c.resolve(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := maps.Clone(c.options)
	maps.Copy(out, c.passwords)
	return out, nil
}

// Params is the data config templates and commands are rendered against.
func (c *Component) Params() (map[string]any, error) {
	if err := c.resolve(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	options := toAny(c.options)
	passwords := toAny(c.passwords)
	c.mu.Unlock()

	siblings := make(map[string]any, len(c.siblings))
	for name, s := range c.siblings {
		if s == c {
			continue
		}
		opts, err := s.Options()
		if err != nil {
			return nil, err
		}
		siblings[name] = toAny(opts)
	}
	d := c.Dirs()
	return map[string]any{
		"name": c.name,
		"dirs": map[string]any{
			"root":   d.Root,
			"app":    d.App,
			"config": d.Config,
			"logs":   d.Logs,
			"traces": d.Traces,
		},
		"options":   options,
		"passwords": passwords,
		"siblings":  siblings,
		"distro":    c.deps.Distro.Name,
	}, nil
}

// packages returns the component's packages plus those of the wanted
// subsystems (every subsystem when none were asked for).
func (c *Component) packages() []packager.Package {
	out := slices.Clone(c.spec.Packages)
	for _, name := range c.activeSubsystems() {
		out = append(out, c.spec.Subsystems[name].Packages...)
	}
	return out
}

func (c *Component) pips() []packager.Package {
	out := slices.Clone(c.spec.Pips)
	for _, name := range c.activeSubsystems() {
		out = append(out, c.spec.Subsystems[name].Pips...)
	}
	for i := range out {
		out[i].Packager = "pip"
	}
	return out
}

func (c *Component) activeSubsystems() []string {
	if len(c.subsystems) > 0 {
		return c.subsystems
	}
	return sortedKeys(c.spec.Subsystems)
}

func (c *Component) apps() []distro.App {
	if len(c.subsystems) == 0 {
		return c.spec.Apps
	}
	var out []distro.App
	for _, a := range c.spec.Apps {
		if a.Subsystem == "" || slices.Contains(c.subsystems, a.Subsystem) {
			out = append(out, a)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
