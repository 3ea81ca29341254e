// Package distro loads distro descriptors: per-platform YAML documents that
// name the default packager, the command lines anvil runs and the component
// definitions available on that platform.
package distro

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/atomikpanda/anvil/internal/packager"
	"github.com/atomikpanda/anvil/internal/platform"
)

// Distro is one loaded descriptor.
type Distro struct {
	Name            string                   `yaml:"name"`
	PlatformPattern string                   `yaml:"platform_pattern"`
	DefaultPackager string                   `yaml:"default_packager"`
	Commands        map[string]any           `yaml:"commands"`
	Components      map[string]ComponentSpec `yaml:"components"`

	pattern *regexp.Regexp
	path    string
}

// ComponentSpec defines one component as the distro provides it.
type ComponentSpec struct {
	Installer    string               `yaml:"installer"`
	Runtime      string               `yaml:"runtime"`
	Priority     *int                 `yaml:"priority,omitempty"`
	Dependencies []string             `yaml:"dependencies,omitempty"`
	Packages     []packager.Package   `yaml:"packages,omitempty"`
	Pips         []packager.Package   `yaml:"pips,omitempty"`
	Python       []string             `yaml:"python,omitempty"`
	Subsystems   map[string]Subsystem `yaml:"subsystems,omitempty"`
	Options      map[string]Option    `yaml:"options,omitempty"`
	ConfigFiles  []ConfigFile         `yaml:"config_files,omitempty"`
	// Symlinks maps a config target to the links pointing at it.
	Symlinks  map[string][]string `yaml:"symlinks,omitempty"`
	Apps      []App               `yaml:"apps,omitempty"`
	Downloads []Source            `yaml:"downloads,omitempty"`
	KeepDirs  []string            `yaml:"keep_dirs,omitempty"`
}

// Subsystem is an optional part of a component, such as one daemon of a
// multi-daemon service.
type Subsystem struct {
	Description string             `yaml:"description,omitempty"`
	Packages    []packager.Package `yaml:"packages,omitempty"`
	Pips        []packager.Package `yaml:"pips,omitempty"`
}

// Option declares a component option.
type Option struct {
	Default     string `yaml:"default,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
	Password    bool   `yaml:"password,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// ConfigFile is a template rendered into the component's config directory.
type ConfigFile struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Adjust string `yaml:"adjust,omitempty"`
}

// App is one runnable process of a component. Empty command lines fall back
// to the runtime's defaults.
type App struct {
	Name      string   `yaml:"name"`
	Subsystem string   `yaml:"subsystem,omitempty"`
	Start     []string `yaml:"start,omitempty"`
	Stop      []string `yaml:"stop,omitempty"`
	Status    []string `yaml:"status,omitempty"`
}

// Source is something to download into the component's app directory. Ref
// is a git ref for repositories and a sha256 digest for archives.
type Source struct {
	URI    string `yaml:"uri"`
	Ref    string `yaml:"ref,omitempty"`
	Target string `yaml:"target,omitempty"`
}

// Load reads and validates the descriptor at path.
func Load(path string) (*Distro, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "read distro %s", path)
	}
	var d Distro
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, errors.Annotatef(err, "parse distro %s", path)
	}
	d.path = path
	if err := d.validate(); err != nil {
		return nil, errors.Annotatef(err, "distro %s", path)
	}
	return &d, nil
}

// LoadAll loads every *.yaml descriptor in dir, sorted by file name.
func LoadAll(dir string) ([]*Distro, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Distro, 0, len(paths))
	for _, p := range paths {
		d, err := Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Match returns the first distro whose platform pattern matches plat.
func Match(distros []*Distro, plat string) (*Distro, error) {
	for _, d := range distros {
		if d.pattern.MatchString(plat) {
			return d, nil
		}
	}
	return nil, errors.NotFoundf("distro matching platform %q", plat)
}

// Sniff loads the descriptors in dir and picks the one for this host.
func Sniff(dir string) (*Distro, error) {
	distros, err := LoadAll(dir)
	if err != nil {
		return nil, err
	}
	plat, err := platform.Describe()
	if err != nil {
		return nil, errors.Annotate(err, "detect platform")
	}
	return Match(distros, plat)
}

func (d *Distro) validate() error {
	if d.Name == "" {
		return errors.NotValidf("missing name")
	}
	if d.PlatformPattern == "" {
		return errors.NotValidf("missing platform_pattern")
	}
	re, err := regexp.Compile("(?i)" + d.PlatformPattern)
	if err != nil {
		return errors.Annotate(err, "platform_pattern")
	}
	d.pattern = re
	if d.DefaultPackager == "" {
		return errors.NotValidf("missing default_packager")
	}
	if err := packager.Validate(d.DefaultPackager); err != nil {
		return err
	}
	for name, spec := range d.Components {
		for _, p := range spec.allPackages() {
			if p.Name == "" {
				return errors.NotValidf("component %s: package without a name", name)
			}
			if err := packager.Validate(p.Packager); err != nil {
				return errors.Annotatef(err, "component %s package %s", name, p.Name)
			}
		}
		for _, dep := range spec.Dependencies {
			if _, ok := d.Components[dep]; !ok {
				return errors.NotValidf("component %s depends on undefined %q", name, dep)
			}
		}
	}
	return nil
}

func (s ComponentSpec) allPackages() []packager.Package {
	all := append([]packager.Package{}, s.Packages...)
	all = append(all, s.Pips...)
	for _, sub := range s.Subsystems {
		all = append(all, sub.Packages...)
		all = append(all, sub.Pips...)
	}
	return all
}

// Path returns the file the descriptor was loaded from.
func (d *Distro) Path() string { return d.path }

// Component returns the named component definition.
func (d *Distro) Component(name string) (ComponentSpec, error) {
	spec, ok := d.Components[name]
	if !ok {
		return ComponentSpec{}, errors.NotFoundf("component %q in distro %s", name, d.Name)
	}
	return spec, nil
}

// ComponentNames returns the defined component names, sorted.
func (d *Distro) ComponentNames() []string {
	names := make([]string, 0, len(d.Components))
	for n := range d.Components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CommandConfig returns the raw value stored under the nested keys.
func (d *Distro) CommandConfig(keys ...string) (any, error) {
	var cur any = d.Commands
	for i, k := range keys {
		m, ok := asMap(cur)
		if !ok {
			return nil, errors.NotFoundf("command %q", strings.Join(keys[:i+1], "."))
		}
		cur, ok = m[k]
		if !ok {
			return nil, errors.NotFoundf("command %q", strings.Join(keys[:i+1], "."))
		}
	}
	return cur, nil
}

// Command returns the argv stored under the nested keys. A YAML list is used
// as is; a string is split on whitespace.
func (d *Distro) Command(keys ...string) ([]string, error) {
	v, err := d.CommandConfig(keys...)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case string:
		return strings.Fields(t), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out, nil
	case []string:
		return t, nil
	}
	return nil, errors.NotValidf("command %q of type %T", strings.Join(keys, "."), v)
}

// CommandQuiet is Command returning nil instead of an error.
func (d *Distro) CommandQuiet(keys ...string) []string {
	cmd, err := d.Command(keys...)
	if err != nil {
		return nil
	}
	return cmd
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}
