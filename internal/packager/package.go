// Package packager installs and removes packages through a uniform facade
// that dispatches each package to a backend (yum, apt, pip).
package packager

import (
	"fmt"
	"sort"
	"strings"
)

// Package describes one installable package.
type Package struct {
	Name     string   `yaml:"name" validate:"required"`
	Version  string   `yaml:"version,omitempty"`
	Packager string   `yaml:"packager,omitempty"`
	Options  []string `yaml:"options,omitempty"`
	// Removable defaults to true; false keeps the package on uninstall.
	Removable   *bool  `yaml:"removable,omitempty"`
	PreInstall  []Hook `yaml:"pre-install,omitempty"`
	PostInstall []Hook `yaml:"post-install,omitempty"`
}

// Hook is a command run around a package install. Arguments are templates
// rendered against the component's parameters.
type Hook struct {
	Cmd           []string `yaml:"cmd" validate:"required,min=1"`
	RunAsRoot     bool     `yaml:"run_as_root,omitempty"`
	IgnoreFailure bool     `yaml:"ignore_failure,omitempty"`
}

// IsRemovable reports whether uninstall may remove the package.
func (p Package) IsRemovable() bool {
	return p.Removable == nil || *p.Removable
}

func (p Package) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + " (" + p.Version + ")"
}

// UnknownBackendError is returned for a packager name with no registered backend.
type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown packager %q (known: %s)", e.Name, strings.Join(Known(), ", "))
}

// Known returns the registered backend names, sorted.
func Known() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate rejects any name that has no registered backend. Empty names mean
// "use the default" and are accepted.
func Validate(names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := backends[name]; !ok {
			return &UnknownBackendError{Name: name}
		}
	}
	return nil
}
