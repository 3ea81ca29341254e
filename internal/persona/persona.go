// Package persona loads the declarative description of what to deploy: which
// components, which of their subsystems, and the options each one gets.
package persona

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/atomikpanda/anvil/internal/distro"
)

// Persona is a parsed persona file.
type Persona struct {
	Description string                       `yaml:"description"`
	Supports    []string                     `yaml:"supports" validate:"required,min=1,dive,required"`
	Components  []string                     `yaml:"components" validate:"required,min=1,unique,dive,compname"`
	Subsystems  map[string][]string          `yaml:"subsystems,omitempty" validate:"dive,keys,compname,endkeys,unique"`
	Options     map[string]map[string]string `yaml:"options,omitempty" validate:"dive,keys,compname,endkeys,omitempty"`

	path string
}

var (
	validate     = validator.New()
	compNameExpr = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

func init() {
	_ = validate.RegisterValidation("compname", func(fl validator.FieldLevel) bool {
		return compNameExpr.MatchString(fl.Field().String())
	})
}

// Load reads and validates the persona at path.
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona: %w", err)
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona %s: %w", path, err)
	}
	p.path = path
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("persona %s: %w", path, describe(err))
	}
	for name := range p.Subsystems {
		if !slices.Contains(p.Components, name) {
			return nil, fmt.Errorf("persona %s: subsystems given for %q, which is not a listed component", path, name)
		}
	}
	for name := range p.Options {
		if !slices.Contains(p.Components, name) {
			return nil, fmt.Errorf("persona %s: options given for %q, which is not a listed component", path, name)
		}
	}
	return &p, nil
}

// Path returns the file the persona was loaded from.
func (p *Persona) Path() string { return p.path }

// Verify checks that d is supported and defines every wanted component.
func (p *Persona) Verify(d *distro.Distro) error {
	if !slices.Contains(p.Supports, d.Name) {
		return fmt.Errorf("persona %s does not support distro %q (supports: %s)", p.path, d.Name, strings.Join(p.Supports, ", "))
	}
	var missing []string
	for _, c := range p.Components {
		if _, ok := d.Components[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("distro %s does not define components: %s", d.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Select returns the persona components restricted to only, in persona
// order. An empty only selects everything.
func (p *Persona) Select(only []string) ([]string, error) {
	if len(only) == 0 {
		return slices.Clone(p.Components), nil
	}
	for _, name := range only {
		if !slices.Contains(p.Components, name) {
			return nil, fmt.Errorf("component %q is not part of persona %s", name, p.path)
		}
	}
	var out []string
	for _, c := range p.Components {
		if slices.Contains(only, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func describe(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid persona: %s", strings.Join(msgs, "; "))
}
