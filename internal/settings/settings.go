// Package settings persists the last-used command line options so that a
// bare "anvil" re-runs with them. Values come from defaults, then the
// settings file, then ANVIL_* environment variables.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml/v2"
)

// Settings are the persisted options.
type Settings struct {
	Action    string `koanf:"action" toml:"action"`
	Persona   string `koanf:"persona" toml:"persona"`
	Directory string `koanf:"directory" toml:"directory"`
	Jobs      int    `koanf:"jobs" toml:"jobs"`
	Verbose   int    `koanf:"verbose" toml:"verbose"`
	Keyring   string `koanf:"keyring" toml:"keyring"`
	Distros   string `koanf:"distros" toml:"distros"`
	Templates string `koanf:"templates" toml:"templates"`
	KeepOld   bool   `koanf:"keep_old" toml:"keep_old"`
	NoPrompt  bool   `koanf:"no_prompt" toml:"no_prompt"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Action:    "install",
		Persona:   filepath.Join("conf", "personas", "devstack.yaml"),
		Directory: filepath.Join(xdg.DataHome, "anvil", "deploy"),
		Jobs:      1,
		Keyring:   filepath.Join(xdg.ConfigHome, "anvil", "passwords.age"),
		Distros:   filepath.Join("conf", "distros"),
		Templates: filepath.Join("conf", "templates"),
	}
}

// DefaultPath is the settings file under the XDG config directory.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "anvil", "settings.toml")
}

// Load reads the settings at path. A missing file yields the defaults
// (plus any environment overrides).
func Load(path string) (Settings, error) {
	k := koanf.New(".")
	d := Defaults()
	if err := k.Load(confmap.Provider(map[string]any{
		"action":    d.Action,
		"persona":   d.Persona,
		"directory": d.Directory,
		"jobs":      d.Jobs,
		"verbose":   d.Verbose,
		"keyring":   d.Keyring,
		"distros":   d.Distros,
		"templates": d.Templates,
		"keep_old":  d.KeepOld,
		"no_prompt": d.NoPrompt,
	}, "."), nil); err != nil {
		return Settings{}, fmt.Errorf("load defaults: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Settings{}, fmt.Errorf("load settings from %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider("ANVIL_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "ANVIL_"))
	}), nil)
	if err != nil {
		return Settings{}, fmt.Errorf("load environment: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// Save writes s to path.
func Save(path string, s Settings) error {
	data, err := gotoml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
