// Package keyring stores the passwords components need. The store is a YAML
// map of name to password, sealed with age when a key is configured.
// Passwords missing from the store are prompted for, or generated.
package keyring

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/huh"
	"gopkg.in/yaml.v3"
)

// Prompter asks the user for a password. An empty answer means "generate
// one for me".
type Prompter func(name, description string) (string, error)

// Keyring is a password store backed by one file. It is safe for concurrent
// use.
type Keyring struct {
	path   string
	key    *Key
	prompt Prompter

	mu        sync.Mutex
	passwords map[string]string
	dirty     bool
}

// Open loads the store at path. A missing file is an empty store. With a nil
// key the file is plain YAML readable only by its owner. A nil prompt means
// missing passwords are always generated.
func Open(path string, key *Key, prompt Prompter) (*Keyring, error) {
	k := &Keyring{path: path, key: key, prompt: prompt, passwords: make(map[string]string)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	if key != nil {
		if data, err = key.open(data); err != nil {
			return nil, fmt.Errorf("open keyring %s: %w", path, err)
		}
	}
	if err := yaml.Unmarshal(data, &k.passwords); err != nil {
		return nil, fmt.Errorf("parse keyring %s: %w", path, err)
	}
	if k.passwords == nil {
		k.passwords = make(map[string]string)
	}
	return k, nil
}

// Path returns the backing file.
func (k *Keyring) Path() string { return k.path }

// Get returns a stored password.
func (k *Keyring) Get(name string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.passwords[name]
	return v, ok
}

// Set stores a password.
func (k *Keyring) Set(name, value string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.passwords[name] != value {
		k.passwords[name] = value
		k.dirty = true
	}
}

// Password returns the stored password for name, prompting for or
// generating one when there is none. New passwords are kept for Save.
func (k *Keyring) Password(name, description string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.passwords[name]; ok {
		return v, nil
	}
	var value string
	if k.prompt != nil {
		v, err := k.prompt(name, description)
		if err != nil {
			return "", fmt.Errorf("prompt for %s: %w", name, err)
		}
		value = v
	}
	if value == "" {
		generated, err := Generate(16)
		if err != nil {
			return "", err
		}
		value = generated
	}
	k.passwords[name] = value
	k.dirty = true
	return value, nil
}

// Save writes the store back when it changed.
func (k *Keyring) Save() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.dirty {
		return nil
	}
	data, err := yaml.Marshal(k.passwords)
	if err != nil {
		return err
	}
	if k.key != nil {
		if data, err = k.key.seal(data); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("create keyring dir: %w", err)
	}
	if err := os.WriteFile(k.path, data, 0o600); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	k.dirty = false
	return nil
}

// Generate returns a random hex password built from n random bytes.
func Generate(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HuhPrompt asks on the terminal with input hidden.
func HuhPrompt(name, description string) (string, error) {
	var value string
	title := fmt.Sprintf("Password for %s", name)
	if description == "" {
		description = "Leave empty to generate one."
	}
	err := huh.NewInput().
		Title(title).
		Description(description).
		EchoMode(huh.EchoModePassword).
		Value(&value).
		Run()
	return value, err
}
