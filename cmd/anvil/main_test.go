package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomikpanda/anvil/internal/settings"
)

const testDistro = `
name: test-os
platform_pattern: '^linux-test'
default_packager: yum
commands:
  yum:
    install: ["true"]
    remove: ["true"]
components:
  db:
    packages:
      - name: mysql-server
    options:
      password:
        password: true
    config_files:
      - source: my.cnf
        target: my.cnf
  web:
    runtime: program
    dependencies: [db]
    apps:
      - name: httpd
        start: ["true"]
        stop: ["true"]
        status: [sh, -c, "exit 3"]
`

const testPersona = `
description: test stack
supports: [test-os]
components: [db, web]
`

// workspace lays out a distro dir, persona, templates and private state
// files, and returns the flags pointing anvil at them.
type workspace struct {
	dir  string
	root string
	args []string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	t.Setenv("ANVIL_PLATFORM", "linux-test-1")
	dir := t.TempDir()
	write := func(rel, body string) string {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	write("distros/test.yaml", testDistro)
	write("templates/my.cnf", "password={{ .passwords.password }}\n")
	personaPath := write("persona.yaml", testPersona)

	w := &workspace{dir: dir, root: filepath.Join(dir, "deploy")}
	w.args = []string{
		"--persona", personaPath,
		"--directory", w.root,
		"--distros", filepath.Join(dir, "distros"),
		"--templates", filepath.Join(dir, "templates"),
		"--keyring", filepath.Join(dir, "passwords.yaml"),
		"--settings", w.path("settings.toml"),
		"--history-file", w.path("history.log"),
		"--log-file", w.path("anvil.log"),
		"--no-prompt",
	}
	return w
}

func (w *workspace) path(name string) string { return filepath.Join(w.dir, name) }

func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot()
	root.SetArgs(append(args, w.args...))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func TestBuildRoot(t *testing.T) {
	root := buildRoot()
	assert.Equal(t, "anvil", root.Use)

	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["distro"])
	assert.True(t, names["history"])

	for flag, short := range map[string]string{
		"action": "a", "persona": "p", "directory": "d", "jobs": "j", "verbose": "v", "component": "c",
	} {
		f := root.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, short, f.Shorthand, flag)
	}
	for _, flag := range []string{"dryrun", "keyring", "distros", "templates", "keep-old", "force", "no-prompt"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestMergePrefersExplicitFlags(t *testing.T) {
	o := &options{}
	root := newRoot(o)
	require.NoError(t, root.ParseFlags([]string{"-a", "stop", "-j", "3", "-vv"}))

	s := settings.Defaults()
	s.Persona = "saved.yaml"
	s.KeepOld = true
	merge(root, o, &s)

	assert.Equal(t, "stop", s.Action)
	assert.Equal(t, 3, s.Jobs)
	assert.Equal(t, 2, s.Verbose)
	assert.Equal(t, "saved.yaml", o.persona)
	assert.True(t, o.keepOld)
	assert.Equal(t, settings.Defaults().Templates, o.templates)
}

func TestDryRunInstallChangesNothing(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "-a", "install", "--dryrun")
	require.NoError(t, err, out)
	assert.Contains(t, out, "2 ok, 0 failed, 0 skipped")

	assert.NoDirExists(t, w.root)
	assert.NoFileExists(t, w.path("settings.toml"))
	assert.NoFileExists(t, w.path("passwords.yaml"))
}

func TestStatusSavesSettingsAndHistory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	w := newWorkspace(t)

	out, err := w.run(t, "-a", "status", "-c", "web")
	require.NoError(t, err, out)
	assert.Contains(t, out, "httpd")
	assert.Contains(t, out, "stopped")

	s, err := settings.Load(w.path("settings.toml"))
	require.NoError(t, err)
	assert.Equal(t, "status", s.Action)
	assert.Equal(t, w.root, s.Directory)
	assert.True(t, s.NoPrompt)

	out, err = w.run(t, "history", "-a", "status")
	require.NoError(t, err, out)
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "success")
	assert.NotContains(t, out, "(no history)")

	out, err = w.run(t, "history", "-a", "install")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(no history)")
}

func TestStatusLeavesKeyringAlone(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	w := newWorkspace(t)

	out, err := w.run(t, "-a", "status", "-c", "db")
	require.NoError(t, err, out)
	assert.NoFileExists(t, w.path("passwords.yaml"))
	assert.FileExists(t, w.path("settings.toml"))
}

func TestUnknownActionFails(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "-a", "explode")
	assert.ErrorContains(t, err, `unknown action "explode"`)
}

func TestUnknownComponentFails(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "-a", "status", "-c", "queue")
	assert.ErrorContains(t, err, `component "queue" is not part of persona`)
}

func TestDistroCmd(t *testing.T) {
	w := newWorkspace(t)
	out, err := w.run(t, "distro")
	require.NoError(t, err, out)
	assert.Contains(t, out, "linux-test-1")
	assert.Contains(t, out, "test-os")
	assert.Contains(t, out, "db, web")
}

func TestHistoryTakesOneComponent(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "history", "-c", "db,web")
	assert.ErrorContains(t, err, "history filters on one component")
}
