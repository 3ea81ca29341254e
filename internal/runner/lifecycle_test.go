package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomikpanda/anvil/internal/component"
	"github.com/atomikpanda/anvil/internal/distro"
	"github.com/atomikpanda/anvil/internal/downloader"
	"github.com/atomikpanda/anvil/internal/journal"
	"github.com/atomikpanda/anvil/internal/packager"
	"github.com/atomikpanda/anvil/internal/shell"
)

const lifecycleDistro = `
name: test-os
platform_pattern: 'linux-test'
default_packager: yum
commands:
  yum:
    install: [sh, -c, 'echo "install $*" >> WORK/calls.log; test ! -f WORK/fail', yum]
    remove: [sh, -c, 'echo "remove $*" >> WORK/calls.log', yum]
components:
  db:
    packages:
      - name: mysql-server
        removable: true
    options:
      password:
        password: true
    config_files:
      - source: db.cnf
        target: my.cnf
  app:
    runtime: program
    dependencies: [db]
    packages:
      - name: app-libs
        removable: true
    config_files:
      - source: app.conf
        target: app.conf
    apps:
      - name: appd
        start: [sh, -c, 'echo "start appd" >> WORK/calls.log; touch WORK/appd.running']
        stop: [sh, -c, 'echo "stop appd" >> WORK/calls.log; rm -f WORK/appd.running']
        status: [sh, -c, 'test -f WORK/appd.running || exit 3']
`

type lifecycle struct {
	work string
	root string
	set  component.Siblings
	rc   shell.RunContext
}

func newLifecycle(t *testing.T, dryRun bool) *lifecycle {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("lifecycle tests use sh")
	}
	work := t.TempDir()
	l := &lifecycle{work: work, root: filepath.Join(work, "deploy")}

	path := filepath.Join(work, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(lifecycleDistro, "WORK", work)), 0o644))
	d, err := distro.Load(path)
	require.NoError(t, err)

	templates := filepath.Join(work, "templates")
	require.NoError(t, os.MkdirAll(templates, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "db.cnf"), []byte("password={{ .passwords.password }}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "app.conf"), []byte("db={{ .siblings.db.password }}\nlogs={{ .dirs.logs }}\n"), 0o644))

	l.rc = shell.RunContext{DryRun: dryRun, RootDir: l.root, Jobs: 2, Privileges: shell.Privileges{}}
	exec := shell.New(l.rc)
	facade, err := packager.NewFacade(exec, d, d.DefaultPackager, false)
	require.NoError(t, err)
	l.set, err = component.NewSet([]string{"db", "app"}, d, nil, nil, component.Deps{
		Run:          l.rc,
		Exec:         exec,
		Packager:     facade,
		Downloader:   downloader.New(exec, d),
		Distro:       d,
		Passwords:    staticPasswords{},
		Templates:    templates,
		WaitAttempts: 3,
		WaitDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	return l
}

type staticPasswords struct{}

func (staticPasswords) Password(string, string) (string, error) { return "pw", nil }

func (l *lifecycle) run(t *testing.T, action string) (*Summary, error) {
	t.Helper()
	units := []Unit{l.set["db"], l.set["app"]}
	r, err := New(units, Options{Action: action, Run: l.rc, Exec: shell.New(l.rc), Out: &bytes.Buffer{}})
	require.NoError(t, err)
	return r.Run(context.Background())
}

func (l *lifecycle) calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(l.work, "calls.log"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestLifecycleNetsToEmpty(t *testing.T) {
	l := newLifecycle(t, false)

	_, err := l.run(t, "install")
	require.NoError(t, err)
	conf, err := os.ReadFile(filepath.Join(l.root, "app", "config", "app.conf"))
	require.NoError(t, err)
	assert.Equal(t, "db=pw\nlogs="+filepath.Join(l.root, "app", "logs")+"\n", string(conf))
	assert.FileExists(t, filepath.Join(l.root, "app", "logs", "appd.log"))

	_, err = l.run(t, "install")
	assert.ErrorIs(t, err, journal.ErrJournalExists, "at most one install")

	_, err = l.run(t, "start")
	require.NoError(t, err)
	assert.Equal(t, component.Started, l.set["app"].State())

	for i := 0; i < 2; i++ {
		s, err := l.run(t, "status")
		require.NoError(t, err)
		assert.Equal(t, []component.AppStatus{{Name: "appd", Status: component.StatusRunning}}, s.Statuses["app"])
	}

	_, err = l.run(t, "uninstall")
	assert.ErrorContains(t, err, "stop before uninstalling")

	_, err = l.run(t, "stop")
	require.NoError(t, err)
	_, err = l.run(t, "uninstall")
	require.NoError(t, err)

	entries, err := os.ReadDir(l.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, []string{
		"install mysql-server",
		"install app-libs",
		"start appd",
		"stop appd",
		"remove app-libs",
		"remove mysql-server",
	}, l.calls(t))
}

func TestFailedDependencyLeavesCleanupJournal(t *testing.T) {
	l := newLifecycle(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(l.work, "fail"), nil, 0o644))

	s, err := l.run(t, "install")
	require.Error(t, err)
	assert.Equal(t, []string{"db"}, s.Failed)
	assert.Equal(t, []string{"app"}, s.Skipped)
	assert.Equal(t, []string{"install mysql-server"}, l.calls(t), "app is never installed")
	assert.NoDirExists(t, filepath.Join(l.root, "app"))

	dirs, err := journal.NewReader(component.InstallTracePath(l.root, "db")).DirsMade()
	require.NoError(t, err)
	assert.Contains(t, dirs, filepath.Join(l.root, "db", "config"))

	_, err = l.run(t, "uninstall")
	require.NoError(t, err)
	entries, err := os.ReadDir(l.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDryRunChangesNothing(t *testing.T) {
	l := newLifecycle(t, true)
	for _, action := range []string{"install", "start", "status", "stop", "uninstall"} {
		_, err := l.run(t, action)
		require.NoError(t, err, action)
	}
	assert.NoDirExists(t, l.root)
	assert.Empty(t, l.calls(t))
}
