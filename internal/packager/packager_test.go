package packager

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomikpanda/anvil/internal/shell"
)

// fakeCommands maps "backend/verb" to a command line.
type fakeCommands map[string][]string

func (f fakeCommands) CommandQuiet(keys ...string) []string {
	return f[strings.Join(keys, "/")]
}

// recorder returns a command that appends its arguments to a log file, and a
// function reading that log back.
func recorder(t *testing.T, exitCode int, stderr string) ([]string, func() []string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("packager tests use sh")
	}
	log := filepath.Join(t.TempDir(), "calls.log")
	script := `echo "$*" >> "` + log + `"`
	if stderr != "" {
		script += `; echo "` + stderr + `" >&2`
	}
	if exitCode != 0 {
		script += "; exit " + strconv.Itoa(exitCode)
	}
	read := func() []string {
		data, err := os.ReadFile(log)
		if os.IsNotExist(err) {
			return nil
		}
		require.NoError(t, err)
		return strings.Split(strings.TrimSpace(string(data)), "\n")
	}
	return []string{"sh", "-c", script, "pkg"}, read
}

func rootExecutor(dryRun bool) *shell.Executor {
	return shell.New(shell.RunContext{DryRun: dryRun, Privileges: shell.Privileges{}})
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("yum", "apt", "pip", ""))

	err := Validate("yum", "brew")
	var unknown *UnknownBackendError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "brew", unknown.Name)
	assert.Contains(t, err.Error(), "apt, pip, yum")
}

func TestNewFacadeRejectsUnknownDefault(t *testing.T) {
	_, err := NewFacade(rootExecutor(false), fakeCommands{}, "emerge", false)
	assert.Error(t, err)

	_, err = NewFacade(rootExecutor(false), fakeCommands{}, "", false)
	assert.Error(t, err)
}

func TestInstallArgs(t *testing.T) {
	exec := rootExecutor(true)
	tests := []struct {
		backend string
		pkg     Package
		want    []string
	}{
		{"yum", Package{Name: "mysql-server", Version: "5.1"}, []string{"yum", "install", "-y", "mysql-server-5.1"}},
		{"apt", Package{Name: "mysql-server", Version: "5.1"}, []string{"apt-get", "install", "-y", "-q", "mysql-server=5.1"}},
		{"pip", Package{Name: "requests", Version: "2.0"}, []string{"pip", "install", "-q", "requests==2.0"}},
		{"pip", Package{Name: "requests", Options: []string{"--upgrade"}}, []string{"pip", "install", "-q", "--upgrade", "requests"}},
	}
	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.pkg.Name, func(t *testing.T) {
			b := backends[tt.backend](exec, fakeCommands{}).(*commandBackend)
			assert.Equal(t, tt.want, b.installArgs(tt.pkg))
		})
	}
}

func TestDistroCommandsOverrideDefaults(t *testing.T) {
	cmds := fakeCommands{"yum/install": {"dnf", "install", "-y"}}
	b := newYum(rootExecutor(true), cmds).(*commandBackend)
	assert.Equal(t, []string{"dnf", "install", "-y", "vim"}, b.installArgs(Package{Name: "vim"}))
	assert.Equal(t, []string{"yum", "erase", "-y", "vim"}, b.removeArgs(Package{Name: "vim"}))
}

func TestFacadeInstallAndRemove(t *testing.T) {
	cmd, calls := recorder(t, 0, "")
	cmds := fakeCommands{"apt/install": cmd, "apt/remove": cmd}
	f, err := NewFacade(rootExecutor(false), cmds, "apt", false)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.Install(ctx, Package{Name: "rabbitmq-server"}))
	removed, err := f.Remove(ctx, Package{Name: "rabbitmq-server"})
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Equal(t, []string{"rabbitmq-server", "rabbitmq-server"}, calls())
}

func TestFacadeRemovePolicy(t *testing.T) {
	cmd, calls := recorder(t, 0, "")
	cmds := fakeCommands{"yum/remove": cmd}
	ctx := context.Background()
	keep := false

	f, err := NewFacade(rootExecutor(false), cmds, "yum", false)
	require.NoError(t, err)
	removed, err := f.Remove(ctx, Package{Name: "python", Removable: &keep})
	require.NoError(t, err)
	assert.False(t, removed)

	f, err = NewFacade(rootExecutor(false), cmds, "yum", true)
	require.NoError(t, err)
	removed, err = f.Remove(ctx, Package{Name: "httpd"})
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Empty(t, calls())
}

func TestFacadeInstallFailure(t *testing.T) {
	cmd, _ := recorder(t, 1, "No package foo available")
	f, err := NewFacade(rootExecutor(false), fakeCommands{"yum/install": cmd}, "yum", false)
	require.NoError(t, err)

	err = f.Install(context.Background(), Package{Name: "foo"})
	require.Error(t, err)
	pe, ok := shell.AsProcessError(err)
	require.True(t, ok)
	assert.Equal(t, 1, pe.ExitCode)
	assert.Contains(t, err.Error(), "No package foo available")
}

func TestPipRemoveNotInstalledIsSuccess(t *testing.T) {
	cmd, _ := recorder(t, 1, "WARNING: Skipping nose as it is not installed.")
	f, err := NewFacade(rootExecutor(false), fakeCommands{"pip/remove": cmd}, "yum", false)
	require.NoError(t, err)

	removed, err := f.Remove(context.Background(), Package{Name: "nose", Packager: "pip"})
	require.NoError(t, err)
	assert.True(t, removed)

	// The same output from yum is still a failure.
	f, err = NewFacade(rootExecutor(false), fakeCommands{"yum/remove": cmd}, "yum", false)
	require.NoError(t, err)
	_, err = f.Remove(context.Background(), Package{Name: "nose"})
	assert.Error(t, err)
}

func TestFacadeCachesBackends(t *testing.T) {
	f, err := NewFacade(rootExecutor(true), fakeCommands{}, "yum", false)
	require.NoError(t, err)

	a, err := f.Backend("pip")
	require.NoError(t, err)
	b, err := f.Backend("pip")
	require.NoError(t, err)
	assert.Same(t, a, b)

	def, err := f.Backend("")
	require.NoError(t, err)
	assert.Equal(t, "yum", def.Name())

	_, err = f.Backend("zypper")
	assert.Error(t, err)
}

func TestHooksRenderAgainstParams(t *testing.T) {
	cmd, calls := recorder(t, 0, "")
	f, err := NewFacade(rootExecutor(false), fakeCommands{}, "yum", false)
	require.NoError(t, err)

	pkg := Package{
		Name:        "mysql",
		PreInstall:  []Hook{{Cmd: append(cmd, "pre", "{{ .options.user }}")}},
		PostInstall: []Hook{{Cmd: append(cmd, "post", "{{ .name }}"), RunAsRoot: true}},
	}
	params := map[string]any{"name": "db", "options": map[string]any{"user": "root"}}
	ctx := context.Background()
	require.NoError(t, f.PreInstall(ctx, pkg, params))
	require.NoError(t, f.PostInstall(ctx, pkg, params))
	assert.Equal(t, []string{"pre root", "post db"}, calls())

	bad := Package{Name: "x", PreInstall: []Hook{{Cmd: []string{"echo", "{{ .missing }}"}}}}
	assert.Error(t, f.PreInstall(ctx, bad, params))
}

func TestHookIgnoreFailure(t *testing.T) {
	cmd, _ := recorder(t, 2, "")
	f, err := NewFacade(rootExecutor(false), fakeCommands{}, "yum", false)
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, f.PostInstall(ctx, Package{Name: "a", PostInstall: []Hook{{Cmd: cmd, IgnoreFailure: true}}}, nil))
	assert.Error(t, f.PostInstall(ctx, Package{Name: "a", PostInstall: []Hook{{Cmd: cmd}}}, nil))
}

func TestIsRemovable(t *testing.T) {
	no, yes := false, true
	assert.True(t, Package{Name: "a"}.IsRemovable())
	assert.True(t, Package{Name: "a", Removable: &yes}.IsRemovable())
	assert.False(t, Package{Name: "a", Removable: &no}.IsRemovable())
}
