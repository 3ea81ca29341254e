package shell

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(dryRun bool) *Executor {
	return New(RunContext{DryRun: dryRun, Privileges: Privileges{EUID: 1000, UserUID: 1000, UserGID: 1000}})
}

func sh(command string) []string { return []string{"sh", "-c", command} }

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell tests use Unix commands")
	}
}

func TestExecuteCapturesOutput(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(false)
	out, errOut, err := e.Execute(context.Background(), sh("echo hello; echo oops >&2"), ExecOpts{})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
	assert.Equal(t, "oops\n", errOut)
}

func TestExecuteFailure(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(false)
	_, _, err := e.Execute(context.Background(), sh("echo broken >&2; exit 3"), ExecOpts{})
	require.Error(t, err)

	pe, ok := AsProcessError(err)
	require.True(t, ok)
	assert.Equal(t, 3, pe.ExitCode)
	assert.Equal(t, "broken\n", pe.Stderr)
	assert.Contains(t, pe.Error(), "exited with code 3")
}

func TestExecuteAcceptCodes(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(false)
	_, _, err := e.Execute(context.Background(), sh("exit 3"), ExecOpts{AcceptCodes: []int{0, 3}})
	assert.NoError(t, err)

	_, _, err = e.Execute(context.Background(), []string{"false"}, ExecOpts{IgnoreExit: true})
	assert.NoError(t, err)

	_, _, err = e.Execute(context.Background(), []string{"true"}, ExecOpts{AcceptCodes: []int{1}})
	assert.Error(t, err)
}

func TestExecuteInputEnvCwd(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(false)
	dir := t.TempDir()

	out, _, err := e.Execute(context.Background(), []string{"cat"}, ExecOpts{Input: []byte("piped")})
	require.NoError(t, err)
	assert.Equal(t, "piped", out)

	out, _, err = e.Execute(context.Background(), sh("echo $ANVIL_TEST_VAR"), ExecOpts{Env: map[string]string{"ANVIL_TEST_VAR": "set"}})
	require.NoError(t, err)
	assert.Equal(t, "set\n", out)

	out, _, err = e.Execute(context.Background(), []string{"pwd"}, ExecOpts{Cwd: dir})
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{dir + "\n", resolved + "\n"}, out)
}

func TestExecuteBinaryNotFound(t *testing.T) {
	e := newTestExecutor(false)
	_, _, err := e.Execute(context.Background(), []string{"nonexistent_binary_xyz_12345"}, ExecOpts{})
	require.Error(t, err)
	_, ok := AsProcessError(err)
	assert.False(t, ok, "a missing binary is not an exit-code failure")
}

func TestExecuteCancelled(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newTestExecutor(false).Execute(ctx, []string{"sleep", "10"}, ExecOpts{})
	assert.Error(t, err)
}

func TestExecuteEmptyCommand(t *testing.T) {
	e := newTestExecutor(true)
	_, _, err := e.Execute(context.Background(), nil, ExecOpts{})
	assert.Error(t, err, "dry run still validates input")
}

func TestDryRunExecute(t *testing.T) {
	e := newTestExecutor(true)
	out, errOut, err := e.Execute(context.Background(), sh("exit 1"), ExecOpts{RunAsRoot: true})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, errOut)
}

func TestRunAsRootRequiresRoot(t *testing.T) {
	e := newTestExecutor(false)
	_, _, err := e.Execute(context.Background(), []string{"true"}, ExecOpts{RunAsRoot: true})
	assert.ErrorIs(t, err, ErrNotRoot)
}

func TestRootedIsScoped(t *testing.T) {
	e := newTestExecutor(false)
	var inside bool
	err := e.Rooted(func(root *Executor) error {
		inside = root.IsRooted()
		_, _, err := root.Execute(context.Background(), []string{"true"}, ExecOpts{})
		return err
	})
	assert.True(t, inside)
	assert.ErrorIs(t, err, ErrNotRoot)
	assert.False(t, e.IsRooted(), "elevation must not leak past the block")
}

func TestPrivileges(t *testing.T) {
	assert.True(t, Privileges{EUID: 0, UserUID: 1000}.Drops())
	assert.False(t, Privileges{EUID: 0, UserUID: 0}.Drops())
	assert.False(t, Privileges{EUID: 1000, UserUID: 1000}.Drops())
	assert.False(t, Privileges{EUID: 1000}.IsRoot())
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	assert.Equal(t, []string{"A=1", "B=3", "C=4"}, env)
}

func TestMkdirslist(t *testing.T) {
	e := newTestExecutor(false)
	base := t.TempDir()
	target := filepath.Join(base, "a", "b", "c")

	var recorded []string
	made, err := e.Mkdirslist(target, func(dirs ...string) error {
		recorded = append(recorded, dirs...)
		return nil
	})
	require.NoError(t, err)
	want := []string{filepath.Join(base, "a"), filepath.Join(base, "a", "b"), target}
	assert.Equal(t, want, made)
	assert.Equal(t, want, recorded)
	assert.DirExists(t, target)

	made, err = e.Mkdirslist(target, nil)
	require.NoError(t, err)
	assert.Empty(t, made, "existing directories are not an error and not re-made")
}

func TestMkdirslistDryRun(t *testing.T) {
	e := newTestExecutor(true)
	target := filepath.Join(t.TempDir(), "x", "y")
	made, err := e.Mkdirslist(target, nil)
	require.NoError(t, err)
	assert.Len(t, made, 2)
	assert.NoDirExists(t, target)
}

func TestWriteFileAndUnlink(t *testing.T) {
	e := newTestExecutor(false)
	path := filepath.Join(t.TempDir(), "f.conf")

	var recorded string
	require.NoError(t, e.WriteFile(path, []byte("x=1\n"), func(p string) error {
		recorded = p
		return nil
	}))
	assert.Equal(t, path, recorded)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x=1\n", string(data))

	require.NoError(t, e.Unlink(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, e.Unlink(path), "unlinking a missing file is not an error")
}

func TestTouch(t *testing.T) {
	e := newTestExecutor(false)
	path := filepath.Join(t.TempDir(), "marker")
	calls := 0
	rec := func(string) error { calls++; return nil }
	require.NoError(t, e.Touch(path, rec))
	require.NoError(t, e.Touch(path, rec))
	assert.FileExists(t, path)
	assert.Equal(t, 1, calls)
}

func TestSymlink(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(false)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.conf")
	other := filepath.Join(dir, "other.conf")
	link := filepath.Join(dir, "link.conf")
	require.NoError(t, os.WriteFile(src, nil, 0o644))

	require.NoError(t, e.Symlink(src, link, nil))
	got, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, src, got)

	require.NoError(t, e.Symlink(src, link, nil), "same target is idempotent")
	require.NoError(t, e.Symlink(other, link, nil))
	got, _ = os.Readlink(link)
	assert.Equal(t, other, got)

	regular := filepath.Join(dir, "regular")
	require.NoError(t, os.WriteFile(regular, nil, 0o644))
	assert.Error(t, e.Symlink(src, regular, nil))
}

func TestDelDir(t *testing.T) {
	e := newTestExecutor(false)
	dir := filepath.Join(t.TempDir(), "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "f"), nil, 0o644))

	require.NoError(t, e.DelDir(dir))
	assert.NoDirExists(t, dir)
	assert.NoError(t, e.DelDir(dir))
}

func TestRmDir(t *testing.T) {
	e := newTestExecutor(false)
	dir := filepath.Join(t.TempDir(), "d")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	require.NoError(t, e.RmDir(dir))
	assert.DirExists(t, dir, "non-empty directories stay")

	require.NoError(t, e.RmDir(filepath.Join(dir, "sub")))
	assert.NoDirExists(t, filepath.Join(dir, "sub"))
	assert.NoError(t, e.RmDir(filepath.Join(dir, "missing")))
}

func TestDryRunMutationsAreNoOps(t *testing.T) {
	e := newTestExecutor(true)
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))

	require.NoError(t, e.WriteFile(path, []byte("changed"), nil))
	require.NoError(t, e.Unlink(path))
	require.NoError(t, e.DelDir(dir))
	require.NoError(t, e.Symlink(path, filepath.Join(dir, "l"), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "l"))
}
