package audit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRead(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "state", "history.log"))

	require.NoError(t, l.Append(Entry{RunID: "r1", Action: "install", Component: "db", Phase: "install", Outcome: "success"}))
	require.NoError(t, l.Append(Entry{RunID: "r1", Action: "install", Component: "app", Phase: "configure", Outcome: "failure", Error: "boom"}))
	require.NoError(t, l.Append(Entry{RunID: "r2", Action: "status", Component: "db", Phase: "status", Outcome: "success"}))

	all, err := l.Read(Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.False(t, all[0].Time.IsZero())
	assert.Equal(t, "boom", all[1].Error)

	db, err := l.Read(Filter{Component: "db"}, 0)
	require.NoError(t, err)
	assert.Len(t, db, 2)

	run, err := l.Read(Filter{RunID: "r1", Action: "install"}, 1)
	require.NoError(t, err)
	require.Len(t, run, 1)
	assert.Equal(t, "app", run[0].Component)
}

func TestReadMissingAndMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.log")
	entries, err := Open(path).Read(Filter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, os.WriteFile(path, []byte("not json\n\n{\"component\":\"db\"}\n"), 0o644))
	entries, err = Open(path).Read(Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "db", entries[0].Component)
}

func TestConcurrentAppend(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "history.log"))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Append(Entry{Component: "c", Outcome: "success"}))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 20)
}

func TestNilLog(t *testing.T) {
	var l *Log
	assert.NoError(t, l.Append(Entry{}))
}

func TestDefaultPath(t *testing.T) {
	assert.True(t, strings.HasSuffix(DefaultPath(), filepath.Join("anvil", "history.log")))
}
