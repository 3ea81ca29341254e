// Package audit keeps an append-only JSON-lines history of every component
// phase anvil runs.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
)

// Entry records one phase of one component.
type Entry struct {
	Time      time.Time `json:"time"`
	RunID     string    `json:"run_id"`
	Action    string    `json:"action"` // install | uninstall | start | stop | status | restart
	Component string    `json:"component"`
	Phase     string    `json:"phase"`
	Outcome   string    `json:"outcome"` // success | failure | skipped
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Filter narrows Read. Empty fields match everything.
type Filter struct {
	Component string
	Action    string
	RunID     string
}

func (f Filter) match(e Entry) bool {
	return (f.Component == "" || e.Component == f.Component) &&
		(f.Action == "" || e.Action == f.Action) &&
		(f.RunID == "" || e.RunID == f.RunID)
}

// Log appends entries to one history file. It is safe for concurrent use.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a log writing to path.
func Open(path string) *Log {
	return &Log{path: path}
}

// DefaultPath is the history file under the XDG state directory.
func DefaultPath() string {
	return filepath.Join(xdg.StateHome, "anvil", "history.log")
}

// Path returns the history file path.
func (l *Log) Path() string { return l.path }

// Append writes e. A nil log discards entries.
func (l *Log) Append(e Entry) error {
	if l == nil {
		return nil
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// Read returns the last limit entries matching f (all if limit <= 0).
// Malformed lines are skipped.
func (l *Log) Read(f Filter, limit int) ([]Entry, error) {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if f.match(e) {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
