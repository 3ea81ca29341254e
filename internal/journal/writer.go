package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrJournalExists is returned by NewWriter when breakIfThere is set and the
// journal file is already present.
var ErrJournalExists = errors.New("journal already exists")

// Writer appends entries to a journal file. The file is created lazily on the
// first write. A dry-run writer keeps its entries in memory only.
type Writer struct {
	mu      sync.Mutex
	path    string
	dryRun  bool
	started bool
	entries []Entry
}

// NewWriter returns a writer for path. When breakIfThere is true and the file
// already exists the call fails without touching anything.
func NewWriter(path string, breakIfThere, dryRun bool) (*Writer, error) {
	if breakIfThere {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w at %s: uninstall before installing again", ErrJournalExists, path)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("stat journal %s: %w", path, err)
		}
	}
	return &Writer{path: path, dryRun: dryRun}, nil
}

// Path returns the backing file path.
func (w *Writer) Path() string { return w.path }

// Trace appends one entry. It is the primitive every other method funnels through.
func (w *Writer) Trace(kind Kind, payload string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown journal entry kind %q", kind)
	}
	if strings.ContainsAny(payload, "\r\n") {
		return fmt.Errorf("journal payload for %s contains a newline", kind)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		if err := w.start(); err != nil {
			return err
		}
	}
	return w.append(Entry{Kind: kind, Payload: payload})
}

// Entries returns what this writer has recorded in the current process.
func (w *Writer) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entry(nil), w.entries...)
}

// DirsMade records directories in creation order (parents first).
func (w *Writer) DirsMade(dirs ...string) error {
	for _, d := range dirs {
		if err := w.Trace(DirMade, d); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) FileTouched(path string) error    { return w.Trace(FileTouched, path) }
func (w *Writer) CfgFileWritten(path string) error { return w.Trace(CfgWritten, path) }
func (w *Writer) SymlinkMade(link string) error    { return w.Trace(SymlinkMade, link) }

func (w *Writer) PackageInstalled(rec PackageRecord) error {
	return w.traceJSON(PkgInstalled, rec)
}

func (w *Writer) PipInstalled(rec PackageRecord) error {
	return w.traceJSON(PipInstalled, rec)
}

func (w *Writer) PyInstalled(rec PyRecord) error {
	return w.traceJSON(PyInstalled, rec)
}

func (w *Writer) DownloadHappened(rec DownloadRecord) error {
	return w.traceJSON(Downloaded, rec)
}

func (w *Writer) AppStarted(rec AppRecord) error {
	return w.traceJSON(AppStarted, rec)
}

func (w *Writer) traceJSON(kind Kind, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return w.Trace(kind, string(data))
}

// start writes the VERSION header when the file is new. Appending to an
// existing journal (breakIfThere=false) keeps its original header.
func (w *Writer) start() error {
	if w.dryRun {
		w.started = true
		w.entries = append(w.entries, Entry{Kind: Version, Payload: FormatVersion})
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	fi, err := os.Stat(w.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stat journal %s: %w", w.path, err)
	}
	if err == nil && fi.Size() > 0 {
		w.started = true
		return nil
	}
	if err := w.append(Entry{Kind: Version, Payload: FormatVersion}); err != nil {
		return err
	}
	w.started = true
	return nil
}

// append writes and syncs a single line so an entry is durable once Trace returns.
func (w *Writer) append(e Entry) error {
	w.entries = append(w.entries, e)
	if w.dryRun {
		return nil
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", w.path, err)
	}
	if _, err := f.WriteString(e.String() + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("write journal %s: %w", w.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync journal %s: %w", w.path, err)
	}
	return f.Close()
}
