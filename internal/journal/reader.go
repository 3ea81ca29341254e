package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/collections/set"

	"github.com/atomikpanda/anvil/internal/logging"
)

const maxLineSize = 1 << 20

// Reader parses a journal file. A missing file reads as an empty journal.
type Reader struct {
	path string
}

// NewReader returns a reader for the journal at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Path returns the backing file path.
func (r *Reader) Path() string { return r.path }

// Exists reports whether the journal file is present.
func (r *Reader) Exists() bool {
	_, err := os.Stat(r.path)
	return err == nil
}

// Each streams entries to fn in file order without loading the whole file.
// Lines that fail to parse (for example a write torn by a crash) are skipped.
func (r *Reader) Each(fn func(Entry) error) error {
	f, err := os.Open(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal %s: %w", r.path, err)
	}
	defer f.Close()

	logger := logging.For("journal")
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			logger.Warn().Err(err).Str("path", r.path).Int("line", lineNo).Msg("Skipping journal line")
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal %s: %w", r.path, err)
	}
	return nil
}

// Entries returns every entry in file order.
func (r *Reader) Entries() ([]Entry, error) {
	var out []Entry
	err := r.Each(func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Remove deletes the journal file. Removing a missing journal is not an error.
func (r *Reader) Remove() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal %s: %w", r.path, err)
	}
	return nil
}

// DirsMade returns the recorded directories, de-duplicated, deepest first so
// that removing them in order never hits a non-empty parent.
func (r *Reader) DirsMade() ([]string, error) {
	dirs, err := r.ordered(DirMade)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		return depth(dirs[i]) > depth(dirs[j])
	})
	return dirs, nil
}

func (r *Reader) FilesTouched() ([]string, error)    { return r.unique(FileTouched) }
func (r *Reader) FilesConfigured() ([]string, error) { return r.unique(CfgWritten) }
func (r *Reader) SymlinksMade() ([]string, error)    { return r.unique(SymlinkMade) }

// PackagesInstalled returns recorded system packages in install order,
// de-duplicated by name.
func (r *Reader) PackagesInstalled() ([]PackageRecord, error) {
	return decodeUnique[PackageRecord](r, PkgInstalled, func(p PackageRecord) string { return p.Name })
}

// PipsInstalled returns recorded pip packages in install order, de-duplicated by name.
func (r *Reader) PipsInstalled() ([]PackageRecord, error) {
	return decodeUnique[PackageRecord](r, PipInstalled, func(p PackageRecord) string { return p.Name })
}

// PyListing returns python projects installed in develop mode.
func (r *Reader) PyListing() ([]PyRecord, error) {
	return decodeUnique[PyRecord](r, PyInstalled, func(p PyRecord) string { return p.Where })
}

// DownloadLocations returns recorded downloads keyed by target.
func (r *Reader) DownloadLocations() ([]DownloadRecord, error) {
	return decodeUnique[DownloadRecord](r, Downloaded, func(d DownloadRecord) string { return d.Target })
}

// AppsStarted returns recorded application starts, de-duplicated by name.
func (r *Reader) AppsStarted() ([]AppRecord, error) {
	return decodeUnique[AppRecord](r, AppStarted, func(a AppRecord) string { return a.Name })
}

// ordered returns payloads of kind in first-seen order without duplicates.
func (r *Reader) ordered(kind Kind) ([]string, error) {
	seen := set.NewStrings()
	var out []string
	err := r.Each(func(e Entry) error {
		if e.Kind != kind || seen.Contains(e.Payload) {
			return nil
		}
		seen.Add(e.Payload)
		out = append(out, e.Payload)
		return nil
	})
	return out, err
}

func (r *Reader) unique(kind Kind) ([]string, error) {
	values := set.NewStrings()
	err := r.Each(func(e Entry) error {
		if e.Kind == kind {
			values.Add(e.Payload)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values.SortedValues(), nil
}

func decodeUnique[T any](r *Reader, kind Kind, key func(T) string) ([]T, error) {
	seen := set.NewStrings()
	var out []T
	err := r.Each(func(e Entry) error {
		if e.Kind != kind {
			return nil
		}
		v, err := decode[T](e)
		if err != nil {
			return fmt.Errorf("journal %s: %w", r.path, err)
		}
		if k := key(v); !seen.Contains(k) {
			seen.Add(k)
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func depth(path string) int {
	return strings.Count(filepath.Clean(path), string(filepath.Separator))
}
